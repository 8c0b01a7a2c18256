package store

import (
	"payflow.app/resolver/core/db"
)

type Stores struct {
	q db.Querier
}

// NewStores binds every store to q, which may be the pool or a transaction.
func NewStores(q db.Querier) *Stores {
	return &Stores{q: q}
}

func (s *Stores) Issues() IssueStore {
	return newIssueStore(s.q)
}

func (s *Stores) History() HistoryStore {
	return newHistoryStore(s.q)
}

func (s *Stores) Customers() CustomerStore {
	return newCustomerStore(s.q)
}

func (s *Stores) Transactions() TransactionStore {
	return newTransactionStore(s.q)
}

func (s *Stores) Analytics() AnalyticsStore {
	return newAnalyticsStore(s.q)
}

func (s *Stores) Archive() ArchiveStore {
	return newArchiveStore(s.q)
}

func (s *Stores) Partitions() PartitionStore {
	return newPartitionStore(s.q)
}
