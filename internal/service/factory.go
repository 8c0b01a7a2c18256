package service

import (
	"payflow.app/resolver/internal/audit"
	"payflow.app/resolver/internal/queue"
	"payflow.app/resolver/internal/store"
)

type Services struct {
	stores   *store.Stores
	txRunner TxRunner
	enqueuer queue.Enqueuer
	audit    audit.Emitter
}

func NewServices(stores *store.Stores, txRunner TxRunner, enqueuer queue.Enqueuer, emitter audit.Emitter) *Services {
	return &Services{
		stores:   stores,
		txRunner: txRunner,
		enqueuer: enqueuer,
		audit:    emitter,
	}
}

func (s *Services) Issues() IssueService {
	return NewIssueService(s.stores, s.txRunner, s.enqueuer, s.audit)
}
