package worker

import (
	"context"

	"payflow.app/resolver/internal/model"
	"payflow.app/resolver/internal/queue"
	"payflow.app/resolver/internal/store"
)

// Mirrors service.StoreProvider - defined here to avoid import cycles.
type StoreProvider interface {
	Issues() store.IssueStore
	History() store.HistoryStore
	Customers() store.CustomerStore
	Transactions() store.TransactionStore
	Analytics() store.AnalyticsStore
}

// Mirrors service.TxRunner - defined here to avoid import cycles.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores StoreProvider) error) error
}

type DecisionRouter interface {
	Evaluate(ctx context.Context, issue *model.Issue, customer model.CustomerProfile, txn model.TransactionProfile) (model.UnifiedDecision, error)
}

// Consumer abstracts the job queue for testability.
type Consumer interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Complete(ctx context.Context, job *queue.Job) error
	Retry(ctx context.Context, job *queue.Job, cause error) (bool, error)
	Fail(ctx context.Context, job *queue.Job, cause error) error
}

// Handler runs one dequeued job. A nil error completes the job; errors
// marked non-retryable dead-letter it; anything else is retried.
type Handler interface {
	Handle(ctx context.Context, job *queue.Job) error
}

type HandlerFunc func(ctx context.Context, job *queue.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *queue.Job) error { return f(ctx, job) }
