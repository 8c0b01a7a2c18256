package store

import (
	"context"
	"errors"
	"time"

	"payflow.app/resolver/internal/model"
)

var (
	// ErrNotFound is returned when a requested entity does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint rejects an insert
	ErrDuplicate = errors.New("duplicate")
	// ErrStatusConflict is returned when an issue is no longer in the expected status
	ErrStatusConflict = errors.New("issue status changed concurrently")
)

// IssueUpdate carries the optional columns written together with a status
// change. Nil fields leave the stored value untouched.
type IssueUpdate struct {
	AutomatedDecision *model.AutomatedDecision
	HumanDecision     *model.HumanDecision
	Resolution        *string
	ResolvedAt        *time.Time
	IncrementRetry    bool
	LastRetryAt       *time.Time
}

// IssueStore defines the contract for issue data access
type IssueStore interface {
	Create(ctx context.Context, issue *model.Issue) error
	GetByID(ctx context.Context, id int64) (*model.Issue, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*model.Issue, error)
	// UpdateStatus moves the issue from -> to only while it is still in from.
	UpdateStatus(ctx context.Context, id int64, from, to model.IssueStatus, upd IssueUpdate) (*model.Issue, error)
	// ListStale returns issues in status whose last update is older than before.
	ListStale(ctx context.Context, status model.IssueStatus, before time.Time, limit int) ([]model.Issue, error)
}

// HistoryStore is append-only.
type HistoryStore interface {
	Append(ctx context.Context, entry *model.StatusHistoryEntry) error
	ListByIssue(ctx context.Context, issueID int64) ([]model.StatusHistoryEntry, error)
}

// CustomerStore exposes the PII-free profile for decision engines and the
// full record for everything else.
type CustomerStore interface {
	GetProfile(ctx context.Context, id int64) (*model.CustomerProfile, error)
	GetByID(ctx context.Context, id int64) (*model.Customer, error)
}

type TransactionStore interface {
	GetProfile(ctx context.Context, id int64) (*model.TransactionProfile, error)
	GetByID(ctx context.Context, id int64) (*model.Transaction, error)
}

type ReviewOutcome struct {
	IssueID       int64
	HumanDecision model.DecisionCode
	HumanAction   model.ReviewAction
	Agreement     model.Agreement
	ReviewerID    string
	ReviewedAt    time.Time
}

type AnalyticsStore interface {
	Create(ctx context.Context, entry *model.DecisionAnalyticsEntry) error
	GetByIssue(ctx context.Context, issueID int64) (*model.DecisionAnalyticsEntry, error)
	// CompleteReview returns ErrNotFound when the issue has no AI entry.
	CompleteReview(ctx context.Context, outcome ReviewOutcome) error
}

// ArchiveStore moves closed issues to cold storage and purges it.
type ArchiveStore interface {
	// ArchiveBatch moves up to limit matching issues in a single statement
	// and returns how many rows were archived.
	ArchiveBatch(ctx context.Context, statuses []model.IssueStatus, updatedBefore time.Time, limit int) (int64, error)
	PurgeBatch(ctx context.Context, archivedBefore time.Time, limit int) (int64, error)
	GetArchived(ctx context.Context, id int64) (*model.ArchivedIssue, error)
}

type PartitionStore interface {
	IsPartitioned(ctx context.Context, table string) (bool, error)
	ListPartitions(ctx context.Context, table string) ([]string, error)
	CreateRangePartition(ctx context.Context, table, name string, from, to time.Time) error
}
