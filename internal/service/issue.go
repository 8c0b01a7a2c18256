package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"payflow.app/resolver/common"
	"payflow.app/resolver/common/errs"
	"payflow.app/resolver/common/id"
	"payflow.app/resolver/common/logger"
	"payflow.app/resolver/internal/audit"
	"payflow.app/resolver/internal/model"
	"payflow.app/resolver/internal/queue"
	"payflow.app/resolver/internal/store"
)

const maxStaleListing = 500

type CreateIssueParams struct {
	ExternalID     string
	IdempotencyKey string
	Type           string
	Priority       string
	CustomerID     int64
	TransactionID  int64
	Details        json.RawMessage
	RequestID      string
}

// ReviewParams carries a reviewer's verdict on an awaiting_review issue.
// Decision may be empty for approve, which adopts the automated decision.
type ReviewParams struct {
	IssueID    int64
	ReviewerID string
	Action     string
	Decision   string
	Notes      string
	RequestID  string
}

// ConflictError is returned when an idempotency key was already used.
type ConflictError struct {
	Key     string
	IssueID int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("idempotency key %q already used by issue %d", e.Key, e.IssueID)
}

func (e *ConflictError) Unwrap() error { return errs.ErrConflict }

type IssueService interface {
	Create(ctx context.Context, params CreateIssueParams) (*model.Issue, error)
	Get(ctx context.Context, id int64) (*model.Issue, error)
	History(ctx context.Context, id int64) ([]model.StatusHistoryEntry, error)
	Review(ctx context.Context, params ReviewParams) (*model.Issue, error)
	// Requeue enqueues a pending issue again, typically after its job was
	// dead-lettered. It reports false when a job for the issue is already queued.
	Requeue(ctx context.Context, id int64, requestID string) (bool, error)
	ListStale(ctx context.Context, status model.IssueStatus, olderThan time.Duration, limit int) ([]model.Issue, error)
}

type issueService struct {
	stores   StoreProvider
	txRunner TxRunner
	enqueuer queue.Enqueuer
	audit    audit.Emitter
	now      func() time.Time
}

func NewIssueService(stores StoreProvider, txRunner TxRunner, enqueuer queue.Enqueuer, emitter audit.Emitter) IssueService {
	if emitter == nil {
		emitter = audit.Nop{}
	}
	return &issueService{
		stores:   stores,
		txRunner: txRunner,
		enqueuer: enqueuer,
		audit:    emitter,
		now:      time.Now,
	}
}

func (s *issueService) Create(ctx context.Context, params CreateIssueParams) (*model.Issue, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		RequestID: optional(params.RequestID),
		Component: "payflow.service.issue",
	})

	issue, err := s.buildIssue(params)
	if err != nil {
		return nil, err
	}

	if issue.IdempotencyKey != nil {
		existing, err := s.stores.Issues().GetByIdempotencyKey(ctx, *issue.IdempotencyKey)
		if err == nil {
			return nil, &ConflictError{Key: *issue.IdempotencyKey, IssueID: existing.ID}
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("checking idempotency key: %w", err)
		}
	}

	err = s.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		if err := checkReferences(ctx, sp, issue.CustomerID, issue.TransactionID); err != nil {
			return err
		}
		if err := sp.Issues().Create(ctx, issue); err != nil {
			return err
		}
		return sp.History().Append(ctx, &model.StatusHistoryEntry{
			ID:        id.New(),
			IssueID:   issue.ID,
			ToStatus:  model.IssueStatusPending,
			ChangedBy: model.ActorSystem,
			Reason:    "issue created",
			Metadata:  encodeMetadata(requestMetadata(params.RequestID)),
		})
	})
	if errors.Is(err, store.ErrDuplicate) {
		// Lost the race against a concurrent request with the same key.
		existing, lookupErr := s.stores.Issues().GetByIdempotencyKey(ctx, *issue.IdempotencyKey)
		if lookupErr != nil {
			return nil, fmt.Errorf("%w: idempotency key %q", errs.ErrConflict, *issue.IdempotencyKey)
		}
		return nil, &ConflictError{Key: *issue.IdempotencyKey, IssueID: existing.ID}
	}
	if err != nil {
		return nil, fmt.Errorf("creating issue: %w", err)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{IssueID: &issue.ID})
	slog.InfoContext(ctx, "issue created",
		"type", issue.Type,
		"priority", issue.Priority,
		"external_id", issue.ExternalID)

	// The issue is committed; a failed enqueue leaves it pending and
	// recoverable through Requeue, so the request still succeeds.
	if _, _, err := s.enqueuer.Enqueue(ctx, queue.NewIssueTask(issue.ID, issue.Priority.QueueRank(), params.RequestID)); err != nil {
		slog.ErrorContext(ctx, "failed to enqueue issue, requeue required", "error", err)
	}

	s.emit(ctx, audit.Record{
		Action:    audit.ActionCreated,
		IssueID:   issue.ID,
		To:        string(model.IssueStatusPending),
		Actor:     model.ActorSystem,
		RequestID: params.RequestID,
		Metadata:  map[string]any{"type": string(issue.Type), "priority": string(issue.Priority)},
	})
	return issue, nil
}

func (s *issueService) buildIssue(params CreateIssueParams) (*model.Issue, error) {
	issueType, err := common.Token(params.Type, "")
	if err != nil || !model.IssueType(issueType).Valid() {
		return nil, errs.Validation("unknown issue type %q", params.Type)
	}
	priority, _ := common.Token(params.Priority, string(model.PriorityNormal))
	if !model.Priority(priority).Valid() {
		return nil, errs.Validation("unknown priority %q", params.Priority)
	}
	if params.ExternalID == "" {
		return nil, errs.Validation("external id is required")
	}
	if params.CustomerID <= 0 {
		return nil, errs.Validation("customer id is required")
	}
	if params.TransactionID <= 0 {
		return nil, errs.Validation("transaction id is required")
	}
	if err := model.ValidateDetails(model.IssueType(issueType), params.Details); err != nil {
		return nil, errs.Validation("details: %v", err)
	}

	return &model.Issue{
		ID:             id.New(),
		ExternalID:     params.ExternalID,
		IdempotencyKey: optional(params.IdempotencyKey),
		Type:           model.IssueType(issueType),
		Status:         model.IssueStatusPending,
		Priority:       model.Priority(priority),
		CustomerID:     params.CustomerID,
		TransactionID:  params.TransactionID,
		Details:        params.Details,
	}, nil
}

func checkReferences(ctx context.Context, sp StoreProvider, customerID, transactionID int64) error {
	if _, err := sp.Customers().GetProfile(ctx, customerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errs.Validation("customer %d does not exist", customerID)
		}
		return fmt.Errorf("loading customer: %w", err)
	}
	txn, err := sp.Transactions().GetByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errs.Validation("transaction %d does not exist", transactionID)
		}
		return fmt.Errorf("loading transaction: %w", err)
	}
	if txn.CustomerID != customerID {
		return errs.Validation("transaction %d does not belong to customer %d", transactionID, customerID)
	}
	return nil
}

func (s *issueService) Get(ctx context.Context, issueID int64) (*model.Issue, error) {
	issue, err := s.stores.Issues().GetByID(ctx, issueID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errs.NotFound("issue", issueID)
		}
		return nil, fmt.Errorf("loading issue: %w", err)
	}
	return issue, nil
}

func (s *issueService) History(ctx context.Context, issueID int64) ([]model.StatusHistoryEntry, error) {
	if _, err := s.Get(ctx, issueID); err != nil {
		return nil, err
	}
	entries, err := s.stores.History().ListByIssue(ctx, issueID)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	return entries, nil
}

func (s *issueService) Review(ctx context.Context, params ReviewParams) (*model.Issue, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		IssueID:   &params.IssueID,
		RequestID: optional(params.RequestID),
		Component: "payflow.service.issue",
	})

	if params.ReviewerID == "" {
		return nil, errs.Validation("reviewer id is required")
	}
	actionToken, _ := common.Token(params.Action, "")
	action := model.ReviewAction(actionToken)
	if !action.Valid() {
		return nil, errs.Validation("unknown review action %q", params.Action)
	}

	issue, err := s.Get(ctx, params.IssueID)
	if err != nil {
		return nil, err
	}
	if issue.Status != model.IssueStatusAwaitingReview {
		return nil, errs.Unprocessable("issue %d is %s, not awaiting_review", issue.ID, issue.Status)
	}

	decision, err := reviewDecision(issue, action, params.Decision)
	if err != nil {
		return nil, err
	}

	now := s.now()
	resolution := model.ResolutionFor(decision)
	human := &model.HumanDecision{
		ReviewerID: params.ReviewerID,
		Action:     action,
		Decision:   decision,
		Notes:      params.Notes,
		DecidedAt:  now,
	}
	metadata := requestMetadata(params.RequestID)
	metadata["action"] = string(action)
	metadata["decision"] = string(decision)
	change := model.StatusChange{
		From:      model.IssueStatusAwaitingReview,
		To:        model.IssueStatusResolved,
		ChangedBy: params.ReviewerID,
		Reason:    fmt.Sprintf("review %s: %s", action, decision),
		Metadata:  metadata,
	}

	var updated *model.Issue
	err = s.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		var err error
		updated, err = store.ApplyTransition(ctx, sp.Issues(), sp.History(), issue.ID, id.New(), change, store.IssueUpdate{
			HumanDecision: human,
			Resolution:    &resolution,
			ResolvedAt:    &now,
		})
		if err != nil {
			return err
		}

		err = sp.Analytics().CompleteReview(ctx, store.ReviewOutcome{
			IssueID:       issue.ID,
			HumanDecision: decision,
			HumanAction:   action,
			Agreement:     model.AgreementFor(action),
			ReviewerID:    params.ReviewerID,
			ReviewedAt:    now,
		})
		if errors.Is(err, store.ErrNotFound) {
			// Rules decisions reach review without an analytics entry.
			return nil
		}
		return err
	})
	if errors.Is(err, store.ErrStatusConflict) {
		return nil, errs.Unprocessable("issue %d was reviewed concurrently", issue.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("recording review: %w", err)
	}

	slog.InfoContext(ctx, "issue reviewed",
		"reviewer_id", params.ReviewerID,
		"action", action,
		"decision", decision)

	s.emit(ctx, audit.Record{
		Action:    audit.ActionReviewed,
		IssueID:   issue.ID,
		From:      string(change.From),
		To:        string(change.To),
		Actor:     params.ReviewerID,
		Reason:    change.Reason,
		RequestID: params.RequestID,
		Metadata:  metadata,
	})
	return updated, nil
}

// reviewDecision resolves the decision a review settles on. Approve adopts
// the automated decision; modify and reject name their own.
func reviewDecision(issue *model.Issue, action model.ReviewAction, requested string) (model.DecisionCode, error) {
	if requested == "" {
		if action != model.ReviewActionApprove {
			return "", errs.Validation("%s requires a decision", action)
		}
		if issue.AutomatedDecision == nil {
			return "", errs.Unprocessable("issue %d has no automated decision to approve", issue.ID)
		}
		return issue.AutomatedDecision.Decision, nil
	}

	token, _ := common.Token(requested, "")
	decision := model.DecisionCode(token)
	if !decision.Valid() {
		return "", errs.Validation("unknown decision %q", requested)
	}
	if action == model.ReviewActionApprove && issue.AutomatedDecision != nil && decision != issue.AutomatedDecision.Decision {
		return "", errs.Validation("approve must keep decision %s; use modify to change it", issue.AutomatedDecision.Decision)
	}
	return decision, nil
}

func (s *issueService) Requeue(ctx context.Context, issueID int64, requestID string) (bool, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		IssueID:   &issueID,
		RequestID: optional(requestID),
		Component: "payflow.service.issue",
	})

	issue, err := s.Get(ctx, issueID)
	if err != nil {
		return false, err
	}
	if issue.Status != model.IssueStatusPending {
		return false, errs.Unprocessable("issue %d is %s, only pending issues can be requeued", issue.ID, issue.Status)
	}

	jobID, enqueued, err := s.enqueuer.Enqueue(ctx, queue.NewIssueTask(issue.ID, issue.Priority.QueueRank(), requestID))
	if err != nil {
		return false, fmt.Errorf("enqueueing issue: %w", err)
	}
	if !enqueued {
		slog.InfoContext(ctx, "issue already queued", "job_id", jobID)
		return false, nil
	}

	slog.InfoContext(ctx, "issue requeued", "job_id", jobID, "retry_count", issue.RetryCount)
	s.emit(ctx, audit.Record{
		Action:    audit.ActionRequeued,
		IssueID:   issue.ID,
		Actor:     model.ActorSystem,
		RequestID: requestID,
		Metadata:  map[string]any{"retryCount": issue.RetryCount},
	})
	return true, nil
}

func (s *issueService) ListStale(ctx context.Context, status model.IssueStatus, olderThan time.Duration, limit int) ([]model.Issue, error) {
	if !status.Valid() || status.Terminal() {
		return nil, errs.Validation("stale listing needs a non-terminal status, got %q", status)
	}
	if limit <= 0 || limit > maxStaleListing {
		limit = maxStaleListing
	}
	issues, err := s.stores.Issues().ListStale(ctx, status, s.now().Add(-olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("listing stale issues: %w", err)
	}
	return issues, nil
}

func (s *issueService) emit(ctx context.Context, rec audit.Record) {
	if rec.At.IsZero() {
		rec.At = s.now()
	}
	if err := s.audit.Emit(ctx, rec); err != nil {
		slog.WarnContext(ctx, "failed to emit audit record", "error", err)
	}
}

func requestMetadata(requestID string) map[string]any {
	m := map[string]any{}
	if requestID != "" {
		m["requestId"] = requestID
	}
	return m
}

func encodeMetadata(m map[string]any) json.RawMessage {
	if len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
