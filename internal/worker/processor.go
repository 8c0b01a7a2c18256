package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"payflow.app/resolver/common/errs"
	"payflow.app/resolver/common/id"
	"payflow.app/resolver/common/logger"
	"payflow.app/resolver/internal/audit"
	"payflow.app/resolver/internal/decision"
	"payflow.app/resolver/internal/lock"
	"payflow.app/resolver/internal/metrics"
	"payflow.app/resolver/internal/model"
	"payflow.app/resolver/internal/queue"
	"payflow.app/resolver/internal/store"
)

type ProcessorConfig struct {
	LockTTL                  time.Duration
	RulesConfidenceThreshold float64
}

// Result is the outcome of one ProcessIssue call.
type Result struct {
	Success  bool
	Status   model.IssueStatus
	Decision *model.UnifiedDecision
	Error    error
}

type Processor struct {
	stores StoreProvider
	tx     TxRunner
	router DecisionRouter
	locker lock.Locker
	audit  audit.Emitter
	cfg    ProcessorConfig

	now   func() time.Time
	newID func() int64
}

type ProcessorOption func(*Processor)

func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

func WithIDGenerator(fn func() int64) ProcessorOption {
	return func(p *Processor) { p.newID = fn }
}

func NewProcessor(stores StoreProvider, tx TxRunner, router DecisionRouter, locker lock.Locker, emitter audit.Emitter, cfg ProcessorConfig, opts ...ProcessorOption) *Processor {
	if emitter == nil {
		emitter = audit.Nop{}
	}
	p := &Processor{
		stores: stores,
		tx:     tx,
		router: router,
		locker: locker,
		audit:  emitter,
		cfg:    cfg,
		now:    time.Now,
		newID:  id.New,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessIssue drives one pending issue to its post-decision status. It is
// safe under duplicate delivery: anything not pending is reported as is.
// The returned error is what the queue should act on; Result.Error carries
// the same value for callers that only look at the result.
func (p *Processor) ProcessIssue(ctx context.Context, issueID int64, workerID, requestID string) (Result, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		IssueID:   &issueID,
		WorkerID:  &workerID,
		RequestID: optional(requestID),
		Component: "payflow.worker.processor",
	})

	sc := logger.StartSpan(ctx, "worker.process_issue", trace.WithSpanKind(trace.SpanKindConsumer))
	defer sc.End()
	ctx = sc.Context()

	start := p.now()
	res, err := p.process(ctx, issueID, workerID, requestID)
	metrics.IssueProcessingDuration.Observe(p.now().Sub(start).Seconds())

	outcome := string(res.Status)
	switch {
	case err == nil && res.Decision == nil:
		outcome = metrics.OutcomeNoop
	case errors.Is(err, errs.ErrLockContention):
		outcome = metrics.OutcomeLockContention
	case err != nil && errs.IsNonRetryable(err):
		outcome = metrics.OutcomeNonRetryable
	case err != nil:
		outcome = metrics.OutcomeTransient
	}
	metrics.IssuesProcessedTotal.WithLabelValues(outcome).Inc()

	if err != nil {
		sc.RecordError(err)
		res.Success = false
		res.Error = err
	}
	return res, err
}

func (p *Processor) process(ctx context.Context, issueID int64, workerID, requestID string) (Result, error) {
	owner := lock.NewOwnerToken(workerID)
	acquired, err := p.locker.Acquire(ctx, issueID, owner, p.cfg.LockTTL)
	if err != nil {
		return Result{}, fmt.Errorf("acquiring issue lock: %w", err)
	}
	if !acquired {
		metrics.LockContentionTotal.Inc()
		slog.InfoContext(ctx, "issue locked by another worker, will retry")
		return Result{}, errs.ErrLockContention
	}
	defer func() {
		// The job context may already be cancelled; the lease must still go.
		releaseCtx, cancel := settleContext(ctx)
		defer cancel()
		if _, err := p.locker.Release(releaseCtx, issueID, owner); err != nil {
			slog.WarnContext(ctx, "failed to release issue lock", "error", err)
		}
	}()

	issue, err := p.stores.Issues().GetByID(ctx, issueID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{}, errs.NonRetryable(errs.NotFound("issue", issueID))
		}
		return Result{}, fmt.Errorf("fetching issue: %w", err)
	}

	if issue.Status != model.IssueStatusPending {
		slog.InfoContext(ctx, "issue not pending, nothing to do", "status", issue.Status)
		return Result{Success: true, Status: issue.Status}, nil
	}

	issue, err = p.transition(ctx, issue, model.StatusChange{
		From:      model.IssueStatusPending,
		To:        model.IssueStatusProcessing,
		ChangedBy: workerID,
		Reason:    "picked up by worker",
		Metadata:  requestMetadata(requestID),
	}, store.IssueUpdate{}, requestID, nil)
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			// Another holder got there first after our lease was granted.
			slog.WarnContext(ctx, "issue left pending concurrently, skipping")
			return Result{Success: true, Status: model.IssueStatusProcessing}, nil
		}
		return Result{}, fmt.Errorf("starting processing: %w", err)
	}

	customer, err := p.stores.Customers().GetProfile(ctx, issue.CustomerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return p.fail(ctx, issue, workerID, requestID, errs.NotFound("customer", issue.CustomerID))
		}
		return p.revert(ctx, issue, workerID, requestID, fmt.Errorf("fetching customer: %w", err))
	}
	txn, err := p.stores.Transactions().GetProfile(ctx, issue.TransactionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return p.fail(ctx, issue, workerID, requestID, errs.NotFound("transaction", issue.TransactionID))
		}
		return p.revert(ctx, issue, workerID, requestID, fmt.Errorf("fetching transaction: %w", err))
	}

	d, err := p.router.Evaluate(ctx, issue, *customer, *txn)
	if err != nil {
		if errs.IsNonRetryable(err) {
			return p.fail(ctx, issue, workerID, requestID, err)
		}
		return p.revert(ctx, issue, workerID, requestID, fmt.Errorf("evaluating decision: %w", err))
	}

	now := p.now()
	final := model.IssueStatusAwaitingReview
	upd := store.IssueUpdate{
		AutomatedDecision: &model.AutomatedDecision{
			Decision:      d.Decision,
			Confidence:    d.Confidence,
			Reason:        d.Reason,
			Source:        d.Source,
			AIRouting:     d.AIRouting,
			PolicyApplied: d.PolicyApplied,
			DecidedAt:     now,
		},
	}
	reason := "routed to human review"
	if decision.ShouldAutoResolve(d, p.cfg.RulesConfidenceThreshold) {
		final = model.IssueStatusResolved
		resolution := decision.ResolutionFor(d.Decision)
		upd.Resolution = &resolution
		upd.ResolvedAt = &now
		reason = "auto-resolved: " + resolution
	}

	var analytics func(sp StoreProvider) error
	if d.Source == model.SourceAI && final == model.IssueStatusAwaitingReview {
		analytics = func(sp StoreProvider) error {
			return sp.Analytics().Create(ctx, p.analyticsEntry(issue, d))
		}
	}

	metadata := requestMetadata(requestID)
	metadata["decision"] = string(d.Decision)
	metadata["confidence"] = d.Confidence
	metadata["source"] = string(d.Source)

	issue, err = p.transition(ctx, issue, model.StatusChange{
		From:      model.IssueStatusProcessing,
		To:        final,
		ChangedBy: workerID,
		Reason:    reason,
		Metadata:  metadata,
	}, upd, requestID, analytics)
	if err != nil {
		return p.revert(ctx, issue, workerID, requestID, fmt.Errorf("persisting decision: %w", err))
	}

	slog.InfoContext(ctx, "issue processed",
		"status", issue.Status,
		"decision", d.Decision,
		"confidence", d.Confidence,
		"source", d.Source)

	return Result{Success: true, Status: issue.Status, Decision: &d}, nil
}

// transition applies change in one transaction together with extra, then
// emits the audit record. The issue is returned unchanged on error.
func (p *Processor) transition(ctx context.Context, issue *model.Issue, change model.StatusChange, upd store.IssueUpdate, requestID string, extra func(sp StoreProvider) error) (*model.Issue, error) {
	var updated *model.Issue
	err := p.tx.WithTx(ctx, func(sp StoreProvider) error {
		var err error
		updated, err = store.ApplyTransition(ctx, sp.Issues(), sp.History(), issue.ID, p.newID(), change, upd)
		if err != nil {
			return err
		}
		if extra != nil {
			return extra(sp)
		}
		return nil
	})
	if err != nil {
		return issue, err
	}

	if err := p.audit.Emit(ctx, audit.Record{
		Action:    audit.ActionTransition,
		IssueID:   issue.ID,
		From:      string(change.From),
		To:        string(change.To),
		Actor:     change.ChangedBy,
		Reason:    change.Reason,
		RequestID: requestID,
		Metadata:  change.Metadata,
		At:        p.now(),
	}); err != nil {
		slog.WarnContext(ctx, "failed to emit audit record", "error", err)
	}
	return updated, nil
}

// fail moves a processing issue to failed and marks the job terminal.
func (p *Processor) fail(ctx context.Context, issue *model.Issue, workerID, requestID string, cause error) (Result, error) {
	slog.ErrorContext(ctx, "issue cannot be processed, marking failed", "error", cause)

	settleCtx, cancel := settleContext(ctx)
	defer cancel()

	metadata := requestMetadata(requestID)
	metadata["error"] = cause.Error()
	updated, err := p.transition(settleCtx, issue, model.StatusChange{
		From:      model.IssueStatusProcessing,
		To:        model.IssueStatusFailed,
		ChangedBy: workerID,
		Reason:    "non-retryable: " + cause.Error(),
		Metadata:  metadata,
	}, store.IssueUpdate{}, requestID, nil)
	if err != nil {
		slog.ErrorContext(ctx, "failed to mark issue failed", "error", err)
		return Result{Status: issue.Status}, errs.NonRetryable(cause)
	}
	return Result{Status: updated.Status}, errs.NonRetryable(cause)
}

// revert hands a processing issue back to pending so the queue retry finds
// it pending again. It runs even when ctx was cancelled mid-job.
func (p *Processor) revert(ctx context.Context, issue *model.Issue, workerID, requestID string, cause error) (Result, error) {
	slog.WarnContext(ctx, "transient failure, returning issue to pending", "error", cause)

	settleCtx, cancel := settleContext(ctx)
	defer cancel()

	now := p.now()
	metadata := requestMetadata(requestID)
	metadata["error"] = cause.Error()
	updated, err := p.transition(settleCtx, issue, model.StatusChange{
		From:      model.IssueStatusProcessing,
		To:        model.IssueStatusPending,
		ChangedBy: workerID,
		Reason:    "transient failure, will retry",
		Metadata:  metadata,
	}, store.IssueUpdate{IncrementRetry: true, LastRetryAt: &now}, requestID, nil)
	if err != nil {
		// Left in processing; surfaces through the stale issue listing.
		slog.ErrorContext(ctx, "failed to return issue to pending", "error", err)
		return Result{Status: issue.Status}, cause
	}
	return Result{Status: updated.Status}, cause
}

func (p *Processor) analyticsEntry(issue *model.Issue, d model.UnifiedDecision) *model.DecisionAnalyticsEntry {
	entry := &model.DecisionAnalyticsEntry{
		ID:            p.newID(),
		IssueID:       issue.ID,
		IssueType:     issue.Type,
		AIDecision:    d.Decision,
		AIConfidence:  d.Confidence,
		AIReasoning:   d.Reason,
		PolicyApplied: d.PolicyApplied,
	}
	if d.AIRouting != nil {
		entry.AIRouting = *d.AIRouting
	}
	if d.AIAction != nil {
		entry.AIAction = *d.AIAction
	}
	return entry
}

// IssueHandler adapts the processor to the issue queue.
func IssueHandler(p *Processor, workerID string) Handler {
	return HandlerFunc(func(ctx context.Context, job *queue.Job) error {
		if job.TaskType != queue.TaskTypeProcessIssue || job.Payload.IssueID == nil {
			return errs.NonRetryable(fmt.Errorf("unexpected job %s of type %q", job.ID, job.TaskType))
		}
		_, err := p.ProcessIssue(ctx, *job.Payload.IssueID, workerID, job.Payload.RequestID)
		return err
	})
}

func requestMetadata(requestID string) map[string]any {
	m := map[string]any{}
	if requestID != "" {
		m["requestId"] = requestID
	}
	return m
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
