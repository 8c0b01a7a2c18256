package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"payflow.app/resolver/common/errs"
	"payflow.app/resolver/common/logger"
	"payflow.app/resolver/internal/queue"
)

// settleTimeout bounds the writes that close out a job: queue acks and the
// issue's fail or revert transition. They run on a context detached from the
// job so a shutdown cancel cannot strand the issue in processing.
const settleTimeout = 5 * time.Second

func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

type PoolConfig struct {
	Name         string
	WorkerID     string
	Concurrency  int
	PollInterval time.Duration
}

// Pool runs Concurrency goroutines that each pull one job at a time.
type Pool struct {
	consumer Consumer
	handler  Handler
	cfg      PoolConfig

	stopOnce   sync.Once
	stopCh     chan struct{}
	stoppedCh  chan struct{}
	cancelJobs context.CancelFunc
	started    bool
	mu         sync.Mutex
}

func NewPool(consumer Consumer, handler Handler, cfg PoolConfig) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Pool{
		consumer:  consumer,
		handler:   handler,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run blocks until ctx is done or Stop is called and every loop has exited.
// In-flight jobs keep running after Stop until they finish or Stop's
// timeout cancels them.
func (p *Pool) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("worker pool %s: already running", p.cfg.Name)
	}
	p.started = true
	p.mu.Unlock()
	defer close(p.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		WorkerID:  &p.cfg.WorkerID,
		Component: "payflow.worker.pool",
	})

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	p.mu.Lock()
	p.cancelJobs = cancel
	p.mu.Unlock()

	slog.InfoContext(ctx, "worker pool started",
		"queue", p.cfg.Name,
		"concurrency", p.cfg.Concurrency)

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.loop(ctx, jobCtx)
		}()
	}
	wg.Wait()

	slog.InfoContext(ctx, "worker pool stopped", "queue", p.cfg.Name)
	return ctx.Err()
}

// Stop stops intake and waits up to timeout for in-flight jobs. Jobs still
// running at the deadline are cancelled; the queue reclaims them later.
// Stopping a pool that never ran returns at once and a later Run exits
// immediately.
func (p *Pool) Stop(timeout time.Duration) error {
	p.stopOnce.Do(func() { close(p.stopCh) })

	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return nil
	}

	select {
	case <-p.stoppedCh:
		return nil
	case <-time.After(timeout):
	}

	p.mu.Lock()
	if p.cancelJobs != nil {
		p.cancelJobs()
	}
	p.mu.Unlock()
	<-p.stoppedCh
	return fmt.Errorf("worker pool %s: shutdown timeout %s exceeded", p.cfg.Name, timeout)
}

func (p *Pool) loop(ctx, jobCtx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		job, err := p.consumer.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			slog.ErrorContext(ctx, "dequeue failed", "error", err)
			p.wait(ctx)
			continue
		}
		if job == nil {
			p.wait(ctx)
			continue
		}

		p.handle(jobCtx, job)
	}
}

func (p *Pool) wait(ctx context.Context) {
	t := time.NewTimer(p.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-p.stopCh:
	case <-t.C:
	}
}

func (p *Pool) handle(ctx context.Context, job *queue.Job) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobID:     &job.ID,
		IssueID:   job.Payload.IssueID,
		RequestID: optional(job.Payload.RequestID),
	})

	slog.DebugContext(ctx, "processing job",
		"task_type", job.TaskType,
		"attempt", job.Attempts+1,
		"max_attempts", job.MaxAttempts)

	err := p.handleSafe(ctx, job)

	settleCtx, cancel := settleContext(ctx)
	defer cancel()

	if err != nil {
		slog.ErrorContext(ctx, "job processing failed", "error", err)
		p.handleFailedJob(settleCtx, job, err)
		return
	}

	if err := p.consumer.Complete(settleCtx, job); err != nil {
		// Left active; the reclaimer will hand it out again and the handler
		// sees the issue is no longer pending.
		slog.WarnContext(ctx, "failed to complete job", "error", err)
	}
}

func (p *Pool) handleSafe(ctx context.Context, job *queue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in job processing", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.handler.Handle(ctx, job)
}

func (p *Pool) handleFailedJob(ctx context.Context, job *queue.Job, err error) {
	if errs.IsNonRetryable(err) {
		if failErr := p.consumer.Fail(ctx, job, err); failErr != nil {
			slog.ErrorContext(ctx, "failed to dead-letter job", "error", failErr)
		}
		return
	}

	if _, retryErr := p.consumer.Retry(ctx, job, err); retryErr != nil {
		slog.ErrorContext(ctx, "failed to schedule job retry", "error", retryErr)
	}
}
