package worker

import (
	"context"
	"log/slog"
	"time"

	"payflow.app/resolver/common/logger"
)

// StalledReclaimer is implemented by queue.Queue.
type StalledReclaimer interface {
	Name() string
	ReclaimStalled(ctx context.Context) (int, error)
}

// Reclaimer periodically returns stalled jobs to the wait set.
// This handles the crash recovery scenario where a worker dies
// after Dequeue but before Complete or Retry.
type Reclaimer struct {
	queue    StalledReclaimer
	interval time.Duration

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewReclaimer(queue StalledReclaimer, interval time.Duration) *Reclaimer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reclaimer{
		queue:     queue,
		interval:  interval,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run starts the reclaimer loop. Blocks until Stop() is called.
func (r *Reclaimer) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "payflow.worker.reclaimer",
	})

	defer close(r.stoppedCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "reclaimer started",
		"interval", r.interval,
		"queue", r.queue.Name())

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			slog.InfoContext(ctx, "reclaimer stopping")
			return
		case <-ticker.C:
			r.reclaimOnce(ctx)
		}
	}
}

// Stop signals the reclaimer to stop gracefully.
func (r *Reclaimer) Stop() {
	close(r.stopCh)
	<-r.stoppedCh
}

func (r *Reclaimer) reclaimOnce(ctx context.Context) {
	n, err := r.queue.ReclaimStalled(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "reclaim cycle error", "error", err)
		return
	}
	if n > 0 {
		slog.WarnContext(ctx, "reclaimed stalled jobs", "count", n)
	}
}
