package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"payflow.app/resolver/common/errs"
	"payflow.app/resolver/common/logger"
	"payflow.app/resolver/core/config"
	"payflow.app/resolver/internal/queue"
	"payflow.app/resolver/internal/worker"
)

// Schedule maps each job to a standard five-field cron expression. Jobs with
// an empty expression are not scheduled.
type Schedule map[Kind]string

func ScheduleFromConfig(cfg config.MaintenanceConfig) Schedule {
	return Schedule{
		KindArchive:          cfg.ArchiveSchedule,
		KindPurge:            cfg.PurgeSchedule,
		KindCreatePartitions: cfg.PartitionSchedule,
	}
}

func JobsConfigFrom(cfg config.MaintenanceConfig) Config {
	return Config{
		ArchiveAfter: cfg.ArchiveAfter,
		Retention:    cfg.Retention,
		BatchSize:    cfg.BatchSize,
		MonthsAhead:  cfg.PartitionMonthsAhead,
	}
}

// Scheduler only enqueues. The deterministic job id keeps a slow run from
// piling up behind itself, and the maintenance pool runs one job at a time.
type Scheduler struct {
	cron     *cron.Cron
	enqueuer queue.Enqueuer
	entries  map[Kind]cron.EntryID
}

func NewScheduler(enqueuer queue.Enqueuer, schedule Schedule) (*Scheduler, error) {
	s := &Scheduler{
		cron:     cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow))),
		enqueuer: enqueuer,
		entries:  make(map[Kind]cron.EntryID),
	}

	for _, kind := range Kinds {
		expr := schedule[kind]
		if expr == "" {
			continue
		}
		kind := kind
		id, err := s.cron.AddFunc(expr, func() { s.Trigger(context.Background(), kind) })
		if err != nil {
			return nil, fmt.Errorf("invalid %s schedule %q: %w", kind, expr, err)
		}
		s.entries[kind] = id
	}
	return s, nil
}

// Trigger enqueues kind now. Errors are logged; the next tick tries again.
func (s *Scheduler) Trigger(ctx context.Context, kind Kind) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "payflow.maintenance.scheduler"})

	id, enqueued, err := s.enqueuer.Enqueue(ctx, queue.NewMaintenanceTask(string(kind)))
	if err != nil {
		slog.ErrorContext(ctx, "failed to enqueue maintenance job", "error", err, "job", kind)
		return
	}
	if !enqueued {
		slog.InfoContext(ctx, "maintenance job still pending, skipped", "job_id", id)
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	for kind := range s.entries {
		slog.Info("maintenance job scheduled", "job", kind, "next", s.NextRun(kind))
	}
}

// NextRun reports when kind fires next. It is zero for unscheduled kinds and
// before Start.
func (s *Scheduler) NextRun(kind Kind) time.Time {
	id, ok := s.entries[kind]
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

// Stop stops the cron and waits for running triggers or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Handler runs maintenance jobs pulled from the maintenance queue.
func Handler(jobs *Jobs) worker.Handler {
	return worker.HandlerFunc(func(ctx context.Context, job *queue.Job) error {
		if job.TaskType != queue.TaskTypeMaintenance {
			return errs.NonRetryable(fmt.Errorf("unexpected task type %q for job %s", job.TaskType, job.ID))
		}
		kind, err := ParseKind(job.Payload.Kind)
		if err != nil {
			return errs.NonRetryable(err)
		}
		_, err = jobs.Run(ctx, kind)
		return err
	})
}
