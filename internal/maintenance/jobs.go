// Package maintenance keeps the live issue table bounded: archival of closed
// issues, retention purge of the archive and monthly partition creation.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"payflow.app/resolver/common/logger"
	"payflow.app/resolver/internal/audit"
	"payflow.app/resolver/internal/metrics"
	"payflow.app/resolver/internal/model"
	"payflow.app/resolver/internal/store"
)

type Kind string

const (
	KindArchive          Kind = "archive"
	KindPurge            Kind = "purge"
	KindCreatePartitions Kind = "create_partitions"
)

var Kinds = []Kind{KindArchive, KindPurge, KindCreatePartitions}

func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown maintenance job %q", s)
}

const issuesTable = "issues"

// archivableStatuses are the terminal statuses eligible for archival.
var archivableStatuses = []model.IssueStatus{model.IssueStatusResolved, model.IssueStatusFailed}

type Config struct {
	ArchiveAfter time.Duration
	Retention    time.Duration
	BatchSize    int
	MonthsAhead  int
}

// Report summarises one run. Rows counts rows in committed batches, or
// partitions created.
type Report struct {
	Kind    Kind
	Rows    int64
	Batches int
	Created []string
	Skipped []string
}

type Jobs struct {
	archive    store.ArchiveStore
	partitions store.PartitionStore
	audit      audit.Emitter
	cfg        Config
	now        func() time.Time
}

func NewJobs(archive store.ArchiveStore, partitions store.PartitionStore, emitter audit.Emitter, cfg Config) *Jobs {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 500
	}
	if emitter == nil {
		emitter = audit.Nop{}
	}
	return &Jobs{
		archive:    archive,
		partitions: partitions,
		audit:      emitter,
		cfg:        cfg,
		now:        time.Now,
	}
}

// WithClock returns a copy of j that reads time from now.
func (j *Jobs) WithClock(now func() time.Time) *Jobs {
	cp := *j
	cp.now = now
	return &cp
}

// Run executes one job synchronously.
func (j *Jobs) Run(ctx context.Context, kind Kind) (Report, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "payflow.maintenance." + string(kind),
	})
	sc := logger.StartSpan(ctx, "maintenance."+string(kind))
	defer sc.End()
	ctx = sc.Context()

	start := j.now()
	var (
		report Report
		err    error
	)
	switch kind {
	case KindArchive:
		report, err = j.Archive(ctx)
	case KindPurge:
		report, err = j.Purge(ctx)
	case KindCreatePartitions:
		report, err = j.CreatePartitions(ctx)
	default:
		return Report{Kind: kind}, fmt.Errorf("unknown maintenance job %q", kind)
	}

	metrics.MaintenanceRowsTotal.WithLabelValues(string(kind)).Add(float64(report.Rows))
	status := "success"
	if err != nil {
		status = "error"
		sc.RecordError(err)
		slog.ErrorContext(ctx, "maintenance job failed",
			"error", err,
			"rows", report.Rows,
			"batches", report.Batches)
	} else {
		slog.InfoContext(ctx, "maintenance job completed",
			"rows", report.Rows,
			"batches", report.Batches,
			"created", report.Created,
			"duration_ms", j.now().Sub(start).Milliseconds())
	}
	metrics.MaintenanceRunsTotal.WithLabelValues(string(kind), status).Inc()

	if emitErr := j.audit.Emit(ctx, audit.Record{
		Action: audit.ActionMaintenance,
		Actor:  model.ActorSystem,
		Reason: string(kind) + " " + status,
		Metadata: map[string]any{
			"job":     string(kind),
			"rows":    report.Rows,
			"batches": report.Batches,
		},
	}); emitErr != nil {
		slog.WarnContext(ctx, "failed to emit audit record", "error", emitErr)
	}
	return report, err
}

// Archive moves closed issues older than ArchiveAfter into the archive, one
// batch per statement. A failing batch stops the run; earlier batches stay.
func (j *Jobs) Archive(ctx context.Context) (Report, error) {
	cutoff := j.now().Add(-j.cfg.ArchiveAfter)
	report := Report{Kind: KindArchive}
	err := j.batches(ctx, &report, func() (int64, error) {
		return j.archive.ArchiveBatch(ctx, archivableStatuses, cutoff, j.cfg.BatchSize)
	})
	return report, err
}

// Purge deletes archived issues older than Retention, in batches.
func (j *Jobs) Purge(ctx context.Context) (Report, error) {
	cutoff := j.now().Add(-j.cfg.Retention)
	report := Report{Kind: KindPurge}
	err := j.batches(ctx, &report, func() (int64, error) {
		return j.archive.PurgeBatch(ctx, cutoff, j.cfg.BatchSize)
	})
	return report, err
}

func (j *Jobs) batches(ctx context.Context, report *Report, next func() (int64, error)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := next()
		if err != nil {
			return fmt.Errorf("batch %d: %w", report.Batches+1, err)
		}
		report.Rows += n
		report.Batches++
		slog.DebugContext(ctx, "maintenance batch committed", "batch", report.Batches, "rows", n)
		if n < int64(j.cfg.BatchSize) {
			return nil
		}
	}
}

// CreatePartitions makes sure the current month and the next MonthsAhead
// months have a partition. It does nothing when issues is not partitioned.
func (j *Jobs) CreatePartitions(ctx context.Context) (Report, error) {
	report := Report{Kind: KindCreatePartitions}

	partitioned, err := j.partitions.IsPartitioned(ctx, issuesTable)
	if err != nil {
		return report, fmt.Errorf("checking partitioning: %w", err)
	}
	if !partitioned {
		slog.InfoContext(ctx, "issues table is not partitioned, nothing to do")
		return report, nil
	}

	existing, err := j.partitions.ListPartitions(ctx, issuesTable)
	if err != nil {
		return report, fmt.Errorf("listing partitions: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[name] = true
	}

	for _, p := range MonthlyPlan(j.now(), j.cfg.MonthsAhead) {
		if have[p.Name] {
			report.Skipped = append(report.Skipped, p.Name)
			continue
		}
		if err := j.partitions.CreateRangePartition(ctx, issuesTable, p.Name, p.From, p.To); err != nil {
			return report, err
		}
		report.Created = append(report.Created, p.Name)
		report.Rows++
	}
	return report, nil
}

type Partition struct {
	Name string
	From time.Time
	To   time.Time
}

// MonthlyPlan lists the partitions for the month containing now and the
// following monthsAhead months, in UTC.
func MonthlyPlan(now time.Time, monthsAhead int) []Partition {
	now = now.UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	plan := make([]Partition, 0, monthsAhead+1)
	for i := 0; i <= monthsAhead; i++ {
		from := first.AddDate(0, i, 0)
		plan = append(plan, Partition{
			Name: fmt.Sprintf("%s_%04d_%02d", issuesTable, from.Year(), from.Month()),
			From: from,
			To:   from.AddDate(0, 1, 0),
		})
	}
	return plan
}
