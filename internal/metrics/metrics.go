package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels on IssuesProcessedTotal. An attempt that writes a decision
// is labelled with the issue's final status instead.
const (
	OutcomeNoop           = "noop"
	OutcomeLockContention = "lock_contention"
	OutcomeNonRetryable   = "non_retryable"
	OutcomeTransient      = "transient"
)

// Prometheus metrics for the issue pipeline
var (
	IssuesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payflow_issues_processed_total",
			Help: "Processing attempts by outcome (resolved, awaiting_review, noop, lock_contention, non_retryable, transient)",
		},
		[]string{"outcome"},
	)

	IssueProcessingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "payflow_issue_processing_duration_seconds",
			Help:    "Duration of one processIssue attempt",
			Buckets: prometheus.DefBuckets,
		},
	)

	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payflow_decisions_total",
			Help: "Decisions produced by the router, by engine source and decision",
		},
		[]string{"source", "decision"},
	)

	AIFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payflow_ai_fallbacks_total",
			Help: "AI engine failures that fell back to the rules engine, by failure kind",
		},
		[]string{"reason"},
	)

	LockContentionTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payflow_lock_contention_total",
			Help: "Issue lock acquisitions that found the lock already held",
		},
	)

	QueueJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payflow_queue_jobs_total",
			Help: "Queue job lifecycle events (enqueued, deduplicated, completed, retried, dead_lettered, reclaimed)",
		},
		[]string{"queue", "event"},
	)

	MaintenanceRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payflow_maintenance_runs_total",
			Help: "Maintenance job runs by job kind and status",
		},
		[]string{"job", "status"},
	)

	MaintenanceRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payflow_maintenance_rows_total",
			Help: "Rows archived or purged, or partitions created, by job kind",
		},
		[]string{"job"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payflow_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payflow_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

var registerOnce sync.Once

// Register registers all Prometheus metrics with the default registry.
// Safe to call from more than one component in the same process.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			IssuesProcessedTotal,
			IssueProcessingDuration,
			DecisionsTotal,
			AIFallbacksTotal,
			LockContentionTotal,
			QueueJobsTotal,
			MaintenanceRunsTotal,
			MaintenanceRowsTotal,
			HTTPRequestsTotal,
			HTTPRequestDuration,
		)
	})
}
