// Package queue is a Redis job queue with deterministic job ids, priority,
// exponential backoff and a dead letter stream. Delivery is at-least-once.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"payflow.app/resolver/internal/metrics"
)

const (
	DefaultMaxAttempts  = 5
	DefaultBackoffBase  = 2 * time.Second
	DefaultStallTimeout = 2 * time.Minute
	defaultPriority     = 3

	// priorityWeight separates priority bands in the wait set score; within a
	// band jobs are ordered by enqueue time in milliseconds.
	priorityWeight = 1e13
)

type Config struct {
	Name         string
	Prefix       string
	MaxAttempts  int
	BackoffBase  time.Duration
	StallTimeout time.Duration
}

// Job is a dequeued unit of work. Attempts counts failed tries so far.
type Job struct {
	ID          string
	TaskType    TaskType
	Payload     Payload
	Priority    int
	Attempts    int
	MaxAttempts int
	Stalls      int
	LastError   string
	EnqueuedAt  time.Time
}

type Stats struct {
	Waiting     int64 `json:"waiting"`
	Delayed     int64 `json:"delayed"`
	Active      int64 `json:"active"`
	DeadLetters int64 `json:"dead_letters"`
}

type DeadLetter struct {
	StreamID string
	JobID    string
	TaskType TaskType
	Payload  string
	Attempts int
	Error    string
	FailedAt time.Time
}

// Enqueuer is the producer side used by the API and the scheduler.
type Enqueuer interface {
	Enqueue(ctx context.Context, task Task) (jobID string, enqueued bool, err error)
}

type Queue struct {
	client *redis.Client
	cfg    Config
	now    func() time.Time
}

type Option func(*Queue)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func New(client *redis.Client, cfg Config, opts ...Option) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = DefaultStallTimeout
	}
	q := &Queue{client: client, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Name() string { return q.cfg.Name }

func (q *Queue) key(suffix string) string {
	return fmt.Sprintf("%s:queue:%s:%s", q.cfg.Prefix, q.cfg.Name, suffix)
}

func (q *Queue) jobKeyPrefix() string    { return q.key("job:") }
func (q *Queue) jobKey(id string) string { return q.jobKeyPrefix() + id }
func (q *Queue) waitKey() string         { return q.key("wait") }
func (q *Queue) delayedKey() string      { return q.key("delayed") }
func (q *Queue) activeKey() string       { return q.key("active") }
func (q *Queue) dlqKey() string          { return q.key("dlq") }

// Enqueue adds task unless a job with the same id is already queued, delayed
// or running; in that case it is a no-op returning the existing id.
func (q *Queue) Enqueue(ctx context.Context, task Task) (string, bool, error) {
	id, err := task.JobID()
	if err != nil {
		return "", false, err
	}
	payload, err := task.Payload.encode()
	if err != nil {
		return "", false, err
	}

	priority := task.Priority
	if priority < 1 || priority > 4 {
		priority = defaultPriority
	}
	nowMs := q.now().UnixMilli()
	score := float64(priority)*priorityWeight + float64(nowMs)

	n, err := enqueueScript.Run(ctx, q.client,
		[]string{q.jobKey(id), q.waitKey()},
		id, payload, string(task.TaskType), q.cfg.MaxAttempts, q.cfg.BackoffBase.Milliseconds(),
		priority, nowMs, strconv.FormatFloat(score, 'f', 0, 64),
	).Int64()
	if err != nil {
		return "", false, fmt.Errorf("enqueue %s: %w", id, err)
	}

	if n == 0 {
		metrics.QueueJobsTotal.WithLabelValues(q.cfg.Name, "deduplicated").Inc()
		slog.DebugContext(ctx, "job already queued", "job_id", id, "queue", q.cfg.Name)
		return id, false, nil
	}

	metrics.QueueJobsTotal.WithLabelValues(q.cfg.Name, "enqueued").Inc()
	slog.InfoContext(ctx, "job enqueued", "job_id", id, "queue", q.cfg.Name, "priority", priority)
	return id, true, nil
}

// Dequeue returns the highest-priority due job, or nil when none is ready.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	now := q.now()
	res, err := dequeueScript.Run(ctx, q.client,
		[]string{q.waitKey(), q.delayedKey(), q.activeKey()},
		now.UnixMilli(), now.Add(q.cfg.StallTimeout).UnixMilli(), q.jobKeyPrefix(),
	).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	if len(res) == 0 {
		return nil, nil
	}

	values := make(map[string]string, len(res)/2)
	for i := 1; i+1 < len(res); i += 2 {
		values[res[i]] = res[i+1]
	}
	return parseJob(res[0], values)
}

func (q *Queue) Complete(ctx context.Context, job *Job) error {
	if err := completeScript.Run(ctx, q.client,
		[]string{q.jobKey(job.ID), q.waitKey(), q.delayedKey(), q.activeKey()},
		job.ID,
	).Err(); err != nil {
		return fmt.Errorf("complete %s: %w", job.ID, err)
	}
	metrics.QueueJobsTotal.WithLabelValues(q.cfg.Name, "completed").Inc()
	return nil
}

// Retry records a failed attempt. While attempts remain the job is delayed by
// base·2^(attempts-1); after the last attempt it is dead-lettered.
// deadLettered reports which of the two happened.
func (q *Queue) Retry(ctx context.Context, job *Job, cause error) (deadLettered bool, err error) {
	res, err := retryScript.Run(ctx, q.client,
		q.failKeys(job.ID),
		job.ID, q.now().UnixMilli(), errorText(cause),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("retry %s: %w", job.ID, err)
	}

	switch {
	case res < 0:
		slog.WarnContext(ctx, "retry for a job that no longer exists", "job_id", job.ID)
		return false, nil
	case res == 0:
		metrics.QueueJobsTotal.WithLabelValues(q.cfg.Name, "dead_lettered").Inc()
		slog.ErrorContext(ctx, "job sent to DLQ after final attempt",
			"job_id", job.ID,
			"attempts", job.Attempts+1,
			"final_error", errorText(cause))
		return true, nil
	default:
		metrics.QueueJobsTotal.WithLabelValues(q.cfg.Name, "retried").Inc()
		slog.InfoContext(ctx, "job scheduled for retry",
			"job_id", job.ID,
			"next_attempt", job.Attempts+2,
			"delay_ms", res,
			"reason", errorText(cause))
		return false, nil
	}
}

// Fail dead-letters the job immediately.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) error {
	if err := failScript.Run(ctx, q.client,
		q.failKeys(job.ID),
		job.ID, q.now().UnixMilli(), errorText(cause),
	).Err(); err != nil {
		return fmt.Errorf("fail %s: %w", job.ID, err)
	}
	metrics.QueueJobsTotal.WithLabelValues(q.cfg.Name, "dead_lettered").Inc()
	slog.ErrorContext(ctx, "job sent to DLQ",
		"job_id", job.ID,
		"final_error", errorText(cause),
		"dlq_stream", q.dlqKey())
	return nil
}

// ReclaimStalled returns running jobs whose stall deadline passed to the
// wait set. Their worker may still be running, so handlers must be idempotent.
func (q *Queue) ReclaimStalled(ctx context.Context) (int, error) {
	n, err := reclaimScript.Run(ctx, q.client,
		[]string{q.activeKey(), q.waitKey()},
		q.now().UnixMilli(), q.jobKeyPrefix(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("reclaim stalled: %w", err)
	}
	if n > 0 {
		metrics.QueueJobsTotal.WithLabelValues(q.cfg.Name, "reclaimed").Add(float64(n))
	}
	return n, nil
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	wait := pipe.ZCard(ctx, q.waitKey())
	delayed := pipe.ZCard(ctx, q.delayedKey())
	active := pipe.ZCard(ctx, q.activeKey())
	dlq := pipe.XLen(ctx, q.dlqKey())
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{
		Waiting:     wait.Val(),
		Delayed:     delayed.Val(),
		Active:      active.Val(),
		DeadLetters: dlq.Val(),
	}, nil
}

// DeadLetters returns up to count of the most recent DLQ entries.
func (q *Queue) DeadLetters(ctx context.Context, count int64) ([]DeadLetter, error) {
	msgs, err := q.client.XRevRangeN(ctx, q.dlqKey(), "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("reading dlq: %w", err)
	}
	out := make([]DeadLetter, 0, len(msgs))
	for _, m := range msgs {
		dl := DeadLetter{
			StreamID: m.ID,
			JobID:    fmt.Sprint(m.Values["job_id"]),
			TaskType: TaskType(fmt.Sprint(m.Values["task_type"])),
			Payload:  fmt.Sprint(m.Values["payload"]),
			Error:    fmt.Sprint(m.Values["error"]),
		}
		dl.Attempts, _ = strconv.Atoi(fmt.Sprint(m.Values["attempts"]))
		if ms, err := strconv.ParseInt(fmt.Sprint(m.Values["failed_at"]), 10, 64); err == nil {
			dl.FailedAt = time.UnixMilli(ms)
		}
		out = append(out, dl)
	}
	return out, nil
}

func (q *Queue) failKeys(id string) []string {
	return []string{q.jobKey(id), q.waitKey(), q.delayedKey(), q.activeKey(), q.dlqKey()}
}

func parseJob(id string, values map[string]string) (*Job, error) {
	job := &Job{
		ID:        id,
		TaskType:  TaskType(values["task_type"]),
		LastError: values["last_error"],
	}
	if err := json.Unmarshal([]byte(values["payload"]), &job.Payload); err != nil {
		return nil, fmt.Errorf("parsing payload of %s: %w", id, err)
	}

	var err error
	if job.Priority, err = parseOptionalInt(values, "priority"); err != nil {
		return nil, err
	}
	if job.Attempts, err = parseOptionalInt(values, "attempts"); err != nil {
		return nil, err
	}
	if job.MaxAttempts, err = parseOptionalInt(values, "max_attempts"); err != nil {
		return nil, err
	}
	if job.Stalls, err = parseOptionalInt(values, "stalls"); err != nil {
		return nil, err
	}
	enqueuedMs, err := parseOptionalInt(values, "enqueued_at")
	if err != nil {
		return nil, err
	}
	job.EnqueuedAt = time.UnixMilli(int64(enqueuedMs))
	return job, nil
}

func parseOptionalInt(values map[string]string, key string) (int, error) {
	raw, ok := values[key]
	if !ok || raw == "" {
		return 0, nil
	}
	num, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
