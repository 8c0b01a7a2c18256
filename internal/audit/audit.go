// Package audit emits issue lifecycle records to a Redis stream for
// downstream compliance consumers. The pipeline only writes to it.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type Action string

const (
	ActionCreated     Action = "issue.created"
	ActionTransition  Action = "issue.transition"
	ActionDecided     Action = "issue.decided"
	ActionReviewed    Action = "issue.reviewed"
	ActionRequeued    Action = "issue.requeued"
	ActionMaintenance Action = "maintenance.completed"
)

// defaultMaxLen caps the stream; trimming is approximate.
const defaultMaxLen = 100_000

type Record struct {
	Action    Action
	IssueID   int64
	From      string
	To        string
	Actor     string
	Reason    string
	RequestID string
	Metadata  map[string]any
	At        time.Time
}

type Emitter interface {
	Emit(ctx context.Context, rec Record) error
}

type Entry struct {
	StreamID string
	Record
}

type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisSink(client *redis.Client, prefix string) *RedisSink {
	return &RedisSink{
		client: client,
		stream: prefix + ":audit",
		maxLen: defaultMaxLen,
	}
}

func (s *RedisSink) Stream() string { return s.stream }

func (s *RedisSink) Emit(ctx context.Context, rec Record) error {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}

	fields := map[string]any{
		"action": string(rec.Action),
		"actor":  rec.Actor,
		"at":     rec.At.UnixMilli(),
	}
	if rec.IssueID != 0 {
		fields["issue_id"] = rec.IssueID
	}
	if rec.From != "" {
		fields["from"] = rec.From
	}
	if rec.To != "" {
		fields["to"] = rec.To
	}
	if rec.Reason != "" {
		fields["reason"] = rec.Reason
	}
	if rec.RequestID != "" {
		fields["request_id"] = rec.RequestID
	}
	if len(rec.Metadata) > 0 {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("encoding audit metadata: %w", err)
		}
		fields["metadata"] = string(b)
	}

	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("emit audit record: %w", err)
	}

	slog.DebugContext(ctx, "audit record emitted", "action", rec.Action, "issue_id", rec.IssueID)
	return nil
}

// Recent returns up to count records, newest first.
func (s *RedisSink) Recent(ctx context.Context, count int64) ([]Entry, error) {
	msgs, err := s.client.XRevRangeN(ctx, s.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("reading audit stream: %w", err)
	}

	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		e := Entry{StreamID: m.ID}
		e.Action = Action(str(m.Values, "action"))
		e.Actor = str(m.Values, "actor")
		e.From = str(m.Values, "from")
		e.To = str(m.Values, "to")
		e.Reason = str(m.Values, "reason")
		e.RequestID = str(m.Values, "request_id")
		e.IssueID, _ = strconv.ParseInt(str(m.Values, "issue_id"), 10, 64)
		if ms, err := strconv.ParseInt(str(m.Values, "at"), 10, 64); err == nil {
			e.At = time.UnixMilli(ms)
		}
		if raw := str(m.Values, "metadata"); raw != "" {
			_ = json.Unmarshal([]byte(raw), &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func str(values map[string]any, key string) string {
	v, ok := values[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Nop drops every record. Used where no Redis client is configured.
type Nop struct{}

func (Nop) Emit(context.Context, Record) error { return nil }
