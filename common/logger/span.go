package logger

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "payflow"

// SpanContext wraps an OTel span for managed lifecycle.
type SpanContext struct {
	ctx  context.Context
	span trace.Span
}

// StartSpan creates a child span of the current trace context. The issue,
// job, worker and request ids already set with WithLogFields are copied onto
// the span, so traces and logs can be joined on the same keys.
//
//	sc := logger.StartSpan(ctx, "worker.process_issue", trace.WithSpanKind(trace.SpanKindConsumer))
//	defer sc.End()
//	ctx = sc.Context()
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) *SpanContext {
	if attrs := spanAttributes(GetLogFields(ctx)); len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(attrs...))
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, opts...)
	return &SpanContext{ctx: ctx, span: span}
}

func spanAttributes(f LogFields) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if f.IssueID != nil {
		attrs = append(attrs, attribute.Int64("payflow.issue_id", *f.IssueID))
	}
	if f.JobID != nil {
		attrs = append(attrs, attribute.String("payflow.job_id", *f.JobID))
	}
	if f.WorkerID != nil {
		attrs = append(attrs, attribute.String("payflow.worker_id", *f.WorkerID))
	}
	if f.RequestID != nil {
		attrs = append(attrs, attribute.String("payflow.request_id", *f.RequestID))
	}
	return attrs
}

func (sc *SpanContext) Context() context.Context {
	return sc.ctx
}

// End is safe to call more than once.
func (sc *SpanContext) End() {
	if sc.span != nil {
		sc.span.End()
	}
}

// RecordError marks the span failed. Nil errors are ignored.
func (sc *SpanContext) RecordError(err error) {
	if sc.span != nil && err != nil {
		sc.span.RecordError(err)
		sc.span.SetStatus(codes.Error, err.Error())
	}
}

func (sc *SpanContext) Span() trace.Span {
	return sc.span
}
