// Package ai asks a language model for a decision under a per-type policy
// and validates the answer strictly. Callers must be ready for any error.
package ai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"payflow.app/resolver/common/llm"
	"payflow.app/resolver/common/logger"
	"payflow.app/resolver/internal/model"
)

type Engine struct {
	client     llm.Client
	policies   *PolicyRegistry
	thresholds Thresholds
	timeout    time.Duration
	schema     any
}

func NewEngine(client llm.Client, policies *PolicyRegistry, thresholds Thresholds, timeout time.Duration) *Engine {
	return &Engine{
		client:     client,
		policies:   policies,
		thresholds: thresholds,
		timeout:    timeout,
		schema:     llm.GenerateSchema[agentOutput](),
	}
}

func (e *Engine) Evaluate(ctx context.Context, issue *model.Issue, customer model.CustomerProfile, txn model.TransactionProfile) (*Decision, error) {
	sc := logger.StartSpan(ctx, "ai.evaluate")
	defer sc.End()
	ctx = sc.Context()
	sc.Span().SetAttributes(
		attribute.String("issue.type", string(issue.Type)),
		attribute.String("llm.model", e.client.Model()),
	)

	policy, err := e.policies.Get(issue.Type)
	if err != nil {
		sc.RecordError(err)
		return nil, err
	}

	userPrompt, err := buildUserPrompt(policy, issue, customer, txn)
	if err != nil {
		sc.RecordError(err)
		return nil, err
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := e.client.Complete(ctx, llm.Request{
		SystemPrompt: buildSystemPrompt(e.thresholds),
		UserPrompt:   userPrompt,
		SchemaName:   "payment_issue_decision",
		Schema:       e.schema,
		Temperature:  llm.Temp(0),
	})
	if err != nil {
		sc.RecordError(err)
		return nil, fmt.Errorf("ai completion: %w", err)
	}

	decision, err := ParseDecision(issue.Type, resp.Content)
	if err != nil {
		slog.WarnContext(ctx, "ai response rejected",
			"error", err,
			"content", logger.Truncate(resp.Content, 500))
		sc.RecordError(err)
		return nil, fmt.Errorf("parsing ai decision: %w", err)
	}

	slog.InfoContext(ctx, "ai decision",
		"routing", decision.Routing,
		"action", decision.Action,
		"confidence", decision.Confidence,
		"policy", decision.PolicyApplied,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.PromptTokens,
		"completion_tokens", resp.CompletionTokens)

	return decision, nil
}
