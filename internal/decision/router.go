// Package decision routes an issue to the configured engine and returns a
// single UnifiedDecision whichever engine produced it.
package decision

import (
	"context"
	"log/slog"

	"payflow.app/resolver/common/llm"
	"payflow.app/resolver/core/config"
	"payflow.app/resolver/internal/ai"
	"payflow.app/resolver/internal/metrics"
	"payflow.app/resolver/internal/model"
	"payflow.app/resolver/internal/rules"
)

type RulesEngine interface {
	Evaluate(issue *model.Issue, customer model.CustomerProfile, txn model.TransactionProfile) (rules.Decision, error)
}

type AIEngine interface {
	Evaluate(ctx context.Context, issue *model.Issue, customer model.CustomerProfile, txn model.TransactionProfile) (*ai.Decision, error)
}

type Router struct {
	mode  config.EngineMode
	rules RulesEngine
	ai    AIEngine
}

// NewRouter builds a router. aiEngine may be nil in rules mode.
func NewRouter(mode config.EngineMode, rulesEngine RulesEngine, aiEngine AIEngine) *Router {
	if mode == config.EngineModeAI && aiEngine == nil {
		slog.Warn("ai decision mode requested without an ai engine, using rules")
		mode = config.EngineModeRules
	}
	return &Router{mode: mode, rules: rulesEngine, ai: aiEngine}
}

func (r *Router) Mode() config.EngineMode {
	return r.mode
}

// Evaluate never returns an AI engine error. In ai mode every AI failure
// is logged, counted and answered by the rules engine on the same inputs.
// Only rules-engine errors reach the caller.
func (r *Router) Evaluate(ctx context.Context, issue *model.Issue, customer model.CustomerProfile, txn model.TransactionProfile) (model.UnifiedDecision, error) {
	if r.mode == config.EngineModeAI {
		d, err := r.ai.Evaluate(ctx, issue, customer, txn)
		if err == nil {
			u := fromAI(d)
			metrics.DecisionsTotal.WithLabelValues(string(u.Source), string(u.Decision)).Inc()
			return u, nil
		}

		reason := fallbackReason(err)
		metrics.AIFallbacksTotal.WithLabelValues(reason).Inc()
		slog.WarnContext(ctx, "ai engine failed, falling back to rules",
			"error", err,
			"reason", reason,
			"issue_type", issue.Type)
	}

	d, err := r.rules.Evaluate(issue, customer, txn)
	if err != nil {
		return model.UnifiedDecision{}, err
	}
	u := d.Unified()
	metrics.DecisionsTotal.WithLabelValues(string(u.Source), string(u.Decision)).Inc()
	return u, nil
}

func fromAI(d *ai.Decision) model.UnifiedDecision {
	routing := d.Routing
	action := d.Action
	policy := d.PolicyApplied
	return model.UnifiedDecision{
		Decision:      d.Decision,
		Confidence:    d.Confidence / 100,
		Reason:        d.Reasoning,
		Source:        model.SourceAI,
		AIRouting:     &routing,
		AIAction:      &action,
		PolicyApplied: &policy,
	}
}

// fallbackReason buckets an AI failure for the fallback counter.
func fallbackReason(err error) string {
	if ai.IsParseError(err) {
		return "invalid_output"
	}
	return string(llm.Classify(err))
}

// ShouldAutoResolve reports whether the pipeline may act on d without a
// reviewer. AI decisions follow the agent's own routing class; rules
// decisions are gated by threshold and never auto-resolve an escalation.
func ShouldAutoResolve(d model.UnifiedDecision, threshold float64) bool {
	if d.Source == model.SourceAI {
		return d.AIRouting != nil && *d.AIRouting == model.AIRoutingAutoResolve
	}
	if d.Decision == model.DecisionEscalate {
		return false
	}
	return d.Confidence >= threshold
}

func ResolutionFor(d model.DecisionCode) string {
	return model.ResolutionFor(d)
}
