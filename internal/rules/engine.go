// Package rules is the deterministic decision engine. Evaluators are pure:
// the same issue, customer and transaction always yield the same Decision.
package rules

import (
	"fmt"

	"payflow.app/resolver/common/errs"
	"payflow.app/resolver/internal/model"
)

// Decision is a rules-engine outcome. Confidence is on the [0,1] scale.
type Decision struct {
	Decision   model.DecisionCode
	Confidence float64
	Reason     string
}

// Unified converts d into the router's source-agnostic shape.
func (d Decision) Unified() model.UnifiedDecision {
	return model.UnifiedDecision{
		Decision:   d.Decision,
		Confidence: d.Confidence,
		Reason:     d.Reason,
		Source:     model.SourceRules,
	}
}

type Input struct {
	Issue       *model.Issue
	Customer    model.CustomerProfile
	Transaction model.TransactionProfile
}

type Evaluator interface {
	Evaluate(in Input) (Decision, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(in Input) (Decision, error)

func (f EvaluatorFunc) Evaluate(in Input) (Decision, error) { return f(in) }

type Engine struct {
	evaluators map[model.IssueType]Evaluator
}

// NewEngine returns an engine with the built-in evaluator for every issue type.
func NewEngine() *Engine {
	return &Engine{
		evaluators: map[model.IssueType]Evaluator{
			model.IssueTypeDecline:           EvaluatorFunc(evaluateDecline),
			model.IssueTypeMissedInstallment: EvaluatorFunc(evaluateMissedInstallment),
			model.IssueTypeDispute:           EvaluatorFunc(evaluateDispute),
			model.IssueTypeRefundRequest:     EvaluatorFunc(evaluateRefund),
		},
	}
}

// Register replaces the evaluator for t.
func (e *Engine) Register(t model.IssueType, ev Evaluator) {
	e.evaluators[t] = ev
}

// Evaluate returns a non-retryable error when the issue type has no
// evaluator or its details cannot be decoded; retrying would not help.
func (e *Engine) Evaluate(issue *model.Issue, customer model.CustomerProfile, txn model.TransactionProfile) (Decision, error) {
	if issue == nil {
		return Decision{}, errs.NonRetryable(fmt.Errorf("rules: nil issue"))
	}
	ev, ok := e.evaluators[issue.Type]
	if !ok {
		return Decision{}, errs.NonRetryable(fmt.Errorf("rules: no evaluator for issue type %q", issue.Type))
	}
	return ev.Evaluate(Input{Issue: issue, Customer: customer, Transaction: txn})
}

func decode[T any](in Input) (*T, error) {
	d, err := model.DecodeDetails(in.Issue.Type, in.Issue.Details)
	if err != nil {
		return nil, errs.NonRetryable(fmt.Errorf("rules: %w", err))
	}
	v, ok := d.(*T)
	if !ok {
		return nil, errs.NonRetryable(fmt.Errorf("rules: unexpected details %T for %s", d, in.Issue.Type))
	}
	return v, nil
}

func decide(code model.DecisionCode, confidence float64, format string, args ...any) Decision {
	return Decision{Decision: code, Confidence: confidence, Reason: fmt.Sprintf(format, args...)}
}
