package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"payflow.app/resolver/internal/model"
)

// issueContext is everything the agent sees. It is built only from the
// PII-free projections, so names, emails, card numbers and addresses can
// never reach the provider.
type issueContext struct {
	Issue struct {
		Type     model.IssueType `json:"type"`
		Priority model.Priority  `json:"priority"`
		Details  json.RawMessage `json:"details"`
	} `json:"issue"`
	Customer    model.CustomerProfile    `json:"customer"`
	Transaction model.TransactionProfile `json:"transaction"`
}

type Thresholds struct {
	AutoResolve int
	HumanReview int
}

const systemPrompt = `You are a payment operations analyst. You decide how a payment issue should be handled by following the policy you are given.

Respond with a single JSON object and nothing else:
{"decision": "auto_resolve" | "human_review" | "escalate", "action": <one allowed action>, "confidence": <number 0-100>, "reasoning": <short explanation>, "policyApplied": <policy name>}

Routing guidance:
- auto_resolve only when confidence is at least %d and the policy clearly covers the case.
- human_review when confidence is at least %d but below %d, or the policy is ambiguous.
- escalate when confidence is below %d or the policy requires a person.
- Never choose auto_resolve with an escalation action.`

func buildSystemPrompt(th Thresholds) string {
	return fmt.Sprintf(systemPrompt, th.AutoResolve, th.HumanReview, th.AutoResolve, th.HumanReview)
}

func buildUserPrompt(policy Policy, issue *model.Issue, customer model.CustomerProfile, txn model.TransactionProfile) (string, error) {
	// Re-encode the typed variant so unknown keys in the stored payload are dropped.
	details, err := model.DecodeDetails(issue.Type, issue.Details)
	if err != nil {
		return "", err
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return "", fmt.Errorf("marshaling details: %w", err)
	}

	var ic issueContext
	ic.Issue.Type = issue.Type
	ic.Issue.Priority = issue.Priority
	ic.Issue.Details = detailsJSON
	ic.Customer = customer
	ic.Transaction = txn

	payload, err := json.MarshalIndent(ic, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling issue context: %w", err)
	}

	actions := model.AIActionsFor(issue.Type)
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}

	var b strings.Builder
	b.WriteString("## Policy: ")
	b.WriteString(policy.Name)
	b.WriteString("\n\n")
	b.WriteString(policy.Document)
	b.WriteString("\n\n## Allowed actions\n")
	b.WriteString(strings.Join(names, ", "))
	b.WriteString("\n\n## Issue\n```json\n")
	b.Write(payload)
	b.WriteString("\n```\n")
	return b.String(), nil
}
