package model

import "time"

type Agreement string

const (
	AgreementAgreed   Agreement = "agreed"
	AgreementModified Agreement = "modified"
	AgreementRejected Agreement = "rejected"
)

// AgreementFor classifies a reviewer action against the AI recommendation.
func AgreementFor(action ReviewAction) Agreement {
	switch action {
	case ReviewActionApprove:
		return AgreementAgreed
	case ReviewActionModify:
		return AgreementModified
	default:
		return AgreementRejected
	}
}

// DecisionAnalyticsEntry records an AI recommendation that went to a human,
// so agreement between the agent and reviewers can be measured later.
type DecisionAnalyticsEntry struct {
	ID            int64        `json:"id"`
	IssueID       int64        `json:"issue_id"`
	IssueType     IssueType    `json:"issue_type"`
	AIRouting     AIRouting    `json:"ai_routing"`
	AIAction      AIAction     `json:"ai_action"`
	AIDecision    DecisionCode `json:"ai_decision"`
	AIConfidence  float64      `json:"ai_confidence"`
	AIReasoning   string       `json:"ai_reasoning"`
	PolicyApplied *string      `json:"policy_applied,omitempty"`

	HumanDecision *DecisionCode `json:"human_decision,omitempty"`
	HumanAction   *ReviewAction `json:"human_action,omitempty"`
	Agreement     *Agreement    `json:"agreement,omitempty"`
	ReviewerID    *string       `json:"reviewer_id,omitempty"`
	ReviewedAt    *time.Time    `json:"reviewed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
