package model

import (
	"encoding/json"
	"time"
)

type IssueType string

type Priority string

const (
	IssueTypeDecline           IssueType = "decline"
	IssueTypeMissedInstallment IssueType = "missed_installment"
	IssueTypeDispute           IssueType = "dispute"
	IssueTypeRefundRequest     IssueType = "refund_request"
)

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (t IssueType) Valid() bool {
	switch t {
	case IssueTypeDecline, IssueTypeMissedInstallment, IssueTypeDispute, IssueTypeRefundRequest:
		return true
	}
	return false
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// QueueRank maps issue priority onto the job queue scale, 1 = highest.
func (p Priority) QueueRank() int {
	switch p {
	case PriorityCritical:
		return 1
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 4
	default:
		return 3
	}
}

// AutomatedDecision is the persisted form of the decision the pipeline took.
// Confidence is always stored on the [0,1] scale.
type AutomatedDecision struct {
	Decision      DecisionCode `json:"decision"`
	Confidence    float64      `json:"confidence"`
	Reason        string       `json:"reason"`
	Source        Source       `json:"source"`
	AIRouting     *AIRouting   `json:"ai_routing,omitempty"`
	PolicyApplied *string      `json:"policy_applied,omitempty"`
	DecidedAt     time.Time    `json:"decided_at"`
}

type ReviewAction string

const (
	ReviewActionApprove ReviewAction = "approve"
	ReviewActionModify  ReviewAction = "modify"
	ReviewActionReject  ReviewAction = "reject"
)

func (a ReviewAction) Valid() bool {
	switch a {
	case ReviewActionApprove, ReviewActionModify, ReviewActionReject:
		return true
	}
	return false
}

type HumanDecision struct {
	ReviewerID string       `json:"reviewer_id"`
	Action     ReviewAction `json:"action"`
	Decision   DecisionCode `json:"decision"`
	Notes      string       `json:"notes,omitempty"`
	DecidedAt  time.Time    `json:"decided_at"`
}

type Issue struct {
	ID             int64           `json:"id"`
	ExternalID     string          `json:"external_id"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	Type           IssueType       `json:"type"`
	Status         IssueStatus     `json:"status"`
	Priority       Priority        `json:"priority"`
	CustomerID     int64           `json:"customer_id"`
	TransactionID  int64           `json:"transaction_id"`
	Details        json.RawMessage `json:"details"`

	RetryCount  int        `json:"retry_count"`
	LastRetryAt *time.Time `json:"last_retry_at,omitempty"`

	AutomatedDecision *AutomatedDecision `json:"automated_decision,omitempty"`
	HumanDecision     *HumanDecision     `json:"human_decision,omitempty"`
	Resolution        *string            `json:"resolution,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// ArchivedIssue is the cold-storage copy written by the archive job.
type ArchivedIssue struct {
	Issue
	ArchivedAt time.Time `json:"archived_at"`
}
