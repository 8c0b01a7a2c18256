package dto

import (
	"encoding/json"
	"time"

	"payflow.app/resolver/internal/model"
)

type CreateIssueRequest struct {
	ExternalID     string          `json:"external_id" binding:"required,max=255"`
	IdempotencyKey string          `json:"idempotency_key,omitempty" binding:"omitempty,max=255"`
	Type           string          `json:"type" binding:"required"`
	Priority       string          `json:"priority,omitempty"`
	CustomerID     int64           `json:"customer_id" binding:"required"`
	TransactionID  int64           `json:"transaction_id" binding:"required"`
	Details        json.RawMessage `json:"details" binding:"required"`
}

type ReviewIssueRequest struct {
	ReviewerID string `json:"reviewer_id" binding:"required,max=255"`
	Action     string `json:"action" binding:"required"`
	Decision   string `json:"decision,omitempty"`
	Notes      string `json:"notes,omitempty" binding:"max=4000"`
}

type IssueResponse struct {
	ID                int64                    `json:"id,string"`
	ExternalID        string                   `json:"external_id"`
	Type              model.IssueType          `json:"type"`
	Status            model.IssueStatus        `json:"status"`
	Priority          model.Priority           `json:"priority"`
	CustomerID        int64                    `json:"customer_id"`
	TransactionID     int64                    `json:"transaction_id"`
	Details           json.RawMessage          `json:"details"`
	RetryCount        int                      `json:"retry_count"`
	AutomatedDecision *model.AutomatedDecision `json:"automated_decision,omitempty"`
	HumanDecision     *model.HumanDecision     `json:"human_decision,omitempty"`
	Resolution        *string                  `json:"resolution,omitempty"`
	CreatedAt         time.Time                `json:"created_at"`
	UpdatedAt         time.Time                `json:"updated_at"`
	ResolvedAt        *time.Time               `json:"resolved_at,omitempty"`
}

func ToIssueResponse(i *model.Issue) *IssueResponse {
	return &IssueResponse{
		ID:                i.ID,
		ExternalID:        i.ExternalID,
		Type:              i.Type,
		Status:            i.Status,
		Priority:          i.Priority,
		CustomerID:        i.CustomerID,
		TransactionID:     i.TransactionID,
		Details:           i.Details,
		RetryCount:        i.RetryCount,
		AutomatedDecision: i.AutomatedDecision,
		HumanDecision:     i.HumanDecision,
		Resolution:        i.Resolution,
		CreatedAt:         i.CreatedAt,
		UpdatedAt:         i.UpdatedAt,
		ResolvedAt:        i.ResolvedAt,
	}
}

type HistoryEntryResponse struct {
	ID         int64              `json:"id,string"`
	FromStatus *model.IssueStatus `json:"from_status"`
	ToStatus   model.IssueStatus  `json:"to_status"`
	ChangedBy  string             `json:"changed_by"`
	Reason     string             `json:"reason"`
	Metadata   json.RawMessage    `json:"metadata,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

type HistoryResponse struct {
	IssueID int64                  `json:"issue_id,string"`
	Entries []HistoryEntryResponse `json:"entries"`
}

func ToHistoryResponse(issueID int64, entries []model.StatusHistoryEntry) *HistoryResponse {
	resp := &HistoryResponse{
		IssueID: issueID,
		Entries: make([]HistoryEntryResponse, len(entries)),
	}
	for i, e := range entries {
		resp.Entries[i] = HistoryEntryResponse{
			ID:         e.ID,
			FromStatus: e.FromStatus,
			ToStatus:   e.ToStatus,
			ChangedBy:  e.ChangedBy,
			Reason:     e.Reason,
			Metadata:   e.Metadata,
			CreatedAt:  e.CreatedAt,
		}
	}
	return resp
}

type RequeueResponse struct {
	IssueID  int64 `json:"issue_id,string"`
	Requeued bool  `json:"requeued"`
}

type StaleIssuesResponse struct {
	Issues []IssueResponse `json:"issues"`
}
