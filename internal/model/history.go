package model

import (
	"encoding/json"
	"time"
)

// ActorSystem is recorded for transitions not driven by a worker or reviewer.
const ActorSystem = "system"

// StatusHistoryEntry is an immutable record of one status transition.
// FromStatus is nil for the creation entry.
type StatusHistoryEntry struct {
	ID         int64           `json:"id"`
	IssueID    int64           `json:"issue_id"`
	FromStatus *IssueStatus    `json:"from_status,omitempty"`
	ToStatus   IssueStatus     `json:"to_status"`
	ChangedBy  string          `json:"changed_by"`
	Reason     string          `json:"reason"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// StatusChange describes a transition to apply together with its history entry.
type StatusChange struct {
	From      IssueStatus
	To        IssueStatus
	ChangedBy string
	Reason    string
	Metadata  map[string]any
}
