package store

import (
	"context"
	"encoding/json"
	"fmt"

	"payflow.app/resolver/internal/model"
)

// ApplyTransition moves the issue along change and appends the matching
// history entry. Callers run it inside a transaction so the status and its
// history row commit together.
func ApplyTransition(ctx context.Context, issues IssueStore, history HistoryStore, issueID, historyID int64, change model.StatusChange, upd IssueUpdate) (*model.Issue, error) {
	if err := model.ValidateTransition(change.From, change.To); err != nil {
		return nil, err
	}

	var metadata json.RawMessage
	if len(change.Metadata) > 0 {
		b, err := json.Marshal(change.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encoding history metadata: %w", err)
		}
		metadata = b
	}

	issue, err := issues.UpdateStatus(ctx, issueID, change.From, change.To, upd)
	if err != nil {
		return nil, err
	}

	from := change.From
	if err := history.Append(ctx, &model.StatusHistoryEntry{
		ID:         historyID,
		IssueID:    issueID,
		FromStatus: &from,
		ToStatus:   change.To,
		ChangedBy:  change.ChangedBy,
		Reason:     change.Reason,
		Metadata:   metadata,
	}); err != nil {
		return nil, fmt.Errorf("appending history: %w", err)
	}
	return issue, nil
}
