package store

import (
	"context"

	"payflow.app/resolver/core/db"
	"payflow.app/resolver/internal/model"
)

type historyStore struct {
	q db.Querier
}

func newHistoryStore(q db.Querier) HistoryStore {
	return &historyStore{q: q}
}

func (s *historyStore) Append(ctx context.Context, entry *model.StatusHistoryEntry) error {
	var from *string
	if entry.FromStatus != nil {
		v := string(*entry.FromStatus)
		from = &v
	}
	var metadata []byte
	if len(entry.Metadata) > 0 {
		metadata = entry.Metadata
	}

	return s.q.QueryRow(ctx, `
		INSERT INTO issue_status_history (id, issue_id, from_status, to_status, changed_by, reason, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		entry.ID, entry.IssueID, from, string(entry.ToStatus), entry.ChangedBy, entry.Reason, metadata,
	).Scan(&entry.CreatedAt)
}

// ListByIssue returns the issue's history oldest first.
func (s *historyStore) ListByIssue(ctx context.Context, issueID int64) ([]model.StatusHistoryEntry, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, issue_id, from_status, to_status, changed_by, reason, metadata, created_at
		FROM issue_status_history
		WHERE issue_id = $1
		ORDER BY created_at, id`,
		issueID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.StatusHistoryEntry
	for rows.Next() {
		var (
			e        model.StatusHistoryEntry
			from     *string
			to       string
			metadata []byte
		)
		if err := rows.Scan(&e.ID, &e.IssueID, &from, &to, &e.ChangedBy, &e.Reason, &metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		if from != nil {
			fs := model.IssueStatus(*from)
			e.FromStatus = &fs
		}
		e.ToStatus = model.IssueStatus(to)
		e.Metadata = metadata
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
