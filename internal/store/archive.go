package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"payflow.app/resolver/core/db"
	"payflow.app/resolver/internal/model"
)

type archiveStore struct {
	q db.Querier
}

func newArchiveStore(q db.Querier) ArchiveStore {
	return &archiveStore{q: q}
}

// ArchiveBatch deletes and copies in one statement so a row is never in both
// tables or in neither. Rows locked by a worker are skipped. Archived issues
// give up their idempotency keys.
func (s *archiveStore) ArchiveBatch(ctx context.Context, statuses []model.IssueStatus, updatedBefore time.Time, limit int) (int64, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}

	tag, err := s.q.Exec(ctx, `
		WITH moved AS (
			DELETE FROM issues
			WHERE id IN (
				SELECT id FROM issues
				WHERE status = ANY($1) AND updated_at < $2
				ORDER BY updated_at
				LIMIT $3
				FOR UPDATE SKIP LOCKED
			)
			RETURNING `+issueColumns+`
		), released AS (
			DELETE FROM issue_idempotency_keys
			WHERE issue_id IN (SELECT id FROM moved)
		)
		INSERT INTO issues_archive (`+issueColumns+`, archived_at)
		SELECT `+issueColumns+`, now() FROM moved`,
		names, updatedBefore, limit,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *archiveStore) PurgeBatch(ctx context.Context, archivedBefore time.Time, limit int) (int64, error) {
	tag, err := s.q.Exec(ctx, `
		DELETE FROM issues_archive
		WHERE id IN (
			SELECT id FROM issues_archive
			WHERE archived_at < $1
			ORDER BY archived_at
			LIMIT $2
		)`,
		archivedBefore, limit,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *archiveStore) GetArchived(ctx context.Context, id int64) (*model.ArchivedIssue, error) {
	var archivedAt time.Time
	row := s.q.QueryRow(ctx, `SELECT `+issueColumns+`, archived_at FROM issues_archive WHERE id = $1`, id)
	issue, err := scanIssue(row, &archivedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &model.ArchivedIssue{Issue: *issue, ArchivedAt: archivedAt}, nil
}
