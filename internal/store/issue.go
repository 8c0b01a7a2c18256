package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"payflow.app/resolver/core/db"
	"payflow.app/resolver/internal/model"
)

const uniqueViolation = "23505"

const issueColumns = `id, external_id, idempotency_key, type, status, priority, customer_id, transaction_id,
	details, retry_count, last_retry_at, automated_decision, human_decision, resolution,
	created_at, updated_at, resolved_at`

type issueStore struct {
	q db.Querier
}

func newIssueStore(q db.Querier) IssueStore {
	return &issueStore{q: q}
}

// Create claims the idempotency key and inserts the issue in one statement,
// so a key collision leaves no issue row behind.
func (s *issueStore) Create(ctx context.Context, issue *model.Issue) error {
	row := s.q.QueryRow(ctx, `
		WITH claimed AS (
			INSERT INTO issue_idempotency_keys (key, issue_id)
			SELECT $3::text, $1 WHERE $3::text IS NOT NULL
		)
		INSERT INTO issues (id, external_id, idempotency_key, type, status, priority,
			customer_id, transaction_id, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		issue.ID, issue.ExternalID, issue.IdempotencyKey, string(issue.Type), string(issue.Status),
		string(issue.Priority), issue.CustomerID, issue.TransactionID, []byte(issue.Details),
	)
	if err := row.Scan(&issue.CreatedAt, &issue.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *issueStore) GetByID(ctx context.Context, id int64) (*model.Issue, error) {
	row := s.q.QueryRow(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = $1`, id)
	issue, err := scanIssue(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return issue, nil
}

func (s *issueStore) GetByIdempotencyKey(ctx context.Context, key string) (*model.Issue, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+issueColumns+` FROM issues
		WHERE id = (SELECT issue_id FROM issue_idempotency_keys WHERE key = $1)`,
		key,
	)
	issue, err := scanIssue(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return issue, nil
}

func (s *issueStore) UpdateStatus(ctx context.Context, id int64, from, to model.IssueStatus, upd IssueUpdate) (*model.Issue, error) {
	automated, err := marshalOptional(upd.AutomatedDecision)
	if err != nil {
		return nil, fmt.Errorf("encoding automated decision: %w", err)
	}
	human, err := marshalOptional(upd.HumanDecision)
	if err != nil {
		return nil, fmt.Errorf("encoding human decision: %w", err)
	}
	retryInc := 0
	if upd.IncrementRetry {
		retryInc = 1
	}

	row := s.q.QueryRow(ctx, `
		UPDATE issues SET
			status = $3,
			updated_at = now(),
			automated_decision = COALESCE($4::jsonb, automated_decision),
			human_decision = COALESCE($5::jsonb, human_decision),
			resolution = COALESCE($6::text, resolution),
			resolved_at = COALESCE($7::timestamptz, resolved_at),
			retry_count = retry_count + $8::int,
			last_retry_at = COALESCE($9::timestamptz, last_retry_at)
		WHERE id = $1 AND status = $2
		RETURNING `+issueColumns,
		id, string(from), string(to), automated, human, upd.Resolution, upd.ResolvedAt, retryInc, upd.LastRetryAt,
	)
	issue, err := scanIssue(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.missingOrConflict(ctx, id)
		}
		return nil, err
	}
	return issue, nil
}

func (s *issueStore) missingOrConflict(ctx context.Context, id int64) error {
	var exists bool
	if err := s.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM issues WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStatusConflict
}

func (s *issueStore) ListStale(ctx context.Context, status model.IssueStatus, before time.Time, limit int) ([]model.Issue, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+issueColumns+` FROM issues
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3`,
		string(status), before, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []model.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, *issue)
	}
	return issues, rows.Err()
}

// scanIssue reads one row selected with issueColumns, followed by any extra
// columns scanned into extra.
func scanIssue(row pgx.Row, extra ...any) (*model.Issue, error) {
	var (
		issue                     model.Issue
		issueType, status, prio   string
		details, automated, human []byte
	)
	dest := []any{
		&issue.ID, &issue.ExternalID, &issue.IdempotencyKey, &issueType, &status, &prio,
		&issue.CustomerID, &issue.TransactionID,
		&details, &issue.RetryCount, &issue.LastRetryAt, &automated, &human, &issue.Resolution,
		&issue.CreatedAt, &issue.UpdatedAt, &issue.ResolvedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	if err != nil {
		return nil, err
	}

	issue.Type = model.IssueType(issueType)
	issue.Status = model.IssueStatus(status)
	issue.Priority = model.Priority(prio)
	issue.Details = json.RawMessage(details)

	if len(automated) > 0 {
		issue.AutomatedDecision = &model.AutomatedDecision{}
		if err := json.Unmarshal(automated, issue.AutomatedDecision); err != nil {
			return nil, fmt.Errorf("decoding automated decision of issue %d: %w", issue.ID, err)
		}
	}
	if len(human) > 0 {
		issue.HumanDecision = &model.HumanDecision{}
		if err := json.Unmarshal(human, issue.HumanDecision); err != nil {
			return nil, fmt.Errorf("decoding human decision of issue %d: %w", issue.ID, err)
		}
	}
	return &issue, nil
}

func marshalOptional[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
