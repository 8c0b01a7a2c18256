package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"payflow.app/resolver/core/db"
	"payflow.app/resolver/internal/model"
)

type analyticsStore struct {
	q db.Querier
}

func newAnalyticsStore(q db.Querier) AnalyticsStore {
	return &analyticsStore{q: q}
}

func (s *analyticsStore) Create(ctx context.Context, e *model.DecisionAnalyticsEntry) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO decision_analytics (id, issue_id, issue_type, ai_routing, ai_action, ai_decision,
			ai_confidence, ai_reasoning, policy_applied)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		e.ID, e.IssueID, string(e.IssueType), string(e.AIRouting), string(e.AIAction), string(e.AIDecision),
		e.AIConfidence, e.AIReasoning, e.PolicyApplied,
	).Scan(&e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *analyticsStore) GetByIssue(ctx context.Context, issueID int64) (*model.DecisionAnalyticsEntry, error) {
	var (
		e                                     model.DecisionAnalyticsEntry
		issueType, routing, action, decision  string
		humanDecision, humanAction, agreement *string
	)
	err := s.q.QueryRow(ctx, `
		SELECT id, issue_id, issue_type, ai_routing, ai_action, ai_decision, ai_confidence, ai_reasoning,
			policy_applied, human_decision, human_action, agreement, reviewer_id, reviewed_at, created_at
		FROM decision_analytics WHERE issue_id = $1`,
		issueID,
	).Scan(&e.ID, &e.IssueID, &issueType, &routing, &action, &decision, &e.AIConfidence, &e.AIReasoning,
		&e.PolicyApplied, &humanDecision, &humanAction, &agreement, &e.ReviewerID, &e.ReviewedAt, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	e.IssueType = model.IssueType(issueType)
	e.AIRouting = model.AIRouting(routing)
	e.AIAction = model.AIAction(action)
	e.AIDecision = model.DecisionCode(decision)
	if humanDecision != nil {
		d := model.DecisionCode(*humanDecision)
		e.HumanDecision = &d
	}
	if humanAction != nil {
		a := model.ReviewAction(*humanAction)
		e.HumanAction = &a
	}
	if agreement != nil {
		a := model.Agreement(*agreement)
		e.Agreement = &a
	}
	return &e, nil
}

func (s *analyticsStore) CompleteReview(ctx context.Context, o ReviewOutcome) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE decision_analytics SET
			human_decision = $2, human_action = $3, agreement = $4, reviewer_id = $5, reviewed_at = $6
		WHERE issue_id = $1`,
		o.IssueID, string(o.HumanDecision), string(o.HumanAction), string(o.Agreement), o.ReviewerID, o.ReviewedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
