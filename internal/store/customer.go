package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"payflow.app/resolver/core/db"
	"payflow.app/resolver/internal/model"
)

type customerStore struct {
	q db.Querier
}

func newCustomerStore(q db.Querier) CustomerStore {
	return &customerStore{q: q}
}

// GetProfile never selects name, email or phone.
func (s *customerStore) GetProfile(ctx context.Context, id int64) (*model.CustomerProfile, error) {
	var (
		p    model.CustomerProfile
		risk string
	)
	err := s.q.QueryRow(ctx, `
		SELECT id, risk_level, successful_payments, failed_payments,
			EXTRACT(DAY FROM now() - created_at)::int, lifetime_value::float8
		FROM customers WHERE id = $1`,
		id,
	).Scan(&p.ID, &risk, &p.SuccessfulPayments, &p.FailedPayments, &p.AccountAgeDays, &p.LifetimeValue)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.RiskLevel = model.RiskLevel(risk)
	return &p, nil
}

func (s *customerStore) GetByID(ctx context.Context, id int64) (*model.Customer, error) {
	var (
		c     model.Customer
		risk  string
		phone *string
	)
	err := s.q.QueryRow(ctx, `
		SELECT id, risk_level, successful_payments, failed_payments,
			EXTRACT(DAY FROM now() - created_at)::int, lifetime_value::float8,
			name, email, phone, created_at
		FROM customers WHERE id = $1`,
		id,
	).Scan(&c.ID, &risk, &c.SuccessfulPayments, &c.FailedPayments, &c.AccountAgeDays, &c.LifetimeValue,
		&c.Name, &c.Email, &phone, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.RiskLevel = model.RiskLevel(risk)
	if phone != nil {
		c.Phone = *phone
	}
	return &c, nil
}
