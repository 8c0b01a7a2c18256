package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"payflow.app/resolver/core/db"
	"payflow.app/resolver/internal/model"
)

type transactionStore struct {
	q db.Querier
}

func newTransactionStore(q db.Querier) TransactionStore {
	return &transactionStore{q: q}
}

const transactionProfileColumns = `id, amount::float8, currency, is_recurring, created_at,
	installment_active, installment_payments_made, installment_total_payments`

func (s *transactionStore) GetProfile(ctx context.Context, id int64) (*model.TransactionProfile, error) {
	var (
		p    model.TransactionProfile
		plan model.InstallmentPlan
	)
	err := s.q.QueryRow(ctx, `SELECT `+transactionProfileColumns+` FROM transactions WHERE id = $1`, id).
		Scan(&p.ID, &p.Amount, &p.Currency, &p.IsRecurring, &p.CreatedAt,
			&plan.Active, &plan.PaymentsMade, &plan.TotalPayments)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.InstallmentPlan = installmentPlan(plan)
	return &p, nil
}

func (s *transactionStore) GetByID(ctx context.Context, id int64) (*model.Transaction, error) {
	var (
		t              model.Transaction
		plan           model.InstallmentPlan
		last4, address *string
	)
	err := s.q.QueryRow(ctx, `
		SELECT `+transactionProfileColumns+`, customer_id, card_last4, billing_address
		FROM transactions WHERE id = $1`, id).
		Scan(&t.ID, &t.Amount, &t.Currency, &t.IsRecurring, &t.CreatedAt,
			&plan.Active, &plan.PaymentsMade, &plan.TotalPayments,
			&t.CustomerID, &last4, &address)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.InstallmentPlan = installmentPlan(plan)
	if last4 != nil {
		t.CardLast4 = *last4
	}
	if address != nil {
		t.BillingAddress = *address
	}
	return &t, nil
}

// installmentPlan reports no plan for transactions that were never split.
func installmentPlan(p model.InstallmentPlan) *model.InstallmentPlan {
	if !p.Active && p.TotalPayments == 0 {
		return nil
	}
	return &p
}
