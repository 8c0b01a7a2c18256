package model

import "time"

type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

// CustomerProfile is the PII-free projection handed to decision engines.
type CustomerProfile struct {
	ID                 int64     `json:"id"`
	RiskLevel          RiskLevel `json:"risk_level"`
	SuccessfulPayments int       `json:"successful_payments"`
	FailedPayments     int       `json:"failed_payments"`
	AccountAgeDays     int       `json:"account_age_days"`
	LifetimeValue      float64   `json:"lifetime_value"`
}

// Customer is the full record. Never pass it to an engine.
type Customer struct {
	CustomerProfile
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

func (c Customer) Profile() CustomerProfile {
	return c.CustomerProfile
}

type InstallmentPlan struct {
	Active        bool `json:"active"`
	PaymentsMade  int  `json:"payments_made"`
	TotalPayments int  `json:"total_payments"`
}

// TransactionProfile is the PII-free projection handed to decision engines.
type TransactionProfile struct {
	ID              int64            `json:"id"`
	Amount          float64          `json:"amount"`
	Currency        string           `json:"currency"`
	IsRecurring     bool             `json:"is_recurring"`
	CreatedAt       time.Time        `json:"created_at"`
	InstallmentPlan *InstallmentPlan `json:"installment_plan,omitempty"`
}

type Transaction struct {
	TransactionProfile
	CustomerID     int64  `json:"customer_id"`
	CardLast4      string `json:"card_last4"`
	BillingAddress string `json:"billing_address"`
}

func (t Transaction) Profile() TransactionProfile {
	return t.TransactionProfile
}
