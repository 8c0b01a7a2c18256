package rules

import "payflow.app/resolver/internal/model"

const (
	minHistoryForRetry = 3
	loyalMinPayments   = 6
	loyalMinAgeDays    = 180
	maxGenericRetries  = 2
)

func evaluateDecline(in Input) (Decision, error) {
	d, err := decode[model.DeclineDetails](in)
	if err != nil {
		return Decision{}, err
	}
	c := in.Customer

	switch d.DeclineCode {
	case model.DeclineCodeInsufficientFunds:
		if c.RiskLevel == model.RiskLevelHigh {
			return decide(model.DecisionEscalate, 0.5,
				"insufficient funds on a high-risk customer"), nil
		}
		if c.SuccessfulPayments < minHistoryForRetry {
			return decide(model.DecisionEscalate, 0.6,
				"insufficient funds with only %d successful payments on record", c.SuccessfulPayments), nil
		}
		if c.RiskLevel == model.RiskLevelLow {
			return decide(model.DecisionRetryPayment, 0.85,
				"insufficient funds; low-risk customer with %d successful payments", c.SuccessfulPayments), nil
		}
		return decide(model.DecisionRetryPayment, 0.75,
			"insufficient funds; %s-risk customer with %d successful payments", c.RiskLevel, c.SuccessfulPayments), nil

	case model.DeclineCodeExpiredCard:
		loyal := c.SuccessfulPayments >= loyalMinPayments && c.AccountAgeDays >= loyalMinAgeDays
		if in.Transaction.IsRecurring && loyal {
			return decide(model.DecisionRetryPayment, 0.8,
				"expired card on a recurring payment for a loyal customer"), nil
		}
		return decide(model.DecisionEscalate, 0.55,
			"expired card; recurring=%t loyal=%t", in.Transaction.IsRecurring, loyal), nil
	}

	if d.PaymentRetryCount >= maxGenericRetries {
		return decide(model.DecisionEscalate, 0.7,
			"decline %q already retried %d times", d.DeclineCode, d.PaymentRetryCount), nil
	}
	if c.RiskLevel == model.RiskLevelLow {
		return decide(model.DecisionRetryPayment, 0.65,
			"decline %q on a low-risk customer; conditional retry", d.DeclineCode), nil
	}
	return decide(model.DecisionEscalate, 0.5,
		"decline %q on a %s-risk customer", d.DeclineCode, c.RiskLevel), nil
}
