package rules

import "payflow.app/resolver/internal/model"

func evaluateMissedInstallment(in Input) (Decision, error) {
	d, err := decode[model.MissedInstallmentDetails](in)
	if err != nil {
		return Decision{}, err
	}
	risk := in.Customer.RiskLevel

	switch {
	case d.DaysOverdue <= 7 && risk != model.RiskLevelHigh:
		return decide(model.DecisionRetryWithReminder, 0.85,
			"installment %d is %d days overdue; remind and retry", d.InstallmentNumber, d.DaysOverdue), nil
	case d.DaysOverdue > 30:
		return decide(model.DecisionEscalate, 0.9,
			"installment %d is %d days overdue; hand to collections", d.InstallmentNumber, d.DaysOverdue), nil
	case d.DaysOverdue >= 8 && risk == model.RiskLevelLow:
		return decide(model.DecisionSendReminder, 0.75,
			"installment %d is %d days overdue on a low-risk customer", d.InstallmentNumber, d.DaysOverdue), nil
	}
	return decide(model.DecisionEscalate, 0.6,
		"installment %d is %d days overdue on a %s-risk customer", d.InstallmentNumber, d.DaysOverdue, risk), nil
}
