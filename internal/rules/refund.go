package rules

import "payflow.app/resolver/internal/model"

func evaluateRefund(in Input) (Decision, error) {
	d, err := decode[model.RefundDetails](in)
	if err != nil {
		return Decision{}, err
	}

	if plan := in.Transaction.InstallmentPlan; plan != nil && plan.Active {
		if plan.PaymentsMade > 0 {
			return decide(model.DecisionEscalate, 0.7,
				"refund on an active plan with %d of %d payments made; finance review", plan.PaymentsMade, plan.TotalPayments), nil
		}
		return decide(model.DecisionCancelInstallments, 0.9,
			"refund on an active plan with no payments made"), nil
	}

	faulty := d.Reason == model.RefundReasonDefective || d.Reason == model.RefundReasonWrongItem

	switch {
	case d.DaysSincePurchase <= 7:
		return decide(model.DecisionApproveRefund, 0.95,
			"refund requested %d days after purchase", d.DaysSincePurchase), nil
	case d.DaysSincePurchase <= 30:
		if faulty {
			return decide(model.DecisionApproveRefund, 0.9,
				"%s refund within 30 days", d.Reason), nil
		}
		return decide(model.DecisionApproveRefund, 0.8,
			"%s refund within 30 days", d.Reason), nil
	case d.Reason == model.RefundReasonDefective:
		return decide(model.DecisionEscalate, 0.6,
			"defective item refund %d days after purchase", d.DaysSincePurchase), nil
	}
	return decide(model.DecisionDenyRefund, 0.85,
		"%s refund %d days after purchase is outside the refund window", d.Reason, d.DaysSincePurchase), nil
}
