package rules

import "payflow.app/resolver/internal/model"

const productIssueWindowDays = 14

func evaluateDispute(in Input) (Decision, error) {
	d, err := decode[model.DisputeDetails](in)
	if err != nil {
		return Decision{}, err
	}

	switch d.Reason {
	case model.DisputeReasonItemNotReceived:
		switch d.TrackingStatus {
		case model.TrackingStatusDelivered:
			return decide(model.DecisionContestDispute, 0.8,
				"item reported not received but tracking shows delivered"), nil
		case model.TrackingStatusNone, model.TrackingStatusLost, "":
			return decide(model.DecisionAcceptDispute, 0.85,
				"item not received and no delivery evidence"), nil
		}
		return decide(model.DecisionEscalate, 0.5,
			"item not received with tracking status %q", d.TrackingStatus), nil

	case model.DisputeReasonUnauthorized:
		return decide(model.DecisionEscalate, 0.3,
			"unauthorized transaction claims always need a reviewer"), nil

	case model.DisputeReasonProductIssue:
		if d.DaysSincePurchase <= productIssueWindowDays {
			return decide(model.DecisionAcceptDispute, 0.8,
				"product issue raised %d days after purchase", d.DaysSincePurchase), nil
		}
		return decide(model.DecisionEscalate, 0.55,
			"product issue raised %d days after purchase, outside the %d day window", d.DaysSincePurchase, productIssueWindowDays), nil
	}

	return decide(model.DecisionEscalate, 0.4, "dispute reason %q", d.Reason), nil
}
