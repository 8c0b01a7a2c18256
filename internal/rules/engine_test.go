package rules_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"payflow.app/resolver/common/errs"
	"payflow.app/resolver/internal/model"
	"payflow.app/resolver/internal/rules"
)

func issueOf(t model.IssueType, details any) *model.Issue {
	raw, err := json.Marshal(details)
	Expect(err).NotTo(HaveOccurred())
	return &model.Issue{ID: 1, Type: t, Status: model.IssueStatusProcessing, Details: raw}
}

func customer(risk model.RiskLevel, payments, ageDays int) model.CustomerProfile {
	return model.CustomerProfile{ID: 10, RiskLevel: risk, SuccessfulPayments: payments, AccountAgeDays: ageDays}
}

var _ = Describe("Engine", func() {
	var engine *rules.Engine

	BeforeEach(func() {
		engine = rules.NewEngine()
	})

	expectDecision := func(issue *model.Issue, c model.CustomerProfile, txn model.TransactionProfile, code model.DecisionCode, confidence float64) {
		d, err := engine.Evaluate(issue, c, txn)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Decision).To(Equal(code))
		Expect(d.Confidence).To(BeNumerically("~", confidence, 1e-9))
		Expect(d.Reason).NotTo(BeEmpty())
	}

	DescribeTable("decline",
		func(details model.DeclineDetails, c model.CustomerProfile, recurring bool, code model.DecisionCode, confidence float64) {
			expectDecision(issueOf(model.IssueTypeDecline, details), c, model.TransactionProfile{IsRecurring: recurring}, code, confidence)
		},
		Entry("insufficient funds, low risk, solid history",
			model.DeclineDetails{DeclineCode: model.DeclineCodeInsufficientFunds}, customer(model.RiskLevelLow, 8, 400), false,
			model.DecisionRetryPayment, 0.85),
		Entry("insufficient funds, medium risk, solid history",
			model.DeclineDetails{DeclineCode: model.DeclineCodeInsufficientFunds}, customer(model.RiskLevelMedium, 3, 400), false,
			model.DecisionRetryPayment, 0.75),
		Entry("insufficient funds, high risk",
			model.DeclineDetails{DeclineCode: model.DeclineCodeInsufficientFunds}, customer(model.RiskLevelHigh, 20, 400), false,
			model.DecisionEscalate, 0.5),
		Entry("insufficient funds, thin history",
			model.DeclineDetails{DeclineCode: model.DeclineCodeInsufficientFunds}, customer(model.RiskLevelLow, 2, 400), false,
			model.DecisionEscalate, 0.6),
		Entry("expired card, recurring and loyal",
			model.DeclineDetails{DeclineCode: model.DeclineCodeExpiredCard}, customer(model.RiskLevelMedium, 6, 180), true,
			model.DecisionRetryPayment, 0.8),
		Entry("expired card, loyal but one-off",
			model.DeclineDetails{DeclineCode: model.DeclineCodeExpiredCard}, customer(model.RiskLevelLow, 12, 900), false,
			model.DecisionEscalate, 0.55),
		Entry("expired card, recurring but new account",
			model.DeclineDetails{DeclineCode: model.DeclineCodeExpiredCard}, customer(model.RiskLevelLow, 12, 30), true,
			model.DecisionEscalate, 0.55),
		Entry("generic, retried twice",
			model.DeclineDetails{DeclineCode: model.DeclineCodeGeneric, PaymentRetryCount: 2}, customer(model.RiskLevelLow, 8, 400), false,
			model.DecisionEscalate, 0.7),
		Entry("generic, low risk",
			model.DeclineDetails{DeclineCode: model.DeclineCodeGeneric, PaymentRetryCount: 1}, customer(model.RiskLevelLow, 8, 400), false,
			model.DecisionRetryPayment, 0.65),
		Entry("unknown code treated as generic",
			model.DeclineDetails{DeclineCode: "do_not_honor"}, customer(model.RiskLevelMedium, 8, 400), false,
			model.DecisionEscalate, 0.5),
	)

	DescribeTable("missed installment",
		func(days int, risk model.RiskLevel, code model.DecisionCode, confidence float64) {
			issue := issueOf(model.IssueTypeMissedInstallment, model.MissedInstallmentDetails{InstallmentNumber: 2, DaysOverdue: days, AmountDue: 40})
			expectDecision(issue, customer(risk, 4, 100), model.TransactionProfile{}, code, confidence)
		},
		Entry("7 days, medium risk", 7, model.RiskLevelMedium, model.DecisionRetryWithReminder, 0.85),
		Entry("3 days, high risk", 3, model.RiskLevelHigh, model.DecisionEscalate, 0.6),
		Entry("8 days, low risk", 8, model.RiskLevelLow, model.DecisionSendReminder, 0.75),
		Entry("30 days, low risk", 30, model.RiskLevelLow, model.DecisionSendReminder, 0.75),
		Entry("20 days, medium risk", 20, model.RiskLevelMedium, model.DecisionEscalate, 0.6),
		Entry("31 days, low risk", 31, model.RiskLevelLow, model.DecisionEscalate, 0.9),
	)

	DescribeTable("dispute",
		func(details model.DisputeDetails, code model.DecisionCode, confidence float64) {
			expectDecision(issueOf(model.IssueTypeDispute, details), customer(model.RiskLevelLow, 5, 100), model.TransactionProfile{}, code, confidence)
		},
		Entry("not received, delivered",
			model.DisputeDetails{Reason: model.DisputeReasonItemNotReceived, TrackingStatus: model.TrackingStatusDelivered},
			model.DecisionContestDispute, 0.8),
		Entry("not received, lost",
			model.DisputeDetails{Reason: model.DisputeReasonItemNotReceived, TrackingStatus: model.TrackingStatusLost},
			model.DecisionAcceptDispute, 0.85),
		Entry("not received, no tracking",
			model.DisputeDetails{Reason: model.DisputeReasonItemNotReceived},
			model.DecisionAcceptDispute, 0.85),
		Entry("not received, in transit",
			model.DisputeDetails{Reason: model.DisputeReasonItemNotReceived, TrackingStatus: model.TrackingStatusInTransit},
			model.DecisionEscalate, 0.5),
		Entry("unauthorized",
			model.DisputeDetails{Reason: model.DisputeReasonUnauthorized},
			model.DecisionEscalate, 0.3),
		Entry("product issue inside window",
			model.DisputeDetails{Reason: model.DisputeReasonProductIssue, DaysSincePurchase: 14},
			model.DecisionAcceptDispute, 0.8),
		Entry("product issue outside window",
			model.DisputeDetails{Reason: model.DisputeReasonProductIssue, DaysSincePurchase: 15},
			model.DecisionEscalate, 0.55),
		Entry("other",
			model.DisputeDetails{Reason: model.DisputeReasonOther},
			model.DecisionEscalate, 0.4),
	)

	DescribeTable("refund request",
		func(details model.RefundDetails, plan *model.InstallmentPlan, code model.DecisionCode, confidence float64) {
			txn := model.TransactionProfile{Amount: 120, InstallmentPlan: plan}
			expectDecision(issueOf(model.IssueTypeRefundRequest, details), customer(model.RiskLevelLow, 5, 100), txn, code, confidence)
		},
		Entry("3 days, no plan",
			model.RefundDetails{Reason: model.RefundReasonChangedMind, DaysSincePurchase: 3}, nil,
			model.DecisionApproveRefund, 0.95),
		Entry("20 days, defective",
			model.RefundDetails{Reason: model.RefundReasonDefective, DaysSincePurchase: 20}, nil,
			model.DecisionApproveRefund, 0.9),
		Entry("20 days, wrong item",
			model.RefundDetails{Reason: model.RefundReasonWrongItem, DaysSincePurchase: 20}, nil,
			model.DecisionApproveRefund, 0.9),
		Entry("20 days, changed mind",
			model.RefundDetails{Reason: model.RefundReasonChangedMind, DaysSincePurchase: 20}, nil,
			model.DecisionApproveRefund, 0.8),
		Entry("45 days, defective",
			model.RefundDetails{Reason: model.RefundReasonDefective, DaysSincePurchase: 45}, nil,
			model.DecisionEscalate, 0.6),
		Entry("45 days, changed mind",
			model.RefundDetails{Reason: model.RefundReasonChangedMind, DaysSincePurchase: 45}, nil,
			model.DecisionDenyRefund, 0.85),
		Entry("active plan with payments",
			model.RefundDetails{Reason: model.RefundReasonChangedMind, DaysSincePurchase: 3}, &model.InstallmentPlan{Active: true, PaymentsMade: 2, TotalPayments: 4},
			model.DecisionEscalate, 0.7),
		Entry("active plan without payments",
			model.RefundDetails{Reason: model.RefundReasonChangedMind, DaysSincePurchase: 3}, &model.InstallmentPlan{Active: true, TotalPayments: 4},
			model.DecisionCancelInstallments, 0.9),
		Entry("inactive plan behaves like no plan",
			model.RefundDetails{Reason: model.RefundReasonChangedMind, DaysSincePurchase: 3}, &model.InstallmentPlan{Active: false, PaymentsMade: 4, TotalPayments: 4},
			model.DecisionApproveRefund, 0.95),
	)

	Describe("invariants", func() {
		It("is deterministic for identical inputs", func() {
			issue := issueOf(model.IssueTypeDecline, model.DeclineDetails{DeclineCode: model.DeclineCodeInsufficientFunds})
			c := customer(model.RiskLevelLow, 8, 400)
			first, err := engine.Evaluate(issue, c, model.TransactionProfile{})
			Expect(err).NotTo(HaveOccurred())
			for range 5 {
				again, err := engine.Evaluate(issue, c, model.TransactionProfile{})
				Expect(err).NotTo(HaveOccurred())
				Expect(again).To(Equal(first))
			}
		})

		It("keeps confidence within [0,1] across risk levels", func() {
			for _, risk := range []model.RiskLevel{model.RiskLevelLow, model.RiskLevelMedium, model.RiskLevelHigh} {
				for _, days := range []int{0, 5, 10, 31, 90} {
					d, err := engine.Evaluate(
						issueOf(model.IssueTypeMissedInstallment, model.MissedInstallmentDetails{InstallmentNumber: 1, DaysOverdue: days}),
						customer(risk, 1, 1), model.TransactionProfile{})
					Expect(err).NotTo(HaveOccurred())
					Expect(d.Confidence).To(BeNumerically(">=", 0))
					Expect(d.Confidence).To(BeNumerically("<=", 1))
				}
			}
		})

		It("tags unified decisions with the rules source", func() {
			d, err := engine.Evaluate(
				issueOf(model.IssueTypeDispute, model.DisputeDetails{Reason: model.DisputeReasonUnauthorized}),
				customer(model.RiskLevelLow, 1, 1), model.TransactionProfile{})
			Expect(err).NotTo(HaveOccurred())
			u := d.Unified()
			Expect(u.Source).To(Equal(model.SourceRules))
			Expect(u.AIRouting).To(BeNil())
		})
	})

	Describe("errors", func() {
		It("rejects unknown issue types as non-retryable", func() {
			_, err := engine.Evaluate(&model.Issue{Type: "chargeback", Details: []byte(`{}`)}, model.CustomerProfile{}, model.TransactionProfile{})
			Expect(err).To(HaveOccurred())
			Expect(errs.IsNonRetryable(err)).To(BeTrue())
		})

		It("rejects malformed details as non-retryable", func() {
			_, err := engine.Evaluate(&model.Issue{Type: model.IssueTypeDecline, Details: []byte(`not json`)}, model.CustomerProfile{}, model.TransactionProfile{})
			Expect(errs.IsNonRetryable(err)).To(BeTrue())
		})

		It("uses a registered override", func() {
			engine.Register(model.IssueTypeDispute, rules.EvaluatorFunc(func(rules.Input) (rules.Decision, error) {
				return rules.Decision{Decision: model.DecisionEscalate, Confidence: 0.1, Reason: "override"}, nil
			}))
			d, err := engine.Evaluate(issueOf(model.IssueTypeDispute, model.DisputeDetails{Reason: model.DisputeReasonOther}), model.CustomerProfile{}, model.TransactionProfile{})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Reason).To(Equal("override"))
		})
	})
})
