package ai_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"payflow.app/resolver/common/llm"
	"payflow.app/resolver/internal/ai"
	"payflow.app/resolver/internal/model"
)

var _ = Describe("Engine", func() {
	var (
		client   *mockLLM
		policies *ai.PolicyRegistry
		engine   *ai.Engine
		issue    *model.Issue
		customer model.CustomerProfile
		txn      model.TransactionProfile
		ctx      context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = &mockLLM{}

		var err error
		policies, err = ai.NewPolicyRegistry()
		Expect(err).NotTo(HaveOccurred())
		engine = ai.NewEngine(client, policies, ai.Thresholds{AutoResolve: 85, HumanReview: 60}, time.Second)

		details, _ := json.Marshal(map[string]any{
			"reason":              "item_not_received",
			"tracking_status":     "delivered",
			"days_since_purchase": 12,
			"amount":              80,
			"customer_email":      "leak@example.com",
		})
		issue = &model.Issue{ID: 7, Type: model.IssueTypeDispute, Priority: model.PriorityHigh, Details: details}
		customer = model.CustomerProfile{ID: 3, RiskLevel: model.RiskLevelLow, SuccessfulPayments: 12, AccountAgeDays: 500}
		txn = model.TransactionProfile{ID: 4, Amount: 80, Currency: "USD"}
	})

	It("loads a named policy for every issue type", func() {
		for _, t := range []model.IssueType{model.IssueTypeDecline, model.IssueTypeMissedInstallment, model.IssueTypeDispute, model.IssueTypeRefundRequest} {
			p, err := policies.Get(t)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Name).NotTo(BeEmpty())
			Expect(p.Document).To(ContainSubstring("Allowed actions"))
		}
		p, _ := policies.Get(model.IssueTypeDispute)
		Expect(p.Name).To(Equal("dispute-v1"))
	})

	It("returns a validated decision", func() {
		client.completeFn = func(_ context.Context, _ llm.Request) (*llm.Response, error) {
			return &llm.Response{Content: `{"decision":"auto_resolve","action":"contest","confidence":90,"reasoning":"delivered","policyApplied":"dispute-v1"}`}, nil
		}

		d, err := engine.Evaluate(ctx, issue, customer, txn)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Decision).To(Equal(model.DecisionContestDispute))
		Expect(d.Confidence).To(Equal(90.0))
	})

	It("sends only PII-free context with the policy and thresholds", func() {
		client.completeFn = func(_ context.Context, _ llm.Request) (*llm.Response, error) {
			return &llm.Response{Content: `{"decision":"escalate","action":"escalate","confidence":40,"reasoning":"r","policyApplied":"dispute-v1"}`}, nil
		}

		_, err := engine.Evaluate(ctx, issue, customer, txn)
		Expect(err).NotTo(HaveOccurred())
		Expect(client.requests).To(HaveLen(1))

		req := client.requests[0]
		Expect(req.SystemPrompt).To(ContainSubstring("at least 85"))
		Expect(req.SystemPrompt).To(ContainSubstring("at least 60"))
		Expect(req.UserPrompt).To(ContainSubstring("dispute-v1"))
		Expect(req.UserPrompt).To(ContainSubstring("contest, accept, escalate"))
		Expect(req.UserPrompt).To(ContainSubstring(`"tracking_status": "delivered"`))
		Expect(req.UserPrompt).NotTo(ContainSubstring("leak@example.com"))
		Expect(req.Schema).NotTo(BeNil())
	})

	It("surfaces provider errors", func() {
		client.completeFn = func(_ context.Context, _ llm.Request) (*llm.Response, error) {
			return nil, errors.New("503 upstream")
		}

		_, err := engine.Evaluate(ctx, issue, customer, txn)
		Expect(err).To(MatchError(ContainSubstring("503 upstream")))
	})

	It("surfaces unparseable responses", func() {
		client.completeFn = func(_ context.Context, _ llm.Request) (*llm.Response, error) {
			return &llm.Response{Content: "I would contest this dispute."}, nil
		}

		_, err := engine.Evaluate(ctx, issue, customer, txn)
		Expect(err).To(MatchError(ai.ErrNoJSON))
	})

	It("bounds the call with its timeout", func() {
		engine = ai.NewEngine(client, policies, ai.Thresholds{AutoResolve: 85, HumanReview: 60}, 20*time.Millisecond)
		client.completeFn = func(ctx context.Context, _ llm.Request) (*llm.Response, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}

		_, err := engine.Evaluate(ctx, issue, customer, txn)
		Expect(err).To(MatchError(context.DeadlineExceeded))
	})
})
