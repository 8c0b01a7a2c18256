package ai_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"payflow.app/resolver/internal/ai"
	"payflow.app/resolver/internal/model"
)

var _ = Describe("ParseDecision", func() {
	It("accepts a well-formed decision", func() {
		d, err := ai.ParseDecision(model.IssueTypeDispute,
			`{"decision":"auto_resolve","action":"contest","confidence":91,"reasoning":"tracking shows delivered","policyApplied":"dispute-v1"}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Routing).To(Equal(model.AIRoutingAutoResolve))
		Expect(d.Action).To(Equal(model.AIAction("contest")))
		Expect(d.Decision).To(Equal(model.DecisionContestDispute))
		Expect(d.Confidence).To(Equal(91.0))
		Expect(d.PolicyApplied).To(Equal("dispute-v1"))
	})

	It("finds JSON wrapped in prose and code fences", func() {
		content := "Sure, here you go:\n```json\n{\"decision\":\"human_review\",\"action\":\"send_reminder\",\"confidence\":70,\"reasoning\":\"a {tricky} case\",\"policyApplied\":\"p\"}\n```\nThanks"
		d, err := ai.ParseDecision(model.IssueTypeMissedInstallment, content)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Reasoning).To(Equal("a {tricky} case"))
	})

	DescribeTable("rejects invalid output",
		func(content string, want error) {
			_, err := ai.ParseDecision(model.IssueTypeDecline, content)
			Expect(err).To(MatchError(want))
		},
		Entry("no JSON at all", "I think you should retry the payment.", ai.ErrNoJSON),
		Entry("unterminated object", `{"decision":"auto_resolve"`, ai.ErrNoJSON),
		Entry("missing action",
			`{"decision":"auto_resolve","confidence":90,"reasoning":"r","policyApplied":"p"}`, ai.ErrMissingField),
		Entry("null confidence",
			`{"decision":"auto_resolve","action":"retry_payment","confidence":null,"reasoning":"r","policyApplied":"p"}`, ai.ErrMissingField),
		Entry("unknown routing",
			`{"decision":"maybe","action":"retry_payment","confidence":90,"reasoning":"r","policyApplied":"p"}`, ai.ErrInvalidField),
		Entry("action from another issue type",
			`{"decision":"auto_resolve","action":"contest","confidence":90,"reasoning":"r","policyApplied":"p"}`, ai.ErrInvalidField),
		Entry("confidence as string",
			`{"decision":"auto_resolve","action":"retry_payment","confidence":"high","reasoning":"r","policyApplied":"p"}`, ai.ErrInvalidField),
		Entry("confidence above 100",
			`{"decision":"auto_resolve","action":"retry_payment","confidence":101,"reasoning":"r","policyApplied":"p"}`, ai.ErrConfidenceRange),
		Entry("negative confidence",
			`{"decision":"human_review","action":"retry_payment","confidence":-1,"reasoning":"r","policyApplied":"p"}`, ai.ErrConfidenceRange),
		Entry("empty reasoning",
			`{"decision":"human_review","action":"retry_payment","confidence":50,"reasoning":"  ","policyApplied":"p"}`, ai.ErrInvalidField),
		Entry("auto resolve with escalation",
			`{"decision":"auto_resolve","action":"escalate","confidence":95,"reasoning":"r","policyApplied":"p"}`, ai.ErrEscalateAsResolve),
	)

	It("accepts the confidence boundaries", func() {
		for _, c := range []string{"0", "100"} {
			_, err := ai.ParseDecision(model.IssueTypeRefundRequest,
				`{"decision":"escalate","action":"escalate_finance","confidence":`+c+`,"reasoning":"r","policyApplied":"p"}`)
			Expect(err).NotTo(HaveOccurred())
		}
	})
})
