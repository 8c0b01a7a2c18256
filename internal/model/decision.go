package model

// DecisionCode is the canonical decision vocabulary shared by both engines.
type DecisionCode string

const (
	DecisionRetryPayment         DecisionCode = "retry_payment"
	DecisionRetryWithReminder    DecisionCode = "retry_with_reminder"
	DecisionSendReminder         DecisionCode = "send_reminder"
	DecisionRequestPaymentUpdate DecisionCode = "request_payment_update"
	DecisionContestDispute       DecisionCode = "contest_dispute"
	DecisionAcceptDispute        DecisionCode = "accept_dispute"
	DecisionApproveRefund        DecisionCode = "approve_refund"
	DecisionDenyRefund           DecisionCode = "deny_refund"
	DecisionCancelInstallments   DecisionCode = "cancel_installments"
	DecisionEscalate             DecisionCode = "escalate"
)

func (d DecisionCode) Valid() bool {
	switch d {
	case DecisionRetryPayment, DecisionRetryWithReminder, DecisionSendReminder,
		DecisionRequestPaymentUpdate, DecisionContestDispute, DecisionAcceptDispute,
		DecisionApproveRefund, DecisionDenyRefund, DecisionCancelInstallments, DecisionEscalate:
		return true
	}
	return false
}

type Source string

const (
	SourceRules Source = "rules"
	SourceAI    Source = "ai"
)

// AIRouting is the agent's own classification of how the issue should proceed.
type AIRouting string

const (
	AIRoutingAutoResolve AIRouting = "auto_resolve"
	AIRoutingHumanReview AIRouting = "human_review"
	AIRoutingEscalate    AIRouting = "escalate"
)

func (r AIRouting) Valid() bool {
	switch r {
	case AIRoutingAutoResolve, AIRoutingHumanReview, AIRoutingEscalate:
		return true
	}
	return false
}

// UnifiedDecision is what the router hands back regardless of engine.
// It is never persisted as-is; see AutomatedDecision.
type UnifiedDecision struct {
	Decision      DecisionCode
	Confidence    float64
	Reason        string
	Source        Source
	AIRouting     *AIRouting
	AIAction      *AIAction // native agent action, kept for analytics
	PolicyApplied *string
}

// AIAction is a type-specific action the agent may recommend.
type AIAction string

// aiActions is the closed action set per issue type and its canonical decision.
var aiActions = map[IssueType]map[AIAction]DecisionCode{
	IssueTypeDecline: {
		"retry_payment":          DecisionRetryPayment,
		"request_payment_update": DecisionRequestPaymentUpdate,
		"escalate":               DecisionEscalate,
	},
	IssueTypeMissedInstallment: {
		"retry_with_reminder":  DecisionRetryWithReminder,
		"send_reminder":        DecisionSendReminder,
		"escalate_collections": DecisionEscalate,
	},
	IssueTypeDispute: {
		"contest":  DecisionContestDispute,
		"accept":   DecisionAcceptDispute,
		"escalate": DecisionEscalate,
	},
	IssueTypeRefundRequest: {
		"approve_refund":      DecisionApproveRefund,
		"deny_refund":         DecisionDenyRefund,
		"cancel_installments": DecisionCancelInstallments,
		"escalate_finance":    DecisionEscalate,
	},
}

// CanonicalDecision maps an agent action to the shared vocabulary.
// ok is false when the action is not in the closed set for t.
func CanonicalDecision(t IssueType, action AIAction) (DecisionCode, bool) {
	d, ok := aiActions[t][action]
	return d, ok
}

// AIActionsFor returns the permitted agent actions for t in a stable order.
func AIActionsFor(t IssueType) []AIAction {
	switch t {
	case IssueTypeDecline:
		return []AIAction{"retry_payment", "request_payment_update", "escalate"}
	case IssueTypeMissedInstallment:
		return []AIAction{"retry_with_reminder", "send_reminder", "escalate_collections"}
	case IssueTypeDispute:
		return []AIAction{"contest", "accept", "escalate"}
	case IssueTypeRefundRequest:
		return []AIAction{"approve_refund", "deny_refund", "cancel_installments", "escalate_finance"}
	}
	return nil
}

var resolutions = map[DecisionCode]string{
	DecisionRetryPayment:         "payment_retry_scheduled",
	DecisionRetryWithReminder:    "reminder_sent_retry_scheduled",
	DecisionSendReminder:         "reminder_sent",
	DecisionRequestPaymentUpdate: "payment_update_requested",
	DecisionContestDispute:       "dispute_contested",
	DecisionAcceptDispute:        "dispute_accepted",
	DecisionApproveRefund:        "refund_approved",
	DecisionDenyRefund:           "refund_denied",
	DecisionCancelInstallments:   "installment_plan_cancelled",
	DecisionEscalate:             "escalated",
}

// ResolutionFor returns the resolution recorded when d is carried out.
func ResolutionFor(d DecisionCode) string {
	if r, ok := resolutions[d]; ok {
		return r
	}
	return string(d)
}
