package example

type IssueStatus string

const (
	IssueStatusPending  IssueStatus = "pending"
	IssueStatusResolved IssueStatus = "resolved"
)

type Priority string

const (
	PriorityHigh Priority = "high"
)

type DecisionCode string

const (
	DecisionApproveRefund DecisionCode = "approve_refund"
)

type Issue struct {
	Status   IssueStatus
	Priority Priority
}

type AutomatedDecision struct {
	Code DecisionCode
}

func bad() {
	i := &Issue{}
	i.Status = "resolved" // want "enum field Status assigned string literal"

	d := &AutomatedDecision{}
	d.Code = "approve_refund" // want "enum field Code assigned string literal"

	_ = Issue{Priority: "urgent"} // want "enum field Priority assigned string literal"
}

func good() {
	i := &Issue{}
	i.Status = IssueStatusResolved // OK: using constant

	d := &AutomatedDecision{Code: DecisionApproveRefund} // OK: using constant
	_ = d
}

func alsoGood() {
	// OK: Variable, not literal
	status := IssueStatusPending
	i := &Issue{Status: status, Priority: PriorityHigh}
	_ = i

	// OK: map keys are not fields
	_ = map[string]int{"Status": 1}
}
