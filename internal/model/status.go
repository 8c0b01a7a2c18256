package model

import "payflow.app/resolver/common/errs"

type IssueStatus string

const (
	IssueStatusPending        IssueStatus = "pending"
	IssueStatusProcessing     IssueStatus = "processing"
	IssueStatusAwaitingReview IssueStatus = "awaiting_review"
	IssueStatusResolved       IssueStatus = "resolved"
	IssueStatusFailed         IssueStatus = "failed"
)

// transitions lists every legal edge. awaiting_review -> resolved is taken
// only by the human review action, never by the worker.
var transitions = map[IssueStatus][]IssueStatus{
	IssueStatusPending:        {IssueStatusProcessing},
	IssueStatusProcessing:     {IssueStatusResolved, IssueStatusAwaitingReview, IssueStatusFailed, IssueStatusPending},
	IssueStatusAwaitingReview: {IssueStatusResolved},
}

func (s IssueStatus) Valid() bool {
	switch s {
	case IssueStatusPending, IssueStatusProcessing, IssueStatusAwaitingReview, IssueStatusResolved, IssueStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition may leave s.
func (s IssueStatus) Terminal() bool {
	return s == IssueStatusResolved || s == IssueStatusFailed
}

// CanTransition reports whether from -> to is an edge of the issue state machine.
func CanTransition(from, to IssueStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an errs.ErrUnprocessable error for an illegal edge.
func ValidateTransition(from, to IssueStatus) error {
	if !CanTransition(from, to) {
		return errs.Unprocessable("invalid status transition %s -> %s", from, to)
	}
	return nil
}
