package model

import (
	"encoding/json"
	"fmt"
)

type DeclineCode string

const (
	DeclineCodeInsufficientFunds DeclineCode = "insufficient_funds"
	DeclineCodeExpiredCard       DeclineCode = "expired_card"
	DeclineCodeGeneric           DeclineCode = "generic"
)

type DisputeReason string

const (
	DisputeReasonItemNotReceived DisputeReason = "item_not_received"
	DisputeReasonUnauthorized    DisputeReason = "unauthorized"
	DisputeReasonProductIssue    DisputeReason = "product_issue"
	DisputeReasonOther           DisputeReason = "other"
)

type TrackingStatus string

const (
	TrackingStatusDelivered TrackingStatus = "delivered"
	TrackingStatusInTransit TrackingStatus = "in_transit"
	TrackingStatusLost      TrackingStatus = "lost"
	TrackingStatusNone      TrackingStatus = "none"
	TrackingStatusUnknown   TrackingStatus = "unknown"
)

type RefundReason string

const (
	RefundReasonDefective      RefundReason = "defective"
	RefundReasonWrongItem      RefundReason = "wrong_item"
	RefundReasonChangedMind    RefundReason = "changed_mind"
	RefundReasonNotAsDescribed RefundReason = "not_as_described"
	RefundReasonOther          RefundReason = "other"
)

// Decline codes outside the named set are evaluated as generic.
type DeclineDetails struct {
	DeclineCode       DeclineCode `json:"decline_code"`
	PaymentRetryCount int         `json:"payment_retry_count"`
}

type MissedInstallmentDetails struct {
	InstallmentNumber int     `json:"installment_number"`
	DaysOverdue       int     `json:"days_overdue"`
	AmountDue         float64 `json:"amount_due"`
}

type DisputeDetails struct {
	Reason            DisputeReason  `json:"reason"`
	TrackingStatus    TrackingStatus `json:"tracking_status,omitempty"`
	DaysSincePurchase int            `json:"days_since_purchase"`
	Amount            float64        `json:"amount"`
}

type RefundDetails struct {
	Reason            RefundReason `json:"reason"`
	DaysSincePurchase int          `json:"days_since_purchase"`
	Amount            float64      `json:"amount"`
}

// DecodeDetails unmarshals raw into the variant matching t and returns a
// pointer to it (*DeclineDetails, *MissedInstallmentDetails, ...).
func DecodeDetails(t IssueType, raw json.RawMessage) (any, error) {
	var target any
	switch t {
	case IssueTypeDecline:
		target = &DeclineDetails{}
	case IssueTypeMissedInstallment:
		target = &MissedInstallmentDetails{}
	case IssueTypeDispute:
		target = &DisputeDetails{}
	case IssueTypeRefundRequest:
		target = &RefundDetails{}
	default:
		return nil, fmt.Errorf("unknown issue type %q", t)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s details are empty", t)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("decoding %s details: %w", t, err)
	}
	return target, nil
}

// ValidateDetails checks the required fields of each variant.
func ValidateDetails(t IssueType, raw json.RawMessage) error {
	d, err := DecodeDetails(t, raw)
	if err != nil {
		return err
	}
	switch v := d.(type) {
	case *DeclineDetails:
		if v.DeclineCode == "" {
			return fmt.Errorf("decline_code is required")
		}
		if v.PaymentRetryCount < 0 {
			return fmt.Errorf("payment_retry_count must not be negative")
		}
	case *MissedInstallmentDetails:
		if v.InstallmentNumber < 1 {
			return fmt.Errorf("installment_number must be at least 1")
		}
		if v.DaysOverdue < 0 {
			return fmt.Errorf("days_overdue must not be negative")
		}
		if v.AmountDue < 0 {
			return fmt.Errorf("amount_due must not be negative")
		}
	case *DisputeDetails:
		switch v.Reason {
		case DisputeReasonItemNotReceived, DisputeReasonUnauthorized, DisputeReasonProductIssue, DisputeReasonOther:
		default:
			return fmt.Errorf("unknown dispute reason %q", v.Reason)
		}
		if v.DaysSincePurchase < 0 {
			return fmt.Errorf("days_since_purchase must not be negative")
		}
	case *RefundDetails:
		if v.Reason == "" {
			return fmt.Errorf("refund reason is required")
		}
		if v.DaysSincePurchase < 0 {
			return fmt.Errorf("days_since_purchase must not be negative")
		}
	}
	return nil
}
