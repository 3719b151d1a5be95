package enums

import "fmt"

// NotificationKind maps to the notification_kind enum in Postgres.
type NotificationKind string

const (
	NotificationKindTradeEscalation    NotificationKind = "trade_escalation"
	NotificationKindDepositRequest     NotificationKind = "deposit_request"
	NotificationKindJobFailure         NotificationKind = "job_failure"
	NotificationKindSettlementConflict NotificationKind = "settlement_conflict"
	NotificationKindApprovalDecision   NotificationKind = "approval_decision"
)

var validNotificationKinds = []NotificationKind{
	NotificationKindTradeEscalation,
	NotificationKindDepositRequest,
	NotificationKindJobFailure,
	NotificationKindSettlementConflict,
	NotificationKindApprovalDecision,
}

// IsValid checks whether the given kind matches the canonical enum.
func (n NotificationKind) IsValid() bool {
	for _, candidate := range validNotificationKinds {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationKind converts raw strings into NotificationKind.
func ParseNotificationKind(value string) (NotificationKind, error) {
	for _, candidate := range validNotificationKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification kind %q", value)
}

// NotificationStatus tracks delivery state for dispatched notifications.
type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)

var validNotificationStatuses = []NotificationStatus{
	NotificationStatusPending,
	NotificationStatusSent,
	NotificationStatusFailed,
}

// IsValid checks whether the given status matches the canonical enum.
func (n NotificationStatus) IsValid() bool {
	for _, candidate := range validNotificationStatuses {
		if candidate == n {
			return true
		}
	}
	return false
}
