package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateAccount         OutboxAggregateType = "account"
	AggregateTransaction     OutboxAggregateType = "transaction"
	AggregateTradeRequest    OutboxAggregateType = "trade_request"
	AggregateApprovalRequest OutboxAggregateType = "approval_request"
	AggregateScheduledJob    OutboxAggregateType = "scheduled_job"
	AggregateAuditEvent      OutboxAggregateType = "audit_event"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateAccount,
	AggregateTransaction,
	AggregateTradeRequest,
	AggregateApprovalRequest,
	AggregateScheduledJob,
	AggregateAuditEvent,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventTransactionSettled OutboxEventType = "transaction_settled"
	EventTransactionFailed  OutboxEventType = "transaction_failed"
	EventTradeEscalated     OutboxEventType = "trade_escalated"
	EventTradeExecuted      OutboxEventType = "trade_executed"
	EventTradeRejected      OutboxEventType = "trade_rejected"
	EventTradeExpired       OutboxEventType = "trade_expired"
	EventDepositRequested   OutboxEventType = "deposit_requested"
	EventApprovalDecided    OutboxEventType = "approval_decided"
	EventJobRunCompleted    OutboxEventType = "job_run_completed"
	EventSettlementConflict OutboxEventType = "settlement_conflict"
	EventAuditEventRecorded OutboxEventType = "audit_event_recorded"
)

var validOutboxEventTypes = []OutboxEventType{
	EventTransactionSettled,
	EventTransactionFailed,
	EventTradeEscalated,
	EventTradeExecuted,
	EventTradeRejected,
	EventTradeExpired,
	EventDepositRequested,
	EventApprovalDecided,
	EventJobRunCompleted,
	EventSettlementConflict,
	EventAuditEventRecorded,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
