package payloads

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vaultline/treasury-backend/pkg/enums"
)

// TransactionSettledEvent is emitted when a pending transaction completes.
type TransactionSettledEvent struct {
	TransactionID uuid.UUID                  `json:"transaction_id"`
	AccountID     uuid.UUID                  `json:"account_id"`
	Kind          enums.TransactionKind      `json:"kind"`
	Direction     enums.TransactionDirection `json:"direction"`
	AmountCents   int64                      `json:"amount_cents"`
	Currency      enums.Currency             `json:"currency"`
	RunKey        *string                    `json:"run_key,omitempty"`
	SettledAt     time.Time                  `json:"settled_at"`
}

// TransactionFailedEvent is emitted when a pending transaction fails and
// its reservation is released.
type TransactionFailedEvent struct {
	TransactionID uuid.UUID             `json:"transaction_id"`
	AccountID     uuid.UUID             `json:"account_id"`
	Kind          enums.TransactionKind `json:"kind"`
	AmountCents   int64                 `json:"amount_cents"`
	Reason        string                `json:"reason,omitempty"`
	FailedAt      time.Time             `json:"failed_at"`
}

// SettlementConflictEvent reports a settle attempt against a terminal row.
type SettlementConflictEvent struct {
	TransactionID    uuid.UUID               `json:"transaction_id"`
	AccountID        uuid.UUID               `json:"account_id"`
	CurrentStatus    enums.TransactionStatus `json:"current_status"`
	AttemptedOutcome string                  `json:"attempted_outcome"`
}

// TradeEscalatedEvent tells the authority channel a trade needs review.
type TradeEscalatedEvent struct {
	TradeID     uuid.UUID       `json:"trade_id"`
	AccountID   uuid.UUID       `json:"account_id"`
	Symbol      string          `json:"symbol"`
	Side        enums.TradeSide `json:"side"`
	AmountCents int64           `json:"amount_cents"`
	Confidence  int             `json:"confidence"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// TradeExecutedEvent is emitted once an approved trade reserves funds.
type TradeExecutedEvent struct {
	TradeID       uuid.UUID       `json:"trade_id"`
	AccountID     uuid.UUID       `json:"account_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Symbol        string          `json:"symbol"`
	Side          enums.TradeSide `json:"side"`
	AmountCents   int64           `json:"amount_cents"`
	DecidedBy     string          `json:"decided_by"`
}

// TradeRejectedEvent is emitted when a trade is denied or rejected.
type TradeRejectedEvent struct {
	TradeID   uuid.UUID `json:"trade_id"`
	AccountID uuid.UUID `json:"account_id"`
	Reason    string    `json:"reason,omitempty"`
	DecidedBy string    `json:"decided_by,omitempty"`
}

// TradeExpiredEvent is emitted when a pending trade passes its deadline.
type TradeExpiredEvent struct {
	TradeID   uuid.UUID `json:"trade_id"`
	AccountID uuid.UUID `json:"account_id"`
	ExpiredAt time.Time `json:"expired_at"`
}

// DepositRequestedEvent asks for funding when an approved trade cannot
// reserve its amount. The deadline is the trade's original expiry.
type DepositRequestedEvent struct {
	TradeID        uuid.UUID `json:"trade_id"`
	AccountID      uuid.UUID `json:"account_id"`
	ShortfallCents int64     `json:"shortfall_cents"`
	Deadline       time.Time `json:"deadline"`
}

// ApprovalDecidedEvent is emitted when an approval request reaches a
// terminal status.
type ApprovalDecidedEvent struct {
	RequestID uuid.UUID            `json:"request_id"`
	Kind      enums.ApprovalKind   `json:"kind"`
	Status    enums.ApprovalStatus `json:"status"`
	DecidedBy string               `json:"decided_by"`
	Reason    string               `json:"reason,omitempty"`
}

// JobRunCompletedEvent reports a terminal scheduler run.
type JobRunCompletedEvent struct {
	JobID      uuid.UUID          `json:"job_id"`
	JobName    string             `json:"job_name"`
	RunKey     string             `json:"run_key"`
	Status     enums.JobRunStatus `json:"status"`
	Attempt    int                `json:"attempt"`
	Error      string             `json:"error,omitempty"`
	FinishedAt time.Time          `json:"finished_at"`
}

// AuditEventRecordedEvent mirrors an audit row for long-term archival.
type AuditEventRecordedEvent struct {
	AuditID      uuid.UUID          `json:"audit_id"`
	ActorID      string             `json:"actor_id"`
	Action       string             `json:"action"`
	ResourceType string             `json:"resource_type"`
	ResourceID   *uuid.UUID         `json:"resource_id,omitempty"`
	Outcome      enums.AuditOutcome `json:"outcome"`
	Reason       string             `json:"reason,omitempty"`
	Metadata     json.RawMessage    `json:"metadata,omitempty"`
	RecordedAt   time.Time          `json:"recorded_at"`
}
