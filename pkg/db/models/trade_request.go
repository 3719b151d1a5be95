package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/vaultline/treasury-backend/pkg/enums"
)

// TradeRequest tracks a proposed trade from submission through authority
// decision to execution or rejection.
type TradeRequest struct {
	ID             uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	AccountID      uuid.UUID         `gorm:"column:account_id;type:uuid;not null;index" json:"account_id"`
	Side           enums.TradeSide   `gorm:"column:side;type:trade_side_enum;not null" json:"side"`
	Symbol         string            `gorm:"column:symbol;not null" json:"symbol"`
	AmountCents    int64             `gorm:"column:amount_cents;not null" json:"amount_cents"`
	Currency       enums.Currency    `gorm:"column:currency;type:currency_enum;not null" json:"currency"`
	Confidence     int               `gorm:"column:confidence;not null;default:0" json:"confidence"`
	Status         enums.TradeStatus `gorm:"column:status;type:trade_status_enum;not null;default:'pending'" json:"status"`
	TransactionID  *uuid.UUID        `gorm:"column:transaction_id;type:uuid" json:"transaction_id,omitempty"`
	DecisionReason *string           `gorm:"column:decision_reason" json:"decision_reason,omitempty"`
	RequestedBy    string            `gorm:"column:requested_by;not null" json:"requested_by"`
	DecidedBy      *string           `gorm:"column:decided_by" json:"decided_by,omitempty"`
	ExpiresAt      time.Time         `gorm:"column:expires_at;not null;index" json:"expires_at"`
	DecidedAt      *time.Time        `gorm:"column:decided_at" json:"decided_at,omitempty"`
	ExecutedAt     *time.Time        `gorm:"column:executed_at" json:"executed_at,omitempty"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
