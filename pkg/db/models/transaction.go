package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/vaultline/treasury-backend/pkg/enums"
)

// Transaction records one money movement against an account. Amounts are
// always positive; Direction says which way the money flows. RunKey is set
// only on scheduler-originated rows and is unique across non-failed rows so
// a retried job run can never produce a second effect.
type Transaction struct {
	ID            uuid.UUID                  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	AccountID     uuid.UUID                  `gorm:"column:account_id;type:uuid;not null;index" json:"account_id"`
	Kind          enums.TransactionKind      `gorm:"column:kind;type:transaction_kind_enum;not null" json:"kind"`
	Direction     enums.TransactionDirection `gorm:"column:direction;type:transaction_direction_enum;not null" json:"direction"`
	AmountCents   int64                      `gorm:"column:amount_cents;not null" json:"amount_cents"`
	Currency      enums.Currency             `gorm:"column:currency;type:currency_enum;not null" json:"currency"`
	Status        enums.TransactionStatus    `gorm:"column:status;type:transaction_status_enum;not null;default:'pending'" json:"status"`
	Reference     string                     `gorm:"column:reference;not null" json:"reference"`
	RunKey        *string                    `gorm:"column:run_key" json:"run_key,omitempty"`
	FailureReason *string                    `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	SettledAt     *time.Time                 `gorm:"column:settled_at" json:"settled_at,omitempty"`
	CreatedAt     time.Time                  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time                  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
