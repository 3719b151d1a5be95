package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/vaultline/treasury-backend/pkg/enums"
)

// Target is an operator-set amount the scheduler steers toward, one row
// per kind. Updates overwrite in place; history lives in audit events.
type Target struct {
	ID          uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Kind        enums.TargetKind `gorm:"column:kind;type:target_kind_enum;not null;unique" json:"kind"`
	AmountCents int64            `gorm:"column:amount_cents;not null" json:"amount_cents"`
	Currency    enums.Currency   `gorm:"column:currency;type:currency_enum;not null;default:'KES'" json:"currency"`
	SetBy       string           `gorm:"column:set_by;not null" json:"set_by"`
	Note        *string          `gorm:"column:note" json:"note,omitempty"`
	CreatedAt   time.Time        `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time        `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
