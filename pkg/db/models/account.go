package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/vaultline/treasury-backend/pkg/enums"
)

// Account holds the three balance buckets for a single currency wallet.
// available + pending + locked always equals the opening balance plus
// settled credits minus settled debits.
type Account struct {
	ID             uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OwnerID        string         `gorm:"column:owner_id;not null;index" json:"owner_id"`
	Name           string         `gorm:"column:name;not null" json:"name"`
	Currency       enums.Currency `gorm:"column:currency;type:currency_enum;not null;default:'KES'" json:"currency"`
	AvailableCents int64          `gorm:"column:available_cents;not null;default:0" json:"available_cents"`
	PendingCents   int64          `gorm:"column:pending_cents;not null;default:0" json:"pending_cents"`
	LockedCents    int64          `gorm:"column:locked_cents;not null;default:0" json:"locked_cents"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
