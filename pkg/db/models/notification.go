package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vaultline/treasury-backend/pkg/enums"
)

// Notification is a delivery record written by the notifier worker.
type Notification struct {
	ID        uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Kind      enums.NotificationKind   `gorm:"column:kind;type:notification_kind_enum;not null"`
	Target    string                   `gorm:"column:target;not null"`
	Subject   string                   `gorm:"column:subject;not null"`
	Body      string                   `gorm:"column:body;not null"`
	Status    enums.NotificationStatus `gorm:"column:status;type:notification_status_enum;not null;default:'pending'"`
	Attempts  int                      `gorm:"column:attempts;not null;default:0"`
	Metadata  json.RawMessage          `gorm:"column:metadata;type:jsonb"`
	SentAt    *time.Time               `gorm:"column:sent_at"`
	CreatedAt time.Time                `gorm:"column:created_at;autoCreateTime"`
}
