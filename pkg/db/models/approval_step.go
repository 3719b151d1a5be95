package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/vaultline/treasury-backend/pkg/enums"
)

// ApprovalStep is one ordered reviewer slot in an approval request.
// Steps decide strictly in Position order.
type ApprovalStep struct {
	ID        uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequestID uuid.UUID        `gorm:"column:request_id;type:uuid;not null;index" json:"request_id"`
	Position  int              `gorm:"column:position;not null" json:"position"`
	Name      string           `gorm:"column:name;not null" json:"name"`
	Status    enums.StepStatus `gorm:"column:status;type:step_status_enum;not null;default:'pending'" json:"status"`
	ActorID   *string          `gorm:"column:actor_id" json:"actor_id,omitempty"`
	Note      *string          `gorm:"column:note" json:"note,omitempty"`
	DecidedAt *time.Time       `gorm:"column:decided_at" json:"decided_at,omitempty"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time        `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
