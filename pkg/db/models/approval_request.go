package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vaultline/treasury-backend/pkg/enums"
)

// ApprovalRequest is a multi-step review attached to a sensitive change.
type ApprovalRequest struct {
	ID          uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Kind        enums.ApprovalKind   `gorm:"column:kind;type:approval_kind_enum;not null" json:"kind"`
	SubjectType string               `gorm:"column:subject_type;not null" json:"subject_type"`
	SubjectID   *uuid.UUID           `gorm:"column:subject_id;type:uuid" json:"subject_id,omitempty"`
	Status      enums.ApprovalStatus `gorm:"column:status;type:approval_status_enum;not null;default:'pending'" json:"status"`
	RequestedBy string               `gorm:"column:requested_by;not null" json:"requested_by"`
	DecidedBy   *string              `gorm:"column:decided_by" json:"decided_by,omitempty"`
	Reason      *string              `gorm:"column:reason" json:"reason,omitempty"`
	Payload     json.RawMessage      `gorm:"column:payload;type:jsonb" json:"payload,omitempty"`
	DecidedAt   *time.Time           `gorm:"column:decided_at" json:"decided_at,omitempty"`
	CreatedAt   time.Time            `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time            `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
