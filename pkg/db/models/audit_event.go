package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vaultline/treasury-backend/pkg/enums"
)

// AuditEvent is an append-only record of who did what to which resource.
// Rows are never updated or deleted.
type AuditEvent struct {
	ID           uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ActorID      string             `gorm:"column:actor_id;not null;index"`
	Action       string             `gorm:"column:action;not null;index"`
	ResourceType string             `gorm:"column:resource_type;not null"`
	ResourceID   *uuid.UUID         `gorm:"column:resource_id;type:uuid;index"`
	Outcome      enums.AuditOutcome `gorm:"column:outcome;type:audit_outcome_enum;not null"`
	Reason       *string            `gorm:"column:reason"`
	Metadata     json.RawMessage    `gorm:"column:metadata;type:jsonb"`
	CreatedAt    time.Time          `gorm:"column:created_at;autoCreateTime"`
}
