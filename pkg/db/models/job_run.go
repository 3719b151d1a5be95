package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/vaultline/treasury-backend/pkg/enums"
)

// JobRun records one execution attempt of a scheduled job. RunKey is
// jobID:scheduledAtUnix, shared by every retry of the same slot.
type JobRun struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	JobID         uuid.UUID          `gorm:"column:job_id;type:uuid;not null;index" json:"job_id"`
	RunKey        string             `gorm:"column:run_key;not null;index" json:"run_key"`
	Attempt       int                `gorm:"column:attempt;not null;default:1" json:"attempt"`
	Status        enums.JobRunStatus `gorm:"column:status;type:job_run_status_enum;not null" json:"status"`
	ScheduledAt   time.Time          `gorm:"column:scheduled_at;not null" json:"scheduled_at"`
	StartedAt     time.Time          `gorm:"column:started_at;not null" json:"started_at"`
	FinishedAt    *time.Time         `gorm:"column:finished_at" json:"finished_at,omitempty"`
	TransactionID *uuid.UUID         `gorm:"column:transaction_id;type:uuid" json:"transaction_id,omitempty"`
	Error         *string            `gorm:"column:error" json:"error,omitempty"`
	CreatedAt     time.Time          `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}
