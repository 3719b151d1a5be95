package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/vaultline/treasury-backend/pkg/enums"
)

// ScheduledJob is a recurring money-movement job identified by a stable ID.
// The cron expression is the single source of truth for when it fires;
// NextRunAt is derived from it on every save so due jobs can be queried.
type ScheduledJob struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name             string              `gorm:"column:name;not null;unique"`
	Action           enums.JobAction     `gorm:"column:action;type:job_action_enum;not null"`
	CronExpr         string              `gorm:"column:cron_expr;not null"`
	Params           json.RawMessage     `gorm:"column:params;type:jsonb"`
	Enabled          bool                `gorm:"column:enabled;not null;default:true"`
	RequiresReview   bool                `gorm:"column:requires_review;not null;default:false"`
	NotifyTargets    pq.StringArray      `gorm:"column:notify_targets;type:text[]"`
	RetryImmediately bool                `gorm:"column:retry_immediately;not null;default:false"`
	MaxRetries       int                 `gorm:"column:max_retries;not null;default:0"`
	TimeoutSeconds   int                 `gorm:"column:timeout_seconds;not null;default:600"`
	NextRunAt        *time.Time          `gorm:"column:next_run_at;index"`
	LastRunAt        *time.Time          `gorm:"column:last_run_at"`
	LastStatus       *enums.JobRunStatus `gorm:"column:last_status;type:job_run_status_enum"`
	LastError        *string             `gorm:"column:last_error"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
