package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vaultline/treasury-backend/pkg/db/models"
	"github.com/vaultline/treasury-backend/pkg/enums"
)

// Repository persists scheduled jobs, their run history and the operator
// targets the jobs steer toward.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindJob(ctx context.Context, id uuid.UUID) (*models.ScheduledJob, error)
	ListJobs(ctx context.Context) ([]models.ScheduledJob, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.ScheduledJob, error)
	ListUnscheduled(ctx context.Context, limit int) ([]models.ScheduledJob, error)
	RecordRunState(ctx context.Context, id uuid.UUID, lastRunAt time.Time, status enums.JobRunStatus, lastError *string) error
	AdvanceSchedule(ctx context.Context, id uuid.UUID, nextRunAt time.Time, markReview bool) error
	FlagReview(ctx context.Context, id uuid.UUID, note string) error

	CreateRun(ctx context.Context, run *models.JobRun) error
	CountRunsByKey(ctx context.Context, runKey string) (int64, error)
	LatestRunByKey(ctx context.Context, runKey string) (*models.JobRun, error)
	ListRuns(ctx context.Context, jobID uuid.UUID, limit int) ([]models.JobRun, error)

	UpsertTarget(ctx context.Context, target *models.Target) error
	FindTarget(ctx context.Context, kind enums.TargetKind) (*models.Target, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindJob(ctx context.Context, id uuid.UUID) (*models.ScheduledJob, error) {
	var job models.ScheduledJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repository) ListJobs(ctx context.Context) ([]models.ScheduledJob, error) {
	var jobs []models.ScheduledJob
	err := r.db.WithContext(ctx).
		Order("name ASC").
		Find(&jobs).Error
	return jobs, err
}

func (r *repository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.ScheduledJob, error) {
	var jobs []models.ScheduledJob
	err := r.db.WithContext(ctx).
		Where("enabled = ? AND next_run_at IS NOT NULL AND next_run_at <= ?", true, now).
		Order("next_run_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (r *repository) ListUnscheduled(ctx context.Context, limit int) ([]models.ScheduledJob, error) {
	var jobs []models.ScheduledJob
	err := r.db.WithContext(ctx).
		Where("enabled = ? AND next_run_at IS NULL AND requires_review = ?", true, false).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (r *repository) RecordRunState(ctx context.Context, id uuid.UUID, lastRunAt time.Time, status enums.JobRunStatus, lastError *string) error {
	return r.db.WithContext(ctx).
		Model(&models.ScheduledJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_run_at": lastRunAt,
			"last_status": status,
			"last_error":  lastError,
		}).Error
}

func (r *repository) AdvanceSchedule(ctx context.Context, id uuid.UUID, nextRunAt time.Time, markReview bool) error {
	updates := map[string]any{"next_run_at": nextRunAt}
	if markReview {
		updates["requires_review"] = true
	}
	return r.db.WithContext(ctx).
		Model(&models.ScheduledJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) FlagReview(ctx context.Context, id uuid.UUID, note string) error {
	return r.db.WithContext(ctx).
		Model(&models.ScheduledJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"requires_review": true,
			"last_error":      note,
		}).Error
}

func (r *repository) CreateRun(ctx context.Context, run *models.JobRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *repository) CountRunsByKey(ctx context.Context, runKey string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.JobRun{}).
		Where("run_key = ?", runKey).
		Count(&count).Error
	return count, err
}

func (r *repository) LatestRunByKey(ctx context.Context, runKey string) (*models.JobRun, error) {
	var run models.JobRun
	err := r.db.WithContext(ctx).
		Where("run_key = ?", runKey).
		Order("attempt DESC").
		First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *repository) ListRuns(ctx context.Context, jobID uuid.UUID, limit int) ([]models.JobRun, error) {
	var runs []models.JobRun
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

// UpsertTarget overwrites the single row per kind. Callers run it inside a
// transaction so the read-then-write pair is atomic.
func (r *repository) UpsertTarget(ctx context.Context, target *models.Target) error {
	var existing models.Target
	err := r.db.WithContext(ctx).First(&existing, "kind = ?", target.Kind).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.WithContext(ctx).Create(target).Error
	}
	if err != nil {
		return err
	}
	target.ID = existing.ID
	target.CreatedAt = existing.CreatedAt
	return r.db.WithContext(ctx).
		Model(&models.Target{}).
		Where("id = ?", existing.ID).
		Updates(map[string]any{
			"amount_cents": target.AmountCents,
			"currency":     target.Currency,
			"set_by":       target.SetBy,
			"note":         target.Note,
		}).Error
}

func (r *repository) FindTarget(ctx context.Context, kind enums.TargetKind) (*models.Target, error) {
	var target models.Target
	if err := r.db.WithContext(ctx).First(&target, "kind = ?", kind).Error; err != nil {
		return nil, err
	}
	return &target, nil
}
