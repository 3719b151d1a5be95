package approvals

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vaultline/treasury-backend/pkg/db/models"
	"github.com/vaultline/treasury-backend/pkg/enums"
	pkgpagination "github.com/vaultline/treasury-backend/pkg/pagination"
)

// Repository owns approval_requests and approval_steps rows. Both decide
// methods are guarded on the pending status so concurrent deciders cannot
// both record an outcome.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateRequest(ctx context.Context, request *models.ApprovalRequest) error
	CreateSteps(ctx context.Context, steps []models.ApprovalStep) error
	FindRequest(ctx context.Context, id uuid.UUID) (*models.ApprovalRequest, error)
	// ListSteps returns the request's full chain in position order.
	ListSteps(ctx context.Context, requestID uuid.UUID) ([]models.ApprovalStep, error)
	DecideStep(ctx context.Context, id uuid.UUID, status enums.StepStatus, actorID string, note *string, decidedAt time.Time) (bool, error)
	DecideRequest(ctx context.Context, id uuid.UUID, status enums.ApprovalStatus, decidedBy, reason string, decidedAt time.Time) (bool, error)
	List(ctx context.Context, query ListQuery) ([]models.ApprovalRequest, error)
}

// ListQuery filters the request listing.
type ListQuery struct {
	Status *enums.ApprovalStatus
	Kind   *enums.ApprovalKind
	Limit  int
	Cursor *pkgpagination.Cursor
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

func (r *repository) CreateRequest(ctx context.Context, request *models.ApprovalRequest) error {
	return r.db.WithContext(ctx).Create(request).Error
}

func (r *repository) CreateSteps(ctx context.Context, steps []models.ApprovalStep) error {
	if len(steps) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&steps).Error
}

func (r *repository) FindRequest(ctx context.Context, id uuid.UUID) (*models.ApprovalRequest, error) {
	var request models.ApprovalRequest
	if err := r.db.WithContext(ctx).First(&request, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *repository) ListSteps(ctx context.Context, requestID uuid.UUID) ([]models.ApprovalStep, error) {
	var steps []models.ApprovalStep
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("position ASC").
		Find(&steps).Error
	return steps, err
}

func (r *repository) DecideStep(ctx context.Context, id uuid.UUID, status enums.StepStatus, actorID string, note *string, decidedAt time.Time) (bool, error) {
	updates := map[string]any{
		"status":     status,
		"actor_id":   actorID,
		"decided_at": decidedAt,
	}
	if note != nil {
		updates["note"] = *note
	}
	result := r.db.WithContext(ctx).
		Model(&models.ApprovalStep{}).
		Where("id = ? AND status = ?", id, enums.StepStatusPending).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) DecideRequest(ctx context.Context, id uuid.UUID, status enums.ApprovalStatus, decidedBy, reason string, decidedAt time.Time) (bool, error) {
	updates := map[string]any{
		"status":     status,
		"decided_by": decidedBy,
		"decided_at": decidedAt,
	}
	if reason != "" {
		updates["reason"] = reason
	}
	result := r.db.WithContext(ctx).
		Model(&models.ApprovalRequest{}).
		Where("id = ? AND status = ?", id, enums.ApprovalStatusPending).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) List(ctx context.Context, query ListQuery) ([]models.ApprovalRequest, error) {
	q := r.db.WithContext(ctx).Model(&models.ApprovalRequest{})
	if query.Status != nil {
		q = q.Where("status = ?", *query.Status)
	}
	if query.Kind != nil {
		q = q.Where("kind = ?", *query.Kind)
	}
	if query.Cursor != nil {
		q = q.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			query.Cursor.CreatedAt, query.Cursor.CreatedAt, query.Cursor.ID)
	}
	var requests []models.ApprovalRequest
	err := q.Order("created_at DESC").Order("id DESC").Limit(query.Limit).Find(&requests).Error
	return requests, err
}
