package trading

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vaultline/treasury-backend/pkg/db/models"
	"github.com/vaultline/treasury-backend/pkg/enums"
	pkgpagination "github.com/vaultline/treasury-backend/pkg/pagination"
)

// Repository owns trade_requests rows. Status transitions go through the
// guarded updates so concurrent deciders cannot both win.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, trade *models.TradeRequest) error
	Find(ctx context.Context, id uuid.UUID) (*models.TradeRequest, error)
	FindByTransaction(ctx context.Context, transactionID uuid.UUID) (*models.TradeRequest, error)
	// DecidePending flips a pending request to decided. Returns false when
	// the row was not pending anymore.
	DecidePending(ctx context.Context, id uuid.UUID, status enums.TradeStatus, decidedBy, reason string, decidedAt time.Time) (bool, error)
	// AttachReservation records the reserved transaction on an approved row.
	AttachReservation(ctx context.Context, id, transactionID uuid.UUID) error
	// MarkExecuted flips an approved request to executed.
	MarkExecuted(ctx context.Context, id uuid.UUID, executedAt time.Time) (bool, error)
	// MarkFailed flips an approved request to failed with the venue's reason.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]models.TradeRequest, error)
	List(ctx context.Context, query ListQuery) ([]models.TradeRequest, error)
}

// ListQuery filters the trade listing.
type ListQuery struct {
	AccountID *uuid.UUID
	Status    *enums.TradeStatus
	Limit     int
	Cursor    *pkgpagination.Cursor
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

func (r *repository) Create(ctx context.Context, trade *models.TradeRequest) error {
	return r.db.WithContext(ctx).Create(trade).Error
}

func (r *repository) Find(ctx context.Context, id uuid.UUID) (*models.TradeRequest, error) {
	var trade models.TradeRequest
	if err := r.db.WithContext(ctx).First(&trade, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &trade, nil
}

func (r *repository) FindByTransaction(ctx context.Context, transactionID uuid.UUID) (*models.TradeRequest, error) {
	var trade models.TradeRequest
	if err := r.db.WithContext(ctx).First(&trade, "transaction_id = ?", transactionID).Error; err != nil {
		return nil, err
	}
	return &trade, nil
}

func (r *repository) DecidePending(ctx context.Context, id uuid.UUID, status enums.TradeStatus, decidedBy, reason string, decidedAt time.Time) (bool, error) {
	updates := map[string]any{
		"status":     status,
		"decided_by": decidedBy,
		"decided_at": decidedAt,
	}
	if reason != "" {
		updates["decision_reason"] = reason
	}
	result := r.db.WithContext(ctx).
		Model(&models.TradeRequest{}).
		Where("id = ? AND status = ?", id, enums.TradeStatusPending).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) AttachReservation(ctx context.Context, id, transactionID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.TradeRequest{}).
		Where("id = ?", id).
		Update("transaction_id", transactionID).Error
}

func (r *repository) MarkExecuted(ctx context.Context, id uuid.UUID, executedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.TradeRequest{}).
		Where("id = ? AND status = ?", id, enums.TradeStatusApproved).
		Updates(map[string]any{
			"status":      enums.TradeStatusExecuted,
			"executed_at": executedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.TradeRequest{}).
		Where("id = ? AND status = ?", id, enums.TradeStatusApproved).
		Updates(map[string]any{
			"status":          enums.TradeStatusFailed,
			"decision_reason": reason,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]models.TradeRequest, error) {
	var trades []models.TradeRequest
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", enums.TradeStatusPending, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&trades).Error
	return trades, err
}

func (r *repository) List(ctx context.Context, query ListQuery) ([]models.TradeRequest, error) {
	q := r.db.WithContext(ctx).Model(&models.TradeRequest{})
	if query.AccountID != nil {
		q = q.Where("account_id = ?", *query.AccountID)
	}
	if query.Status != nil {
		q = q.Where("status = ?", *query.Status)
	}
	if query.Cursor != nil {
		q = q.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			query.Cursor.CreatedAt, query.Cursor.CreatedAt, query.Cursor.ID)
	}
	var trades []models.TradeRequest
	err := q.Order("created_at DESC").Order("id DESC").Limit(query.Limit).Find(&trades).Error
	return trades, err
}
