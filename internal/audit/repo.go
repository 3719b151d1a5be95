package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vaultline/treasury-backend/pkg/db/models"
	pkgpagination "github.com/vaultline/treasury-backend/pkg/pagination"
)

// Repository persists audit events. The trail is append-only: there are no
// update or delete methods, and none may be added.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, event *models.AuditEvent) error
	List(ctx context.Context, opts listQuery) ([]models.AuditEvent, error)
}

type listQuery struct {
	actorID      string
	action       string
	resourceType string
	resourceID   *uuid.UUID
	from         *time.Time
	to           *time.Time
	limit        int
	cursor       *pkgpagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an audit repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Insert(ctx context.Context, event *models.AuditEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) List(ctx context.Context, opts listQuery) ([]models.AuditEvent, error) {
	query := r.db.WithContext(ctx).Model(&models.AuditEvent{})

	if opts.actorID != "" {
		query = query.Where("actor_id = ?", opts.actorID)
	}
	if opts.action != "" {
		query = query.Where("action = ?", opts.action)
	}
	if opts.resourceType != "" {
		query = query.Where("resource_type = ?", opts.resourceType)
	}
	if opts.resourceID != nil {
		query = query.Where("resource_id = ?", *opts.resourceID)
	}
	if opts.from != nil {
		query = query.Where("created_at >= ?", *opts.from)
	}
	if opts.to != nil {
		query = query.Where("created_at < ?", *opts.to)
	}
	if opts.cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", opts.cursor.CreatedAt, opts.cursor.CreatedAt, opts.cursor.ID)
	}

	query = query.Order("created_at DESC").Order("id DESC").Limit(opts.limit)

	var rows []models.AuditEvent
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
