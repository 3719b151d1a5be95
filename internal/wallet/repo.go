package wallet

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vaultline/treasury-backend/pkg/db/models"
	"github.com/vaultline/treasury-backend/pkg/enums"
	pkgpagination "github.com/vaultline/treasury-backend/pkg/pagination"
)

// Repository manages accounts and their transaction rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateAccount(ctx context.Context, account *models.Account) error
	FindAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	FindAccountByOwner(ctx context.Context, ownerID, name string, currency enums.Currency) (*models.Account, error)
	UpdateBalances(ctx context.Context, id uuid.UUID, available, pending, locked int64) error
	CreateTransaction(ctx context.Context, txn *models.Transaction) error
	FindTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindActiveTransactionByRunKey(ctx context.Context, runKey string) (*models.Transaction, error)
	SettlePendingTransaction(ctx context.Context, id uuid.UUID, status enums.TransactionStatus, settledAt time.Time, failureReason *string) (bool, error)
	ListTransactions(ctx context.Context, opts txListQuery) ([]models.Transaction, error)
	ListStuckPending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error)
}

type txListQuery struct {
	accountID uuid.UUID
	kind      *enums.TransactionKind
	direction *enums.TransactionDirection
	status    *enums.TransactionStatus
	limit     int
	cursor    *pkgpagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a wallet repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateAccount(ctx context.Context, account *models.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *repository) FindAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).First(&account, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) FindAccountByOwner(ctx context.Context, ownerID, name string, currency enums.Currency) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND name = ? AND currency = ?", ownerID, name, currency).
		First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) UpdateBalances(ctx context.Context, id uuid.UUID, available, pending, locked int64) error {
	return r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"available_cents": available,
			"pending_cents":   pending,
			"locked_cents":    locked,
		}).Error
}

func (r *repository) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) FindTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).First(&txn, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindActiveTransactionByRunKey(ctx context.Context, runKey string) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).
		Where("run_key = ? AND status <> ?", runKey, enums.TransactionStatusFailed).
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// SettlePendingTransaction flips a pending row to its terminal status. The
// status guard in the WHERE clause makes the first writer win; a false
// return means another settle got there first.
func (r *repository) SettlePendingTransaction(ctx context.Context, id uuid.UUID, status enums.TransactionStatus, settledAt time.Time, failureReason *string) (bool, error) {
	updates := map[string]any{
		"status":     status,
		"settled_at": settledAt,
	}
	if failureReason != nil {
		updates["failure_reason"] = *failureReason
	}
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, enums.TransactionStatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListTransactions(ctx context.Context, opts txListQuery) ([]models.Transaction, error) {
	query := r.db.WithContext(ctx).Model(&models.Transaction{}).Where("account_id = ?", opts.accountID)

	if opts.kind != nil {
		query = query.Where("kind = ?", *opts.kind)
	}
	if opts.direction != nil {
		query = query.Where("direction = ?", *opts.direction)
	}
	if opts.status != nil {
		query = query.Where("status = ?", *opts.status)
	}
	if opts.cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", opts.cursor.CreatedAt, opts.cursor.CreatedAt, opts.cursor.ID)
	}

	query = query.Order("created_at DESC").Order("id DESC").Limit(opts.limit)

	var rows []models.Transaction
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListStuckPending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND reference <> '' AND created_at < ?", enums.TransactionStatusPending, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
