package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vaultline/treasury-backend/internal/audit"
	dbpkg "github.com/vaultline/treasury-backend/pkg/db"
	"github.com/vaultline/treasury-backend/pkg/db/models"
	"github.com/vaultline/treasury-backend/pkg/enums"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
	"github.com/vaultline/treasury-backend/pkg/metrics"
	"github.com/vaultline/treasury-backend/pkg/outbox"
	pkgpagination "github.com/vaultline/treasury-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type auditRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry audit.Entry) (*models.AuditEvent, error)
}

// SettleOutcome resolves a pending transaction one way or the other.
type SettleOutcome string

const (
	SettleOutcomeSuccess SettleOutcome = "success"
	SettleOutcomeFailure SettleOutcome = "failure"
)

func (o SettleOutcome) valid() bool {
	return o == SettleOutcomeSuccess || o == SettleOutcomeFailure
}

func (o SettleOutcome) status() enums.TransactionStatus {
	if o == SettleOutcomeSuccess {
		return enums.TransactionStatusSettled
	}
	return enums.TransactionStatusFailed
}

// OpenInput creates (or finds) one wallet per owner, name and currency.
type OpenInput struct {
	OwnerID  string
	Name     string
	Currency enums.Currency
	ActorID  string
}

// MovementInput funds an immediately-settled credit or debit.
type MovementInput struct {
	AccountID   uuid.UUID
	AmountCents int64
	Kind        enums.TransactionKind
	Reference   string
	ActorID     string
}

// ReserveInput creates a pending transaction. Debits move available into
// pending; credits only record the row until settlement. RunKey tags
// scheduler-originated movements for run idempotency.
type ReserveInput struct {
	AccountID   uuid.UUID
	AmountCents int64
	Kind        enums.TransactionKind
	Direction   enums.TransactionDirection
	Reference   string
	RunKey      *string
	ActorID     string
}

// SettleInput resolves a pending transaction.
type SettleInput struct {
	TransactionID uuid.UUID
	Outcome       SettleOutcome
	Reason        string
	ActorID       string
}

// HoldInput moves funds between available and locked.
type HoldInput struct {
	AccountID   uuid.UUID
	AmountCents int64
	Reason      string
	ActorID     string
}

// BalanceSnapshot is a consistent view of all three buckets.
type BalanceSnapshot struct {
	AccountID      uuid.UUID      `json:"account_id"`
	Currency       enums.Currency `json:"currency"`
	AvailableCents int64          `json:"available_cents"`
	PendingCents   int64          `json:"pending_cents"`
	LockedCents    int64          `json:"locked_cents"`
}

// ListTransactionsParams filters an account's transaction history.
type ListTransactionsParams struct {
	AccountID uuid.UUID
	Kind      *enums.TransactionKind
	Direction *enums.TransactionDirection
	Status    *enums.TransactionStatus
	pkgpagination.Params
}

// ListTransactionsResult is one page of transactions, newest first.
type ListTransactionsResult struct {
	Items  []TransactionItem `json:"items"`
	Cursor string            `json:"cursor"`
}

type TransactionItem struct {
	ID            uuid.UUID                  `json:"id"`
	AccountID     uuid.UUID                  `json:"account_id"`
	Kind          enums.TransactionKind      `json:"kind"`
	Direction     enums.TransactionDirection `json:"direction"`
	AmountCents   int64                      `json:"amount_cents"`
	Currency      enums.Currency             `json:"currency"`
	Status        enums.TransactionStatus    `json:"status"`
	Reference     string                     `json:"reference,omitempty"`
	RunKey        *string                    `json:"run_key,omitempty"`
	FailureReason *string                    `json:"failure_reason,omitempty"`
	SettledAt     *time.Time                 `json:"settled_at,omitempty"`
	CreatedAt     time.Time                  `json:"created_at"`
}

// Service owns every balance mutation in the system. All writes run under
// the per-account mutex and a database transaction so the wallet row, the
// transaction row and the audit event move together.
type Service interface {
	Open(ctx context.Context, input OpenInput) (*models.Account, error)
	Balance(ctx context.Context, accountID uuid.UUID) (*BalanceSnapshot, error)
	Credit(ctx context.Context, input MovementInput) (*models.Transaction, error)
	Debit(ctx context.Context, input MovementInput) (*models.Transaction, error)
	Reserve(ctx context.Context, input ReserveInput) (*models.Transaction, error)
	Settle(ctx context.Context, input SettleInput) (*models.Transaction, error)
	Lock(ctx context.Context, input HoldInput) error
	Unlock(ctx context.Context, input HoldInput) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	ListTransactions(ctx context.Context, params ListTransactionsParams) (*ListTransactionsResult, error)
	ListStuckPending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error)
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	audits  auditRecorder
	metrics *metrics.WalletMetrics
	locks   *keyedMutex
	now     func() time.Time
}

// NewService wires the wallet service.
func NewService(repo Repository, tx txRunner, outboxSvc outboxPublisher, audits auditRecorder, walletMetrics *metrics.WalletMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if audits == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	return &service{
		repo:    repo,
		tx:      tx,
		outbox:  outboxSvc,
		audits:  audits,
		metrics: walletMetrics,
		locks:   newKeyedMutex(),
		now:     time.Now,
	}, nil
}

func (s *service) Open(ctx context.Context, input OpenInput) (*models.Account, error) {
	if strings.TrimSpace(input.OwnerID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id required")
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account name required")
	}
	currency := input.Currency
	if currency == "" {
		currency = enums.CurrencyKES
	}
	if !currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid currency")
	}

	existing, err := s.repo.FindAccountByOwner(ctx, input.OwnerID, input.Name, currency)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup account")
	}

	account := &models.Account{
		ID:       uuid.New(),
		OwnerID:  input.OwnerID,
		Name:     input.Name,
		Currency: currency,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).CreateAccount(ctx, account); err != nil {
			return err
		}
		_, err := s.audits.Record(ctx, tx, audit.Entry{
			ActorID:      input.ActorID,
			Action:       "wallet.open",
			ResourceType: "account",
			ResourceID:   &account.ID,
			Outcome:      enums.AuditOutcomeSuccess,
			Metadata: map[string]any{
				"owner_id": input.OwnerID,
				"currency": string(currency),
			},
		})
		return err
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_accounts_owner_name_currency") {
			return s.repo.FindAccountByOwner(ctx, input.OwnerID, input.Name, currency)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create account")
	}
	return account, nil
}

func (s *service) Balance(ctx context.Context, accountID uuid.UUID) (*BalanceSnapshot, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	account, err := s.repo.FindAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup account")
	}
	return &BalanceSnapshot{
		AccountID:      account.ID,
		Currency:       account.Currency,
		AvailableCents: account.AvailableCents,
		PendingCents:   account.PendingCents,
		LockedCents:    account.LockedCents,
	}, nil
}

func (s *service) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	txn, err := s.repo.FindTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup transaction")
	}
	return txn, nil
}

func (s *service) ListTransactions(ctx context.Context, params ListTransactionsParams) (*ListTransactionsResult, error) {
	if params.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}

	limit := pkgpagination.NormalizeLimit(params.Limit)
	query := txListQuery{
		accountID: params.AccountID,
		kind:      params.Kind,
		direction: params.Direction,
		status:    params.Status,
		limit:     limit + 1,
	}
	if params.Cursor != "" {
		cursor, err := pkgpagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.cursor = cursor
	}

	rows, err := s.repo.ListTransactions(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions")
	}

	page, hasMore := pkgpagination.TrimPage(rows, limit)
	nextCursor := ""
	if hasMore {
		last := page[len(page)-1]
		nextCursor = pkgpagination.EncodeCursor(pkgpagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}

	items := make([]TransactionItem, len(page))
	for i, row := range page {
		items[i] = toTransactionItem(row)
	}
	return &ListTransactionsResult{Items: items, Cursor: nextCursor}, nil
}

func (s *service) ListStuckPending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = pkgpagination.DefaultLimit
	}
	rows, err := s.repo.ListStuckPending(ctx, olderThan, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stuck pending transactions")
	}
	return rows, nil
}

func toTransactionItem(m models.Transaction) TransactionItem {
	return TransactionItem{
		ID:            m.ID,
		AccountID:     m.AccountID,
		Kind:          m.Kind,
		Direction:     m.Direction,
		AmountCents:   m.AmountCents,
		Currency:      m.Currency,
		Status:        m.Status,
		Reference:     m.Reference,
		RunKey:        m.RunKey,
		FailureReason: m.FailureReason,
		SettledAt:     m.SettledAt,
		CreatedAt:     m.CreatedAt,
	}
}
