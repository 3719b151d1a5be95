package trading

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vaultline/treasury-backend/internal/audit"
	"github.com/vaultline/treasury-backend/internal/authority"
	"github.com/vaultline/treasury-backend/internal/gateway"
	"github.com/vaultline/treasury-backend/internal/wallet"
	"github.com/vaultline/treasury-backend/pkg/config"
	"github.com/vaultline/treasury-backend/pkg/db/models"
	"github.com/vaultline/treasury-backend/pkg/enums"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
	"github.com/vaultline/treasury-backend/pkg/outbox"
	"github.com/vaultline/treasury-backend/pkg/outbox/payloads"
	pkgpagination "github.com/vaultline/treasury-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type auditRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry audit.Entry) (*models.AuditEvent, error)
}

// walletService is the slice of the wallet this package drives: reserving
// funds for decided movements and settling them once the rail answers.
type walletService interface {
	Balance(ctx context.Context, accountID uuid.UUID) (*wallet.BalanceSnapshot, error)
	Reserve(ctx context.Context, input wallet.ReserveInput) (*models.Transaction, error)
	Settle(ctx context.Context, input wallet.SettleInput) (*models.Transaction, error)
}

type decisionPolicy interface {
	Decide(ctx context.Context, subject authority.Subject) authority.Decision
}

// SubmitTradeInput proposes a trade on behalf of an account.
type SubmitTradeInput struct {
	AccountID        uuid.UUID
	Side             enums.TradeSide
	Symbol           string
	AmountCents      int64
	Confidence       int
	ActorID          string
	ActorIsAuthority bool
}

// DepositInput funds an account from an external source.
type DepositInput struct {
	AccountID        uuid.UUID
	AmountCents      int64
	Source           string
	ActorID          string
	ActorIsAuthority bool
}

// WithdrawalInput moves funds out to an external destination.
type WithdrawalInput struct {
	AccountID        uuid.UUID
	AmountCents      int64
	Destination      string
	ActorID          string
	ActorIsAuthority bool
}

// DecideInput resolves an escalated trade one way or the other.
type DecideInput struct {
	TradeID          uuid.UUID
	Reason           string
	ActorID          string
	ActorIsAuthority bool
}

// ListParams filters the trade request listing.
type ListParams struct {
	AccountID *uuid.UUID
	Status    *enums.TradeStatus
	pkgpagination.Params
}

// ListResult is one page of trade requests, newest first.
type ListResult struct {
	Items  []TradeItem `json:"items"`
	Cursor string      `json:"cursor"`
}

type TradeItem struct {
	ID             uuid.UUID         `json:"id"`
	AccountID      uuid.UUID         `json:"account_id"`
	Side           enums.TradeSide   `json:"side"`
	Symbol         string            `json:"symbol"`
	AmountCents    int64             `json:"amount_cents"`
	Currency       enums.Currency    `json:"currency"`
	Confidence     int               `json:"confidence"`
	Status         enums.TradeStatus `json:"status"`
	TransactionID  *uuid.UUID        `json:"transaction_id,omitempty"`
	DecisionReason *string           `json:"decision_reason,omitempty"`
	RequestedBy    string            `json:"requested_by"`
	DecidedBy      *string           `json:"decided_by,omitempty"`
	ExpiresAt      time.Time         `json:"expires_at"`
	DecidedAt      *time.Time        `json:"decided_at,omitempty"`
	ExecutedAt     *time.Time        `json:"executed_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Service runs the money-movement intents: deposits and withdrawals settle
// straight into wallet transactions, trades go through the request state
// machine first. Every intent passes the authority policy before funds move.
type Service interface {
	SubmitTrade(ctx context.Context, input SubmitTradeInput) (*models.TradeRequest, error)
	SubmitDeposit(ctx context.Context, input DepositInput) (*models.Transaction, error)
	SubmitWithdrawal(ctx context.Context, input WithdrawalInput) (*models.Transaction, error)
	Approve(ctx context.Context, input DecideInput) (*models.TradeRequest, error)
	Reject(ctx context.Context, input DecideInput) (*models.TradeRequest, error)
	Get(ctx context.Context, id uuid.UUID) (*models.TradeRequest, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
	ExpireStale(ctx context.Context, now time.Time) (int, error)
	CompleteExecution(ctx context.Context, transactionID uuid.UUID, success bool, reason, actorID string) error
}

type service struct {
	repo     Repository
	tx       txRunner
	wallet   walletService
	gate     gateway.Gateway
	policy   decisionPolicy
	outbox   outboxPublisher
	audits   auditRecorder
	trading  config.TradingConfig
	treasury config.TreasuryConfig
	now      func() time.Time
}

func NewService(
	repo Repository,
	tx txRunner,
	walletSvc walletService,
	gate gateway.Gateway,
	policy decisionPolicy,
	outboxSvc outboxPublisher,
	audits auditRecorder,
	trading config.TradingConfig,
	treasury config.TreasuryConfig,
) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "trading repository is required")
	}
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner is required")
	}
	if walletSvc == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "wallet service is required")
	}
	if gate == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway is required")
	}
	if policy == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "authority policy is required")
	}
	if outboxSvc == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox service is required")
	}
	if audits == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "audit recorder is required")
	}
	return &service{
		repo:     repo,
		tx:       tx,
		wallet:   walletSvc,
		gate:     gate,
		policy:   policy,
		outbox:   outboxSvc,
		audits:   audits,
		trading:  trading,
		treasury: treasury,
		now:      time.Now,
	}, nil
}

func (s *service) SubmitTrade(ctx context.Context, input SubmitTradeInput) (*models.TradeRequest, error) {
	if err := s.validateTrade(input); err != nil {
		return nil, err
	}

	snapshot, err := s.wallet.Balance(ctx, input.AccountID)
	if err != nil {
		return nil, err
	}

	decision := s.policy.Decide(ctx, authority.Subject{
		Action:           authority.ActionTrade,
		AmountCents:      input.AmountCents,
		Confidence:       input.Confidence,
		ActorID:          input.ActorID,
		ActorIsAuthority: input.ActorIsAuthority,
	})

	now := s.now()
	trade := &models.TradeRequest{
		ID:          uuid.New(),
		AccountID:   input.AccountID,
		Side:        input.Side,
		Symbol:      strings.ToUpper(strings.TrimSpace(input.Symbol)),
		AmountCents: input.AmountCents,
		Currency:    snapshot.Currency,
		Confidence:  input.Confidence,
		Status:      enums.TradeStatusPending,
		RequestedBy: input.ActorID,
		ExpiresAt:   now.Add(s.trading.PendingTTL),
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, trade); err != nil {
			return err
		}
		_, err := s.audits.Record(ctx, tx, audit.Entry{
			ActorID:      input.ActorID,
			Action:       "trading.submit",
			ResourceType: "trade_request",
			ResourceID:   &trade.ID,
			Outcome:      enums.AuditOutcomeSuccess,
			Metadata: map[string]any{
				"account_id":   trade.AccountID.String(),
				"side":         string(trade.Side),
				"symbol":       trade.Symbol,
				"amount_cents": trade.AmountCents,
				"confidence":   trade.Confidence,
				"verdict":      string(decision.Verdict),
			},
		})
		return err
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record trade request")
	}

	switch decision.Verdict {
	case authority.VerdictAutoApproved:
		return s.approveAndExecute(ctx, trade, input.ActorID)
	case authority.VerdictDenied:
		return s.rejectPending(ctx, trade, policyActor, decision.Reason, enums.AuditOutcomeDenied)
	default:
		if err := s.escalate(ctx, trade); err != nil {
			return nil, err
		}
		return trade, nil
	}
}

// escalate queues the review signal for a trade the policy would not decide
// on its own. The request stays pending until the authority acts or the
// funding deadline passes.
func (s *service) escalate(ctx context.Context, trade *models.TradeRequest) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTradeEscalated,
			AggregateType: enums.AggregateTradeRequest,
			AggregateID:   trade.ID,
			Data: payloads.TradeEscalatedEvent{
				TradeID:     trade.ID,
				AccountID:   trade.AccountID,
				Symbol:      trade.Symbol,
				Side:        trade.Side,
				AmountCents: trade.AmountCents,
				Confidence:  trade.Confidence,
				ExpiresAt:   trade.ExpiresAt,
			},
			OccurredAt: s.now(),
		})
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "escalate trade")
	}
	return nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.TradeRequest, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "trade id is required")
	}
	trade, err := s.repo.Find(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "trade request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup trade request")
	}
	return trade, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	limit := pkgpagination.NormalizeLimit(params.Limit)
	cursor, err := pkgpagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	trades, err := s.repo.List(ctx, ListQuery{
		AccountID: params.AccountID,
		Status:    params.Status,
		Limit:     limit + 1,
		Cursor:    cursor,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list trade requests")
	}

	page, hasMore := pkgpagination.TrimPage(trades, limit)
	items := make([]TradeItem, 0, len(page))
	for _, trade := range page {
		items = append(items, toTradeItem(trade))
	}

	result := &ListResult{Items: items}
	if hasMore && len(page) > 0 {
		last := page[len(page)-1]
		result.Cursor = pkgpagination.EncodeCursor(pkgpagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return result, nil
}

func (s *service) validateTrade(input SubmitTradeInput) error {
	if input.AccountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if !input.Side.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid trade side")
	}
	if strings.TrimSpace(input.Symbol) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "symbol is required")
	}
	if input.Confidence < 0 || input.Confidence > 100 {
		return pkgerrors.New(pkgerrors.CodeValidation, "confidence must be between 0 and 100")
	}
	if input.AmountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be positive")
	}
	if input.AmountCents < s.trading.MinTradeCents {
		return pkgerrors.New(pkgerrors.CodeBelowMinimumAmount, "trade amount below minimum")
	}
	return nil
}

func toTradeItem(m models.TradeRequest) TradeItem {
	return TradeItem{
		ID:             m.ID,
		AccountID:      m.AccountID,
		Side:           m.Side,
		Symbol:         m.Symbol,
		AmountCents:    m.AmountCents,
		Currency:       m.Currency,
		Confidence:     m.Confidence,
		Status:         m.Status,
		TransactionID:  m.TransactionID,
		DecisionReason: m.DecisionReason,
		RequestedBy:    m.RequestedBy,
		DecidedBy:      m.DecidedBy,
		ExpiresAt:      m.ExpiresAt,
		DecidedAt:      m.DecidedAt,
		ExecutedAt:     m.ExecutedAt,
		CreatedAt:      m.CreatedAt,
	}
}
