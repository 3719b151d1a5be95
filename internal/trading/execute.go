package trading

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vaultline/treasury-backend/internal/audit"
	"github.com/vaultline/treasury-backend/internal/gateway"
	"github.com/vaultline/treasury-backend/internal/wallet"
	"github.com/vaultline/treasury-backend/pkg/db/models"
	"github.com/vaultline/treasury-backend/pkg/enums"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
	"github.com/vaultline/treasury-backend/pkg/outbox"
	"github.com/vaultline/treasury-backend/pkg/outbox/payloads"
)

// errDecideRace marks a guarded status flip that another decider won.
var errDecideRace = errors.New("trade decided concurrently")

const (
	policyActor    = "policy"
	schedulerActor = "scheduler"
	expiryReason   = "Timeout"

	expiryBatchSize = 100
)

func tradeReference(id uuid.UUID) string {
	return "trd_" + strings.ReplaceAll(id.String(), "-", "")[:12]
}

func venueDestination(symbol string) string {
	return "venue:" + symbol
}

func (s *service) Approve(ctx context.Context, input DecideInput) (*models.TradeRequest, error) {
	if input.TradeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "trade id is required")
	}
	if !input.ActorIsAuthority {
		if err := s.recordDenied(ctx, "trade_request", input.TradeID, input.ActorID, "trading.approve", "authority token required"); err != nil {
			return nil, err
		}
		return nil, pkgerrors.New(pkgerrors.CodeAuthorityRequired, "only the authority can approve trades")
	}

	trade, err := s.Get(ctx, input.TradeID)
	if err != nil {
		return nil, err
	}
	if trade.Status != enums.TradeStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "trade already decided")
	}
	if s.now().After(trade.ExpiresAt) {
		// The funding deadline passed; the request can only expire now.
		if _, err := s.expireOne(ctx, trade); err != nil {
			return nil, err
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "trade request expired")
	}

	return s.approveAndExecute(ctx, trade, input.ActorID)
}

func (s *service) Reject(ctx context.Context, input DecideInput) (*models.TradeRequest, error) {
	if input.TradeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "trade id is required")
	}
	if !input.ActorIsAuthority {
		if err := s.recordDenied(ctx, "trade_request", input.TradeID, input.ActorID, "trading.reject", "authority token required"); err != nil {
			return nil, err
		}
		return nil, pkgerrors.New(pkgerrors.CodeAuthorityRequired, "only the authority can reject trades")
	}

	trade, err := s.Get(ctx, input.TradeID)
	if err != nil {
		return nil, err
	}
	switch trade.Status {
	case enums.TradeStatusRejected:
		return trade, nil
	case enums.TradeStatusPending:
		reason := strings.TrimSpace(input.Reason)
		if reason == "" {
			reason = "rejected by authority"
		}
		return s.rejectPending(ctx, trade, input.ActorID, reason, enums.AuditOutcomeSuccess)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "trade already "+string(trade.Status))
	}
}

// approveAndExecute reserves funds first and only then flips the request to
// approved. A request that cannot cover its amount stays pending with its
// original deadline so a deposit can still save it.
func (s *service) approveAndExecute(ctx context.Context, trade *models.TradeRequest, decidedBy string) (*models.TradeRequest, error) {
	txn, err := s.wallet.Reserve(ctx, wallet.ReserveInput{
		AccountID:   trade.AccountID,
		AmountCents: trade.AmountCents,
		Kind:        enums.TransactionKindTrade,
		Direction:   enums.DirectionDebit,
		Reference:   tradeReference(trade.ID),
		ActorID:     decidedBy,
	})
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeInsufficientBalance) {
			return s.requestFunding(ctx, trade, decidedBy)
		}
		return nil, err
	}

	now := s.now()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		won, err := repo.DecidePending(ctx, trade.ID, enums.TradeStatusApproved, decidedBy, "", now)
		if err != nil {
			return err
		}
		if !won {
			return errDecideRace
		}
		if err := repo.AttachReservation(ctx, trade.ID, txn.ID); err != nil {
			return err
		}
		_, err = s.audits.Record(ctx, tx, audit.Entry{
			ActorID:      decidedBy,
			Action:       "trading.approve",
			ResourceType: "trade_request",
			ResourceID:   &trade.ID,
			Outcome:      enums.AuditOutcomeSuccess,
			Metadata: map[string]any{
				"account_id":     trade.AccountID.String(),
				"amount_cents":   trade.AmountCents,
				"transaction_id": txn.ID.String(),
			},
		})
		return err
	})
	if err != nil {
		if errors.Is(err, errDecideRace) {
			// Another decider got here first. Release our reservation and
			// report the conflict.
			if _, settleErr := s.wallet.Settle(ctx, wallet.SettleInput{
				TransactionID: txn.ID,
				Outcome:       wallet.SettleOutcomeFailure,
				Reason:        "approval superseded",
				ActorID:       decidedBy,
			}); settleErr != nil {
				return nil, settleErr
			}
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "trade already decided")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "approve trade")
	}

	trade.Status = enums.TradeStatusApproved
	trade.TransactionID = &txn.ID
	trade.DecidedBy = &decidedBy
	trade.DecidedAt = &now

	return s.execute(ctx, trade, txn, decidedBy)
}

// requestFunding records the shortfall and asks for a deposit instead of
// rejecting the trade outright.
func (s *service) requestFunding(ctx context.Context, trade *models.TradeRequest, decidedBy string) (*models.TradeRequest, error) {
	shortfall := trade.AmountCents
	if snapshot, err := s.wallet.Balance(ctx, trade.AccountID); err == nil {
		shortfall = trade.AmountCents - snapshot.AvailableCents
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.audits.Record(ctx, tx, audit.Entry{
			ActorID:      decidedBy,
			Action:       "trading.approve",
			ResourceType: "trade_request",
			ResourceID:   &trade.ID,
			Outcome:      enums.AuditOutcomeDenied,
			Reason:       "insufficient available balance",
			Metadata: map[string]any{
				"account_id":      trade.AccountID.String(),
				"amount_cents":    trade.AmountCents,
				"shortfall_cents": shortfall,
			},
		}); err != nil {
			return err
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDepositRequested,
			AggregateType: enums.AggregateTradeRequest,
			AggregateID:   trade.ID,
			Data: payloads.DepositRequestedEvent{
				TradeID:        trade.ID,
				AccountID:      trade.AccountID,
				ShortfallCents: shortfall,
				Deadline:       trade.ExpiresAt,
			},
			OccurredAt: s.now(),
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "request funding")
	}
	return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient funds to execute trade")
}

// execute sends the reserved amount to the venue. Transport-level failures
// leave the reservation pending so reconciliation can resolve it once the
// venue answers again.
func (s *service) execute(ctx context.Context, trade *models.TradeRequest, txn *models.Transaction, decidedBy string) (*models.TradeRequest, error) {
	res, err := s.gate.Payout(ctx, gateway.PayoutRequest{
		Destination: venueDestination(trade.Symbol),
		AmountCents: trade.AmountCents,
		Currency:    string(trade.Currency),
		Reference:   txn.Reference,
	})
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeTimeout) || pkgerrors.HasCode(err, pkgerrors.CodeGatewayUnavailable) {
			return nil, err
		}
		return s.failExecution(ctx, trade, txn, decidedBy, reasonFromError(err))
	}
	if res.Status == gateway.StatusFailed {
		reason := res.Reason
		if reason == "" {
			reason = "venue rejected order"
		}
		return s.failExecution(ctx, trade, txn, decidedBy, reason)
	}

	return s.finishExecution(ctx, trade, txn, decidedBy)
}

func (s *service) finishExecution(ctx context.Context, trade *models.TradeRequest, txn *models.Transaction, decidedBy string) (*models.TradeRequest, error) {
	if _, err := s.wallet.Settle(ctx, wallet.SettleInput{
		TransactionID: txn.ID,
		Outcome:       wallet.SettleOutcomeSuccess,
		ActorID:       decidedBy,
	}); err != nil && !pkgerrors.HasCode(err, pkgerrors.CodeAlreadySettled) {
		return nil, err
	}

	executedAt := s.now()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		won, err := repo.MarkExecuted(ctx, trade.ID, executedAt)
		if err != nil {
			return err
		}
		if !won {
			return nil
		}
		if _, err := s.audits.Record(ctx, tx, audit.Entry{
			ActorID:      decidedBy,
			Action:       "trading.execute",
			ResourceType: "trade_request",
			ResourceID:   &trade.ID,
			Outcome:      enums.AuditOutcomeSuccess,
			Metadata: map[string]any{
				"account_id":     trade.AccountID.String(),
				"amount_cents":   trade.AmountCents,
				"transaction_id": txn.ID.String(),
			},
		}); err != nil {
			return err
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTradeExecuted,
			AggregateType: enums.AggregateTradeRequest,
			AggregateID:   trade.ID,
			Data: payloads.TradeExecutedEvent{
				TradeID:       trade.ID,
				AccountID:     trade.AccountID,
				TransactionID: txn.ID,
				Symbol:        trade.Symbol,
				Side:          trade.Side,
				AmountCents:   trade.AmountCents,
				DecidedBy:     decidedBy,
			},
			OccurredAt: executedAt,
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record execution")
	}
	return s.Get(ctx, trade.ID)
}

func (s *service) failExecution(ctx context.Context, trade *models.TradeRequest, txn *models.Transaction, decidedBy, reason string) (*models.TradeRequest, error) {
	if _, err := s.wallet.Settle(ctx, wallet.SettleInput{
		TransactionID: txn.ID,
		Outcome:       wallet.SettleOutcomeFailure,
		Reason:        reason,
		ActorID:       decidedBy,
	}); err != nil && !pkgerrors.HasCode(err, pkgerrors.CodeAlreadySettled) {
		return nil, err
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.MarkFailed(ctx, trade.ID, reason); err != nil {
			return err
		}
		_, err := s.audits.Record(ctx, tx, audit.Entry{
			ActorID:      decidedBy,
			Action:       "trading.execute",
			ResourceType: "trade_request",
			ResourceID:   &trade.ID,
			Outcome:      enums.AuditOutcomeFailure,
			Reason:       reason,
			Metadata: map[string]any{
				"account_id":     trade.AccountID.String(),
				"transaction_id": txn.ID.String(),
			},
		})
		return err
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record failed execution")
	}
	return s.Get(ctx, trade.ID)
}

// CompleteExecution resolves an approved trade whose venue answer arrived
// out of band, after reconciliation has already settled the reservation.
func (s *service) CompleteExecution(ctx context.Context, transactionID uuid.UUID, success bool, reason, actorID string) error {
	trade, err := s.repo.FindByTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup trade by transaction")
	}
	if trade.Status != enums.TradeStatusApproved {
		return nil
	}

	now := s.now()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var won bool
		var err error
		if success {
			won, err = repo.MarkExecuted(ctx, trade.ID, now)
		} else {
			won, err = repo.MarkFailed(ctx, trade.ID, reason)
		}
		if err != nil {
			return err
		}
		if !won {
			return nil
		}

		outcome := enums.AuditOutcomeSuccess
		if !success {
			outcome = enums.AuditOutcomeFailure
		}
		if _, err := s.audits.Record(ctx, tx, audit.Entry{
			ActorID:      actorID,
			Action:       "trading.execute",
			ResourceType: "trade_request",
			ResourceID:   &trade.ID,
			Outcome:      outcome,
			Reason:       reason,
			Metadata: map[string]any{
				"account_id":     trade.AccountID.String(),
				"transaction_id": transactionID.String(),
				"reconciled":     true,
			},
		}); err != nil {
			return err
		}
		if !success {
			return nil
		}

		decidedBy := actorID
		if trade.DecidedBy != nil {
			decidedBy = *trade.DecidedBy
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTradeExecuted,
			AggregateType: enums.AggregateTradeRequest,
			AggregateID:   trade.ID,
			Data: payloads.TradeExecutedEvent{
				TradeID:       trade.ID,
				AccountID:     trade.AccountID,
				TransactionID: transactionID,
				Symbol:        trade.Symbol,
				Side:          trade.Side,
				AmountCents:   trade.AmountCents,
				DecidedBy:     decidedBy,
			},
			OccurredAt: now,
		})
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete execution")
	}
	return nil
}

func (s *service) rejectPending(ctx context.Context, trade *models.TradeRequest, decidedBy, reason string, outcome enums.AuditOutcome) (*models.TradeRequest, error) {
	now := s.now()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		won, err := repo.DecidePending(ctx, trade.ID, enums.TradeStatusRejected, decidedBy, reason, now)
		if err != nil {
			return err
		}
		if !won {
			return errDecideRace
		}
		if _, err := s.audits.Record(ctx, tx, audit.Entry{
			ActorID:      decidedBy,
			Action:       "trading.reject",
			ResourceType: "trade_request",
			ResourceID:   &trade.ID,
			Outcome:      outcome,
			Reason:       reason,
			Metadata: map[string]any{
				"account_id": trade.AccountID.String(),
			},
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTradeRejected,
			AggregateType: enums.AggregateTradeRequest,
			AggregateID:   trade.ID,
			Data: payloads.TradeRejectedEvent{
				TradeID:   trade.ID,
				AccountID: trade.AccountID,
				Reason:    reason,
				DecidedBy: decidedBy,
			},
			OccurredAt: now,
		})
	})
	if err != nil {
		if errors.Is(err, errDecideRace) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "trade already decided")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reject trade")
	}
	return s.Get(ctx, trade.ID)
}

// ExpireStale rejects every pending request whose funding deadline has
// passed and reports how many it closed.
func (s *service) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	trades, err := s.repo.ListExpirable(ctx, now, expiryBatchSize)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expirable trades")
	}

	expired := 0
	for i := range trades {
		won, err := s.expireOne(ctx, &trades[i])
		if err != nil {
			return expired, err
		}
		if won {
			expired++
		}
	}
	return expired, nil
}

func (s *service) expireOne(ctx context.Context, trade *models.TradeRequest) (bool, error) {
	now := s.now()
	won := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		won, err = repo.DecidePending(ctx, trade.ID, enums.TradeStatusRejected, schedulerActor, expiryReason, now)
		if err != nil {
			return err
		}
		if !won {
			return nil
		}
		if _, err := s.audits.Record(ctx, tx, audit.Entry{
			ActorID:      schedulerActor,
			Action:       "trading.expire",
			ResourceType: "trade_request",
			ResourceID:   &trade.ID,
			Outcome:      enums.AuditOutcomeSuccess,
			Reason:       expiryReason,
			Metadata: map[string]any{
				"account_id": trade.AccountID.String(),
				"expires_at": trade.ExpiresAt,
			},
		}); err != nil {
			return err
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTradeExpired,
			AggregateType: enums.AggregateTradeRequest,
			AggregateID:   trade.ID,
			Data: payloads.TradeExpiredEvent{
				TradeID:   trade.ID,
				AccountID: trade.AccountID,
				ExpiredAt: now,
			},
			OccurredAt: now,
		})
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire trade")
	}
	return won, nil
}

// recordDenied audits a refused decision outside any transaction. A failure
// to write the trail outranks the refusal itself.
func (s *service) recordDenied(ctx context.Context, resourceType string, resourceID uuid.UUID, actorID, action, reason string) error {
	id := resourceID
	if _, err := s.audits.Record(ctx, nil, audit.Entry{
		ActorID:      actorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   &id,
		Outcome:      enums.AuditOutcomeDenied,
		Reason:       reason,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit event")
	}
	return nil
}

func reasonFromError(err error) string {
	var typed *pkgerrors.Error
	if errors.As(err, &typed) {
		return typed.Message()
	}
	return err.Error()
}
