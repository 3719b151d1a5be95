package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vaultline/treasury-backend/internal/audit"
	dbpkg "github.com/vaultline/treasury-backend/pkg/db"
	"github.com/vaultline/treasury-backend/pkg/db/models"
	"github.com/vaultline/treasury-backend/pkg/enums"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
	"github.com/vaultline/treasury-backend/pkg/outbox"
	"github.com/vaultline/treasury-backend/pkg/outbox/payloads"
)

// errSettleRace signals that the status-guarded update matched no rows, so
// another settle finished the transaction between our read and our write.
var errSettleRace = errors.New("transaction settled concurrently")

func (s *service) Credit(ctx context.Context, input MovementInput) (*models.Transaction, error) {
	return s.applyImmediate(ctx, input, enums.DirectionCredit, "wallet.credit")
}

func (s *service) Debit(ctx context.Context, input MovementInput) (*models.Transaction, error) {
	return s.applyImmediate(ctx, input, enums.DirectionDebit, "wallet.debit")
}

// applyImmediate settles a movement in one step: the balance moves and the
// transaction row is written as settled inside the same database transaction.
func (s *service) applyImmediate(ctx context.Context, input MovementInput, direction enums.TransactionDirection, action string) (*models.Transaction, error) {
	if err := validateMovement(input.AccountID, input.AmountCents, input.Kind); err != nil {
		return nil, err
	}

	release := s.locks.Acquire(input.AccountID)
	defer release()

	account, err := s.repo.FindAccount(ctx, input.AccountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup account")
	}

	if direction == enums.DirectionDebit && input.AmountCents > account.AvailableCents {
		s.metrics.IncSettlement(string(input.Kind), "insufficient_balance")
		return nil, s.recordDenied(ctx, input.ActorID, action, &account.ID, "insufficient available balance", map[string]any{
			"amount_cents":    input.AmountCents,
			"available_cents": account.AvailableCents,
		})
	}

	now := s.now().UTC()
	available := account.AvailableCents + direction.Sign()*input.AmountCents
	txn := &models.Transaction{
		ID:          uuid.New(),
		AccountID:   account.ID,
		Kind:        input.Kind,
		Direction:   direction,
		AmountCents: input.AmountCents,
		Currency:    account.Currency,
		Status:      enums.TransactionStatusSettled,
		Reference:   input.Reference,
		SettledAt:   &now,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.UpdateBalances(ctx, account.ID, available, account.PendingCents, account.LockedCents); err != nil {
			return err
		}
		if err := repo.CreateTransaction(ctx, txn); err != nil {
			return err
		}
		if _, err := s.audits.Record(ctx, tx, audit.Entry{
			ActorID:      input.ActorID,
			Action:       action,
			ResourceType: "transaction",
			ResourceID:   &txn.ID,
			Outcome:      enums.AuditOutcomeSuccess,
			Metadata: map[string]any{
				"account_id":   account.ID.String(),
				"amount_cents": input.AmountCents,
				"kind":         string(input.Kind),
			},
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTransactionSettled,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Version:       1,
			Data: payloads.TransactionSettledEvent{
				TransactionID: txn.ID,
				AccountID:     account.ID,
				Kind:          txn.Kind,
				Direction:     txn.Direction,
				AmountCents:   txn.AmountCents,
				Currency:      txn.Currency,
				SettledAt:     now,
			},
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("apply %s", direction))
	}

	s.metrics.IncSettlement(string(input.Kind), "settled")
	return txn, nil
}

func (s *service) Reserve(ctx context.Context, input ReserveInput) (*models.Transaction, error) {
	if err := validateMovement(input.AccountID, input.AmountCents, input.Kind); err != nil {
		return nil, err
	}
	if !input.Direction.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid direction")
	}
	if input.RunKey != nil && *input.RunKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "run key must not be empty")
	}

	if input.RunKey != nil {
		if _, err := s.repo.FindActiveTransactionByRunKey(ctx, *input.RunKey); err == nil {
			return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "run key already recorded")
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup run key")
		}
	}

	release := s.locks.Acquire(input.AccountID)
	defer release()

	account, err := s.repo.FindAccount(ctx, input.AccountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup account")
	}

	available := account.AvailableCents
	pending := account.PendingCents
	if input.Direction == enums.DirectionDebit {
		if input.AmountCents > available {
			s.metrics.IncReservation(string(input.Kind), "insufficient_balance")
			return nil, s.recordDenied(ctx, input.ActorID, "wallet.reserve", &account.ID, "insufficient available balance", map[string]any{
				"amount_cents":    input.AmountCents,
				"available_cents": available,
			})
		}
		available -= input.AmountCents
		pending += input.AmountCents
	}

	txn := &models.Transaction{
		ID:          uuid.New(),
		AccountID:   account.ID,
		Kind:        input.Kind,
		Direction:   input.Direction,
		AmountCents: input.AmountCents,
		Currency:    account.Currency,
		Status:      enums.TransactionStatusPending,
		Reference:   input.Reference,
		RunKey:      input.RunKey,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if input.Direction == enums.DirectionDebit {
			if err := repo.UpdateBalances(ctx, account.ID, available, pending, account.LockedCents); err != nil {
				return err
			}
		}
		if err := repo.CreateTransaction(ctx, txn); err != nil {
			return err
		}
		_, err := s.audits.Record(ctx, tx, audit.Entry{
			ActorID:      input.ActorID,
			Action:       "wallet.reserve",
			ResourceType: "transaction",
			ResourceID:   &txn.ID,
			Outcome:      enums.AuditOutcomeSuccess,
			Metadata: map[string]any{
				"account_id":   account.ID.String(),
				"amount_cents": input.AmountCents,
				"kind":         string(input.Kind),
				"direction":    string(input.Direction),
			},
		})
		return err
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_transactions_run_key_active") {
			return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "run key already recorded")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve funds")
	}

	s.metrics.IncReservation(string(input.Kind), "reserved")
	return txn, nil
}

func (s *service) Settle(ctx context.Context, input SettleInput) (*models.Transaction, error) {
	if input.TransactionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	if !input.Outcome.valid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid settle outcome")
	}

	txn, err := s.repo.FindTransaction(ctx, input.TransactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup transaction")
	}

	release := s.locks.Acquire(txn.AccountID)
	defer release()

	// Re-read under the account lock; the first read raced other settles.
	txn, err = s.repo.FindTransaction(ctx, input.TransactionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup transaction")
	}
	if txn.Status.IsTerminal() {
		return nil, s.settleConflict(ctx, txn, input)
	}

	settled, err := s.applySettle(ctx, txn, input)
	if err != nil {
		if errors.Is(err, errSettleRace) {
			txn, readErr := s.repo.FindTransaction(ctx, input.TransactionID)
			if readErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, readErr, "lookup transaction")
			}
			return nil, s.settleConflict(ctx, txn, input)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle transaction")
	}

	outcome := "settled"
	if input.Outcome == SettleOutcomeFailure {
		outcome = "failed"
	}
	s.metrics.IncSettlement(string(settled.Kind), outcome)
	return settled, nil
}

// applySettle flips the pending row to its terminal status and moves the
// buckets. The status guard in the update makes the first settle win; losing
// racers get errSettleRace and re-evaluate against the committed row.
func (s *service) applySettle(ctx context.Context, txn *models.Transaction, input SettleInput) (*models.Transaction, error) {
	account, err := s.repo.FindAccount(ctx, txn.AccountID)
	if err != nil {
		return nil, err
	}

	available := account.AvailableCents
	pending := account.PendingCents
	if txn.Direction == enums.DirectionDebit {
		pending -= txn.AmountCents
		if input.Outcome == SettleOutcomeFailure {
			available += txn.AmountCents
		}
	} else if input.Outcome == SettleOutcomeSuccess {
		available += txn.AmountCents
	}

	now := s.now().UTC()
	status := input.Outcome.status()
	var failureReason *string
	if input.Outcome == SettleOutcomeFailure && input.Reason != "" {
		reason := input.Reason
		failureReason = &reason
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		won, err := repo.SettlePendingTransaction(ctx, txn.ID, status, now, failureReason)
		if err != nil {
			return err
		}
		if !won {
			return errSettleRace
		}
		if err := repo.UpdateBalances(ctx, account.ID, available, pending, account.LockedCents); err != nil {
			return err
		}
		if _, err := s.audits.Record(ctx, tx, audit.Entry{
			ActorID:      input.ActorID,
			Action:       "wallet.settle",
			ResourceType: "transaction",
			ResourceID:   &txn.ID,
			Outcome:      enums.AuditOutcomeSuccess,
			Metadata: map[string]any{
				"account_id":   account.ID.String(),
				"amount_cents": txn.AmountCents,
				"outcome":      string(input.Outcome),
				"reason":       input.Reason,
			},
		}); err != nil {
			return err
		}
		if input.Outcome == SettleOutcomeSuccess {
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventTransactionSettled,
				AggregateType: enums.AggregateTransaction,
				AggregateID:   txn.ID,
				Version:       1,
				Data: payloads.TransactionSettledEvent{
					TransactionID: txn.ID,
					AccountID:     account.ID,
					Kind:          txn.Kind,
					Direction:     txn.Direction,
					AmountCents:   txn.AmountCents,
					Currency:      txn.Currency,
					RunKey:        txn.RunKey,
					SettledAt:     now,
				},
			})
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTransactionFailed,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Version:       1,
			Data: payloads.TransactionFailedEvent{
				TransactionID: txn.ID,
				AccountID:     account.ID,
				Kind:          txn.Kind,
				AmountCents:   txn.AmountCents,
				Reason:        input.Reason,
				FailedAt:      now,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	txn.Status = status
	txn.SettledAt = &now
	txn.FailureReason = failureReason
	return txn, nil
}

// settleConflict resolves a settle attempt against a terminal row. Replaying
// the same outcome is harmless; asking for the opposite outcome is reported
// and refused.
func (s *service) settleConflict(ctx context.Context, txn *models.Transaction, input SettleInput) error {
	if txn.Status == input.Outcome.status() {
		return pkgerrors.New(pkgerrors.CodeAlreadySettled, "transaction already settled with this outcome")
	}

	s.metrics.IncConflict()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.audits.Record(ctx, tx, audit.Entry{
			ActorID:      input.ActorID,
			Action:       "wallet.settle",
			ResourceType: "transaction",
			ResourceID:   &txn.ID,
			Outcome:      enums.AuditOutcomeDenied,
			Reason:       "settlement conflict",
			Metadata: map[string]any{
				"current_status":    string(txn.Status),
				"attempted_outcome": string(input.Outcome),
			},
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSettlementConflict,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Version:       1,
			Data: payloads.SettlementConflictEvent{
				TransactionID:    txn.ID,
				AccountID:        txn.AccountID,
				CurrentStatus:    txn.Status,
				AttemptedOutcome: string(input.Outcome),
			},
		})
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record settlement conflict")
	}
	return pkgerrors.New(pkgerrors.CodeSettlementConflict, "transaction already settled with a different outcome")
}

func (s *service) Lock(ctx context.Context, input HoldInput) error {
	return s.applyHold(ctx, input, "wallet.lock")
}

func (s *service) Unlock(ctx context.Context, input HoldInput) error {
	return s.applyHold(ctx, input, "wallet.unlock")
}

func (s *service) applyHold(ctx context.Context, input HoldInput, action string) error {
	if input.AccountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	if input.AmountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be positive")
	}

	release := s.locks.Acquire(input.AccountID)
	defer release()

	account, err := s.repo.FindAccount(ctx, input.AccountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup account")
	}

	available := account.AvailableCents
	locked := account.LockedCents
	if action == "wallet.lock" {
		if input.AmountCents > available {
			return s.recordDenied(ctx, input.ActorID, action, &account.ID, "insufficient available balance", map[string]any{
				"amount_cents":    input.AmountCents,
				"available_cents": available,
			})
		}
		available -= input.AmountCents
		locked += input.AmountCents
	} else {
		if input.AmountCents > locked {
			return s.recordDenied(ctx, input.ActorID, action, &account.ID, "unlock exceeds locked balance", map[string]any{
				"amount_cents": input.AmountCents,
				"locked_cents": locked,
			})
		}
		locked -= input.AmountCents
		available += input.AmountCents
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.UpdateBalances(ctx, account.ID, available, account.PendingCents, locked); err != nil {
			return err
		}
		_, err := s.audits.Record(ctx, tx, audit.Entry{
			ActorID:      input.ActorID,
			Action:       action,
			ResourceType: "account",
			ResourceID:   &account.ID,
			Outcome:      enums.AuditOutcomeSuccess,
			Metadata: map[string]any{
				"amount_cents": input.AmountCents,
				"reason":       input.Reason,
			},
		})
		return err
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update hold")
	}
	return nil
}

// recordDenied audits a refused operation outside any transaction so the
// trail survives the rollback, then returns the matching typed error. A
// failed audit write outranks the denial itself.
func (s *service) recordDenied(ctx context.Context, actorID, action string, resourceID *uuid.UUID, reason string, metadata map[string]any) error {
	if _, err := s.audits.Record(ctx, nil, audit.Entry{
		ActorID:      actorID,
		Action:       action,
		ResourceType: resourceTypeFor(action),
		ResourceID:   resourceID,
		Outcome:      enums.AuditOutcomeDenied,
		Reason:       reason,
		Metadata:     metadata,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record denied attempt")
	}
	switch reason {
	case "unlock exceeds locked balance":
		return pkgerrors.New(pkgerrors.CodeStateConflict, reason)
	default:
		return pkgerrors.New(pkgerrors.CodeInsufficientBalance, reason)
	}
}

func resourceTypeFor(action string) string {
	switch action {
	case "wallet.lock", "wallet.unlock", "wallet.open":
		return "account"
	default:
		return "transaction"
	}
}

func validateMovement(accountID uuid.UUID, amountCents int64, kind enums.TransactionKind) error {
	if accountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	if amountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be positive")
	}
	if !kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid transaction kind")
	}
	return nil
}
