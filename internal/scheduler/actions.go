package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/vaultline/treasury-backend/internal/gateway"
	"github.com/vaultline/treasury-backend/internal/wallet"
	"github.com/vaultline/treasury-backend/pkg/config"
	"github.com/vaultline/treasury-backend/pkg/db/models"
	"github.com/vaultline/treasury-backend/pkg/enums"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
	"github.com/vaultline/treasury-backend/pkg/logger"
)

const (
	schedulerActor     = "scheduler"
	reconcileBatchSize = 50
)

type walletService interface {
	Balance(ctx context.Context, accountID uuid.UUID) (*wallet.BalanceSnapshot, error)
	Reserve(ctx context.Context, input wallet.ReserveInput) (*models.Transaction, error)
	Settle(ctx context.Context, input wallet.SettleInput) (*models.Transaction, error)
	ListStuckPending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error)
}

type tradingService interface {
	ExpireStale(ctx context.Context, now time.Time) (int, error)
	CompleteExecution(ctx context.Context, transactionID uuid.UUID, success bool, reason, actorID string) error
}

// runResult is what a job action reports back to the runner. TransactionID
// may be set even when the action also returns an error, so the run row can
// point at the money the action did move before failing.
type runResult struct {
	TransactionID *uuid.UUID
	Detail        string
}

// actionSet executes job actions through the same service APIs user-driven
// commands go through. It never writes ledger state directly.
type actionSet struct {
	wallet   walletService
	trading  tradingService
	gate     gateway.Gateway
	repo     Repository
	treasury config.TreasuryConfig
	sched    config.SchedulerConfig
	logg     *logger.Logger
	now      func() time.Time
}

func (a *actionSet) run(ctx context.Context, job *models.ScheduledJob, runKey string) (*runResult, error) {
	switch job.Action {
	case enums.JobActionProfitTransfer:
		return a.profitTransfer(ctx, job, runKey)
	case enums.JobActionTradeExpiry:
		return a.tradeExpiry(ctx)
	case enums.JobActionGatewayReconcile:
		return a.gatewayReconcile(ctx)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown job action %q", job.Action))
	}
}

// profitTransferParams live in the job's params column. Operator targets
// override the threshold and floor when set.
type profitTransferParams struct {
	AccountID      uuid.UUID `json:"account_id"`
	Destination    string    `json:"destination"`
	SweepFraction  string    `json:"sweep_fraction,omitempty"`
	ThresholdCents int64     `json:"threshold_cents,omitempty"`
	FloorCents     int64     `json:"floor_cents,omitempty"`
}

func (a *actionSet) profitTransfer(ctx context.Context, job *models.ScheduledJob, runKey string) (*runResult, error) {
	var params profitTransferParams
	if len(job.Params) > 0 {
		if err := json.Unmarshal(job.Params, &params); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse profit transfer params")
		}
	}
	if params.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "profit transfer params need an account id")
	}
	if strings.TrimSpace(params.Destination) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "profit transfer params need a destination")
	}

	threshold, err := a.targetAmount(ctx, enums.TargetKindProfitTransfer, params.ThresholdCents)
	if err != nil {
		return nil, err
	}
	if threshold <= 0 {
		return &runResult{Detail: "no sweep threshold configured"}, nil
	}
	floor, err := a.targetAmount(ctx, enums.TargetKindReserveFloor, params.FloorCents)
	if err != nil {
		return nil, err
	}

	balance, err := a.wallet.Balance(ctx, params.AccountID)
	if err != nil {
		return nil, err
	}
	if balance.AvailableCents <= threshold {
		return &runResult{
			Detail: fmt.Sprintf("available %d at or below threshold %d", balance.AvailableCents, threshold),
		}, nil
	}

	sweep, err := sweepAmount(balance.AvailableCents, floor, params.SweepFraction)
	if err != nil {
		return nil, err
	}
	if sweep <= 0 {
		return &runResult{Detail: "nothing above the retained floor"}, nil
	}

	txn, err := a.wallet.Reserve(ctx, wallet.ReserveInput{
		AccountID:   params.AccountID,
		AmountCents: sweep,
		Kind:        enums.TransactionKindTransfer,
		Direction:   enums.DirectionDebit,
		Reference:   newSweepReference(),
		RunKey:      &runKey,
		ActorID:     schedulerActor,
	})
	if err != nil {
		return nil, err
	}

	res, gateErr := a.gate.Payout(ctx, gateway.PayoutRequest{
		Destination: params.Destination,
		AmountCents: sweep,
		Currency:    string(a.treasury.Currency),
		Reference:   txn.Reference,
	})
	if gateErr != nil {
		if pkgerrors.HasCode(gateErr, pkgerrors.CodeTimeout) || pkgerrors.HasCode(gateErr, pkgerrors.CodeGatewayUnavailable) {
			// Rail answer unknown; leave the reservation for reconciliation.
			return &runResult{TransactionID: &txn.ID}, gateErr
		}
		if err := a.settleSweep(ctx, txn.ID, wallet.SettleOutcomeFailure, sweepFailureReason(gateErr)); err != nil {
			return &runResult{TransactionID: &txn.ID}, err
		}
		return &runResult{TransactionID: &txn.ID}, gateErr
	}

	switch res.Status {
	case gateway.StatusFailed:
		reason := res.Reason
		if reason == "" {
			reason = "rejected by rail"
		}
		if err := a.settleSweep(ctx, txn.ID, wallet.SettleOutcomeFailure, reason); err != nil {
			return &runResult{TransactionID: &txn.ID}, err
		}
		return &runResult{TransactionID: &txn.ID}, pkgerrors.New(pkgerrors.CodeDependency, "rail rejected sweep: "+reason)
	case gateway.StatusSettled:
		if err := a.settleSweep(ctx, txn.ID, wallet.SettleOutcomeSuccess, ""); err != nil {
			return &runResult{TransactionID: &txn.ID}, err
		}
		logCtx := a.logg.WithFields(ctx, map[string]any{
			"amount_cents": sweep,
			"destination":  params.Destination,
		})
		a.logg.Info(logCtx, "profit sweep settled")
		return &runResult{
			TransactionID: &txn.ID,
			Detail:        fmt.Sprintf("swept %d cents to %s", sweep, params.Destination),
		}, nil
	default:
		return &runResult{
			TransactionID: &txn.ID,
			Detail:        fmt.Sprintf("sweep of %d cents awaiting rail confirmation", sweep),
		}, nil
	}
}

func (a *actionSet) targetAmount(ctx context.Context, kind enums.TargetKind, fallback int64) (int64, error) {
	target, err := a.repo.FindTarget(ctx, kind)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fallback, nil
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load target")
	}
	return target.AmountCents, nil
}

func (a *actionSet) settleSweep(ctx context.Context, transactionID uuid.UUID, outcome wallet.SettleOutcome, reason string) error {
	_, err := a.wallet.Settle(ctx, wallet.SettleInput{
		TransactionID: transactionID,
		Outcome:       outcome,
		Reason:        reason,
		ActorID:       schedulerActor,
	})
	if err != nil && !pkgerrors.HasCode(err, pkgerrors.CodeAlreadySettled) {
		return err
	}
	return nil
}

// sweepAmount computes the cents to move: (available - floor) * fraction,
// rounded down so the sweep never overdraws by a partial cent.
func sweepAmount(availableCents, floorCents int64, fraction string) (int64, error) {
	excess := availableCents - floorCents
	if excess <= 0 {
		return 0, nil
	}
	multiplier := decimal.NewFromInt(1)
	if strings.TrimSpace(fraction) != "" {
		parsed, err := decimal.NewFromString(fraction)
		if err != nil {
			return 0, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse sweep fraction")
		}
		if !parsed.IsPositive() || parsed.GreaterThan(decimal.NewFromInt(1)) {
			return 0, pkgerrors.New(pkgerrors.CodeValidation, "sweep fraction must be in (0, 1]")
		}
		multiplier = parsed
	}
	return decimal.NewFromInt(excess).Mul(multiplier).Floor().IntPart(), nil
}

func (a *actionSet) tradeExpiry(ctx context.Context) (*runResult, error) {
	count, err := a.trading.ExpireStale(ctx, a.now())
	if err != nil {
		return nil, err
	}
	return &runResult{Detail: fmt.Sprintf("expired %d overdue trade requests", count)}, nil
}

func (a *actionSet) gatewayReconcile(ctx context.Context) (*runResult, error) {
	olderThan := a.now().Add(-a.sched.ReconcileAge)
	stuck, err := a.wallet.ListStuckPending(ctx, olderThan, reconcileBatchSize)
	if err != nil {
		return nil, err
	}
	if len(stuck) == 0 {
		return &runResult{Detail: "no stuck transactions"}, nil
	}

	var errs []error
	resolved := 0
	for _, txn := range stuck {
		settled, err := a.reconcileOne(ctx, txn)
		if err != nil {
			errs = append(errs, fmt.Errorf("transaction %s: %w", txn.ID, err))
			continue
		}
		if settled {
			resolved++
		}
	}

	logCtx := a.logg.WithFields(ctx, map[string]any{"resolved": resolved, "stuck": len(stuck)})
	a.logg.Info(logCtx, "gateway reconcile pass complete")

	result := &runResult{Detail: fmt.Sprintf("resolved %d of %d stuck transactions", resolved, len(stuck))}
	if err := multierr.Combine(errs...); err != nil {
		return result, err
	}
	return result, nil
}

func (a *actionSet) reconcileOne(ctx context.Context, txn models.Transaction) (bool, error) {
	res, err := a.gate.Lookup(ctx, txn.Reference)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			// The rail never saw this reference: the submitting process died
			// before the request went out, so the reservation can be released.
			return true, a.resolveStuck(ctx, txn, wallet.SettleOutcomeFailure, "no rail record for reference")
		}
		return false, err
	}

	switch res.Status {
	case gateway.StatusSettled:
		return true, a.resolveStuck(ctx, txn, wallet.SettleOutcomeSuccess, "")
	case gateway.StatusFailed:
		reason := res.Reason
		if reason == "" {
			reason = "rejected by rail"
		}
		return true, a.resolveStuck(ctx, txn, wallet.SettleOutcomeFailure, reason)
	default:
		// Still in flight on the rail side; try again next pass.
		return false, nil
	}
}

func (a *actionSet) resolveStuck(ctx context.Context, txn models.Transaction, outcome wallet.SettleOutcome, reason string) error {
	if err := a.settleSweep(ctx, txn.ID, outcome, reason); err != nil {
		return err
	}
	if txn.Kind == enums.TransactionKindTrade {
		return a.trading.CompleteExecution(ctx, txn.ID, outcome == wallet.SettleOutcomeSuccess, reason, schedulerActor)
	}
	return nil
}

func sweepFailureReason(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		return typed.Message()
	}
	return err.Error()
}

func newSweepReference() string {
	return "swp_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
