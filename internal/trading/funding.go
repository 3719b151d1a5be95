package trading

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/vaultline/treasury-backend/internal/authority"
	"github.com/vaultline/treasury-backend/internal/gateway"
	"github.com/vaultline/treasury-backend/internal/wallet"
	"github.com/vaultline/treasury-backend/pkg/db/models"
	"github.com/vaultline/treasury-backend/pkg/enums"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
)

func newMovementReference(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

func (s *service) SubmitDeposit(ctx context.Context, input DepositInput) (*models.Transaction, error) {
	if input.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if strings.TrimSpace(input.Source) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "funding source is required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be positive")
	}
	if input.AmountCents < s.treasury.MinDepositCents {
		return nil, pkgerrors.New(pkgerrors.CodeBelowMinimumAmount, "deposit amount below minimum")
	}

	snapshot, err := s.wallet.Balance(ctx, input.AccountID)
	if err != nil {
		return nil, err
	}

	decision := s.policy.Decide(ctx, authority.Subject{
		Action:           authority.ActionDeposit,
		AmountCents:      input.AmountCents,
		ActorID:          input.ActorID,
		ActorIsAuthority: input.ActorIsAuthority,
	})
	if err := s.gateDecision(ctx, decision, input.AccountID, input.ActorID, "trading.deposit"); err != nil {
		return nil, err
	}

	txn, err := s.wallet.Reserve(ctx, wallet.ReserveInput{
		AccountID:   input.AccountID,
		AmountCents: input.AmountCents,
		Kind:        enums.TransactionKindDeposit,
		Direction:   enums.DirectionCredit,
		Reference:   newMovementReference("dep_"),
		ActorID:     input.ActorID,
	})
	if err != nil {
		return nil, err
	}

	res, err := s.gate.Collect(ctx, gateway.CollectRequest{
		Source:      input.Source,
		AmountCents: input.AmountCents,
		Currency:    string(snapshot.Currency),
		Reference:   txn.Reference,
	})
	return s.resolveMovement(ctx, txn, res, err, input.ActorID)
}

func (s *service) SubmitWithdrawal(ctx context.Context, input WithdrawalInput) (*models.Transaction, error) {
	if input.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if strings.TrimSpace(input.Destination) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "destination is required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be positive")
	}
	if input.AmountCents < s.treasury.MinWithdrawalCents {
		return nil, pkgerrors.New(pkgerrors.CodeBelowMinimumAmount, "withdrawal amount below minimum")
	}

	snapshot, err := s.wallet.Balance(ctx, input.AccountID)
	if err != nil {
		return nil, err
	}

	decision := s.policy.Decide(ctx, authority.Subject{
		Action:           authority.ActionWithdrawal,
		AmountCents:      input.AmountCents,
		ActorID:          input.ActorID,
		ActorIsAuthority: input.ActorIsAuthority,
	})
	if err := s.gateDecision(ctx, decision, input.AccountID, input.ActorID, "trading.withdraw"); err != nil {
		return nil, err
	}

	txn, err := s.wallet.Reserve(ctx, wallet.ReserveInput{
		AccountID:   input.AccountID,
		AmountCents: input.AmountCents,
		Kind:        enums.TransactionKindWithdrawal,
		Direction:   enums.DirectionDebit,
		Reference:   newMovementReference("wd_"),
		ActorID:     input.ActorID,
	})
	if err != nil {
		return nil, err
	}

	res, err := s.gate.Payout(ctx, gateway.PayoutRequest{
		Destination: input.Destination,
		AmountCents: input.AmountCents,
		Currency:    string(snapshot.Currency),
		Reference:   txn.Reference,
	})
	return s.resolveMovement(ctx, txn, res, err, input.ActorID)
}

// gateDecision turns a non-approving verdict into its audited error.
func (s *service) gateDecision(ctx context.Context, decision authority.Decision, accountID uuid.UUID, actorID, action string) error {
	switch decision.Verdict {
	case authority.VerdictAutoApproved:
		return nil
	case authority.VerdictDenied:
		if err := s.recordDenied(ctx, "account", accountID, actorID, action, decision.Reason); err != nil {
			return err
		}
		return pkgerrors.New(pkgerrors.CodeDenied, decision.Reason)
	default:
		if err := s.recordDenied(ctx, "account", accountID, actorID, action, decision.Reason); err != nil {
			return err
		}
		return pkgerrors.New(pkgerrors.CodeAuthorityRequired, decision.Reason)
	}
}

// resolveMovement settles a reservation according to the rail's answer.
// Ambiguous transport failures leave the row pending; reconciliation looks
// the reference up once the rail answers again.
func (s *service) resolveMovement(ctx context.Context, txn *models.Transaction, res *gateway.Result, gateErr error, actorID string) (*models.Transaction, error) {
	if gateErr != nil {
		if pkgerrors.HasCode(gateErr, pkgerrors.CodeTimeout) || pkgerrors.HasCode(gateErr, pkgerrors.CodeGatewayUnavailable) {
			return nil, gateErr
		}
		if _, err := s.wallet.Settle(ctx, wallet.SettleInput{
			TransactionID: txn.ID,
			Outcome:       wallet.SettleOutcomeFailure,
			Reason:        reasonFromError(gateErr),
			ActorID:       actorID,
		}); err != nil {
			return nil, err
		}
		return nil, gateErr
	}

	switch res.Status {
	case gateway.StatusSettled:
		return s.wallet.Settle(ctx, wallet.SettleInput{
			TransactionID: txn.ID,
			Outcome:       wallet.SettleOutcomeSuccess,
			ActorID:       actorID,
		})
	case gateway.StatusFailed:
		reason := res.Reason
		if reason == "" {
			reason = "rejected by rail"
		}
		return s.wallet.Settle(ctx, wallet.SettleInput{
			TransactionID: txn.ID,
			Outcome:       wallet.SettleOutcomeFailure,
			Reason:        reason,
			ActorID:       actorID,
		})
	default:
		return txn, nil
	}
}
