package trading

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/vaultline/treasury-backend/internal/gateway"
	"github.com/vaultline/treasury-backend/internal/wallet"
	"github.com/vaultline/treasury-backend/pkg/enums"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
)

func TestSubmitDepositCollectsAndSettles(t *testing.T) {
	accountID := uuid.New()
	funds := fundedWallet(accountID, 0)
	fake := gateway.NewFake()
	svc, _, _, _ := newTestService(t, &stubTradeRepo{}, funds, fake)

	txn, err := svc.SubmitDeposit(context.Background(), DepositInput{
		AccountID:   accountID,
		AmountCents: 10_000,
		Source:      "mpesa:254700000001",
		ActorID:     "org-1",
	})
	if err != nil {
		t.Fatalf("expected settled deposit got %v", err)
	}
	if txn.Status != enums.TransactionStatusSettled {
		t.Fatalf("expected settled got %s", txn.Status)
	}

	if len(funds.reserved) != 1 {
		t.Fatalf("expected one reservation got %d", len(funds.reserved))
	}
	reservation := funds.reserved[0]
	if reservation.Direction != enums.DirectionCredit || reservation.Kind != enums.TransactionKindDeposit {
		t.Fatalf("unexpected reservation %+v", reservation)
	}
	if !strings.HasPrefix(reservation.Reference, "dep_") {
		t.Fatalf("unexpected reference %q", reservation.Reference)
	}
	if len(fake.Collects) != 1 || fake.Collects[0].Reference != reservation.Reference {
		t.Fatalf("rail must receive the wallet reference, got %+v", fake.Collects)
	}
	if len(funds.settled) != 1 || funds.settled[0].Outcome != wallet.SettleOutcomeSuccess {
		t.Fatalf("expected success settlement got %+v", funds.settled)
	}
}

func TestSubmitDepositBelowMinimum(t *testing.T) {
	accountID := uuid.New()
	funds := fundedWallet(accountID, 0)
	svc, _, _, _ := newTestService(t, &stubTradeRepo{}, funds, gateway.NewFake())

	_, err := svc.SubmitDeposit(context.Background(), DepositInput{
		AccountID:   accountID,
		AmountCents: 50,
		Source:      "mpesa:254700000001",
		ActorID:     "org-1",
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeBelowMinimumAmount) {
		t.Fatalf("expected below minimum got %v", err)
	}
	if len(funds.reserved) != 0 {
		t.Fatalf("expected no reservation got %+v", funds.reserved)
	}
}

func TestSubmitDepositAboveCeilingEscalates(t *testing.T) {
	accountID := uuid.New()
	funds := fundedWallet(accountID, 0)
	svc, _, _, audits := newTestService(t, &stubTradeRepo{}, funds, gateway.NewFake())

	_, err := svc.SubmitDeposit(context.Background(), DepositInput{
		AccountID:   accountID,
		AmountCents: 6_000_000,
		Source:      "mpesa:254700000001",
		ActorID:     "org-1",
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeAuthorityRequired) {
		t.Fatalf("expected authority required got %v", err)
	}
	if len(funds.reserved) != 0 {
		t.Fatalf("expected no reservation got %+v", funds.reserved)
	}
	denied := audits.findAction("trading.deposit")
	if denied == nil || denied.entry.Outcome != enums.AuditOutcomeDenied {
		t.Fatalf("expected denied deposit audit got %+v", denied)
	}
}

func TestSubmitDepositAuthorityBypassesCeiling(t *testing.T) {
	accountID := uuid.New()
	funds := fundedWallet(accountID, 0)
	fake := gateway.NewFake()
	svc, _, _, _ := newTestService(t, &stubTradeRepo{}, funds, fake)

	txn, err := svc.SubmitDeposit(context.Background(), DepositInput{
		AccountID:        accountID,
		AmountCents:      6_000_000,
		Source:           "bank:eq-001",
		ActorID:          "authority",
		ActorIsAuthority: true,
	})
	if err != nil {
		t.Fatalf("expected settled deposit got %v", err)
	}
	if txn.Status != enums.TransactionStatusSettled {
		t.Fatalf("expected settled got %s", txn.Status)
	}
}

func TestSubmitDepositRailPendingStaysPending(t *testing.T) {
	accountID := uuid.New()
	funds := fundedWallet(accountID, 0)
	fake := gateway.NewFake()
	fake.NextStatus = gateway.StatusPending
	svc, _, _, _ := newTestService(t, &stubTradeRepo{}, funds, fake)

	txn, err := svc.SubmitDeposit(context.Background(), DepositInput{
		AccountID:   accountID,
		AmountCents: 10_000,
		Source:      "mpesa:254700000001",
		ActorID:     "org-1",
	})
	if err != nil {
		t.Fatalf("expected pending deposit got %v", err)
	}
	if txn.Status != enums.TransactionStatusPending {
		t.Fatalf("expected pending got %s", txn.Status)
	}
	if len(funds.settled) != 0 {
		t.Fatalf("pending rail answer must not settle, got %+v", funds.settled)
	}
}

func TestSubmitDepositRailRejectionRecordsFailure(t *testing.T) {
	accountID := uuid.New()
	funds := fundedWallet(accountID, 0)
	fake := gateway.NewFake()
	fake.NextStatus = gateway.StatusFailed
	fake.NextReason = "source blocked"
	svc, _, _, _ := newTestService(t, &stubTradeRepo{}, funds, fake)

	txn, err := svc.SubmitDeposit(context.Background(), DepositInput{
		AccountID:   accountID,
		AmountCents: 10_000,
		Source:      "mpesa:254700000001",
		ActorID:     "org-1",
	})
	if err != nil {
		t.Fatalf("expected recorded failure got %v", err)
	}
	if txn.Status != enums.TransactionStatusFailed {
		t.Fatalf("expected failed got %s", txn.Status)
	}
	if len(funds.settled) != 1 || funds.settled[0].Reason != "source blocked" {
		t.Fatalf("expected failure reason from rail got %+v", funds.settled)
	}
}

func TestSubmitDepositOutageLeavesReservationForReconciliation(t *testing.T) {
	accountID := uuid.New()
	funds := fundedWallet(accountID, 0)
	fake := gateway.NewFake()
	fake.CollectErr = pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "rail unavailable")
	svc, _, _, _ := newTestService(t, &stubTradeRepo{}, funds, fake)

	_, err := svc.SubmitDeposit(context.Background(), DepositInput{
		AccountID:   accountID,
		AmountCents: 10_000,
		Source:      "mpesa:254700000001",
		ActorID:     "org-1",
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeGatewayUnavailable) {
		t.Fatalf("expected gateway unavailable got %v", err)
	}
	if len(funds.reserved) != 1 {
		t.Fatalf("expected reservation kept got %+v", funds.reserved)
	}
	if len(funds.settled) != 0 {
		t.Fatalf("ambiguous outcome must stay pending, got %+v", funds.settled)
	}
}

func TestSubmitWithdrawalRequiresAuthority(t *testing.T) {
	accountID := uuid.New()
	funds := fundedWallet(accountID, 50_000)
	svc, _, _, audits := newTestService(t, &stubTradeRepo{}, funds, gateway.NewFake())

	_, err := svc.SubmitWithdrawal(context.Background(), WithdrawalInput{
		AccountID:   accountID,
		AmountCents: 10_000,
		Destination: "mpesa:254700000001",
		ActorID:     "org-1",
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeAuthorityRequired) {
		t.Fatalf("expected authority required got %v", err)
	}
	if len(funds.reserved) != 0 {
		t.Fatalf("expected no reservation got %+v", funds.reserved)
	}
	denied := audits.findAction("trading.withdraw")
	if denied == nil || denied.entry.Outcome != enums.AuditOutcomeDenied {
		t.Fatalf("expected denied withdrawal audit got %+v", denied)
	}
}

func TestSubmitWithdrawalAuthorityPaysOut(t *testing.T) {
	accountID := uuid.New()
	funds := fundedWallet(accountID, 50_000)
	fake := gateway.NewFake()
	svc, _, _, _ := newTestService(t, &stubTradeRepo{}, funds, fake)

	txn, err := svc.SubmitWithdrawal(context.Background(), WithdrawalInput{
		AccountID:        accountID,
		AmountCents:      10_000,
		Destination:      "mpesa:254700000001",
		ActorID:          "authority",
		ActorIsAuthority: true,
	})
	if err != nil {
		t.Fatalf("expected settled withdrawal got %v", err)
	}
	if txn.Status != enums.TransactionStatusSettled {
		t.Fatalf("expected settled got %s", txn.Status)
	}

	reservation := funds.reserved[0]
	if reservation.Direction != enums.DirectionDebit || reservation.Kind != enums.TransactionKindWithdrawal {
		t.Fatalf("unexpected reservation %+v", reservation)
	}
	if !strings.HasPrefix(reservation.Reference, "wd_") {
		t.Fatalf("unexpected reference %q", reservation.Reference)
	}
	if len(fake.Payouts) != 1 || fake.Payouts[0].Destination != "mpesa:254700000001" {
		t.Fatalf("unexpected payout %+v", fake.Payouts)
	}
}

func TestSubmitWithdrawalInsufficientFunds(t *testing.T) {
	accountID := uuid.New()
	funds := fundedWallet(accountID, 1_000)
	funds.reserveErr = pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient available balance")
	fake := gateway.NewFake()
	svc, _, _, _ := newTestService(t, &stubTradeRepo{}, funds, fake)

	_, err := svc.SubmitWithdrawal(context.Background(), WithdrawalInput{
		AccountID:        accountID,
		AmountCents:      10_000,
		Destination:      "mpesa:254700000001",
		ActorID:          "authority",
		ActorIsAuthority: true,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeInsufficientBalance) {
		t.Fatalf("expected insufficient balance got %v", err)
	}
	if len(fake.Payouts) != 0 {
		t.Fatalf("no payout may leave without a reservation, got %+v", fake.Payouts)
	}
}
