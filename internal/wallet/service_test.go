package wallet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vaultline/treasury-backend/internal/audit"
	"github.com/vaultline/treasury-backend/pkg/db/models"
	"github.com/vaultline/treasury-backend/pkg/enums"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
	"github.com/vaultline/treasury-backend/pkg/metrics"
	"github.com/vaultline/treasury-backend/pkg/outbox"
)

type balanceUpdate struct {
	available int64
	pending   int64
	locked    int64
}

type stubWalletRepo struct {
	account            *models.Account
	createdAccount     *models.Account
	createdTransaction *models.Transaction
	balances           []balanceUpdate

	findAccountByOwner func(ctx context.Context, ownerID, name string, currency enums.Currency) (*models.Account, error)
	findTransaction    func(ctx context.Context) (*models.Transaction, error)
	findByRunKey       func(ctx context.Context, runKey string) (*models.Transaction, error)
	settlePending      func(ctx context.Context) (bool, error)
	listTransactions   func(ctx context.Context, opts txListQuery) ([]models.Transaction, error)
}

func (s *stubWalletRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubWalletRepo) CreateAccount(ctx context.Context, account *models.Account) error {
	s.createdAccount = account
	return nil
}

func (s *stubWalletRepo) FindAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	if s.account == nil || s.account.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *s.account
	return &copied, nil
}

func (s *stubWalletRepo) FindAccountByOwner(ctx context.Context, ownerID, name string, currency enums.Currency) (*models.Account, error) {
	if s.findAccountByOwner != nil {
		return s.findAccountByOwner(ctx, ownerID, name, currency)
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubWalletRepo) UpdateBalances(ctx context.Context, id uuid.UUID, available, pending, locked int64) error {
	s.balances = append(s.balances, balanceUpdate{available: available, pending: pending, locked: locked})
	return nil
}

func (s *stubWalletRepo) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	s.createdTransaction = txn
	return nil
}

func (s *stubWalletRepo) FindTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	if s.findTransaction != nil {
		return s.findTransaction(ctx)
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubWalletRepo) FindActiveTransactionByRunKey(ctx context.Context, runKey string) (*models.Transaction, error) {
	if s.findByRunKey != nil {
		return s.findByRunKey(ctx, runKey)
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubWalletRepo) SettlePendingTransaction(ctx context.Context, id uuid.UUID, status enums.TransactionStatus, settledAt time.Time, failureReason *string) (bool, error) {
	if s.settlePending != nil {
		return s.settlePending(ctx)
	}
	return true, nil
}

func (s *stubWalletRepo) ListTransactions(ctx context.Context, opts txListQuery) ([]models.Transaction, error) {
	if s.listTransactions != nil {
		return s.listTransactions(ctx, opts)
	}
	return nil, nil
}

func (s *stubWalletRepo) ListStuckPending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error) {
	return nil, nil
}

type stubTxRunner struct {
	calls int
	err   error
}

func (s *stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	return fn(&gorm.DB{})
}

type stubOutboxPublisher struct {
	events []outbox.DomainEvent
}

func (s *stubOutboxPublisher) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	s.events = append(s.events, event)
	return nil
}

type recordedAudit struct {
	entry audit.Entry
	inTx  bool
}

type stubAuditRecorder struct {
	records []recordedAudit
	err     error
}

func (s *stubAuditRecorder) Record(ctx context.Context, tx *gorm.DB, entry audit.Entry) (*models.AuditEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.records = append(s.records, recordedAudit{entry: entry, inTx: tx != nil})
	return &models.AuditEvent{ID: uuid.New()}, nil
}

func newTestService(t *testing.T, repo Repository) (*service, *stubTxRunner, *stubOutboxPublisher, *stubAuditRecorder) {
	t.Helper()
	tx := &stubTxRunner{}
	events := &stubOutboxPublisher{}
	audits := &stubAuditRecorder{}
	svc, err := NewService(repo, tx, events, audits, metrics.NewWalletMetrics(nil))
	if err != nil {
		t.Fatalf("service constructor failed: %v", err)
	}
	return svc.(*service), tx, events, audits
}

func TestOpenValidatesInput(t *testing.T) {
	svc, _, _, _ := newTestService(t, &stubWalletRepo{})

	_, err := svc.Open(context.Background(), OpenInput{Name: "operating"})
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error got %v", err)
	}

	_, err = svc.Open(context.Background(), OpenInput{OwnerID: "org-1", Name: "operating", Currency: "XXX"})
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error got %v", err)
	}
}

func TestOpenReturnsExistingAccount(t *testing.T) {
	existing := &models.Account{ID: uuid.New(), OwnerID: "org-1", Name: "operating", Currency: enums.CurrencyKES}
	repo := &stubWalletRepo{
		findAccountByOwner: func(ctx context.Context, ownerID, name string, currency enums.Currency) (*models.Account, error) {
			return existing, nil
		},
	}
	svc, tx, _, _ := newTestService(t, repo)

	account, err := svc.Open(context.Background(), OpenInput{OwnerID: "org-1", Name: "operating", ActorID: "org-1"})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if account.ID != existing.ID {
		t.Fatalf("expected existing account got %s", account.ID)
	}
	if tx.calls != 0 {
		t.Fatalf("expected no transaction got %d", tx.calls)
	}
}

func TestOpenDefaultsCurrencyAndAudits(t *testing.T) {
	repo := &stubWalletRepo{}
	svc, _, _, audits := newTestService(t, repo)

	account, err := svc.Open(context.Background(), OpenInput{OwnerID: "org-1", Name: "operating", ActorID: "org-1"})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if account.Currency != enums.CurrencyKES {
		t.Fatalf("expected KES got %s", account.Currency)
	}
	if repo.createdAccount == nil || repo.createdAccount.ID == uuid.Nil {
		t.Fatal("expected account row with explicit id")
	}
	if len(audits.records) != 1 {
		t.Fatalf("expected one audit record got %d", len(audits.records))
	}
	record := audits.records[0]
	if record.entry.Action != "wallet.open" || record.entry.Outcome != enums.AuditOutcomeSuccess {
		t.Fatalf("unexpected audit entry %+v", record.entry)
	}
	if !record.inTx {
		t.Fatal("expected audit inside the transaction")
	}
}

func TestCreditRejectsNonPositiveAmount(t *testing.T) {
	svc, _, _, _ := newTestService(t, &stubWalletRepo{})

	_, err := svc.Credit(context.Background(), MovementInput{
		AccountID:   uuid.New(),
		AmountCents: 0,
		Kind:        enums.TransactionKindDeposit,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeInvalidAmount) {
		t.Fatalf("expected invalid amount got %v", err)
	}
}

func TestCreditSettlesImmediately(t *testing.T) {
	accountID := uuid.New()
	repo := &stubWalletRepo{
		account: &models.Account{ID: accountID, Currency: enums.CurrencyKES, AvailableCents: 1000},
	}
	svc, _, events, audits := newTestService(t, repo)

	txn, err := svc.Credit(context.Background(), MovementInput{
		AccountID:   accountID,
		AmountCents: 250,
		Kind:        enums.TransactionKindDeposit,
		Reference:   "dep-1",
		ActorID:     "org-1",
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if txn.Status != enums.TransactionStatusSettled || txn.SettledAt == nil {
		t.Fatalf("expected settled transaction got %+v", txn)
	}
	if len(repo.balances) != 1 || repo.balances[0].available != 1250 {
		t.Fatalf("unexpected balance updates %+v", repo.balances)
	}
	if len(events.events) != 1 || events.events[0].EventType != enums.EventTransactionSettled {
		t.Fatalf("expected transaction_settled event got %+v", events.events)
	}
	if len(audits.records) != 1 || audits.records[0].entry.Action != "wallet.credit" {
		t.Fatalf("unexpected audit records %+v", audits.records)
	}
}

func TestDebitInsufficientBalance(t *testing.T) {
	accountID := uuid.New()
	repo := &stubWalletRepo{
		account: &models.Account{ID: accountID, Currency: enums.CurrencyKES, AvailableCents: 500},
	}
	svc, tx, events, audits := newTestService(t, repo)

	_, err := svc.Debit(context.Background(), MovementInput{
		AccountID:   accountID,
		AmountCents: 700,
		Kind:        enums.TransactionKindWithdrawal,
		ActorID:     "org-1",
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeInsufficientBalance) {
		t.Fatalf("expected insufficient balance got %v", err)
	}
	if tx.calls != 0 {
		t.Fatalf("expected no mutation transaction got %d", tx.calls)
	}
	if len(events.events) != 0 {
		t.Fatalf("unexpected events %+v", events.events)
	}
	if len(audits.records) != 1 {
		t.Fatalf("expected one audit record got %d", len(audits.records))
	}
	record := audits.records[0]
	if record.entry.Outcome != enums.AuditOutcomeDenied || record.inTx {
		t.Fatalf("expected denied audit outside any transaction got %+v", record)
	}
}

func TestReserveDebitMovesAvailableIntoPending(t *testing.T) {
	accountID := uuid.New()
	repo := &stubWalletRepo{
		account: &models.Account{ID: accountID, Currency: enums.CurrencyKES, AvailableCents: 1000},
	}
	svc, _, _, _ := newTestService(t, repo)

	txn, err := svc.Reserve(context.Background(), ReserveInput{
		AccountID:   accountID,
		AmountCents: 700,
		Kind:        enums.TransactionKindTrade,
		Direction:   enums.DirectionDebit,
		Reference:   "trade-1",
		ActorID:     "org-1",
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if txn.Status != enums.TransactionStatusPending {
		t.Fatalf("expected pending got %s", txn.Status)
	}
	if len(repo.balances) != 1 {
		t.Fatalf("expected one balance update got %d", len(repo.balances))
	}
	if repo.balances[0].available != 300 || repo.balances[0].pending != 700 {
		t.Fatalf("unexpected buckets %+v", repo.balances[0])
	}
}

func TestReserveCreditOnlyRecordsRow(t *testing.T) {
	accountID := uuid.New()
	repo := &stubWalletRepo{
		account: &models.Account{ID: accountID, Currency: enums.CurrencyKES, AvailableCents: 100},
	}
	svc, _, _, _ := newTestService(t, repo)

	txn, err := svc.Reserve(context.Background(), ReserveInput{
		AccountID:   accountID,
		AmountCents: 400,
		Kind:        enums.TransactionKindDeposit,
		Direction:   enums.DirectionCredit,
		ActorID:     "org-1",
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if txn.Status != enums.TransactionStatusPending {
		t.Fatalf("expected pending got %s", txn.Status)
	}
	if len(repo.balances) != 0 {
		t.Fatalf("credit reservation must not touch buckets, got %+v", repo.balances)
	}
}

func TestReserveRunKeyReplay(t *testing.T) {
	accountID := uuid.New()
	runKey := "job-1:1700000000"
	repo := &stubWalletRepo{
		account: &models.Account{ID: accountID, AvailableCents: 1000},
		findByRunKey: func(ctx context.Context, key string) (*models.Transaction, error) {
			return &models.Transaction{ID: uuid.New(), RunKey: &key}, nil
		},
	}
	svc, tx, _, _ := newTestService(t, repo)

	_, err := svc.Reserve(context.Background(), ReserveInput{
		AccountID:   accountID,
		AmountCents: 100,
		Kind:        enums.TransactionKindTransfer,
		Direction:   enums.DirectionDebit,
		RunKey:      &runKey,
		ActorID:     "scheduler",
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeIdempotency) {
		t.Fatalf("expected idempotency error got %v", err)
	}
	if tx.calls != 0 {
		t.Fatalf("expected no transaction got %d", tx.calls)
	}
}

func TestReserveMapsRunKeyUniqueViolation(t *testing.T) {
	accountID := uuid.New()
	repo := &stubWalletRepo{
		account: &models.Account{ID: accountID, AvailableCents: 1000},
	}
	tx := &stubTxRunner{err: errors.New(`duplicate key value violates unique constraint "ux_transactions_run_key_active"`)}
	svc, err := NewService(repo, tx, &stubOutboxPublisher{}, &stubAuditRecorder{}, metrics.NewWalletMetrics(nil))
	if err != nil {
		t.Fatalf("service constructor failed: %v", err)
	}

	runKey := "job-1:1700000000"
	_, err = svc.Reserve(context.Background(), ReserveInput{
		AccountID:   accountID,
		AmountCents: 100,
		Kind:        enums.TransactionKindTransfer,
		Direction:   enums.DirectionDebit,
		RunKey:      &runKey,
		ActorID:     "scheduler",
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeIdempotency) {
		t.Fatalf("expected idempotency error got %v", err)
	}
}

func TestSettleSuccessDebitClearsPending(t *testing.T) {
	accountID := uuid.New()
	txnID := uuid.New()
	pendingTxn := &models.Transaction{
		ID:          txnID,
		AccountID:   accountID,
		Kind:        enums.TransactionKindWithdrawal,
		Direction:   enums.DirectionDebit,
		AmountCents: 700,
		Currency:    enums.CurrencyKES,
		Status:      enums.TransactionStatusPending,
	}
	repo := &stubWalletRepo{
		account: &models.Account{ID: accountID, Currency: enums.CurrencyKES, AvailableCents: 300, PendingCents: 700},
		findTransaction: func(ctx context.Context) (*models.Transaction, error) {
			copied := *pendingTxn
			return &copied, nil
		},
	}
	svc, _, events, _ := newTestService(t, repo)

	settled, err := svc.Settle(context.Background(), SettleInput{
		TransactionID: txnID,
		Outcome:       SettleOutcomeSuccess,
		ActorID:       "gateway",
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if settled.Status != enums.TransactionStatusSettled {
		t.Fatalf("expected settled got %s", settled.Status)
	}
	if len(repo.balances) != 1 || repo.balances[0].available != 300 || repo.balances[0].pending != 0 {
		t.Fatalf("unexpected buckets %+v", repo.balances)
	}
	if len(events.events) != 1 || events.events[0].EventType != enums.EventTransactionSettled {
		t.Fatalf("expected transaction_settled event got %+v", events.events)
	}
}

func TestSettleFailureDebitReleasesReservation(t *testing.T) {
	accountID := uuid.New()
	txnID := uuid.New()
	pendingTxn := &models.Transaction{
		ID:          txnID,
		AccountID:   accountID,
		Kind:        enums.TransactionKindWithdrawal,
		Direction:   enums.DirectionDebit,
		AmountCents: 700,
		Currency:    enums.CurrencyKES,
		Status:      enums.TransactionStatusPending,
	}
	repo := &stubWalletRepo{
		account: &models.Account{ID: accountID, Currency: enums.CurrencyKES, AvailableCents: 300, PendingCents: 700},
		findTransaction: func(ctx context.Context) (*models.Transaction, error) {
			copied := *pendingTxn
			return &copied, nil
		},
	}
	svc, _, events, _ := newTestService(t, repo)

	failed, err := svc.Settle(context.Background(), SettleInput{
		TransactionID: txnID,
		Outcome:       SettleOutcomeFailure,
		Reason:        "gateway declined",
		ActorID:       "gateway",
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if failed.Status != enums.TransactionStatusFailed {
		t.Fatalf("expected failed got %s", failed.Status)
	}
	if failed.FailureReason == nil || *failed.FailureReason != "gateway declined" {
		t.Fatalf("expected failure reason got %+v", failed.FailureReason)
	}
	if len(repo.balances) != 1 || repo.balances[0].available != 1000 || repo.balances[0].pending != 0 {
		t.Fatalf("expected reservation released got %+v", repo.balances)
	}
	if len(events.events) != 1 || events.events[0].EventType != enums.EventTransactionFailed {
		t.Fatalf("expected transaction_failed event got %+v", events.events)
	}
}

func TestSettleSuccessCreditAddsAvailable(t *testing.T) {
	accountID := uuid.New()
	txnID := uuid.New()
	repo := &stubWalletRepo{
		account: &models.Account{ID: accountID, Currency: enums.CurrencyKES, AvailableCents: 100},
		findTransaction: func(ctx context.Context) (*models.Transaction, error) {
			return &models.Transaction{
				ID:          txnID,
				AccountID:   accountID,
				Kind:        enums.TransactionKindDeposit,
				Direction:   enums.DirectionCredit,
				AmountCents: 400,
				Currency:    enums.CurrencyKES,
				Status:      enums.TransactionStatusPending,
			}, nil
		},
	}
	svc, _, _, _ := newTestService(t, repo)

	_, err := svc.Settle(context.Background(), SettleInput{
		TransactionID: txnID,
		Outcome:       SettleOutcomeSuccess,
		ActorID:       "gateway",
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if len(repo.balances) != 1 || repo.balances[0].available != 500 {
		t.Fatalf("expected credit applied got %+v", repo.balances)
	}
}

func TestSettleReplaySameOutcome(t *testing.T) {
	accountID := uuid.New()
	txnID := uuid.New()
	repo := &stubWalletRepo{
		account: &models.Account{ID: accountID},
		findTransaction: func(ctx context.Context) (*models.Transaction, error) {
			return &models.Transaction{
				ID:        txnID,
				AccountID: accountID,
				Direction: enums.DirectionDebit,
				Status:    enums.TransactionStatusSettled,
			}, nil
		},
	}
	svc, tx, events, audits := newTestService(t, repo)

	_, err := svc.Settle(context.Background(), SettleInput{
		TransactionID: txnID,
		Outcome:       SettleOutcomeSuccess,
		ActorID:       "gateway",
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeAlreadySettled) {
		t.Fatalf("expected already settled got %v", err)
	}
	if tx.calls != 0 || len(events.events) != 0 || len(audits.records) != 0 {
		t.Fatal("replay must not write anything")
	}
}

func TestSettleConflictDifferentOutcome(t *testing.T) {
	accountID := uuid.New()
	txnID := uuid.New()
	repo := &stubWalletRepo{
		account: &models.Account{ID: accountID},
		findTransaction: func(ctx context.Context) (*models.Transaction, error) {
			return &models.Transaction{
				ID:        txnID,
				AccountID: accountID,
				Direction: enums.DirectionDebit,
				Status:    enums.TransactionStatusSettled,
			}, nil
		},
	}
	svc, _, events, audits := newTestService(t, repo)

	_, err := svc.Settle(context.Background(), SettleInput{
		TransactionID: txnID,
		Outcome:       SettleOutcomeFailure,
		Reason:        "late reversal",
		ActorID:       "gateway",
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeSettlementConflict) {
		t.Fatalf("expected settlement conflict got %v", err)
	}
	if len(events.events) != 1 || events.events[0].EventType != enums.EventSettlementConflict {
		t.Fatalf("expected settlement_conflict event got %+v", events.events)
	}
	if len(audits.records) != 1 || audits.records[0].entry.Outcome != enums.AuditOutcomeDenied {
		t.Fatalf("expected denied audit got %+v", audits.records)
	}
}

func TestSettleLosingRacerSeesConflictSemantics(t *testing.T) {
	accountID := uuid.New()
	txnID := uuid.New()
	reads := 0
	repo := &stubWalletRepo{
		account: &models.Account{ID: accountID, PendingCents: 700},
		findTransaction: func(ctx context.Context) (*models.Transaction, error) {
			reads++
			status := enums.TransactionStatusPending
			if reads > 2 {
				status = enums.TransactionStatusSettled
			}
			return &models.Transaction{
				ID:          txnID,
				AccountID:   accountID,
				Direction:   enums.DirectionDebit,
				AmountCents: 700,
				Status:      status,
			}, nil
		},
		settlePending: func(ctx context.Context) (bool, error) {
			return false, nil
		},
	}
	svc, _, _, _ := newTestService(t, repo)

	_, err := svc.Settle(context.Background(), SettleInput{
		TransactionID: txnID,
		Outcome:       SettleOutcomeSuccess,
		ActorID:       "gateway",
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeAlreadySettled) {
		t.Fatalf("expected already settled after losing the race got %v", err)
	}
}

func TestLockMovesAvailableIntoLocked(t *testing.T) {
	accountID := uuid.New()
	repo := &stubWalletRepo{
		account: &models.Account{ID: accountID, AvailableCents: 1000, LockedCents: 50},
	}
	svc, _, _, audits := newTestService(t, repo)

	err := svc.Lock(context.Background(), HoldInput{
		AccountID:   accountID,
		AmountCents: 200,
		Reason:      "compliance review",
		ActorID:     "authority-1",
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if len(repo.balances) != 1 || repo.balances[0].available != 800 || repo.balances[0].locked != 250 {
		t.Fatalf("unexpected buckets %+v", repo.balances)
	}
	if len(audits.records) != 1 || audits.records[0].entry.Action != "wallet.lock" {
		t.Fatalf("unexpected audit records %+v", audits.records)
	}
}

func TestLockInsufficientAvailable(t *testing.T) {
	accountID := uuid.New()
	repo := &stubWalletRepo{
		account: &models.Account{ID: accountID, AvailableCents: 100},
	}
	svc, _, _, _ := newTestService(t, repo)

	err := svc.Lock(context.Background(), HoldInput{AccountID: accountID, AmountCents: 200, ActorID: "authority-1"})
	if !pkgerrors.HasCode(err, pkgerrors.CodeInsufficientBalance) {
		t.Fatalf("expected insufficient balance got %v", err)
	}
}

func TestUnlockExceedingLockedIsStateConflict(t *testing.T) {
	accountID := uuid.New()
	repo := &stubWalletRepo{
		account: &models.Account{ID: accountID, AvailableCents: 100, LockedCents: 50},
	}
	svc, _, _, _ := newTestService(t, repo)

	err := svc.Unlock(context.Background(), HoldInput{AccountID: accountID, AmountCents: 200, ActorID: "authority-1"})
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict got %v", err)
	}
}

func TestUnlockReturnsFunds(t *testing.T) {
	accountID := uuid.New()
	repo := &stubWalletRepo{
		account: &models.Account{ID: accountID, AvailableCents: 100, LockedCents: 300},
	}
	svc, _, _, _ := newTestService(t, repo)

	err := svc.Unlock(context.Background(), HoldInput{AccountID: accountID, AmountCents: 300, ActorID: "authority-1"})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if len(repo.balances) != 1 || repo.balances[0].available != 400 || repo.balances[0].locked != 0 {
		t.Fatalf("unexpected buckets %+v", repo.balances)
	}
}

func TestListTransactionsRejectsBadCursor(t *testing.T) {
	svc, _, _, _ := newTestService(t, &stubWalletRepo{})

	params := ListTransactionsParams{AccountID: uuid.New()}
	params.Cursor = "not-a-cursor"
	_, err := svc.ListTransactions(context.Background(), params)
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error got %v", err)
	}
}
