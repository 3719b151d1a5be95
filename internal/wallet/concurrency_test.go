package wallet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/vaultline/treasury-backend/pkg/db/models"
	"github.com/vaultline/treasury-backend/pkg/enums"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
	"github.com/vaultline/treasury-backend/pkg/metrics"
)

type sqliteTxRunner struct {
	db *gorm.DB
}

func (r sqliteTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func newSQLiteService(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	svc, err := NewService(NewRepository(db), sqliteTxRunner{db: db}, &stubOutboxPublisher{}, &stubAuditRecorder{}, metrics.NewWalletMetrics(nil))
	require.NoError(t, err)
	return svc
}

func TestConcurrentDebitsLeaveExactlyOneWinner(t *testing.T) {
	db := setupWalletTestDB(t)
	svc := newSQLiteService(t, db)
	ctx := context.Background()

	account := insertTestAccount(t, db, 1000)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, errs[slot] = svc.Debit(ctx, MovementInput{
				AccountID:   account.ID,
				AmountCents: 700,
				Kind:        enums.TransactionKindWithdrawal,
				ActorID:     "org-1",
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	insufficient := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case pkgerrors.HasCode(err, pkgerrors.CodeInsufficientBalance):
			insufficient++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	require.Equal(t, 1, succeeded, "exactly one debit must win")
	require.Equal(t, 1, insufficient, "the loser must be refused")

	snapshot, err := svc.Balance(ctx, account.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 300, snapshot.AvailableCents)
	assert.EqualValues(t, 0, snapshot.PendingCents)
	assert.EqualValues(t, 0, snapshot.LockedCents)

	var count int64
	require.NoError(t, db.Model(&models.Transaction{}).Where("account_id = ?", account.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestConcurrentSettlesAgreeOnOneOutcome(t *testing.T) {
	db := setupWalletTestDB(t)
	svc := newSQLiteService(t, db)
	ctx := context.Background()

	account := insertTestAccount(t, db, 1000)
	reserved, err := svc.Reserve(ctx, ReserveInput{
		AccountID:   account.ID,
		AmountCents: 400,
		Kind:        enums.TransactionKindWithdrawal,
		Direction:   enums.DirectionDebit,
		Reference:   "gw-1",
		ActorID:     "org-1",
	})
	require.NoError(t, err)

	outcomes := []SettleOutcome{SettleOutcomeSuccess, SettleOutcomeFailure}
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range outcomes {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, errs[slot] = svc.Settle(ctx, SettleInput{
				TransactionID: reserved.ID,
				Outcome:       outcomes[slot],
				Reason:        "reconcile",
				ActorID:       "gateway",
			})
		}(i)
	}
	wg.Wait()

	var winner *SettleOutcome
	conflicts := 0
	for i, err := range errs {
		switch {
		case err == nil:
			require.Nil(t, winner, "two settles cannot both win")
			winner = &outcomes[i]
		case pkgerrors.HasCode(err, pkgerrors.CodeSettlementConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	require.NotNil(t, winner)
	require.Equal(t, 1, conflicts)

	snapshot, err := svc.Balance(ctx, account.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, snapshot.PendingCents)
	if *winner == SettleOutcomeSuccess {
		assert.EqualValues(t, 600, snapshot.AvailableCents)
	} else {
		assert.EqualValues(t, 1000, snapshot.AvailableCents)
	}
}

func TestSettleReplayAfterSuccessIsIdempotent(t *testing.T) {
	db := setupWalletTestDB(t)
	svc := newSQLiteService(t, db)
	ctx := context.Background()

	account := insertTestAccount(t, db, 1000)
	reserved, err := svc.Reserve(ctx, ReserveInput{
		AccountID:   account.ID,
		AmountCents: 400,
		Kind:        enums.TransactionKindWithdrawal,
		Direction:   enums.DirectionDebit,
		ActorID:     "org-1",
	})
	require.NoError(t, err)

	_, err = svc.Settle(ctx, SettleInput{TransactionID: reserved.ID, Outcome: SettleOutcomeSuccess, ActorID: "gateway"})
	require.NoError(t, err)

	_, err = svc.Settle(ctx, SettleInput{TransactionID: reserved.ID, Outcome: SettleOutcomeSuccess, ActorID: "gateway"})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeAlreadySettled))

	snapshot, err := svc.Balance(ctx, account.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 600, snapshot.AvailableCents)
	assert.EqualValues(t, 0, snapshot.PendingCents)
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	locks := newKeyedMutex()
	key := uuid.New()

	release := locks.Acquire(key)

	acquired := make(chan struct{})
	go func() {
		inner := locks.Acquire(key)
		close(acquired)
		inner()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire must block while the key is held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never proceeded after release")
	}
}

func TestKeyedMutexAllowsDistinctKeysInParallel(t *testing.T) {
	locks := newKeyedMutex()

	releaseA := locks.Acquire(uuid.New())
	defer releaseA()

	acquired := make(chan struct{})
	go func() {
		releaseB := locks.Acquire(uuid.New())
		close(acquired)
		releaseB()
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("distinct keys must not block each other")
	}
}
