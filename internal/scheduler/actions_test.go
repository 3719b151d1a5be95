package scheduler

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vaultline/treasury-backend/internal/gateway"
	"github.com/vaultline/treasury-backend/internal/wallet"
	"github.com/vaultline/treasury-backend/pkg/config"
	"github.com/vaultline/treasury-backend/pkg/db/models"
	"github.com/vaultline/treasury-backend/pkg/enums"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
	"github.com/vaultline/treasury-backend/pkg/logger"
)

type stubWallet struct {
	balance    *wallet.BalanceSnapshot
	balanceErr error
	reserveErr error
	settleErr  error
	stuck      []models.Transaction
	stuckErr   error

	reserved []wallet.ReserveInput
	settled  []wallet.SettleInput
}

func (s *stubWallet) Balance(ctx context.Context, accountID uuid.UUID) (*wallet.BalanceSnapshot, error) {
	if s.balanceErr != nil {
		return nil, s.balanceErr
	}
	return s.balance, nil
}

func (s *stubWallet) Reserve(ctx context.Context, input wallet.ReserveInput) (*models.Transaction, error) {
	if s.reserveErr != nil {
		return nil, s.reserveErr
	}
	s.reserved = append(s.reserved, input)
	return &models.Transaction{
		ID:          uuid.New(),
		AccountID:   input.AccountID,
		Kind:        input.Kind,
		Direction:   input.Direction,
		AmountCents: input.AmountCents,
		Status:      enums.TransactionStatusPending,
		Reference:   input.Reference,
		RunKey:      input.RunKey,
	}, nil
}

func (s *stubWallet) Settle(ctx context.Context, input wallet.SettleInput) (*models.Transaction, error) {
	if s.settleErr != nil {
		return nil, s.settleErr
	}
	s.settled = append(s.settled, input)
	return &models.Transaction{ID: input.TransactionID}, nil
}

func (s *stubWallet) ListStuckPending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error) {
	if s.stuckErr != nil {
		return nil, s.stuckErr
	}
	return s.stuck, nil
}

type completedExecution struct {
	TransactionID uuid.UUID
	Success       bool
	Reason        string
	ActorID       string
}

type stubTrading struct {
	expired     int
	expireErr   error
	completeErr error
	// block makes ExpireStale hang until the context is canceled.
	block bool

	completed []completedExecution
}

func (s *stubTrading) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	if s.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if s.expireErr != nil {
		return 0, s.expireErr
	}
	return s.expired, nil
}

func (s *stubTrading) CompleteExecution(ctx context.Context, transactionID uuid.UUID, success bool, reason, actorID string) error {
	if s.completeErr != nil {
		return s.completeErr
	}
	s.completed = append(s.completed, completedExecution{
		TransactionID: transactionID,
		Success:       success,
		Reason:        reason,
		ActorID:       actorID,
	})
	return nil
}

type advanceCall struct {
	ID         uuid.UUID
	NextRunAt  time.Time
	MarkReview bool
}

type runStateCall struct {
	ID     uuid.UUID
	Status enums.JobRunStatus
	Error  *string
}

// stubRepo keeps jobs, runs and targets in memory. Shared with the runner
// tests in this package.
type stubRepo struct {
	jobs          []models.ScheduledJob
	runs          []models.JobRun
	targets       map[enums.TargetKind]models.Target
	findTargetErr error

	advanced  []advanceCall
	flagged   []string
	runStates []runStateCall
}

func (s *stubRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubRepo) FindJob(ctx context.Context, id uuid.UUID) (*models.ScheduledJob, error) {
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			job := s.jobs[i]
			return &job, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubRepo) ListJobs(ctx context.Context) ([]models.ScheduledJob, error) {
	return append([]models.ScheduledJob(nil), s.jobs...), nil
}

func (s *stubRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]models.ScheduledJob, error) {
	var due []models.ScheduledJob
	for _, job := range s.jobs {
		if job.Enabled && job.NextRunAt != nil && !job.NextRunAt.After(now) {
			due = append(due, job)
		}
	}
	return due, nil
}

func (s *stubRepo) ListUnscheduled(ctx context.Context, limit int) ([]models.ScheduledJob, error) {
	var jobs []models.ScheduledJob
	for _, job := range s.jobs {
		if job.Enabled && job.NextRunAt == nil && !job.RequiresReview {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

func (s *stubRepo) RecordRunState(ctx context.Context, id uuid.UUID, lastRunAt time.Time, status enums.JobRunStatus, lastError *string) error {
	s.runStates = append(s.runStates, runStateCall{ID: id, Status: status, Error: lastError})
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			at := lastRunAt
			st := status
			s.jobs[i].LastRunAt = &at
			s.jobs[i].LastStatus = &st
			s.jobs[i].LastError = lastError
		}
	}
	return nil
}

func (s *stubRepo) AdvanceSchedule(ctx context.Context, id uuid.UUID, nextRunAt time.Time, markReview bool) error {
	s.advanced = append(s.advanced, advanceCall{ID: id, NextRunAt: nextRunAt, MarkReview: markReview})
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			at := nextRunAt
			s.jobs[i].NextRunAt = &at
			if markReview {
				s.jobs[i].RequiresReview = true
			}
		}
	}
	return nil
}

func (s *stubRepo) FlagReview(ctx context.Context, id uuid.UUID, note string) error {
	s.flagged = append(s.flagged, note)
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			s.jobs[i].RequiresReview = true
			msg := note
			s.jobs[i].LastError = &msg
		}
	}
	return nil
}

func (s *stubRepo) CreateRun(ctx context.Context, run *models.JobRun) error {
	s.runs = append(s.runs, *run)
	return nil
}

func (s *stubRepo) CountRunsByKey(ctx context.Context, runKey string) (int64, error) {
	var count int64
	for _, run := range s.runs {
		if run.RunKey == runKey {
			count++
		}
	}
	return count, nil
}

func (s *stubRepo) LatestRunByKey(ctx context.Context, runKey string) (*models.JobRun, error) {
	var latest *models.JobRun
	for i := range s.runs {
		if s.runs[i].RunKey != runKey {
			continue
		}
		if latest == nil || s.runs[i].Attempt > latest.Attempt {
			latest = &s.runs[i]
		}
	}
	if latest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	run := *latest
	return &run, nil
}

func (s *stubRepo) ListRuns(ctx context.Context, jobID uuid.UUID, limit int) ([]models.JobRun, error) {
	var runs []models.JobRun
	for _, run := range s.runs {
		if run.JobID == jobID {
			runs = append(runs, run)
		}
	}
	return runs, nil
}

func (s *stubRepo) UpsertTarget(ctx context.Context, target *models.Target) error {
	if s.targets == nil {
		s.targets = make(map[enums.TargetKind]models.Target)
	}
	if existing, ok := s.targets[target.Kind]; ok {
		target.ID = existing.ID
	}
	s.targets[target.Kind] = *target
	return nil
}

func (s *stubRepo) FindTarget(ctx context.Context, kind enums.TargetKind) (*models.Target, error) {
	if s.findTargetErr != nil {
		return nil, s.findTargetErr
	}
	target, ok := s.targets[kind]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &target, nil
}

func (s *stubRepo) setTarget(kind enums.TargetKind, amountCents int64) {
	if s.targets == nil {
		s.targets = make(map[enums.TargetKind]models.Target)
	}
	s.targets[kind] = models.Target{ID: uuid.New(), Kind: kind, AmountCents: amountCents, Currency: enums.CurrencyKES, SetBy: "ops-admin"}
}

func newTestActionSet(w *stubWallet, tr *stubTrading, repo *stubRepo, fake *gateway.Fake) *actionSet {
	return &actionSet{
		wallet:   w,
		trading:  tr,
		gate:     fake,
		repo:     repo,
		treasury: config.TreasuryConfig{Currency: "KES"},
		sched:    config.SchedulerConfig{ReconcileAge: 30 * time.Minute},
		logg:     logger.New(logger.Options{ServiceName: "scheduler-test"}),
		now:      time.Now,
	}
}

func sweepJob(t *testing.T, params profitTransferParams) *models.ScheduledJob {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return &models.ScheduledJob{
		ID:     uuid.New(),
		Name:   "profit-transfer",
		Action: enums.JobActionProfitTransfer,
		Params: raw,
	}
}

func TestProfitTransferSweepsExcessAboveFloor(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()
	w := &stubWallet{balance: &wallet.BalanceSnapshot{AccountID: accountID, AvailableCents: 50_000}}
	fake := gateway.NewFake()
	set := newTestActionSet(w, &stubTrading{}, &stubRepo{}, fake)

	job := sweepJob(t, profitTransferParams{
		AccountID:      accountID,
		Destination:    "acct_treasury",
		ThresholdCents: 10_000,
		FloorCents:     20_000,
	})
	result, err := set.run(ctx, job, "run-1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(w.reserved) != 1 {
		t.Fatalf("expected one reservation, got %d", len(w.reserved))
	}
	res := w.reserved[0]
	if res.AmountCents != 30_000 {
		t.Fatalf("expected 30000 cents reserved, got %d", res.AmountCents)
	}
	if res.Kind != enums.TransactionKindTransfer || res.Direction != enums.DirectionDebit {
		t.Fatalf("unexpected movement %s/%s", res.Kind, res.Direction)
	}
	if res.RunKey == nil || *res.RunKey != "run-1" {
		t.Fatalf("reservation should carry the run key")
	}
	if !strings.HasPrefix(res.Reference, "swp_") {
		t.Fatalf("unexpected reference %q", res.Reference)
	}

	if len(fake.Payouts) != 1 {
		t.Fatalf("expected one payout, got %d", len(fake.Payouts))
	}
	payout := fake.Payouts[0]
	if payout.Destination != "acct_treasury" || payout.AmountCents != 30_000 || payout.Currency != "KES" {
		t.Fatalf("unexpected payout %+v", payout)
	}
	if payout.Reference != res.Reference {
		t.Fatalf("payout must reuse the reservation reference")
	}

	if len(w.settled) != 1 || w.settled[0].Outcome != wallet.SettleOutcomeSuccess {
		t.Fatalf("expected a success settlement, got %+v", w.settled)
	}
	if result.TransactionID == nil {
		t.Fatalf("result should reference the transaction")
	}
	if !strings.Contains(result.Detail, "swept 30000 cents") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestProfitTransferOperatorTargetsOverrideParams(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()
	w := &stubWallet{balance: &wallet.BalanceSnapshot{AccountID: accountID, AvailableCents: 50_000}}
	repo := &stubRepo{}
	repo.setTarget(enums.TargetKindProfitTransfer, 40_000)
	repo.setTarget(enums.TargetKindReserveFloor, 45_000)
	set := newTestActionSet(w, &stubTrading{}, repo, gateway.NewFake())

	job := sweepJob(t, profitTransferParams{
		AccountID:      accountID,
		Destination:    "acct_treasury",
		ThresholdCents: 10_000,
	})
	if _, err := set.run(ctx, job, "run-1"); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(w.reserved) != 1 || w.reserved[0].AmountCents != 5_000 {
		t.Fatalf("expected 5000 cents above the operator floor, got %+v", w.reserved)
	}
}

func TestProfitTransferBelowThresholdDoesNothing(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()
	w := &stubWallet{balance: &wallet.BalanceSnapshot{AccountID: accountID, AvailableCents: 9_000}}
	set := newTestActionSet(w, &stubTrading{}, &stubRepo{}, gateway.NewFake())

	job := sweepJob(t, profitTransferParams{AccountID: accountID, Destination: "acct_treasury", ThresholdCents: 10_000})
	result, err := set.run(ctx, job, "run-1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(w.reserved) != 0 {
		t.Fatalf("no reservation expected, got %+v", w.reserved)
	}
	if !strings.Contains(result.Detail, "at or below threshold") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestProfitTransferWithoutThresholdIsNoop(t *testing.T) {
	ctx := context.Background()
	set := newTestActionSet(&stubWallet{}, &stubTrading{}, &stubRepo{}, gateway.NewFake())

	job := sweepJob(t, profitTransferParams{AccountID: uuid.New(), Destination: "acct_treasury"})
	result, err := set.run(ctx, job, "run-1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Detail != "no sweep threshold configured" {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestProfitTransferFractionRoundsDown(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()
	w := &stubWallet{balance: &wallet.BalanceSnapshot{AccountID: accountID, AvailableCents: 50_001}}
	set := newTestActionSet(w, &stubTrading{}, &stubRepo{}, gateway.NewFake())

	job := sweepJob(t, profitTransferParams{
		AccountID:      accountID,
		Destination:    "acct_treasury",
		ThresholdCents: 10_000,
		FloorCents:     20_000,
		SweepFraction:  "0.5",
	})
	if _, err := set.run(ctx, job, "run-1"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(w.reserved) != 1 || w.reserved[0].AmountCents != 15_000 {
		t.Fatalf("expected floor(30001*0.5)=15000, got %+v", w.reserved)
	}
}

func TestProfitTransferRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()

	cases := []struct {
		name   string
		params profitTransferParams
	}{
		{"missing account", profitTransferParams{Destination: "acct_treasury", ThresholdCents: 1}},
		{"missing destination", profitTransferParams{AccountID: accountID, ThresholdCents: 1}},
		{"fraction above one", profitTransferParams{AccountID: accountID, Destination: "d", ThresholdCents: 1, SweepFraction: "1.5"}},
		{"fraction not a number", profitTransferParams{AccountID: accountID, Destination: "d", ThresholdCents: 1, SweepFraction: "half"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := &stubWallet{balance: &wallet.BalanceSnapshot{AccountID: accountID, AvailableCents: 50_000}}
			set := newTestActionSet(w, &stubTrading{}, &stubRepo{}, gateway.NewFake())
			_, err := set.run(ctx, sweepJob(t, tc.params), "run-1")
			if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if len(w.reserved) != 0 {
				t.Fatalf("no money should move on bad input")
			}
		})
	}
}

func TestProfitTransferAmbiguousRailLeavesReservationPending(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()
	w := &stubWallet{balance: &wallet.BalanceSnapshot{AccountID: accountID, AvailableCents: 50_000}}
	fake := gateway.NewFake()
	fake.PayoutErr = pkgerrors.New(pkgerrors.CodeTimeout, "rail timed out")
	set := newTestActionSet(w, &stubTrading{}, &stubRepo{}, fake)

	job := sweepJob(t, profitTransferParams{AccountID: accountID, Destination: "acct_treasury", ThresholdCents: 10_000, FloorCents: 20_000})
	result, err := set.run(ctx, job, "run-1")
	if !pkgerrors.HasCode(err, pkgerrors.CodeTimeout) {
		t.Fatalf("expected the rail timeout to bubble, got %v", err)
	}
	if len(w.settled) != 0 {
		t.Fatalf("ambiguous outcomes must not settle, got %+v", w.settled)
	}
	if result == nil || result.TransactionID == nil {
		t.Fatalf("the run must still point at the pending transaction")
	}
}

func TestProfitTransferRailRejectionSettlesFailure(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()
	w := &stubWallet{balance: &wallet.BalanceSnapshot{AccountID: accountID, AvailableCents: 50_000}}
	fake := gateway.NewFake()
	fake.NextStatus = gateway.StatusFailed
	fake.NextReason = "insufficient float"
	set := newTestActionSet(w, &stubTrading{}, &stubRepo{}, fake)

	job := sweepJob(t, profitTransferParams{AccountID: accountID, Destination: "acct_treasury", ThresholdCents: 10_000, FloorCents: 20_000})
	_, err := set.run(ctx, job, "run-1")
	if !pkgerrors.HasCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if len(w.settled) != 1 {
		t.Fatalf("expected one settlement, got %d", len(w.settled))
	}
	settle := w.settled[0]
	if settle.Outcome != wallet.SettleOutcomeFailure || settle.Reason != "insufficient float" {
		t.Fatalf("unexpected settlement %+v", settle)
	}
}

func TestTradeExpiryReportsCount(t *testing.T) {
	ctx := context.Background()
	set := newTestActionSet(&stubWallet{}, &stubTrading{expired: 3}, &stubRepo{}, gateway.NewFake())

	result, err := set.run(ctx, &models.ScheduledJob{Action: enums.JobActionTradeExpiry}, "run-1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Detail != "expired 3 overdue trade requests" {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestGatewayReconcileResolvesByRailOutcome(t *testing.T) {
	ctx := context.Background()
	settledTxn := models.Transaction{ID: uuid.New(), Kind: enums.TransactionKindTransfer, Reference: "swp_settled"}
	failedTrade := models.Transaction{ID: uuid.New(), Kind: enums.TransactionKindTrade, Reference: "trd_failed"}
	inFlight := models.Transaction{ID: uuid.New(), Kind: enums.TransactionKindWithdrawal, Reference: "wd_flying"}

	w := &stubWallet{stuck: []models.Transaction{settledTxn, failedTrade, inFlight}}
	tr := &stubTrading{}
	fake := gateway.NewFake()
	fake.SetLookup("swp_settled", gateway.StatusSettled, "")
	fake.SetLookup("trd_failed", gateway.StatusFailed, "venue rejected")
	fake.SetLookup("wd_flying", gateway.StatusPending, "")
	set := newTestActionSet(w, tr, &stubRepo{}, fake)

	result, err := set.run(ctx, &models.ScheduledJob{Action: enums.JobActionGatewayReconcile}, "run-1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Detail != "resolved 2 of 3 stuck transactions" {
		t.Fatalf("unexpected detail %q", result.Detail)
	}

	if len(w.settled) != 2 {
		t.Fatalf("expected two settlements, got %+v", w.settled)
	}
	outcomes := map[uuid.UUID]wallet.SettleInput{}
	for _, settle := range w.settled {
		outcomes[settle.TransactionID] = settle
	}
	if outcomes[settledTxn.ID].Outcome != wallet.SettleOutcomeSuccess {
		t.Fatalf("rail-settled transaction should settle success")
	}
	if outcomes[failedTrade.ID].Outcome != wallet.SettleOutcomeFailure || outcomes[failedTrade.ID].Reason != "venue rejected" {
		t.Fatalf("rail-failed transaction should settle failure with the rail reason")
	}

	if len(tr.completed) != 1 {
		t.Fatalf("only the trade transaction should notify trading, got %+v", tr.completed)
	}
	if tr.completed[0].TransactionID != failedTrade.ID || tr.completed[0].Success {
		t.Fatalf("unexpected trade completion %+v", tr.completed[0])
	}
}

func TestGatewayReconcileReleasesUnknownReferences(t *testing.T) {
	ctx := context.Background()
	orphan := models.Transaction{ID: uuid.New(), Kind: enums.TransactionKindTransfer, Reference: "swp_orphan"}
	w := &stubWallet{stuck: []models.Transaction{orphan}}
	set := newTestActionSet(w, &stubTrading{}, &stubRepo{}, gateway.NewFake())

	result, err := set.run(ctx, &models.ScheduledJob{Action: enums.JobActionGatewayReconcile}, "run-1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Detail != "resolved 1 of 1 stuck transactions" {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
	if len(w.settled) != 1 || w.settled[0].Outcome != wallet.SettleOutcomeFailure {
		t.Fatalf("unknown rail movement should release the reservation, got %+v", w.settled)
	}
}

func TestGatewayReconcileCollectsLookupErrors(t *testing.T) {
	ctx := context.Background()
	w := &stubWallet{stuck: []models.Transaction{
		{ID: uuid.New(), Kind: enums.TransactionKindTransfer, Reference: "swp_a"},
		{ID: uuid.New(), Kind: enums.TransactionKindTransfer, Reference: "swp_b"},
	}}
	fake := gateway.NewFake()
	fake.LookupErr = pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "rail is down")
	set := newTestActionSet(w, &stubTrading{}, &stubRepo{}, fake)

	result, err := set.run(ctx, &models.ScheduledJob{Action: enums.JobActionGatewayReconcile}, "run-1")
	if err == nil {
		t.Fatalf("expected combined lookup errors")
	}
	if result == nil || result.Detail != "resolved 0 of 2 stuck transactions" {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(w.settled) != 0 {
		t.Fatalf("nothing should settle when the rail is unreachable")
	}
}

func TestGatewayReconcileNoStuckTransactions(t *testing.T) {
	ctx := context.Background()
	set := newTestActionSet(&stubWallet{}, &stubTrading{}, &stubRepo{}, gateway.NewFake())

	result, err := set.run(ctx, &models.ScheduledJob{Action: enums.JobActionGatewayReconcile}, "run-1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Detail != "no stuck transactions" {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestRunRejectsUnknownAction(t *testing.T) {
	ctx := context.Background()
	set := newTestActionSet(&stubWallet{}, &stubTrading{}, &stubRepo{}, gateway.NewFake())

	_, err := set.run(ctx, &models.ScheduledJob{Action: enums.JobAction("mystery")}, "run-1")
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
