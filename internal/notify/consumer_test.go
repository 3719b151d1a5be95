package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"

	"github.com/vaultline/treasury-backend/pkg/config"
	"github.com/vaultline/treasury-backend/pkg/db/models"
	"github.com/vaultline/treasury-backend/pkg/enums"
	"github.com/vaultline/treasury-backend/pkg/logger"
	"github.com/vaultline/treasury-backend/pkg/outbox"
	"github.com/vaultline/treasury-backend/pkg/outbox/idempotency"
	"github.com/vaultline/treasury-backend/pkg/outbox/payloads"
	pkgredis "github.com/vaultline/treasury-backend/pkg/redis"
)

type stubDispatcher struct {
	err    error
	inputs []Input
}

func (s *stubDispatcher) Dispatch(ctx context.Context, input Input) (*models.Notification, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.inputs = append(s.inputs, input)
	return &models.Notification{
		ID:     uuid.New(),
		Kind:   input.Kind,
		Target: input.Target,
		Status: enums.NotificationStatusSent,
	}, nil
}

type stubJobDirectory struct {
	job *models.ScheduledJob
	err error
}

func (s *stubJobDirectory) FindJob(ctx context.Context, id uuid.UUID) (*models.ScheduledJob, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.job, nil
}

type stubAccountDirectory struct {
	account *models.Account
	err     error
}

func (s *stubAccountDirectory) FindAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.account, nil
}

type consumerHarness struct {
	consumer   *Consumer
	dispatcher *stubDispatcher
	jobs       *stubJobDirectory
	accounts   *stubAccountDirectory
}

func newConsumerHarness(t *testing.T) *consumerHarness {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := pkgredis.New(context.Background(), config.RedisConfig{Address: mr.Addr()}, nil)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	manager, err := idempotency.NewManager(client, time.Hour)
	if err != nil {
		t.Fatalf("idempotency manager: %v", err)
	}

	h := &consumerHarness{
		dispatcher: &stubDispatcher{},
		jobs:       &stubJobDirectory{},
		accounts:   &stubAccountDirectory{},
	}
	h.consumer = &Consumer{
		dispatch:      h.dispatcher,
		jobs:          h.jobs,
		accounts:      h.accounts,
		idempotency:   manager,
		defaultTarget: "authority-desk",
		logg:          logger.New(logger.Options{ServiceName: "notify-test"}),
	}
	return h
}

func eventMessage(t *testing.T, eventType enums.OutboxEventType, eventID uuid.UUID, payload any) *pubsub.Message {
	t.Helper()

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	envelope, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID.String(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	return &pubsub.Message{
		ID:         "msg-" + eventID.String(),
		Data:       envelope,
		Attributes: map[string]string{"event_type": string(eventType)},
	}
}

func TestProcessSkipsUnroutedEvents(t *testing.T) {
	h := newConsumerHarness(t)

	msg := eventMessage(t, enums.EventTradeExecuted, uuid.New(), payloads.TradeExecutedEvent{
		TradeID:   uuid.New(),
		AccountID: uuid.New(),
	})

	result := h.consumer.process(context.Background(), msg)
	if !result.ack || result.nack {
		t.Fatalf("expected ack for unrouted event, got %+v", result)
	}
	if len(h.dispatcher.inputs) != 0 {
		t.Fatalf("expected no dispatches, got %d", len(h.dispatcher.inputs))
	}
}

func TestProcessDispatchesTradeEscalationOnce(t *testing.T) {
	h := newConsumerHarness(t)

	tradeID := uuid.New()
	msg := eventMessage(t, enums.EventTradeEscalated, uuid.New(), payloads.TradeEscalatedEvent{
		TradeID:     tradeID,
		AccountID:   uuid.New(),
		Symbol:      "KES-USD",
		Side:        enums.TradeSideBuy,
		AmountCents: 250000,
		Confidence:  64,
		ExpiresAt:   time.Now().Add(24 * time.Hour).UTC(),
	})

	result := h.consumer.process(context.Background(), msg)
	if !result.ack || result.nack {
		t.Fatalf("expected ack, got %+v", result)
	}
	if len(h.dispatcher.inputs) != 1 {
		t.Fatalf("expected 1 dispatch, got %d", len(h.dispatcher.inputs))
	}

	input := h.dispatcher.inputs[0]
	if input.Kind != enums.NotificationKindTradeEscalation {
		t.Fatalf("unexpected kind %s", input.Kind)
	}
	if input.Target != "authority-desk" {
		t.Fatalf("unexpected target %q", input.Target)
	}
	if !strings.Contains(input.Subject, tradeID.String()) {
		t.Fatalf("subject missing trade id: %q", input.Subject)
	}
	if !strings.Contains(input.Body, "BUY KES-USD") || !strings.Contains(input.Body, "confidence 64") {
		t.Fatalf("unexpected body %q", input.Body)
	}

	redelivery := h.consumer.process(context.Background(), msg)
	if !redelivery.ack {
		t.Fatalf("expected ack on redelivery, got %+v", redelivery)
	}
	if len(h.dispatcher.inputs) != 1 {
		t.Fatalf("redelivery must not dispatch again, got %d", len(h.dispatcher.inputs))
	}
}

func TestProcessJobFailureFansOutToJobTargets(t *testing.T) {
	h := newConsumerHarness(t)

	jobID := uuid.New()
	h.jobs.job = &models.ScheduledJob{
		ID:            jobID,
		Name:          "profit_transfer_daily",
		NotifyTargets: []string{"ops-room", "treasury-oncall"},
	}

	msg := eventMessage(t, enums.EventJobRunCompleted, uuid.New(), payloads.JobRunCompletedEvent{
		JobID:      jobID,
		JobName:    "profit_transfer_daily",
		RunKey:     jobID.String() + ":1742551200",
		Status:     enums.JobRunStatusFailed,
		Attempt:    3,
		Error:      "gateway rejected payout",
		FinishedAt: time.Now().UTC(),
	})

	result := h.consumer.process(context.Background(), msg)
	if !result.ack {
		t.Fatalf("expected ack, got %+v", result)
	}
	if len(h.dispatcher.inputs) != 2 {
		t.Fatalf("expected one dispatch per target, got %d", len(h.dispatcher.inputs))
	}
	if h.dispatcher.inputs[0].Target != "ops-room" || h.dispatcher.inputs[1].Target != "treasury-oncall" {
		t.Fatalf("unexpected targets %q %q", h.dispatcher.inputs[0].Target, h.dispatcher.inputs[1].Target)
	}
	for _, input := range h.dispatcher.inputs {
		if input.Kind != enums.NotificationKindJobFailure {
			t.Fatalf("unexpected kind %s", input.Kind)
		}
		if !strings.Contains(input.Subject, "profit_transfer_daily failed") {
			t.Fatalf("unexpected subject %q", input.Subject)
		}
		if !strings.Contains(input.Body, "gateway rejected payout") {
			t.Fatalf("unexpected body %q", input.Body)
		}
	}
}

func TestProcessJobFailureFallsBackToAuthorityTarget(t *testing.T) {
	h := newConsumerHarness(t)
	h.jobs.err = errors.New("job gone")

	msg := eventMessage(t, enums.EventJobRunCompleted, uuid.New(), payloads.JobRunCompletedEvent{
		JobID:   uuid.New(),
		JobName: "gateway_reconcile",
		Status:  enums.JobRunStatusTimedOut,
		Attempt: 1,
	})

	result := h.consumer.process(context.Background(), msg)
	if !result.ack {
		t.Fatalf("expected ack, got %+v", result)
	}
	if len(h.dispatcher.inputs) != 1 {
		t.Fatalf("expected 1 dispatch, got %d", len(h.dispatcher.inputs))
	}
	if h.dispatcher.inputs[0].Target != "authority-desk" {
		t.Fatalf("expected fallback target, got %q", h.dispatcher.inputs[0].Target)
	}
	if !strings.Contains(h.dispatcher.inputs[0].Subject, "timed_out") {
		t.Fatalf("unexpected subject %q", h.dispatcher.inputs[0].Subject)
	}
	if !strings.Contains(h.dispatcher.inputs[0].Body, "no error detail recorded") {
		t.Fatalf("unexpected body %q", h.dispatcher.inputs[0].Body)
	}
}

func TestProcessCleanJobRunDispatchesNothing(t *testing.T) {
	h := newConsumerHarness(t)

	msg := eventMessage(t, enums.EventJobRunCompleted, uuid.New(), payloads.JobRunCompletedEvent{
		JobID:   uuid.New(),
		JobName: "trade_expiry",
		Status:  enums.JobRunStatusSucceeded,
		Attempt: 1,
	})

	result := h.consumer.process(context.Background(), msg)
	if !result.ack {
		t.Fatalf("expected ack, got %+v", result)
	}
	if len(h.dispatcher.inputs) != 0 {
		t.Fatalf("clean runs must not notify, got %d", len(h.dispatcher.inputs))
	}
}

func TestProcessDepositRequestTargetsAccountOwner(t *testing.T) {
	h := newConsumerHarness(t)

	accountID := uuid.New()
	h.accounts.account = &models.Account{ID: accountID, OwnerID: "owner-42"}

	msg := eventMessage(t, enums.EventDepositRequested, uuid.New(), payloads.DepositRequestedEvent{
		TradeID:        uuid.New(),
		AccountID:      accountID,
		ShortfallCents: 150000,
		Deadline:       time.Now().Add(6 * time.Hour).UTC(),
	})

	result := h.consumer.process(context.Background(), msg)
	if !result.ack {
		t.Fatalf("expected ack, got %+v", result)
	}
	if len(h.dispatcher.inputs) != 1 {
		t.Fatalf("expected 1 dispatch, got %d", len(h.dispatcher.inputs))
	}
	if h.dispatcher.inputs[0].Target != "owner-42" {
		t.Fatalf("expected owner target, got %q", h.dispatcher.inputs[0].Target)
	}
	if h.dispatcher.inputs[0].Kind != enums.NotificationKindDepositRequest {
		t.Fatalf("unexpected kind %s", h.dispatcher.inputs[0].Kind)
	}
	if !strings.Contains(h.dispatcher.inputs[0].Body, "short 150000 cents") {
		t.Fatalf("unexpected body %q", h.dispatcher.inputs[0].Body)
	}
}

func TestProcessDepositRequestFallsBackWhenAccountMissing(t *testing.T) {
	h := newConsumerHarness(t)
	h.accounts.err = errors.New("account gone")

	msg := eventMessage(t, enums.EventDepositRequested, uuid.New(), payloads.DepositRequestedEvent{
		TradeID:        uuid.New(),
		AccountID:      uuid.New(),
		ShortfallCents: 5000,
		Deadline:       time.Now().Add(time.Hour).UTC(),
	})

	result := h.consumer.process(context.Background(), msg)
	if !result.ack {
		t.Fatalf("expected ack, got %+v", result)
	}
	if len(h.dispatcher.inputs) != 1 || h.dispatcher.inputs[0].Target != "authority-desk" {
		t.Fatalf("expected fallback dispatch, got %+v", h.dispatcher.inputs)
	}
}

func TestProcessApprovalDecisionIncludesReason(t *testing.T) {
	h := newConsumerHarness(t)

	requestID := uuid.New()
	msg := eventMessage(t, enums.EventApprovalDecided, uuid.New(), payloads.ApprovalDecidedEvent{
		RequestID: requestID,
		Kind:      enums.ApprovalKindDistribution,
		Status:    enums.ApprovalStatusRejected,
		DecidedBy: "authority",
		Reason:    "destination not on the allow list",
	})

	result := h.consumer.process(context.Background(), msg)
	if !result.ack {
		t.Fatalf("expected ack, got %+v", result)
	}
	if len(h.dispatcher.inputs) != 1 {
		t.Fatalf("expected 1 dispatch, got %d", len(h.dispatcher.inputs))
	}
	input := h.dispatcher.inputs[0]
	if input.Kind != enums.NotificationKindApprovalDecision {
		t.Fatalf("unexpected kind %s", input.Kind)
	}
	if !strings.Contains(input.Body, requestID.String()) {
		t.Fatalf("body missing request id: %q", input.Body)
	}
	if !strings.Contains(input.Body, "destination not on the allow list") {
		t.Fatalf("body missing reason: %q", input.Body)
	}
}

func TestProcessSettlementConflict(t *testing.T) {
	h := newConsumerHarness(t)

	transactionID := uuid.New()
	msg := eventMessage(t, enums.EventSettlementConflict, uuid.New(), payloads.SettlementConflictEvent{
		TransactionID:    transactionID,
		AccountID:        uuid.New(),
		CurrentStatus:    enums.TransactionStatusSettled,
		AttemptedOutcome: "failure",
	})

	result := h.consumer.process(context.Background(), msg)
	if !result.ack {
		t.Fatalf("expected ack, got %+v", result)
	}
	if len(h.dispatcher.inputs) != 1 {
		t.Fatalf("expected 1 dispatch, got %d", len(h.dispatcher.inputs))
	}
	input := h.dispatcher.inputs[0]
	if input.Kind != enums.NotificationKindSettlementConflict {
		t.Fatalf("unexpected kind %s", input.Kind)
	}
	if !strings.Contains(input.Body, transactionID.String()) || !strings.Contains(input.Body, "already settled") {
		t.Fatalf("unexpected body %q", input.Body)
	}
}

func TestProcessDispatchErrorNacksAndClearsIdempotency(t *testing.T) {
	h := newConsumerHarness(t)
	h.dispatcher.err = errors.New("database gone")

	msg := eventMessage(t, enums.EventSettlementConflict, uuid.New(), payloads.SettlementConflictEvent{
		TransactionID: uuid.New(),
		AccountID:     uuid.New(),
		CurrentStatus: enums.TransactionStatusFailed,
	})

	result := h.consumer.process(context.Background(), msg)
	if !result.nack {
		t.Fatalf("expected nack, got %+v", result)
	}

	h.dispatcher.err = nil
	retry := h.consumer.process(context.Background(), msg)
	if !retry.ack {
		t.Fatalf("expected ack on retry, got %+v", retry)
	}
	if len(h.dispatcher.inputs) != 1 {
		t.Fatalf("expected retry to dispatch after the mark was cleared, got %d", len(h.dispatcher.inputs))
	}
}

func TestProcessBadEnvelopeAcks(t *testing.T) {
	h := newConsumerHarness(t)

	msg := &pubsub.Message{
		ID:         "msg-garbage",
		Data:       []byte("not json"),
		Attributes: map[string]string{"event_type": string(enums.EventTradeEscalated)},
	}

	result := h.consumer.process(context.Background(), msg)
	if !result.ack || result.nack {
		t.Fatalf("expected ack for undecodable envelope, got %+v", result)
	}
	if len(h.dispatcher.inputs) != 0 {
		t.Fatalf("expected no dispatches, got %d", len(h.dispatcher.inputs))
	}
}

func TestNewConsumerValidatesDependencies(t *testing.T) {
	h := newConsumerHarness(t)
	manager := h.consumer.idempotency
	logg := h.consumer.logg

	if _, err := NewConsumer(nil, h.jobs, h.accounts, nil, manager, config.AuthorityConfig{NotifyTarget: "ops"}, logg); err == nil {
		t.Fatal("expected error for missing dispatcher")
	}
	if _, err := NewConsumer(h.dispatcher, h.jobs, h.accounts, nil, manager, config.AuthorityConfig{}, logg); err == nil {
		t.Fatal("expected error for missing notify target")
	}
	if _, err := NewConsumer(h.dispatcher, h.jobs, h.accounts, nil, manager, config.AuthorityConfig{NotifyTarget: "ops"}, logg); err == nil {
		t.Fatal("expected error for missing subscription")
	}
}
