package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/vaultline/treasury-backend/pkg/config"
	"github.com/vaultline/treasury-backend/pkg/db/models"
	"github.com/vaultline/treasury-backend/pkg/enums"
	"github.com/vaultline/treasury-backend/pkg/logger"
	"github.com/vaultline/treasury-backend/pkg/outbox"
	"github.com/vaultline/treasury-backend/pkg/outbox/idempotency"
	"github.com/vaultline/treasury-backend/pkg/outbox/payloads"
)

const notifyWebhookConsumer = "webhook-notifications"

type dispatcher interface {
	Dispatch(ctx context.Context, input Input) (*models.Notification, error)
}

type jobDirectory interface {
	FindJob(ctx context.Context, id uuid.UUID) (*models.ScheduledJob, error)
}

type accountDirectory interface {
	FindAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// Consumer fans domain events out to the ops webhook: trade escalations,
// funding requests, approval decisions, job failures and settlement
// conflicts each become one delivery record per target.
type Consumer struct {
	dispatch      dispatcher
	jobs          jobDirectory
	accounts      accountDirectory
	subscription  *pubsub.Subscriber
	idempotency   *idempotency.Manager
	defaultTarget string
	logg          *logger.Logger
}

// NewConsumer builds the webhook notification consumer.
func NewConsumer(dispatch dispatcher, jobs jobDirectory, accounts accountDirectory, subscription *pubsub.Subscriber, manager *idempotency.Manager, authority config.AuthorityConfig, logg *logger.Logger) (*Consumer, error) {
	if dispatch == nil {
		return nil, fmt.Errorf("notification dispatcher required")
	}
	if jobs == nil {
		return nil, fmt.Errorf("job directory required")
	}
	if accounts == nil {
		return nil, fmt.Errorf("account directory required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	defaultTarget := strings.TrimSpace(authority.NotifyTarget)
	if defaultTarget == "" {
		return nil, fmt.Errorf("authority notify target required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("notify subscription required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		dispatch:      dispatch,
		jobs:          jobs,
		accounts:      accounts,
		subscription:  subscription,
		idempotency:   manager,
		defaultTarget: defaultTarget,
		logg:          logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": string(eventType),
	})

	if !c.handles(eventType) {
		c.logg.Info(logCtx, "skipping event without a notification route")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, notifyWebhookConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	if err := c.handleEvent(ctx, eventType, envelope, logCtx); err != nil {
		c.logg.Error(logCtx, "notification handling failed", err)
		_ = c.idempotency.Delete(ctx, notifyWebhookConsumer, eventID)
		return processResult{nack: true}
	}

	return processResult{ack: true}
}

func (c *Consumer) handles(eventType enums.OutboxEventType) bool {
	switch eventType {
	case enums.EventTradeEscalated,
		enums.EventDepositRequested,
		enums.EventApprovalDecided,
		enums.EventJobRunCompleted,
		enums.EventSettlementConflict:
		return true
	default:
		return false
	}
}

func (c *Consumer) handleEvent(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope, logCtx context.Context) error {
	switch eventType {
	case enums.EventTradeEscalated:
		return c.notifyTradeEscalated(ctx, envelope, logCtx)
	case enums.EventDepositRequested:
		return c.notifyDepositRequested(ctx, envelope, logCtx)
	case enums.EventApprovalDecided:
		return c.notifyApprovalDecided(ctx, envelope, logCtx)
	case enums.EventJobRunCompleted:
		return c.notifyJobRunCompleted(ctx, envelope, logCtx)
	case enums.EventSettlementConflict:
		return c.notifySettlementConflict(ctx, envelope, logCtx)
	default:
		return nil
	}
}

func (c *Consumer) notifyTradeEscalated(ctx context.Context, envelope outbox.PayloadEnvelope, logCtx context.Context) error {
	var payload payloads.TradeEscalatedEvent
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return fmt.Errorf("parse trade escalation payload: %w", err)
	}

	logCtx = c.logg.WithField(logCtx, "trade_id", payload.TradeID.String())
	_, err := c.dispatch.Dispatch(ctx, Input{
		Kind:    enums.NotificationKindTradeEscalation,
		Target:  c.defaultTarget,
		Subject: fmt.Sprintf("Trade %s needs a decision", payload.TradeID),
		Body: fmt.Sprintf("%s %s for %d cents at confidence %d. Expires %s.",
			strings.ToUpper(string(payload.Side)), payload.Symbol, payload.AmountCents,
			payload.Confidence, payload.ExpiresAt.Format(time.RFC3339)),
		Metadata: envelope.Data,
	})
	if err != nil {
		return err
	}
	c.logg.Info(logCtx, "authority notified of escalated trade")
	return nil
}

func (c *Consumer) notifyDepositRequested(ctx context.Context, envelope outbox.PayloadEnvelope, logCtx context.Context) error {
	var payload payloads.DepositRequestedEvent
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return fmt.Errorf("parse deposit request payload: %w", err)
	}

	logCtx = c.logg.WithAccountID(logCtx, payload.AccountID.String())

	target := c.defaultTarget
	if account, err := c.accounts.FindAccount(ctx, payload.AccountID); err != nil {
		c.logg.Error(logCtx, "account lookup failed; notifying default target", err)
	} else if owner := strings.TrimSpace(account.OwnerID); owner != "" {
		target = owner
	}

	_, err := c.dispatch.Dispatch(ctx, Input{
		Kind:    enums.NotificationKindDepositRequest,
		Target:  target,
		Subject: "Deposit needed to fund an approved trade",
		Body: fmt.Sprintf("Account %s is short %d cents for trade %s. Funds must arrive by %s.",
			payload.AccountID, payload.ShortfallCents, payload.TradeID,
			payload.Deadline.Format(time.RFC3339)),
		Metadata: envelope.Data,
	})
	if err != nil {
		return err
	}
	c.logg.Info(logCtx, "funding contact notified of shortfall")
	return nil
}

func (c *Consumer) notifyApprovalDecided(ctx context.Context, envelope outbox.PayloadEnvelope, logCtx context.Context) error {
	var payload payloads.ApprovalDecidedEvent
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return fmt.Errorf("parse approval decision payload: %w", err)
	}

	logCtx = c.logg.WithField(logCtx, "request_id", payload.RequestID.String())

	body := fmt.Sprintf("Request %s (%s) was %s by %s.",
		payload.RequestID, payload.Kind, payload.Status, payload.DecidedBy)
	if payload.Reason != "" {
		body = fmt.Sprintf("%s Reason: %s", body, payload.Reason)
	}

	_, err := c.dispatch.Dispatch(ctx, Input{
		Kind:     enums.NotificationKindApprovalDecision,
		Target:   c.defaultTarget,
		Subject:  fmt.Sprintf("Approval request %s", payload.Status),
		Body:     body,
		Metadata: envelope.Data,
	})
	if err != nil {
		return err
	}
	c.logg.Info(logCtx, "authority notified of approval decision")
	return nil
}

func (c *Consumer) notifyJobRunCompleted(ctx context.Context, envelope outbox.PayloadEnvelope, logCtx context.Context) error {
	var payload payloads.JobRunCompletedEvent
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return fmt.Errorf("parse job run payload: %w", err)
	}

	if payload.Status != enums.JobRunStatusFailed && payload.Status != enums.JobRunStatusTimedOut {
		c.logg.Info(logCtx, "job run finished cleanly")
		return nil
	}

	detail := payload.Error
	if detail == "" {
		detail = "no error detail recorded"
	}

	logCtx = c.logg.WithJobID(logCtx, payload.JobID.String())
	for _, target := range c.jobFailureTargets(ctx, payload.JobID) {
		_, err := c.dispatch.Dispatch(ctx, Input{
			Kind:    enums.NotificationKindJobFailure,
			Target:  target,
			Subject: fmt.Sprintf("Job %s %s", payload.JobName, payload.Status),
			Body: fmt.Sprintf("Run %s attempt %d finished %s: %s",
				payload.RunKey, payload.Attempt, payload.Status, detail),
			Metadata: envelope.Data,
		})
		if err != nil {
			return err
		}
	}
	c.logg.Info(logCtx, "operators notified of job failure")
	return nil
}

func (c *Consumer) notifySettlementConflict(ctx context.Context, envelope outbox.PayloadEnvelope, logCtx context.Context) error {
	var payload payloads.SettlementConflictEvent
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return fmt.Errorf("parse settlement conflict payload: %w", err)
	}

	logCtx = c.logg.WithField(logCtx, "transaction_id", payload.TransactionID.String())
	_, err := c.dispatch.Dispatch(ctx, Input{
		Kind:    enums.NotificationKindSettlementConflict,
		Target:  c.defaultTarget,
		Subject: "Settlement conflict detected",
		Body: fmt.Sprintf("Transaction %s is already %s but a %s settlement was attempted.",
			payload.TransactionID, payload.CurrentStatus, payload.AttemptedOutcome),
		Metadata: envelope.Data,
	})
	if err != nil {
		return err
	}
	c.logg.Info(logCtx, "operators notified of settlement conflict")
	return nil
}

// jobFailureTargets prefers the job's own notify list and falls back to the
// authority target when the job is gone or has none configured.
func (c *Consumer) jobFailureTargets(ctx context.Context, jobID uuid.UUID) []string {
	job, err := c.jobs.FindJob(ctx, jobID)
	if err != nil || len(job.NotifyTargets) == 0 {
		return []string{c.defaultTarget}
	}
	return job.NotifyTargets
}
