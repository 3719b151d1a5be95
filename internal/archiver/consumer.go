package archiver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/vaultline/treasury-backend/pkg/enums"
	"github.com/vaultline/treasury-backend/pkg/logger"
	"github.com/vaultline/treasury-backend/pkg/outbox"
	"github.com/vaultline/treasury-backend/pkg/outbox/payloads"
)

const auditArchiveConsumer = "audit-archive"

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Consumer appends recorded audit events to the BigQuery archive table. The
// Postgres trail stays the source of truth; the archive is the immutable
// long-term copy that survives retention windows.
type Consumer struct {
	client       tableInserter
	table        string
	subscription *pubsub.Subscriber
	idempotency  idempotencyChecker
	logg         *logger.Logger
}

// NewConsumer builds the audit archive consumer.
func NewConsumer(client tableInserter, table string, subscription *pubsub.Subscriber, manager idempotencyChecker, logg *logger.Logger) (*Consumer, error) {
	if client == nil {
		return nil, fmt.Errorf("bigquery client required")
	}
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("bigquery table name required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("audit subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		client:       client,
		table:        strings.TrimSpace(table),
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
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

	if eventType != enums.EventAuditEventRecorded {
		c.logg.Info(logCtx, "skipping non-audit event")
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

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, auditArchiveConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	if err := c.archive(ctx, envelope, logCtx); err != nil {
		c.logg.Error(logCtx, "audit archival failed", err)
		_ = c.idempotency.Delete(ctx, auditArchiveConsumer, eventID)
		return processResult{nack: true}
	}

	return processResult{ack: true}
}

func (c *Consumer) archive(ctx context.Context, envelope outbox.PayloadEnvelope, logCtx context.Context) error {
	var payload payloads.AuditEventRecordedEvent
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return fmt.Errorf("parse audit event payload: %w", err)
	}

	row := buildRow(envelope, payload)
	if err := c.client.InsertRows(ctx, c.table, []any{row}); err != nil {
		return fmt.Errorf("insert audit row: %w", err)
	}

	c.logg.Info(c.logg.WithField(logCtx, "audit_id", payload.AuditID.String()), "audit event archived")
	return nil
}

type auditEventRow struct {
	EventID      string             `bigquery:"event_id"`
	AuditID      string             `bigquery:"audit_id"`
	ActorID      string             `bigquery:"actor_id"`
	Action       string             `bigquery:"action"`
	ResourceType string             `bigquery:"resource_type"`
	ResourceID   *string            `bigquery:"resource_id"`
	Outcome      string             `bigquery:"outcome"`
	Reason       *string            `bigquery:"reason"`
	Metadata     cbigquery.NullJSON `bigquery:"metadata"`
	RecordedAt   time.Time          `bigquery:"recorded_at"`
}

func buildRow(envelope outbox.PayloadEnvelope, payload payloads.AuditEventRecordedEvent) *auditEventRow {
	var resourceID *string
	if payload.ResourceID != nil {
		value := payload.ResourceID.String()
		resourceID = &value
	}

	var reason *string
	if payload.Reason != "" {
		value := payload.Reason
		reason = &value
	}

	metadata := cbigquery.NullJSON{}
	if len(payload.Metadata) > 0 {
		metadata.Valid = true
		metadata.JSONVal = string(payload.Metadata)
	}

	return &auditEventRow{
		EventID:      envelope.EventID,
		AuditID:      payload.AuditID.String(),
		ActorID:      payload.ActorID,
		Action:       payload.Action,
		ResourceType: payload.ResourceType,
		ResourceID:   resourceID,
		Outcome:      string(payload.Outcome),
		Reason:       reason,
		Metadata:     metadata,
		RecordedAt:   payload.RecordedAt,
	}
}
