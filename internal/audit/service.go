package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vaultline/treasury-backend/pkg/db/models"
	"github.com/vaultline/treasury-backend/pkg/enums"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
	"github.com/vaultline/treasury-backend/pkg/outbox"
	"github.com/vaultline/treasury-backend/pkg/outbox/payloads"
	pkgpagination "github.com/vaultline/treasury-backend/pkg/pagination"
)

// Audit listings stay below the global page cap; rows carry jsonb blobs.
const listMaxLimit = 100

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Entry describes one auditable action before redaction.
type Entry struct {
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   *uuid.UUID
	Outcome      enums.AuditOutcome
	Reason       string
	Metadata     map[string]any
}

// ListParams filters the audit trail read side.
type ListParams struct {
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   *uuid.UUID
	From         *time.Time
	To           *time.Time
	pkgpagination.Params
}

// ListResult is one page of audit events, newest first.
type ListResult struct {
	Items  []ListItem `json:"items"`
	Cursor string     `json:"cursor"`
}

type ListItem struct {
	ID           uuid.UUID          `json:"id"`
	ActorID      string             `json:"actor_id"`
	Action       string             `json:"action"`
	ResourceType string             `json:"resource_type"`
	ResourceID   *uuid.UUID         `json:"resource_id,omitempty"`
	Outcome      enums.AuditOutcome `json:"outcome"`
	Reason       string             `json:"reason,omitempty"`
	Metadata     json.RawMessage    `json:"metadata,omitempty"`
	OccurredAt   time.Time          `json:"occurred_at"`
}

// Recorder writes and reads the append-only audit trail. Record runs inside
// the caller's transaction when one is supplied so the audited change and
// its trail entry commit or roll back together.
type Recorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry Entry) (*models.AuditEvent, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
}

type recorder struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
}

// NewRecorder wires the audit recorder with its repository, transaction
// runner and outbox publisher.
func NewRecorder(repo Repository, tx txRunner, outboxSvc outboxPublisher) (Recorder, error) {
	if repo == nil {
		return nil, fmt.Errorf("audit repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &recorder{repo: repo, tx: tx, outbox: outboxSvc}, nil
}

func (r *recorder) Record(ctx context.Context, tx *gorm.DB, entry Entry) (*models.AuditEvent, error) {
	if strings.TrimSpace(entry.ActorID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id required")
	}
	if strings.TrimSpace(entry.Action) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "action required")
	}
	if strings.TrimSpace(entry.ResourceType) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "resource type required")
	}
	if !entry.Outcome.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid audit outcome")
	}

	var metadata json.RawMessage
	if len(entry.Metadata) > 0 {
		encoded, err := json.Marshal(redactMetadata(entry.Metadata))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode audit metadata")
		}
		metadata = encoded
	}

	event := &models.AuditEvent{
		ID:           uuid.New(),
		ActorID:      entry.ActorID,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Outcome:      entry.Outcome,
		Metadata:     metadata,
	}
	if reason := strings.TrimSpace(entry.Reason); reason != "" {
		event.Reason = &reason
	}

	persist := func(tx *gorm.DB) error {
		if err := r.repo.WithTx(tx).Insert(ctx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert audit event")
		}
		return r.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAuditEventRecorded,
			AggregateType: enums.AggregateAuditEvent,
			AggregateID:   event.ID,
			Version:       1,
			Data: payloads.AuditEventRecordedEvent{
				AuditID:      event.ID,
				ActorID:      event.ActorID,
				Action:       event.Action,
				ResourceType: event.ResourceType,
				ResourceID:   event.ResourceID,
				Outcome:      event.Outcome,
				Reason:       entry.Reason,
				Metadata:     metadata,
				RecordedAt:   time.Now().UTC(),
			},
		})
	}

	if tx != nil {
		if err := persist(tx); err != nil {
			return nil, err
		}
		return event, nil
	}
	if err := r.tx.WithTx(ctx, persist); err != nil {
		return nil, err
	}
	return event, nil
}

func (r *recorder) List(ctx context.Context, params ListParams) (*ListResult, error) {
	limit := pkgpagination.NormalizeLimit(params.Limit)
	if limit > listMaxLimit {
		limit = listMaxLimit
	}

	query := listQuery{
		actorID:      strings.TrimSpace(params.ActorID),
		action:       strings.TrimSpace(params.Action),
		resourceType: strings.TrimSpace(params.ResourceType),
		resourceID:   params.ResourceID,
		from:         params.From,
		to:           params.To,
		limit:        limit + 1,
	}
	if params.Cursor != "" {
		cursor, err := pkgpagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.cursor = cursor
	}

	rows, err := r.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list audit events")
	}

	page, hasMore := pkgpagination.TrimPage(rows, limit)
	nextCursor := ""
	if hasMore {
		last := page[len(page)-1]
		nextCursor = pkgpagination.EncodeCursor(pkgpagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}

	items := make([]ListItem, len(page))
	for i, row := range page {
		items[i] = toListItem(row)
	}
	return &ListResult{Items: items, Cursor: nextCursor}, nil
}

func toListItem(m models.AuditEvent) ListItem {
	item := ListItem{
		ID:           m.ID,
		ActorID:      m.ActorID,
		Action:       m.Action,
		ResourceType: m.ResourceType,
		ResourceID:   m.ResourceID,
		Outcome:      m.Outcome,
		Metadata:     m.Metadata,
		OccurredAt:   m.CreatedAt,
	}
	if m.Reason != nil {
		item.Reason = *m.Reason
	}
	return item
}
