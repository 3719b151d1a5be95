package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vaultline/treasury-backend/pkg/db/models"
	"github.com/vaultline/treasury-backend/pkg/enums"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
	"github.com/vaultline/treasury-backend/pkg/logger"
)

// Input describes one notification to deliver.
type Input struct {
	Kind     enums.NotificationKind
	Target   string
	Subject  string
	Body     string
	Metadata json.RawMessage
}

// Dispatcher writes a delivery record and posts the message to the webhook.
// A failed send is recorded on the row and logged, never escalated: a dead
// webhook must not stall the event stream or any money movement behind it.
type Dispatcher struct {
	repo   Repository
	sender Sender
	logg   *logger.Logger
	now    func() time.Time
}

// NewDispatcher wires the dispatcher dependencies.
func NewDispatcher(repo Repository, sender Sender, logg *logger.Logger) (*Dispatcher, error) {
	if repo == nil {
		return nil, fmt.Errorf("notify repository required")
	}
	if sender == nil {
		return nil, fmt.Errorf("notify sender required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Dispatcher{
		repo:   repo,
		sender: sender,
		logg:   logg,
		now:    time.Now,
	}, nil
}

// Dispatch persists the notification and attempts delivery once. The returned
// error reports storage problems only; the delivery outcome lives on the row.
func (d *Dispatcher) Dispatch(ctx context.Context, input Input) (*models.Notification, error) {
	if !input.Kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown notification kind")
	}
	target := strings.TrimSpace(input.Target)
	if target == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "notification target is required")
	}
	if strings.TrimSpace(input.Subject) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "notification subject is required")
	}

	notification := &models.Notification{
		ID:       uuid.New(),
		Kind:     input.Kind,
		Target:   target,
		Subject:  input.Subject,
		Body:     input.Body,
		Status:   enums.NotificationStatusPending,
		Metadata: input.Metadata,
	}
	if err := d.repo.Create(ctx, notification); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store notification")
	}

	logCtx := d.logg.WithFields(ctx, map[string]any{
		"notification_id": notification.ID.String(),
		"kind":            string(input.Kind),
		"target":          target,
	})

	msg := Message{
		Kind:     string(input.Kind),
		Target:   target,
		Subject:  input.Subject,
		Body:     input.Body,
		Metadata: input.Metadata,
	}
	if sendErr := d.sender.Send(ctx, msg); sendErr != nil {
		d.logg.Error(logCtx, "webhook delivery failed", sendErr)
		if err := d.repo.MarkFailed(ctx, notification.ID); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record failed delivery")
		}
		notification.Status = enums.NotificationStatusFailed
		notification.Attempts++
		return notification, nil
	}

	sentAt := d.now().UTC()
	if err := d.repo.MarkSent(ctx, notification.ID, sentAt); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record delivery")
	}
	notification.Status = enums.NotificationStatusSent
	notification.SentAt = &sentAt
	notification.Attempts++
	d.logg.Info(logCtx, "notification delivered")
	return notification, nil
}
