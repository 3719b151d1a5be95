package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vaultline/treasury-backend/internal/audit"
	"github.com/vaultline/treasury-backend/pkg/config"
	"github.com/vaultline/treasury-backend/pkg/db/models"
	"github.com/vaultline/treasury-backend/pkg/enums"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
)

// TargetInput sets or replaces the amount for one target kind.
type TargetInput struct {
	Kind             enums.TargetKind
	AmountCents      int64
	Note             string
	ActorID          string
	ActorIsAuthority bool
}

// Targets manages the operator-set amounts scheduled jobs steer toward.
type Targets struct {
	repo     Repository
	tx       txRunner
	audits   auditRecorder
	currency enums.Currency
}

// NewTargets builds the target service.
func NewTargets(repo Repository, tx txRunner, audits auditRecorder, treasury config.TreasuryConfig) (*Targets, error) {
	if repo == nil {
		return nil, fmt.Errorf("scheduler repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if audits == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	return &Targets{repo: repo, tx: tx, audits: audits, currency: enums.Currency(treasury.Currency)}, nil
}

// Set overwrites the target for a kind. Authority only; each change is
// audited since targets steer real money movement.
func (t *Targets) Set(ctx context.Context, input TargetInput) (*models.Target, error) {
	if !input.Kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown target kind")
	}
	if input.AmountCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "target amount cannot be negative")
	}
	actor := strings.TrimSpace(input.ActorID)
	if actor == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}
	if !input.ActorIsAuthority {
		if _, err := t.audits.Record(ctx, nil, audit.Entry{
			ActorID:      actor,
			Action:       "scheduler.set_target",
			ResourceType: "target",
			Outcome:      enums.AuditOutcomeDenied,
			Reason:       "authority token required",
			Metadata:     map[string]any{"kind": string(input.Kind)},
		}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit event")
		}
		return nil, pkgerrors.New(pkgerrors.CodeAuthorityRequired, "only the authority can set targets")
	}

	var note *string
	if trimmed := strings.TrimSpace(input.Note); trimmed != "" {
		note = &trimmed
	}
	target := &models.Target{
		ID:          uuid.New(),
		Kind:        input.Kind,
		AmountCents: input.AmountCents,
		Currency:    t.currency,
		SetBy:       actor,
		Note:        note,
	}

	err := t.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := t.repo.WithTx(tx)
		if err := repo.UpsertTarget(ctx, target); err != nil {
			return err
		}
		targetID := target.ID
		_, auditErr := t.audits.Record(ctx, tx, audit.Entry{
			ActorID:      actor,
			Action:       "scheduler.set_target",
			ResourceType: "target",
			ResourceID:   &targetID,
			Outcome:      enums.AuditOutcomeSuccess,
			Metadata: map[string]any{
				"kind":         string(input.Kind),
				"amount_cents": input.AmountCents,
			},
		})
		return auditErr
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store target")
	}
	return target, nil
}

// Get returns the configured target for a kind.
func (t *Targets) Get(ctx context.Context, kind enums.TargetKind) (*models.Target, error) {
	if !kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown target kind")
	}
	target, err := t.repo.FindTarget(ctx, kind)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no target configured for this kind")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load target")
	}
	return target, nil
}
