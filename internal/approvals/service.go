package approvals

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vaultline/treasury-backend/internal/audit"
	"github.com/vaultline/treasury-backend/pkg/db/models"
	"github.com/vaultline/treasury-backend/pkg/enums"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
	"github.com/vaultline/treasury-backend/pkg/outbox"
	"github.com/vaultline/treasury-backend/pkg/outbox/payloads"
	pkgpagination "github.com/vaultline/treasury-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type auditRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry audit.Entry) (*models.AuditEvent, error)
}

// SubmitInput opens a review chain for a sensitive change.
type SubmitInput struct {
	Kind        enums.ApprovalKind
	SubjectType string
	SubjectID   *uuid.UUID
	Payload     json.RawMessage
	Steps       []string
	RequestedBy string
}

// StepInput decides one named step of a request.
type StepInput struct {
	RequestID        uuid.UUID
	StepName         string
	Note             string
	ActorID          string
	ActorIsAuthority bool
}

// RequestDetail is a request with its full step chain.
type RequestDetail struct {
	Request models.ApprovalRequest `json:"request"`
	Steps   []models.ApprovalStep  `json:"steps"`
}

// ListParams filters the request listing.
type ListParams struct {
	Status *enums.ApprovalStatus
	Kind   *enums.ApprovalKind
	pkgpagination.Params
}

// ListResult is one page of requests, newest first.
type ListResult struct {
	Items  []models.ApprovalRequest `json:"items"`
	Cursor string                   `json:"cursor"`
}

// Service runs ordered approval chains. Steps decide strictly in position
// order; one rejection short-circuits the whole request.
type Service interface {
	Submit(ctx context.Context, input SubmitInput) (*RequestDetail, error)
	ApproveStep(ctx context.Context, input StepInput) (*RequestDetail, error)
	RejectStep(ctx context.Context, input StepInput) (*RequestDetail, error)
	Get(ctx context.Context, id uuid.UUID) (*RequestDetail, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	audits auditRecorder
	now    func() time.Time
}

func NewService(repo Repository, tx txRunner, outboxSvc outboxPublisher, audits auditRecorder) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "approvals repository is required")
	}
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner is required")
	}
	if outboxSvc == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox service is required")
	}
	if audits == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "audit recorder is required")
	}
	return &service{
		repo:   repo,
		tx:     tx,
		outbox: outboxSvc,
		audits: audits,
		now:    time.Now,
	}, nil
}

func (s *service) Submit(ctx context.Context, input SubmitInput) (*RequestDetail, error) {
	if !input.Kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid approval kind")
	}
	if strings.TrimSpace(input.SubjectType) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subject type is required")
	}
	if strings.TrimSpace(input.RequestedBy) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "requester is required")
	}
	if len(input.Steps) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one step is required")
	}
	names := make(map[string]struct{}, len(input.Steps))
	for _, name := range input.Steps {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "step names must not be blank")
		}
		if _, dup := names[trimmed]; dup {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "step names must be unique")
		}
		names[trimmed] = struct{}{}
	}

	request := &models.ApprovalRequest{
		ID:          uuid.New(),
		Kind:        input.Kind,
		SubjectType: strings.TrimSpace(input.SubjectType),
		SubjectID:   input.SubjectID,
		Status:      enums.ApprovalStatusPending,
		RequestedBy: input.RequestedBy,
		Payload:     input.Payload,
	}
	steps := make([]models.ApprovalStep, 0, len(input.Steps))
	for position, name := range input.Steps {
		steps = append(steps, models.ApprovalStep{
			ID:        uuid.New(),
			RequestID: request.ID,
			Position:  position,
			Name:      strings.TrimSpace(name),
			Status:    enums.StepStatusPending,
		})
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateRequest(ctx, request); err != nil {
			return err
		}
		if err := repo.CreateSteps(ctx, steps); err != nil {
			return err
		}
		_, err := s.audits.Record(ctx, tx, audit.Entry{
			ActorID:      input.RequestedBy,
			Action:       "approvals.submit",
			ResourceType: "approval_request",
			ResourceID:   &request.ID,
			Outcome:      enums.AuditOutcomeSuccess,
			Metadata: map[string]any{
				"kind":         string(request.Kind),
				"subject_type": request.SubjectType,
				"steps":        len(steps),
			},
		})
		return err
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record approval request")
	}

	return &RequestDetail{Request: *request, Steps: steps}, nil
}

func (s *service) ApproveStep(ctx context.Context, input StepInput) (*RequestDetail, error) {
	return s.decideStep(ctx, input, enums.StepStatusApproved)
}

func (s *service) RejectStep(ctx context.Context, input StepInput) (*RequestDetail, error) {
	return s.decideStep(ctx, input, enums.StepStatusRejected)
}

func (s *service) decideStep(ctx context.Context, input StepInput, target enums.StepStatus) (*RequestDetail, error) {
	if input.RequestID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "request id is required")
	}
	if strings.TrimSpace(input.StepName) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "step name is required")
	}

	detail, err := s.Get(ctx, input.RequestID)
	if err != nil {
		return nil, err
	}

	step := findStep(detail.Steps, input.StepName)
	if step == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no such step")
	}

	// Replays of an already-recorded decision return the current state.
	if step.Status == target {
		return detail, nil
	}
	if detail.Request.Status.IsDecided() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "approval request already decided")
	}
	if step.Status != enums.StepStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "step already decided")
	}

	action := "approvals.approve_step"
	if target == enums.StepStatusRejected {
		action = "approvals.reject_step"
	}

	if input.ActorID != step.Name && !input.ActorIsAuthority {
		if err := s.recordDenied(ctx, input.RequestID, input.ActorID, action, "actor not named on step"); err != nil {
			return nil, err
		}
		return nil, pkgerrors.New(pkgerrors.CodeAuthorityRequired, "step belongs to another approver")
	}

	if target == enums.StepStatusApproved {
		earliest := earliestPending(detail.Steps)
		if earliest == nil || earliest.ID != step.ID {
			if err := s.recordDenied(ctx, input.RequestID, input.ActorID, action, "step out of order"); err != nil {
				return nil, err
			}
			return nil, pkgerrors.New(pkgerrors.CodeStepOutOfOrder, "earlier steps are still pending")
		}
	}

	now := s.now()
	var note *string
	if trimmed := strings.TrimSpace(input.Note); trimmed != "" {
		note = &trimmed
	}
	finalApproval := target == enums.StepStatusApproved && pendingCount(detail.Steps) == 1

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		won, err := repo.DecideStep(ctx, step.ID, target, input.ActorID, note, now)
		if err != nil {
			return err
		}
		if !won {
			return errStepRace
		}
		if _, err := s.audits.Record(ctx, tx, audit.Entry{
			ActorID:      input.ActorID,
			Action:       action,
			ResourceType: "approval_request",
			ResourceID:   &detail.Request.ID,
			Outcome:      enums.AuditOutcomeSuccess,
			Reason:       input.Note,
			Metadata: map[string]any{
				"step":     step.Name,
				"position": step.Position,
			},
		}); err != nil {
			return err
		}

		switch {
		case target == enums.StepStatusRejected:
			return s.decideRequest(ctx, tx, repo, &detail.Request, enums.ApprovalStatusRejected, input.ActorID, input.Note, now)
		case finalApproval:
			return s.decideRequest(ctx, tx, repo, &detail.Request, enums.ApprovalStatusApproved, input.ActorID, "", now)
		default:
			return nil
		}
	})
	if err != nil {
		if errors.Is(err, errStepRace) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "step already decided")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record step decision")
	}

	return s.Get(ctx, input.RequestID)
}

// decideRequest flips the request and emits the terminal event. Runs inside
// the same transaction as the step decision.
func (s *service) decideRequest(ctx context.Context, tx *gorm.DB, repo Repository, request *models.ApprovalRequest, status enums.ApprovalStatus, decidedBy, reason string, decidedAt time.Time) error {
	won, err := repo.DecideRequest(ctx, request.ID, status, decidedBy, reason, decidedAt)
	if err != nil {
		return err
	}
	if !won {
		return errStepRace
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventApprovalDecided,
		AggregateType: enums.AggregateApprovalRequest,
		AggregateID:   request.ID,
		Data: payloads.ApprovalDecidedEvent{
			RequestID: request.ID,
			Kind:      request.Kind,
			Status:    status,
			DecidedBy: decidedBy,
			Reason:    reason,
		},
		OccurredAt: decidedAt,
	})
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*RequestDetail, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "request id is required")
	}
	request, err := s.repo.FindRequest(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "approval request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup approval request")
	}
	steps, err := s.repo.ListSteps(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list approval steps")
	}
	return &RequestDetail{Request: *request, Steps: steps}, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	limit := pkgpagination.NormalizeLimit(params.Limit)
	cursor, err := pkgpagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	requests, err := s.repo.List(ctx, ListQuery{
		Status: params.Status,
		Kind:   params.Kind,
		Limit:  limit + 1,
		Cursor: cursor,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list approval requests")
	}

	page, hasMore := pkgpagination.TrimPage(requests, limit)
	result := &ListResult{Items: page}
	if hasMore && len(page) > 0 {
		last := page[len(page)-1]
		result.Cursor = pkgpagination.EncodeCursor(pkgpagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return result, nil
}

func (s *service) recordDenied(ctx context.Context, requestID uuid.UUID, actorID, action, reason string) error {
	id := requestID
	if _, err := s.audits.Record(ctx, nil, audit.Entry{
		ActorID:      actorID,
		Action:       action,
		ResourceType: "approval_request",
		ResourceID:   &id,
		Outcome:      enums.AuditOutcomeDenied,
		Reason:       reason,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit event")
	}
	return nil
}

var errStepRace = errors.New("step decided concurrently")

func findStep(steps []models.ApprovalStep, name string) *models.ApprovalStep {
	trimmed := strings.TrimSpace(name)
	for i := range steps {
		if steps[i].Name == trimmed {
			return &steps[i]
		}
	}
	return nil
}

func earliestPending(steps []models.ApprovalStep) *models.ApprovalStep {
	for i := range steps {
		if steps[i].Status == enums.StepStatusPending {
			return &steps[i]
		}
	}
	return nil
}

func pendingCount(steps []models.ApprovalStep) int {
	count := 0
	for _, step := range steps {
		if step.Status == enums.StepStatusPending {
			count++
		}
	}
	return count
}
