package controllers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vaultline/treasury-backend/api/middleware"
	"github.com/vaultline/treasury-backend/api/responses"
	"github.com/vaultline/treasury-backend/api/validators"
	"github.com/vaultline/treasury-backend/internal/approvals"
	"github.com/vaultline/treasury-backend/pkg/enums"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
	"github.com/vaultline/treasury-backend/pkg/logger"
	pkgpagination "github.com/vaultline/treasury-backend/pkg/pagination"
)

type submitApprovalRequest struct {
	Kind        string          `json:"kind" validate:"required"`
	SubjectType string          `json:"subject_type" validate:"required,max=64"`
	SubjectID   string          `json:"subject_id" validate:"omitempty,uuid"`
	Payload     json.RawMessage `json:"payload"`
	Steps       []string        `json:"steps" validate:"required,min=1,dive,required,max=64"`
}

type stepDecisionRequest struct {
	Note string `json:"note" validate:"omitempty,max=512"`
}

// SubmitApproval opens a new approval request with its ordered step chain.
func SubmitApproval(svc approvals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "approvals service unavailable"))
			return
		}

		var body submitApprovalRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		kind, err := enums.ParseApprovalKind(body.Kind)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid approval kind"))
			return
		}

		var subjectID *uuid.UUID
		if body.SubjectID != "" {
			parsed, err := uuid.Parse(body.SubjectID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid subject id"))
				return
			}
			subjectID = &parsed
		}

		detail, err := svc.Submit(r.Context(), approvals.SubmitInput{
			Kind:        kind,
			SubjectType: validators.SanitizeString(body.SubjectType, 64),
			SubjectID:   subjectID,
			Payload:     body.Payload,
			Steps:       body.Steps,
			RequestedBy: middleware.ActorIDFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, detail)
	}
}

// GetApproval returns one approval request with its full step chain.
func GetApproval(svc approvals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "approvals service unavailable"))
			return
		}

		requestID, err := uuid.Parse(chi.URLParam(r, "requestID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request id"))
			return
		}

		detail, err := svc.Get(r.Context(), requestID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

// ListApprovals returns a page of approval requests, newest first.
func ListApprovals(svc approvals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "approvals service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 0, 0, pkgpagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params := approvals.ListParams{
			Params: pkgpagination.Params{
				Limit:  limit,
				Cursor: r.URL.Query().Get("cursor"),
			},
		}
		if raw := r.URL.Query().Get("status"); raw != "" {
			status, err := enums.ParseApprovalStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
				return
			}
			params.Status = &status
		}
		if raw := r.URL.Query().Get("kind"); raw != "" {
			kind, err := enums.ParseApprovalKind(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid kind filter"))
				return
			}
			params.Kind = &kind
		}

		result, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteList(w, result.Items, result.Cursor)
	}
}

// ApproveApprovalStep passes one step of a pending request. Steps decide in
// position order only.
func ApproveApprovalStep(svc approvals.Service, logg *logger.Logger) http.HandlerFunc {
	return stepDecision(svc, logg, approvals.Service.ApproveStep)
}

// RejectApprovalStep fails one step and short-circuits the whole request.
func RejectApprovalStep(svc approvals.Service, logg *logger.Logger) http.HandlerFunc {
	return stepDecision(svc, logg, approvals.Service.RejectStep)
}

func stepDecision(svc approvals.Service, logg *logger.Logger, decide func(approvals.Service, context.Context, approvals.StepInput) (*approvals.RequestDetail, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "approvals service unavailable"))
			return
		}

		requestID, err := uuid.Parse(chi.URLParam(r, "requestID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request id"))
			return
		}
		stepName := validators.SanitizeString(chi.URLParam(r, "step"), 64)
		if stepName == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "step name is required"))
			return
		}

		var body stepDecisionRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		detail, err := decide(svc, r.Context(), approvals.StepInput{
			RequestID:        requestID,
			StepName:         stepName,
			Note:             validators.SanitizeString(body.Note, 512),
			ActorID:          middleware.ActorIDFromContext(r.Context()),
			ActorIsAuthority: middleware.IsAuthority(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}
