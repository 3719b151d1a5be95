package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vaultline/treasury-backend/api/middleware"
	"github.com/vaultline/treasury-backend/api/responses"
	"github.com/vaultline/treasury-backend/api/validators"
	"github.com/vaultline/treasury-backend/internal/scheduler"
	"github.com/vaultline/treasury-backend/pkg/db/models"
	"github.com/vaultline/treasury-backend/pkg/enums"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
	"github.com/vaultline/treasury-backend/pkg/logger"
)

// TargetsService reads and writes the operating thresholds the scheduled
// jobs steer by.
type TargetsService interface {
	Set(ctx context.Context, input scheduler.TargetInput) (*models.Target, error)
	Get(ctx context.Context, kind enums.TargetKind) (*models.Target, error)
}

type setTargetRequest struct {
	AmountCents int64  `json:"amount_cents" validate:"gte=0"`
	Note        string `json:"note" validate:"omitempty,max=512"`
}

// SetTarget upserts one named threshold. Authority only. A zero amount is
// legal and disables the behavior that keys off the target.
func SetTarget(svc TargetsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "targets service unavailable"))
			return
		}

		kind, err := enums.ParseTargetKind(chi.URLParam(r, "kind"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid target kind"))
			return
		}

		var body setTargetRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		target, err := svc.Set(r.Context(), scheduler.TargetInput{
			Kind:             kind,
			AmountCents:      body.AmountCents,
			Note:             validators.SanitizeString(body.Note, 512),
			ActorID:          middleware.ActorIDFromContext(r.Context()),
			ActorIsAuthority: middleware.IsAuthority(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, target)
	}
}

// GetTarget returns the current value of one named threshold.
func GetTarget(svc TargetsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "targets service unavailable"))
			return
		}

		kind, err := enums.ParseTargetKind(chi.URLParam(r, "kind"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid target kind"))
			return
		}

		target, err := svc.Get(r.Context(), kind)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, target)
	}
}
