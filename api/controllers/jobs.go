package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vaultline/treasury-backend/api/middleware"
	"github.com/vaultline/treasury-backend/api/responses"
	"github.com/vaultline/treasury-backend/internal/scheduler"
	"github.com/vaultline/treasury-backend/pkg/db/models"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
	"github.com/vaultline/treasury-backend/pkg/logger"
)

// JobRunner triggers a scheduled job outside its cron window.
type JobRunner interface {
	RunNow(ctx context.Context, input scheduler.RunNowInput) (*models.JobRun, error)
}

// RunJobNow fires one scheduled job immediately. Authority only.
func RunJobNow(runner JobRunner, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if runner == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "scheduler unavailable"))
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid job id"))
			return
		}

		run, err := runner.RunNow(r.Context(), scheduler.RunNowInput{
			JobID:            jobID,
			ActorID:          middleware.ActorIDFromContext(r.Context()),
			ActorIsAuthority: middleware.IsAuthority(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, run)
	}
}
