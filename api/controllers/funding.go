package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/vaultline/treasury-backend/api/middleware"
	"github.com/vaultline/treasury-backend/api/responses"
	"github.com/vaultline/treasury-backend/api/validators"
	"github.com/vaultline/treasury-backend/internal/trading"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
	"github.com/vaultline/treasury-backend/pkg/logger"
)

type depositRequest struct {
	AccountID   string `json:"account_id" validate:"required,uuid"`
	AmountCents int64  `json:"amount_cents" validate:"required,gt=0"`
	Source      string `json:"source" validate:"required,max=128"`
}

type withdrawalRequest struct {
	AccountID   string `json:"account_id" validate:"required,uuid"`
	AmountCents int64  `json:"amount_cents" validate:"required,gt=0"`
	Destination string `json:"destination" validate:"required,max=128"`
}

// SubmitDeposit asks the payment rail to collect funds into an account.
func SubmitDeposit(svc trading.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "trading service unavailable"))
			return
		}

		var body depositRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		accountID, err := uuid.Parse(body.AccountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid account id"))
			return
		}

		txn, err := svc.SubmitDeposit(r.Context(), trading.DepositInput{
			AccountID:        accountID,
			AmountCents:      body.AmountCents,
			Source:           validators.SanitizeString(body.Source, 128),
			ActorID:          middleware.ActorIDFromContext(r.Context()),
			ActorIsAuthority: middleware.IsAuthority(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, txn)
	}
}

// SubmitWithdrawal moves funds out through the payment rail. Non-authority
// callers go through escalation first.
func SubmitWithdrawal(svc trading.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "trading service unavailable"))
			return
		}

		var body withdrawalRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		accountID, err := uuid.Parse(body.AccountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid account id"))
			return
		}

		txn, err := svc.SubmitWithdrawal(r.Context(), trading.WithdrawalInput{
			AccountID:        accountID,
			AmountCents:      body.AmountCents,
			Destination:      validators.SanitizeString(body.Destination, 128),
			ActorID:          middleware.ActorIDFromContext(r.Context()),
			ActorIsAuthority: middleware.IsAuthority(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, txn)
	}
}
