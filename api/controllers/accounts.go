package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vaultline/treasury-backend/api/middleware"
	"github.com/vaultline/treasury-backend/api/responses"
	"github.com/vaultline/treasury-backend/api/validators"
	"github.com/vaultline/treasury-backend/internal/wallet"
	"github.com/vaultline/treasury-backend/pkg/enums"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
	"github.com/vaultline/treasury-backend/pkg/logger"
	pkgpagination "github.com/vaultline/treasury-backend/pkg/pagination"
)

type openAccountRequest struct {
	OwnerID  string `json:"owner_id" validate:"required,max=128"`
	Name     string `json:"name" validate:"required,max=128"`
	Currency string `json:"currency" validate:"omitempty,len=3"`
}

// OpenAccount creates an account with its wallet in one step.
func OpenAccount(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}

		var body openAccountRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := wallet.OpenInput{
			OwnerID: validators.SanitizeString(body.OwnerID, 128),
			Name:    validators.SanitizeString(body.Name, 128),
			ActorID: middleware.ActorIDFromContext(r.Context()),
		}
		if raw := strings.TrimSpace(body.Currency); raw != "" {
			currency, err := enums.ParseCurrency(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency"))
				return
			}
			input.Currency = currency
		}

		account, err := svc.Open(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, account)
	}
}

// AccountBalance returns the three balance buckets for one account.
func AccountBalance(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}

		accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid account id"))
			return
		}

		snapshot, err := svc.Balance(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snapshot)
	}
}

// AccountTransactions lists an account's transactions, newest first.
func AccountTransactions(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}

		accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid account id"))
			return
		}

		params := wallet.ListTransactionsParams{AccountID: accountID}

		limit, err := validators.ParseQueryInt(r, "limit", 0, 0, pkgpagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params.Limit = limit
		params.Cursor = strings.TrimSpace(r.URL.Query().Get("cursor"))

		if raw := strings.TrimSpace(r.URL.Query().Get("kind")); raw != "" {
			kind, parseErr := enums.ParseTransactionKind(raw)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid kind filter"))
				return
			}
			params.Kind = &kind
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("direction")); raw != "" {
			direction, parseErr := enums.ParseTransactionDirection(raw)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid direction filter"))
				return
			}
			params.Direction = &direction
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, parseErr := enums.ParseTransactionStatus(raw)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid status filter"))
				return
			}
			params.Status = &status
		}

		result, err := svc.ListTransactions(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteList(w, result.Items, result.Cursor)
	}
}
