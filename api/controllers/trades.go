package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vaultline/treasury-backend/api/middleware"
	"github.com/vaultline/treasury-backend/api/responses"
	"github.com/vaultline/treasury-backend/api/validators"
	"github.com/vaultline/treasury-backend/internal/trading"
	"github.com/vaultline/treasury-backend/pkg/db/models"
	"github.com/vaultline/treasury-backend/pkg/enums"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
	"github.com/vaultline/treasury-backend/pkg/logger"
	pkgpagination "github.com/vaultline/treasury-backend/pkg/pagination"
)

type submitTradeRequest struct {
	AccountID   string `json:"account_id" validate:"required,uuid"`
	Symbol      string `json:"symbol" validate:"required,max=32"`
	Side        string `json:"side" validate:"required"`
	AmountCents int64  `json:"amount_cents" validate:"required,gt=0"`
	Confidence  int    `json:"confidence" validate:"gte=0,lte=100"`
}

type tradeDecisionRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=512"`
}

// SubmitTrade proposes a trade; high-confidence small trades execute
// immediately, the rest escalate to the authority.
func SubmitTrade(svc trading.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "trading service unavailable"))
			return
		}

		var body submitTradeRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		accountID, err := uuid.Parse(body.AccountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid account id"))
			return
		}
		side, err := enums.ParseTradeSide(body.Side)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid trade side"))
			return
		}

		trade, err := svc.SubmitTrade(r.Context(), trading.SubmitTradeInput{
			AccountID:        accountID,
			Side:             side,
			Symbol:           validators.SanitizeString(body.Symbol, 32),
			AmountCents:      body.AmountCents,
			Confidence:       body.Confidence,
			ActorID:          middleware.ActorIDFromContext(r.Context()),
			ActorIsAuthority: middleware.IsAuthority(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, trade)
	}
}

// GetTrade returns one trade request with its current status.
func GetTrade(svc trading.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "trading service unavailable"))
			return
		}

		tradeID, err := uuid.Parse(chi.URLParam(r, "tradeID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid trade id"))
			return
		}

		trade, err := svc.Get(r.Context(), tradeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, trade)
	}
}

// ListTrades returns a page of trade requests, newest first.
func ListTrades(svc trading.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "trading service unavailable"))
			return
		}

		var params trading.ListParams

		accountID, err := validators.ParseQueryUUID(r, "account_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params.AccountID = accountID

		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, parseErr := enums.ParseTradeStatus(raw)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid status filter"))
				return
			}
			params.Status = &status
		}

		limit, err := validators.ParseQueryInt(r, "limit", 0, 0, pkgpagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params.Limit = limit
		params.Cursor = strings.TrimSpace(r.URL.Query().Get("cursor"))

		result, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteList(w, result.Items, result.Cursor)
	}
}

// ApproveTrade executes an escalated trade. Authority only.
func ApproveTrade(svc trading.Service, logg *logger.Logger) http.HandlerFunc {
	return tradeDecision(svc, logg, trading.Service.Approve)
}

// RejectTrade declines an escalated trade. Authority only.
func RejectTrade(svc trading.Service, logg *logger.Logger) http.HandlerFunc {
	return tradeDecision(svc, logg, trading.Service.Reject)
}

func tradeDecision(svc trading.Service, logg *logger.Logger, decide func(trading.Service, context.Context, trading.DecideInput) (*models.TradeRequest, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "trading service unavailable"))
			return
		}

		tradeID, err := uuid.Parse(chi.URLParam(r, "tradeID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid trade id"))
			return
		}

		var body tradeDecisionRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		trade, err := decide(svc, r.Context(), trading.DecideInput{
			TradeID:          tradeID,
			Reason:           validators.SanitizeString(body.Reason, 512),
			ActorID:          middleware.ActorIDFromContext(r.Context()),
			ActorIsAuthority: middleware.IsAuthority(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, trade)
	}
}
