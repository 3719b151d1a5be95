package controllers

import (
	"context"
	"net/http"

	"github.com/vaultline/treasury-backend/api/middleware"
	"github.com/vaultline/treasury-backend/api/responses"
	"github.com/vaultline/treasury-backend/api/validators"
	"github.com/vaultline/treasury-backend/internal/audit"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
	"github.com/vaultline/treasury-backend/pkg/logger"
	pkgpagination "github.com/vaultline/treasury-backend/pkg/pagination"
)

// AuditLister pages through the recorded audit trail.
type AuditLister interface {
	List(ctx context.Context, params audit.ListParams) (*audit.ListResult, error)
}

// ListAudit returns a filtered page of audit events, newest first.
func ListAudit(svc AuditLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "audit service unavailable"))
			return
		}
		if !middleware.IsAuthority(r.Context()) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeAuthorityRequired, "authority token required"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 0, 0, pkgpagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		resourceID, err := validators.ParseQueryUUID(r, "resource_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		from, err := validators.ParseQueryTime(r, "from")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		to, err := validators.ParseQueryTime(r, "to")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.List(r.Context(), audit.ListParams{
			ActorID:      validators.SanitizeString(r.URL.Query().Get("actor_id"), 128),
			Action:       validators.SanitizeString(r.URL.Query().Get("action"), 128),
			ResourceType: validators.SanitizeString(r.URL.Query().Get("resource_type"), 64),
			ResourceID:   resourceID,
			From:         from,
			To:           to,
			Params: pkgpagination.Params{
				Limit:  limit,
				Cursor: r.URL.Query().Get("cursor"),
			},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteList(w, result.Items, result.Cursor)
	}
}
