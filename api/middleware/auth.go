package middleware

import (
	"net/http"
	"strings"

	"github.com/vaultline/treasury-backend/api/responses"
	pkgauth "github.com/vaultline/treasury-backend/pkg/auth"
	"github.com/vaultline/treasury-backend/pkg/config"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
	"github.com/vaultline/treasury-backend/pkg/logger"
)

// AuthorityHeader carries the shared secret that marks a request as the
// privileged authority principal.
const AuthorityHeader = "X-Authority-Token"

// AuthorityChecker verifies a presented authority token in constant time.
type AuthorityChecker interface {
	TokensMatch(presented string) bool
}

// Auth validates the bearer token, resolves the optional authority header
// and seeds the request context with the claims. A presented authority
// token that fails verification rejects the request outright rather than
// downgrading it silently.
func Auth(cfg config.JWTConfig, checker AuthorityChecker, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgauth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			isAuthority := false
			if presented := strings.TrimSpace(r.Header.Get(AuthorityHeader)); presented != "" {
				if checker == nil || !checker.TokensMatch(presented) {
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeAuthorityRequired, "authority token rejected"))
					return
				}
				isAuthority = true
			}

			ctx := WithActorID(r.Context(), claims.ActorID.String())
			ctx = WithRole(ctx, claims.Role)
			ctx = WithAuthority(ctx, isAuthority)

			if logg != nil {
				fields := map[string]any{
					"actor_id":   claims.ActorID.String(),
					"actor_role": string(claims.Role),
				}
				if isAuthority {
					fields["authority"] = true
				}
				ctx = logg.WithFields(ctx, fields)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuthority gates a route to requests that proved the authority
// token. Auth must run earlier in the chain.
func RequireAuthority(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IsAuthority(r.Context()) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeAuthorityRequired, "authority token required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
