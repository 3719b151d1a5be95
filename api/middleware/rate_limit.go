package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/vaultline/treasury-backend/api/responses"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
	"github.com/vaultline/treasury-backend/pkg/logger"
)

type rateLimiterStore interface {
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
	RateLimitKey(scope string) string
}

// MoneyRateLimitPolicy defines the throttling parameters for the
// money-moving surface. Actor counters are the tight limit; IP counters
// back them up against credential-sharing bursts.
type MoneyRateLimitPolicy struct {
	name       string
	window     time.Duration
	actorLimit int
	ipLimit    int
}

// NewMoneyRateLimitPolicy builds a policy with the supplied window and limits.
func NewMoneyRateLimitPolicy(name string, window time.Duration, actorLimit, ipLimit int) MoneyRateLimitPolicy {
	return MoneyRateLimitPolicy{
		name:       strings.ToLower(strings.TrimSpace(name)),
		window:     window,
		actorLimit: actorLimit,
		ipLimit:    ipLimit,
	}
}

func (p MoneyRateLimitPolicy) enabled() bool {
	return p.window > 0 && (p.actorLimit > 0 || p.ipLimit > 0)
}

func (p MoneyRateLimitPolicy) normalizedName() string {
	if p.name == "" {
		return "money"
	}
	return p.name
}

func (p MoneyRateLimitPolicy) actorScope(actorID string) string {
	if actorID == "" {
		return ""
	}
	return fmt.Sprintf("%s:actor:%s", p.normalizedName(), actorID)
}

func (p MoneyRateLimitPolicy) ipScope(ip string) string {
	if ip == "" {
		return ""
	}
	return fmt.Sprintf("%s:ip:%s", p.normalizedName(), ip)
}

// MoneyRateLimit enforces per-actor and per-IP counters on money-moving
// endpoints. Auth must run earlier so the actor id is on the context.
func MoneyRateLimit(policy MoneyRateLimitPolicy, store rateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if policy.actorLimit > 0 {
				if scope := policy.actorScope(ActorIDFromContext(ctx)); scope != "" {
					allowed, count, err := allow(ctx, store, scope, policy.window, int64(policy.actorLimit))
					if err != nil {
						responses.WriteError(ctx, nil, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
						return
					}
					if !allowed {
						respondRateLimited(ctx, logg, w, policy, "actor", ActorIDFromContext(ctx), count, policy.actorLimit)
						return
					}
				}
			}

			if policy.ipLimit > 0 {
				if scope := policy.ipScope(clientIP(r)); scope != "" {
					allowed, count, err := allow(ctx, store, scope, policy.window, int64(policy.ipLimit))
					if err != nil {
						responses.WriteError(ctx, nil, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
						return
					}
					if !allowed {
						respondRateLimited(ctx, logg, w, policy, "ip", clientIP(r), count, policy.ipLimit)
						return
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func allow(ctx context.Context, store rateLimiterStore, scope string, window time.Duration, limit int64) (bool, int64, error) {
	count, err := store.IncrWithTTL(ctx, store.RateLimitKey(scope), window)
	if err != nil {
		return false, 0, err
	}
	return count <= limit, count, nil
}

func respondRateLimited(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, policy MoneyRateLimitPolicy, scope, principal string, count int64, limit int) {
	if logg != nil {
		fields := map[string]any{
			"scope":          scope,
			"principal":      principal,
			"policy":         policy.normalizedName(),
			"attempts":       count,
			"limit":          limit,
			"window_seconds": int(policy.window.Seconds()),
		}
		logCtx := logg.WithFields(ctx, fields)
		logg.Warn(logCtx, "money.rate_limit.blocked")
	}
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
