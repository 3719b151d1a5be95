package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/vaultline/treasury-backend/api/responses"
	"github.com/vaultline/treasury-backend/pkg/config"
	"github.com/vaultline/treasury-backend/pkg/db"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
	"github.com/vaultline/treasury-backend/pkg/logger"
	pkgredis "github.com/vaultline/treasury-backend/pkg/redis"
)

const healthCheckTimeout = 2 * time.Second

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Vaultline-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the backing stores and fails closed when either one is
// unreachable, so the load balancer stops routing before requests error.
func HealthReady(cfg *config.Config, logg *logger.Logger, database db.Pinger, cache pkgredis.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Vaultline-Env", cfg.App.Env)

		checks := []struct {
			name   string
			pinger interface {
				Ping(context.Context) error
			}
		}{
			{name: "postgres", pinger: database},
			{name: "redis", pinger: cache},
		}
		for _, check := range checks {
			if check.pinger == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := check.pinger.Ping(ctx)
			cancel()
			if err != nil {
				wrapped := pkgerrors.Wrap(pkgerrors.CodeDependency, err, "dependency unreachable").
					WithDetails(map[string]any{"component": check.name})
				responses.WriteError(r.Context(), logg, w, wrapped)
				return
			}
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
