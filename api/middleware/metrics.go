package middleware

import (
	"net/http"
	"time"

	"github.com/vaultline/treasury-backend/pkg/metrics"
)

// Metrics instruments every request with the route-pattern counters. It
// must run inside the chi router so the matched pattern is available.
func Metrics(collector *metrics.HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if collector == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()

			next.ServeHTTP(rec, r)

			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			collector.ObserveRequest(routePattern(r), r.Method, rec.status, time.Since(start))
		})
	}
}
