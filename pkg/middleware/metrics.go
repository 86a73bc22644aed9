package middleware

import (
	"net/http"
	"time"

	"roadside-dispatch/pkg/metrics"
)

// Metrics records request count and latency per route pattern.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrap(w)

			next.ServeHTTP(rw, r)

			m.RecordHTTP(routePattern(r), r.Method, rw.statusCode, time.Since(start).Seconds())
		})
	}
}
