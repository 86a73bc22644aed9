package middleware

import (
	"math"
	"net/http"
	"strconv"

	"roadside-dispatch/pkg/ratelimit"
	"roadside-dispatch/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// KeyFunc names the bucket a request is counted in.
type KeyFunc func(r *http.Request) string

// BookingActionKey buckets by route, booking id and caller, so one booking's
// codes cannot be hammered from a single account.
func BookingActionKey(action string) KeyFunc {
	return func(r *http.Request) string {
		key := action + ":" + chi.URLParam(r, "id")
		if userID, ok := utils.GetUserIDFromContext(r.Context()); ok {
			key += ":" + userID.String()
		}
		return key
	}
}

// RateLimit answers 429 once the bucket is full. A failing store lets the
// request through.
func RateLimit(limiter *ratelimit.Limiter, key KeyFunc, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bucket := key(r)

			res, err := limiter.Allow(r.Context(), bucket)
			if err != nil {
				logger.Warn("Rate limit store unavailable", zap.Error(err), zap.String("key", bucket))
				next.ServeHTTP(w, r)
				return
			}

			if !res.Allowed {
				retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(max(retryAfter, 1)))
				logger.Warn("Rate limit exceeded", zap.String("key", bucket))
				utils.ResponseTooManyRequests(w, "Too many requests, slow down", map[string]int{
					"retryAfterSeconds": max(retryAfter, 1),
				})
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			next.ServeHTTP(w, r)
		})
	}
}
