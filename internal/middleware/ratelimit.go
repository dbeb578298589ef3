package middleware

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/technosupport/ts-sentinel/internal/ratelimit"
)

// RateLimit enforces the tenant's quota for one endpoint class. Redis
// being down fails open: losing quota accounting briefly beats taking
// the ingest path down with it.
func RateLimit(limiter *ratelimit.Limiter, class ratelimit.Class) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc, ok := GetTenant(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, CodeAuth, "No tenant context")
				return
			}

			decision, err := limiter.Check(r.Context(), tc.Tenant.ID.String(), class)
			if err != nil {
				if errors.Is(err, ratelimit.ErrRedisUnavailable) {
					log.Printf("[WARN] Rate limiter unavailable, failing open")
					next.ServeHTTP(w, r)
					return
				}
				writeError(w, http.StatusInternalServerError, CodeInternal, "Rate limiter error")
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			if !decision.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
				writeError(w, http.StatusTooManyRequests, CodeQuota, "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
