package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// UsageRecorder appends one usage record per successful call.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, tenantID uuid.UUID, endpoint string, cost int)
}

// SetUsageCost lets a handler report a non-default cost for the
// current request (e.g. per-source analysis fan-out).
func SetUsageCost(r *http.Request, cost int) {
	if p, ok := r.Context().Value(usageCostKey).(*int); ok {
		*p = cost
	}
}

// Usage records a UsageRecord after every 2xx response on the wrapped
// endpoint. The endpoint label is the route pattern, the cost defaults
// to 1 unless the handler set one.
func Usage(rec UsageRecorder, endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc, ok := GetTenant(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, CodeAuth, "No tenant context")
				return
			}

			cost := 1
			ctx := context.WithValue(r.Context(), usageCostKey, &cost)
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r.WithContext(ctx))

			if rw.status >= 200 && rw.status < 300 {
				rec.RecordUsage(r.Context(), tc.Tenant.ID, endpoint, cost)
			}
		})
	}
}
