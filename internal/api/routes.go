package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/technosupport/ts-sentinel/internal/feed"
	"github.com/technosupport/ts-sentinel/internal/middleware"
	"github.com/technosupport/ts-sentinel/internal/ratelimit"
)

// Deps is everything the router needs wired. The limiter may be nil
// (rate limiting off), as may the feed handler.
type Deps struct {
	Ingest   *IngestHandler
	Analyze  *AnalyzeHandler
	Alert    *AlertHandler
	Evidence *EvidenceHandler
	Tenant   *TenantHandler
	Admin    *AdminHandler
	Feed     *feed.Handler

	Auth        middleware.Authenticator
	Usage       middleware.UsageRecorder
	Limiter     *ratelimit.Limiter
	AdminCfg    middleware.AdminConfig
	CredHeaders []string // empty: Authorization Bearer + X-API-Key
}

func Routes(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Metrics)

	// Public
	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(60 * time.Second))
		r.Get("/health", Health)
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
		r.Get("/evidence/{clip_id}", d.Evidence.Serve)
	})

	// Tenant surface
	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(120 * time.Second))
		r.Use(middleware.TenantAuth(d.Auth, d.CredHeaders...))

		r.With(d.limit(ratelimit.ClassIngest), d.usage("/buffer/frame")).
			Post("/buffer/frame", d.Ingest.BufferFrame)

		r.With(d.limit(ratelimit.ClassAnalysis), d.usage("/analyze/on-demand")).
			Post("/analyze/on-demand", d.Analyze.OnDemand)
		r.With(d.limit(ratelimit.ClassAnalysis), d.usage("/alert")).
			Post("/alert", d.Alert.Submit)
		r.With(d.limit(ratelimit.ClassAnalysis), d.usage("/evidence/assemble")).
			Post("/evidence/assemble", d.Evidence.Assemble)
		r.With(d.limit(ratelimit.ClassAnalysis), d.usage("/evidence/compress")).
			Post("/evidence/compress", d.Evidence.Compress)

		r.With(d.limit(ratelimit.ClassRead), d.usage("/usage")).
			Get("/usage", d.Tenant.Usage)
		r.With(d.limit(ratelimit.ClassRead), d.usage("/feed/token")).
			Post("/feed/token", d.Tenant.FeedToken)
	})

	// Websocket feed: authenticates via its own short-lived token and
	// stays outside the request timeout, connections are long-lived.
	if d.Feed != nil {
		r.Get("/feed/live", d.Feed.ServeWS)
	}

	// Admin surface
	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(60 * time.Second))
		r.Use(middleware.AdminAuth(d.AdminCfg))
		r.Post("/admin/tenants", d.Admin.CreateTenant)
		r.Post("/admin/tenants/{id}/revoke", d.Admin.Revoke)
		r.Post("/admin/tenants/{id}/reactivate", d.Admin.Reactivate)
	})

	return r
}

func (d Deps) limit(class ratelimit.Class) func(http.Handler) http.Handler {
	if d.Limiter == nil {
		return passthrough
	}
	return middleware.RateLimit(d.Limiter, class)
}

func (d Deps) usage(endpoint string) func(http.Handler) http.Handler {
	if d.Usage == nil {
		return passthrough
	}
	return middleware.Usage(d.Usage, endpoint)
}

func passthrough(next http.Handler) http.Handler { return next }

// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
