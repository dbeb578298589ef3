package api

import (
	"net/http"
	"time"

	"github.com/technosupport/ts-sentinel/internal/middleware"
	"github.com/technosupport/ts-sentinel/internal/tenants"
	"github.com/technosupport/ts-sentinel/internal/tokens"
)

type TenantHandler struct {
	Service *tenants.Service
	Tokens  *tokens.Manager
}

func NewTenantHandler(svc *tenants.Service, tm *tokens.Manager) *TenantHandler {
	return &TenantHandler{Service: svc, Tokens: tm}
}

// GET /usage
func (h *TenantHandler) Usage(w http.ResponseWriter, r *http.Request) {
	tc, ok := middleware.GetTenant(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, codeForbidden, "No tenant context")
		return
	}

	summary, err := h.Service.UsageSummary(r.Context(), tc.Tenant.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, codeInternal, "Usage lookup failed")
		return
	}

	var total int64
	for _, e := range summary {
		total += e.TotalCost
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"tenant_id":  tc.Tenant.ID.String(),
		"endpoints":  summary,
		"total_cost": total,
	})
}

// POST /feed/token
func (h *TenantHandler) FeedToken(w http.ResponseWriter, r *http.Request) {
	tc, ok := middleware.GetTenant(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, codeForbidden, "No tenant context")
		return
	}

	token, expires, err := h.Tokens.GenerateFeedToken(tc.Tenant.ID.String())
	if err != nil {
		respondError(w, http.StatusInternalServerError, codeInternal, "Token generation failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expires.Format(time.RFC3339),
	})
}
