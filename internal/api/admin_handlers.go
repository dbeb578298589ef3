package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/technosupport/ts-sentinel/internal/tenants"
)

type AdminHandler struct {
	Service *tenants.Service
}

func NewAdminHandler(svc *tenants.Service) *AdminHandler {
	return &AdminHandler{Service: svc}
}

// POST /admin/tenants
func (h *AdminHandler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, codeInput, "Invalid JSON")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, codeInput, "name is required")
		return
	}

	tenant, plaintext, err := h.Service.Create(r.Context(), req.Name, req.Email)
	if err != nil {
		respondError(w, http.StatusInternalServerError, codeInternal, "Tenant creation failed")
		return
	}

	// The plaintext credential exists in this response and nowhere
	// else; only its digest is stored.
	respondJSON(w, http.StatusOK, map[string]any{
		"tenant_id":  tenant.ID.String(),
		"credential": plaintext,
	})
}

// POST /admin/tenants/{id}/revoke
func (h *AdminHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

// POST /admin/tenants/{id}/reactivate
func (h *AdminHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *AdminHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, codeInput, "Invalid tenant id")
		return
	}

	var (
		count  int64
		status string
	)
	if active {
		count, err = h.Service.Reactivate(r.Context(), id)
		status = "reactivated"
	} else {
		count, err = h.Service.Revoke(r.Context(), id)
		status = "revoked"
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, codeInternal, "Tenant update failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": status,
		"count":  count,
	})
}
