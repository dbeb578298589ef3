package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/technosupport/ts-sentinel/internal/analyzer"
	"github.com/technosupport/ts-sentinel/internal/middleware"
)

type IngestHandler struct {
	Supervisor *analyzer.Supervisor
}

func NewIngestHandler(sv *analyzer.Supervisor) *IngestHandler {
	return &IngestHandler{Supervisor: sv}
}

// POST /buffer/frame
func (h *IngestHandler) BufferFrame(w http.ResponseWriter, r *http.Request) {
	tc, ok := middleware.GetTenant(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, codeForbidden, "No tenant context")
		return
	}

	var req struct {
		SourceID   string `json:"source_id"`
		SourceName string `json:"source_name"`
		FrameData  string `json:"frame_data"`
		FrameCount int    `json:"frame_count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, codeInput, "Invalid JSON")
		return
	}
	if req.SourceID == "" {
		respondError(w, http.StatusBadRequest, codeInput, "source_id is required")
		return
	}
	payload, err := base64.StdEncoding.DecodeString(req.FrameData)
	if err != nil || len(payload) == 0 {
		respondError(w, http.StatusBadRequest, codeInput, "frame_data must be base64-encoded JPEG")
		return
	}

	size, err := h.Supervisor.Append(tc.Tenant.ID, req.SourceID, req.SourceName, time.Now().UTC(), payload)
	if err != nil {
		if errors.Is(err, analyzer.ErrSourceOwned) {
			respondError(w, http.StatusForbidden, codeForbidden, "Source belongs to another tenant")
			return
		}
		respondError(w, http.StatusInternalServerError, codeInternal, "Buffering failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "buffered",
		"buffer_size": size,
	})
}
