package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-sentinel/internal/alerts"
	"github.com/technosupport/ts-sentinel/internal/analyzer"
	"github.com/technosupport/ts-sentinel/internal/coordinator"
	"github.com/technosupport/ts-sentinel/internal/dedup"
	"github.com/technosupport/ts-sentinel/internal/fingerprint"
	"github.com/technosupport/ts-sentinel/internal/middleware"
	"github.com/technosupport/ts-sentinel/internal/ring"
)

// AlertHandler accepts preformed alerts from clients that run their
// own detection. Dedup, evidence publication and dispatch still apply;
// only the screen/confirm stages are skipped.
type AlertHandler struct {
	Supervisor *analyzer.Supervisor
	Cache      *dedup.Cache
	Tenants    coordinator.TenantResolver
	Assembler  coordinator.Assembler
	Publisher  coordinator.Publisher
	Dispatcher coordinator.Dispatcher
	Cooldown   time.Duration
	LongWindow time.Duration
}

// POST /alert
func (h *AlertHandler) Submit(w http.ResponseWriter, r *http.Request) {
	tc, ok := middleware.GetTenant(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, codeForbidden, "No tenant context")
		return
	}

	var req struct {
		Narrative    string `json:"narrative"`
		IncidentType string `json:"incident_type"`
		Risk         string `json:"risk"`
		FrameCount   int    `json:"frame_count"`
		SourceID     string `json:"source_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, codeInput, "Invalid JSON")
		return
	}
	if req.SourceID == "" || req.IncidentType == "" {
		respondError(w, http.StatusBadRequest, codeInput, "source_id and incident_type are required")
		return
	}

	src, err := h.Supervisor.Get(tc.Tenant.ID, req.SourceID)
	if err != nil {
		if errors.Is(err, analyzer.ErrSourceOwned) {
			respondError(w, http.StatusForbidden, codeForbidden, "Source belongs to another tenant")
			return
		}
		respondError(w, http.StatusBadRequest, codeInput, "No buffered frames for source")
		return
	}
	window := src.Ring.Snapshot(h.LongWindow)
	if len(window) == 0 {
		respondError(w, http.StatusBadRequest, codeInput, "No buffered frames for source")
		return
	}

	key := alertDedupKey(tc.Tenant.ID, window)
	if key != "" {
		if dup, since := h.Cache.IsDuplicate(key, h.Cooldown); dup {
			respondJSON(w, http.StatusOK, map[string]any{
				"delivered":          false,
				"suppressed":         true,
				"seconds_since_last": *since,
			})
			return
		}
	}

	name, contact, err := h.Tenants.TenantContact(r.Context(), tc.Tenant.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, codeInternal, "Tenant lookup failed")
		return
	}

	var (
		evidenceURL     string
		storageLocation string
		evidenceExp     time.Time
	)
	if res, err := h.Assembler.Assemble(r.Context(), window); err != nil {
		log.Printf("[WARN] Alert submit: clip assembly failed, alerting without evidence: %v", err)
	} else if rec, err := h.Publisher.Publish(r.Context(), tc.Tenant.ID, res.Data, req.IncidentType); err != nil {
		log.Printf("[ERROR] Alert submit: evidence publication failed: %v", err)
	} else {
		evidenceURL = rec.URL
		storageLocation = rec.StorageLocation
		evidenceExp = rec.ExpiresAt
	}

	narrative := req.Narrative
	if req.Risk != "" {
		narrative = fmt.Sprintf("Risk: %s\n\n%s", req.Risk, narrative)
	}
	alert := &alerts.Alert{
		ID:           uuid.New(),
		TenantID:     tc.Tenant.ID,
		TenantName:   name,
		Recipient:    contact,
		SourceName:   src.Name,
		IncidentKind: req.IncidentType,
		Narrative:    narrative,
		EvidenceURL:  evidenceURL,
		EvidenceExp:  evidenceExp,
		DetectedAt:   time.Now().UTC(),
	}

	result, err := h.Dispatcher.Dispatch(r.Context(), alert)
	if err != nil {
		if errors.Is(err, alerts.ErrNoRecipient) {
			respondError(w, http.StatusBadRequest, codeInput, "Client contact address not configured")
			return
		}
		respondError(w, http.StatusInternalServerError, codeInternal, "Alert dispatch failed")
		return
	}

	if result == alerts.ResultSent && key != "" {
		h.Cache.Record(key, req.IncidentType)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"delivered":        result == alerts.ResultSent,
		"recipient":        contact,
		"evidence_url":     evidenceURL,
		"storage_location": storageLocation,
	})
}

func alertDedupKey(tenantID uuid.UUID, window []ring.Frame) string {
	mid := window[len(window)/2]
	fp, err := fingerprint.Compute(mid.Payload)
	if err != nil {
		return ""
	}
	return dedup.TenantKey(tenantID.String(), fp.Hex())
}
