package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/technosupport/ts-sentinel/internal/analyzer"
	"github.com/technosupport/ts-sentinel/internal/middleware"
	"github.com/technosupport/ts-sentinel/internal/vision"
)

type AnalyzeHandler struct {
	Supervisor *analyzer.Supervisor
}

func NewAnalyzeHandler(sv *analyzer.Supervisor) *AnalyzeHandler {
	return &AnalyzeHandler{Supervisor: sv}
}

type sourceVerdict struct {
	HasSecurityIncident bool           `json:"has_security_incident"`
	Confirmed           bool           `json:"confirmed"`
	Vetoed              bool           `json:"vetoed"`
	IncidentType        string         `json:"incident_type"`
	Narrative           string         `json:"narrative"`
	PerFrame            []frameVerdict `json:"per_frame,omitempty"`
	SourceName          string         `json:"source_name"`
	Error               string         `json:"error,omitempty"`
}

type frameVerdict struct {
	Position  string `json:"position"`
	Incident  bool   `json:"incident"`
	Narrative string `json:"narrative"`
}

// POST /analyze/on-demand
//
// Runs one screen/confirm cycle per named source, concurrently across
// sources. Within a source the cycle serializes with the background
// loop, so no source ever has two vision calls in flight.
func (h *AnalyzeHandler) OnDemand(w http.ResponseWriter, r *http.Request) {
	tc, ok := middleware.GetTenant(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, codeForbidden, "No tenant context")
		return
	}

	var req struct {
		SourceIDs []string `json:"source_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, codeInput, "Invalid JSON")
		return
	}
	if len(req.SourceIDs) == 0 {
		respondError(w, http.StatusBadRequest, codeInput, "source_ids is required")
		return
	}

	// Resolve every source up front so a cross-tenant id fails the
	// whole request before any vision spend.
	srcs := make(map[string]*analyzer.Source, len(req.SourceIDs))
	for _, id := range req.SourceIDs {
		src, err := h.Supervisor.Get(tc.Tenant.ID, id)
		if err != nil {
			if errors.Is(err, analyzer.ErrSourceOwned) {
				respondError(w, http.StatusForbidden, codeForbidden, "Source belongs to another tenant")
				return
			}
			srcs[id] = nil // unknown: reported per-source below
			continue
		}
		srcs[id] = src
	}

	// A client disconnect must not cancel in-flight vision calls; the
	// spend already happened. Detach from the request context but keep
	// a hard ceiling.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Minute)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]*sourceVerdict, len(srcs))
	)
	for id, src := range srcs {
		if src == nil {
			results[id] = &sourceVerdict{Error: "unknown source"}
			continue
		}
		wg.Add(1)
		go func(id string, src *analyzer.Source) {
			defer wg.Done()
			res := src.AnalyzeOnce(ctx)
			v := verdictFor(src, res)
			mu.Lock()
			results[id] = v
			mu.Unlock()
		}(id, src)
	}
	wg.Wait()

	middleware.SetUsageCost(r, len(req.SourceIDs))

	summary := struct {
		ScreenerPositives      int  `json:"screener_positives"`
		ConfirmerConfirmations int  `json:"confirmer_confirmations"`
		ConfirmerVetoes        int  `json:"confirmer_vetoes"`
		AnyConfirmed           bool `json:"any_confirmed"`
	}{}
	analyzed := 0
	for _, v := range results {
		if v.Error != "" {
			continue
		}
		analyzed++
		if v.HasSecurityIncident || v.Vetoed {
			summary.ScreenerPositives++
		}
		if v.Confirmed {
			summary.ConfirmerConfirmations++
		}
		if v.Vetoed {
			summary.ConfirmerVetoes++
		}
	}
	summary.AnyConfirmed = summary.ConfirmerConfirmations > 0

	respondJSON(w, http.StatusOK, map[string]any{
		"tenant_name":      tc.Tenant.Name,
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
		"sources_analyzed": analyzed,
		"sources":          results,
		"summary":          summary,
	})
}

func verdictFor(src *analyzer.Source, res *analyzer.CycleResult) *sourceVerdict {
	v := &sourceVerdict{SourceName: src.Name}
	if res == nil || res.Screener == nil {
		v.Narrative = "no recent frames to analyze"
		return v
	}

	v.Narrative = res.Screener.Narrative
	v.IncidentType = res.Screener.IncidentKind
	v.Vetoed = res.Vetoed
	v.Confirmed = res.Confirmed
	v.HasSecurityIncident = res.Confirmed || res.Fallback

	final := res.Screener
	if res.Confirmer != nil {
		final = res.Confirmer
		v.PerFrame = perFrame(res.Confirmer.PerFrame)
	}
	if final.Narrative != "" {
		v.Narrative = final.Narrative
	}
	if final.IncidentKind != "" {
		v.IncidentType = final.IncidentKind
	}
	return v
}

func perFrame(in []vision.FrameVerdict) []frameVerdict {
	out := make([]frameVerdict, len(in))
	for i, fv := range in {
		out[i] = frameVerdict{Position: fv.Position, Incident: fv.Incident, Narrative: fv.Narrative}
	}
	return out
}
