// visionsim is a stand-in for the vision inference gateway, for local
// development and load testing. It speaks the /v1/analyze contract and
// answers from a scripted scenario instead of a model.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"
)

var (
	listenAddr   string
	apiKey       string
	scenario     string  // quiet | incident | random
	incidentRate float64 // probability per call when scenario=random

	analyzeTotal  int64
	incidentTotal int64
)

var incidentKinds = []string{
	"intrusion", "loitering", "vehicle_breach", "tailgating", "vandalism",
}

type analyzeRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Frames []struct {
		Position   string `json:"position"`
		JPEGBase64 string `json:"jpeg_base64"`
	} `json:"frames"`
}

type frameVerdict struct {
	Position  string `json:"position"`
	Incident  bool   `json:"incident"`
	Narrative string `json:"narrative"`
}

type verdict struct {
	Incident     bool           `json:"incident"`
	IncidentKind string         `json:"incident_kind"`
	Confidence   float64        `json:"confidence"`
	Narrative    string         `json:"narrative"`
	PerFrame     []frameVerdict `json:"per_frame,omitempty"`
}

func main() {
	listenAddr = getEnv("SIM_LISTEN_ADDR", ":9090")
	apiKey = getEnv("SIM_API_KEY", "")
	scenario = getEnv("SIM_SCENARIO", "random")
	incidentRate = getEnvFloat("SIM_INCIDENT_RATE", 0.1)

	log.Printf("[VisionSim] Starting on %s scenario=%s rate=%.2f", listenAddr, scenario, incidentRate)

	http.HandleFunc("/v1/analyze", handleAnalyze)
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":         "ok",
			"analyze_total":  atomic.LoadInt64(&analyzeTotal),
			"incident_total": atomic.LoadInt64(&incidentTotal),
		})
	})
	http.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "# HELP visionsim_analyze_total Total analyze calls\n")
		fmt.Fprintf(w, "# TYPE visionsim_analyze_total counter\n")
		fmt.Fprintf(w, "visionsim_analyze_total %d\n", atomic.LoadInt64(&analyzeTotal))
		fmt.Fprintf(w, "# HELP visionsim_incident_total Positive verdicts returned\n")
		fmt.Fprintf(w, "# TYPE visionsim_incident_total counter\n")
		fmt.Fprintf(w, "visionsim_incident_total %d\n", atomic.LoadInt64(&incidentTotal))
	})

	if err := http.ListenAndServe(listenAddr, nil); err != nil {
		log.Fatalf("[VisionSim] Server failed: %v", err)
	}
}

func handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if apiKey != "" && r.Header.Get("Authorization") != "Bearer "+apiKey {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if len(req.Frames) == 0 {
		http.Error(w, "no frames", http.StatusBadRequest)
		return
	}
	atomic.AddInt64(&analyzeTotal, 1)

	positive := false
	switch scenario {
	case "incident":
		positive = true
	case "quiet":
		positive = false
	default:
		positive = rand.Float64() < incidentRate
	}

	v := verdict{Confidence: 0.55 + rand.Float64()*0.4}
	if positive {
		atomic.AddInt64(&incidentTotal, 1)
		v.Incident = true
		v.IncidentKind = incidentKinds[rand.Intn(len(incidentKinds))]
		v.Narrative = fmt.Sprintf("Simulated %s observed at %s.", v.IncidentKind, time.Now().UTC().Format(time.RFC3339))
	} else {
		v.Narrative = "No activity of concern."
	}

	// Multi-frame requests get per-frame verdicts, the way the
	// confirmer stage expects.
	if len(req.Frames) > 1 {
		for _, f := range req.Frames {
			v.PerFrame = append(v.PerFrame, frameVerdict{
				Position:  f.Position,
				Incident:  positive,
				Narrative: v.Narrative,
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
