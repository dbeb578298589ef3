// Package feed streams pipeline events to browser dashboards over
// websockets. Each connection is bound to one tenant by its feed token
// and only ever sees that tenant's events.
package feed

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/technosupport/ts-sentinel/internal/analyzer"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 16
)

// Message is the JSON frame pushed to feed subscribers.
type Message struct {
	Type        string    `json:"type"` // incident_confirmed, incident_suppressed, alert_dispatched
	SourceID    string    `json:"source_id"`
	SourceName  string    `json:"source_name,omitempty"`
	Kind        string    `json:"kind"`
	DetectedAt  time.Time `json:"detected_at"`
	Result      string    `json:"result,omitempty"`
	EvidenceURL string    `json:"evidence_url,omitempty"`
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks live subscribers per tenant and fans events out to them.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{} // tenant id -> connections
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscriber]struct{})}
}

// Subscribers reports the live connection count for a tenant.
func (h *Hub) Subscribers(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[tenantID])
}

func (h *Hub) add(tenantID string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[tenantID] == nil {
		h.subs[tenantID] = make(map[*subscriber]struct{})
	}
	h.subs[tenantID][s] = struct{}{}
}

func (h *Hub) remove(tenantID string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[tenantID]; ok {
		if _, present := set[s]; present {
			delete(set, s)
			close(s.send)
		}
		if len(set) == 0 {
			delete(h.subs, tenantID)
		}
	}
}

// broadcast delivers msg to every subscriber of the tenant without
// blocking: a subscriber whose buffer is full is dropped rather than
// allowed to stall the pipeline.
func (h *Hub) broadcast(tenantID string, msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[ERROR] Feed marshal failed: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[tenantID]
	for s := range set {
		select {
		case s.send <- data:
		default:
			log.Printf("[WARN] Dropping slow feed subscriber for tenant %s", tenantID)
			delete(set, s)
			close(s.send)
		}
	}
	if len(set) == 0 {
		delete(h.subs, tenantID)
	}
}

func fromIncident(typ string, in *analyzer.Incident) *Message {
	return &Message{
		Type:       typ,
		SourceID:   in.SourceID,
		SourceName: in.SourceName,
		Kind:       in.Kind(),
		DetectedAt: in.DetectedAt,
	}
}

func (h *Hub) IncidentConfirmed(in *analyzer.Incident) {
	h.broadcast(in.TenantID.String(), fromIncident("incident_confirmed", in))
}

func (h *Hub) IncidentSuppressed(in *analyzer.Incident, _ float64) {
	h.broadcast(in.TenantID.String(), fromIncident("incident_suppressed", in))
}

func (h *Hub) AlertDispatched(in *analyzer.Incident, result string, evidenceURL string) {
	msg := fromIncident("alert_dispatched", in)
	msg.Result = result
	msg.EvidenceURL = evidenceURL
	h.broadcast(in.TenantID.String(), msg)
}
