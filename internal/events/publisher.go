// Package events fans pipeline events out to NATS so downstream
// consumers (dashboards, SIEM bridges) can react without polling.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/technosupport/ts-sentinel/internal/analyzer"
)

const (
	SubjectIncidentConfirmed  = "sentinel.incidents.confirmed"
	SubjectIncidentSuppressed = "sentinel.incidents.suppressed"
	SubjectAlertDispatched    = "sentinel.alerts.dispatched"
)

// Event is the wire shape for every subject.
type Event struct {
	TenantID    string    `json:"tenant_id"`
	SourceID    string    `json:"source_id"`
	SourceName  string    `json:"source_name,omitempty"`
	Kind        string    `json:"kind"`
	DetectedAt  time.Time `json:"detected_at"`
	EmittedAt   time.Time `json:"emitted_at"`
	Result      string    `json:"result,omitempty"`
	EvidenceURL string    `json:"evidence_url,omitempty"`
	SecondsAgo  float64   `json:"seconds_since_last,omitempty"`
}

// Publisher pushes events to NATS. A nil Publisher is valid and drops
// everything, so callers never have to branch on whether eventing is
// configured.
type Publisher struct {
	conn       *nats.Conn
	maxRetries int
}

func NewPublisher(conn *nats.Conn, maxRetries int) *Publisher {
	return &Publisher{conn: conn, maxRetries: maxRetries}
}

// Connect dials NATS and returns a ready publisher, or nil when url is
// empty.
func Connect(url string, maxRetries int) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Publisher{conn: conn, maxRetries: maxRetries}, nil
}

func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Drain()
}

func (p *Publisher) publish(subject string, ev *Event) {
	if p == nil || p.conn == nil {
		return
	}
	ev.EmittedAt = time.Now().UTC()

	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[ERROR] Event marshal failed: %v", err)
		return
	}

	var last error
	for i := 0; i <= p.maxRetries; i++ {
		last = p.conn.Publish(subject, data)
		if last == nil {
			return
		}
		// Backoff
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}
	log.Printf("[WARN] Event publish to %s failed after %d retries: %v", subject, p.maxRetries, last)
}

func fromIncident(in *analyzer.Incident) *Event {
	return &Event{
		TenantID:   in.TenantID.String(),
		SourceID:   in.SourceID,
		SourceName: in.SourceName,
		Kind:       in.Kind(),
		DetectedAt: in.DetectedAt,
	}
}

func (p *Publisher) IncidentConfirmed(in *analyzer.Incident) {
	p.publish(SubjectIncidentConfirmed, fromIncident(in))
}

func (p *Publisher) IncidentSuppressed(in *analyzer.Incident, secondsSinceLast float64) {
	ev := fromIncident(in)
	ev.SecondsAgo = secondsSinceLast
	p.publish(SubjectIncidentSuppressed, ev)
}

func (p *Publisher) AlertDispatched(in *analyzer.Incident, result string, evidenceURL string) {
	ev := fromIncident(in)
	ev.Result = result
	ev.EvidenceURL = evidenceURL
	p.publish(SubjectAlertDispatched, ev)
}
