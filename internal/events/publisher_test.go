package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/technosupport/ts-sentinel/internal/analyzer"
	"github.com/technosupport/ts-sentinel/internal/vision"
)

func testIncident() *analyzer.Incident {
	return &analyzer.Incident{
		TenantID:   uuid.New(),
		SourceID:   "cam-7",
		SourceName: "Loading Dock",
		DetectedAt: time.Now().UTC(),
		Screener:   &vision.Verdict{Incident: true, IncidentKind: "intrusion"},
	}
}

func TestNilPublisherIsSafe(t *testing.T) {
	var p *Publisher
	in := testIncident()
	p.IncidentConfirmed(in)
	p.IncidentSuppressed(in, 12.5)
	p.AlertDispatched(in, "sent", "https://evidence/abc")
	p.Close()
}

func TestFromIncident(t *testing.T) {
	in := testIncident()
	ev := fromIncident(in)
	assert.Equal(t, in.TenantID.String(), ev.TenantID)
	assert.Equal(t, "cam-7", ev.SourceID)
	assert.Equal(t, "Loading Dock", ev.SourceName)
	assert.Equal(t, "intrusion", ev.Kind)
	assert.Equal(t, in.DetectedAt, ev.DetectedAt)
}

type recordingSink struct {
	confirmed, suppressed, dispatched int
}

func (r *recordingSink) IncidentConfirmed(*analyzer.Incident)            { r.confirmed++ }
func (r *recordingSink) IncidentSuppressed(*analyzer.Incident, float64)  { r.suppressed++ }
func (r *recordingSink) AlertDispatched(*analyzer.Incident, string, string) {
	r.dispatched++
}

func TestFanoutForwardsToAll(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	f := Fanout{a, b}

	in := testIncident()
	f.IncidentConfirmed(in)
	f.IncidentSuppressed(in, 3)
	f.AlertDispatched(in, "sent", "")

	for _, s := range []*recordingSink{a, b} {
		assert.Equal(t, 1, s.confirmed)
		assert.Equal(t, 1, s.suppressed)
		assert.Equal(t, 1, s.dispatched)
	}
}
