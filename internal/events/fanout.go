package events

import "github.com/technosupport/ts-sentinel/internal/analyzer"

// Sink mirrors coordinator.EventSink so fanout stays import-cycle
// free.
type Sink interface {
	IncidentConfirmed(in *analyzer.Incident)
	IncidentSuppressed(in *analyzer.Incident, secondsSinceLast float64)
	AlertDispatched(in *analyzer.Incident, result string, evidenceURL string)
}

// Fanout forwards every event to each registered sink in order.
type Fanout []Sink

func (f Fanout) IncidentConfirmed(in *analyzer.Incident) {
	for _, s := range f {
		s.IncidentConfirmed(in)
	}
}

func (f Fanout) IncidentSuppressed(in *analyzer.Incident, secondsSinceLast float64) {
	for _, s := range f {
		s.IncidentSuppressed(in, secondsSinceLast)
	}
}

func (f Fanout) AlertDispatched(in *analyzer.Incident, result string, evidenceURL string) {
	for _, s := range f {
		s.AlertDispatched(in, result, evidenceURL)
	}
}
