// Package vision abstracts the two external vision-model endpoints
// behind one call. The pipeline knows only the roles; which concrete
// model backs each role is configuration.
package vision

import (
	"context"
	"fmt"
)

// Role selects which configured model analyzes the frames.
type Role string

const (
	RoleScreener  Role = "screener"
	RoleConfirmer Role = "confirmer"
)

// SampledFrame is one JPEG frame labeled with its position in the
// analyzed window ("start", "middle", "end", or "latest").
type SampledFrame struct {
	Position string
	JPEG     []byte
}

// FrameVerdict is the per-frame judgement returned by the confirmer.
type FrameVerdict struct {
	Position  string `json:"position"`
	Incident  bool   `json:"incident"`
	Narrative string `json:"narrative"`
}

// Verdict is the structured result of one analysis call. Decisions
// read Incident (and PerFrame for the confirmer) only; Confidence and
// Narrative are advisory payload, never control flow.
type Verdict struct {
	Incident     bool           `json:"incident"`
	IncidentKind string         `json:"incident_kind"`
	Confidence   float64        `json:"confidence"`
	Narrative    string         `json:"narrative"`
	PerFrame     []FrameVerdict `json:"per_frame,omitempty"`
}

// Analyzer is the uniform contract over both roles. Implementations
// do not retry; the caller owns the retry/fallback decision.
type Analyzer interface {
	Analyze(ctx context.Context, role Role, frames []SampledFrame, promptCtx string) (*Verdict, error)
}

// Error classifies a failed analysis call. Permanent errors (bad
// request, auth, malformed response) are not retryable; everything
// else (timeout, rate limit, 5xx, network) is transient.
type Error struct {
	Permanent bool
	Reason    string
}

func (e *Error) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("vision %s error: %s", kind, e.Reason)
}
