// Package analyzer runs the two-stage detection pipeline. Every live
// source gets one long-lived loop: a cheap screener look every few
// seconds, and on a screener positive a confirmer pass over the long
// window. Only confirmer-approved (or fail-open) incidents leave this
// package.
package analyzer

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-sentinel/internal/metrics"
	"github.com/technosupport/ts-sentinel/internal/ring"
	"github.com/technosupport/ts-sentinel/internal/vision"
)

// ConfirmerSourceFallback marks incidents emitted without a confirmer
// verdict because the confirmer call failed after a screener positive.
const ConfirmerSourceFallback = "fallback-screener-only"

type Config struct {
	ShortWindow      time.Duration
	LongWindow       time.Duration
	ScreenInterval   time.Duration
	FPS              float64
	ConfirmThreshold int
}

func DefaultConfig() Config {
	return Config{
		ShortWindow:      3 * time.Second,
		LongWindow:       10 * time.Second,
		ScreenInterval:   3 * time.Second,
		FPS:              25,
		ConfirmThreshold: 1,
	}
}

// Incident is a confirmed detection, carrying the exact frames the
// pipeline saw at detection time. Downstream never reads the ring
// again; the window here is the evidence.
type Incident struct {
	TenantID        uuid.UUID
	SourceID        string
	SourceName      string
	DetectedAt      time.Time
	Screener        *vision.Verdict
	Confirmer       *vision.Verdict // nil on fallback
	ConfirmerSource string          // "confirmer" or ConfirmerSourceFallback
	Window          []ring.Frame    // long-window snapshot, oldest first
}

// Kind returns the incident label, preferring the confirmer's.
func (in *Incident) Kind() string {
	if in.Confirmer != nil && in.Confirmer.IncidentKind != "" {
		return in.Confirmer.IncidentKind
	}
	return in.Screener.IncidentKind
}

// CycleResult is what one screen/confirm cycle concluded, returned by
// the on-demand path.
type CycleResult struct {
	Screener  *vision.Verdict
	Confirmer *vision.Verdict
	Confirmed bool
	Vetoed    bool
	Fallback  bool
	Incident  *Incident
}

// Source is one analyzer loop bound to one (tenant, source) ring.
type Source struct {
	TenantID   uuid.UUID
	ID         string
	Name       string
	Ring       *ring.Ring
	StartedAt  time.Time
	LastFrame  time.Time

	cfg     Config
	vis     vision.Analyzer
	prompts *vision.PromptStore
	out     chan<- *Incident

	cycleCh chan struct{} // capacity 1: held while a cycle runs
	stopCh  chan struct{}
	cycles  sync.WaitGroup
}

func newSource(tenantID uuid.UUID, id, name string, cfg Config, vis vision.Analyzer, prompts *vision.PromptStore, out chan<- *Incident) *Source {
	return &Source{
		TenantID:  tenantID,
		ID:        id,
		Name:      name,
		Ring:      ring.New(ring.CapacityFor(cfg.LongWindow, cfg.FPS)),
		StartedAt: time.Now(),
		cfg:       cfg,
		vis:       vis,
		prompts:   prompts,
		out:       out,
		cycleCh:   make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// runLoop ticks every ScreenInterval. A tick that lands while the
// previous cycle is still in flight is dropped, never queued.
func (s *Source) runLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ScreenInterval)
	defer ticker.Stop()
	defer s.cycles.Wait() // let in-flight calls finish; results are discarded by emit

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			select {
			case s.cycleCh <- struct{}{}:
			default:
				metrics.RecordScreen("skipped")
				continue
			}
			s.cycles.Add(1)
			go func() {
				defer s.cycles.Done()
				defer func() { <-s.cycleCh }()
				res := s.runCycle(ctx)
				if res != nil && res.Incident != nil {
					s.emit(ctx, res.Incident)
				}
			}()
		}
	}
}

// AnalyzeOnce runs one synchronous cycle for the on-demand endpoint.
// It serializes with the background loop: no two vision calls for one
// source are ever in flight together.
func (s *Source) AnalyzeOnce(ctx context.Context) *CycleResult {
	select {
	case s.cycleCh <- struct{}{}:
	case <-ctx.Done():
		return &CycleResult{}
	}
	defer func() { <-s.cycleCh }()
	res := s.runCycle(ctx)
	if res == nil {
		return &CycleResult{}
	}
	return res
}

// runCycle is one pass of the state machine: Screening, then on a
// positive Confirming over the long window snapshotted at this
// instant.
func (s *Source) runCycle(ctx context.Context) *CycleResult {
	last, ok := s.Ring.Last()
	if !ok || time.Since(last.CapturedAt) > s.cfg.ShortWindow {
		// Nothing fresh to screen.
		return nil
	}

	prompt := s.prompts.Get(vision.RoleScreener)
	started := time.Now()
	screener, err := s.vis.Analyze(ctx, vision.RoleScreener, []vision.SampledFrame{
		{Position: "latest", JPEG: last.Payload},
	}, prompt)
	metrics.RecordVisionLatency(string(vision.RoleScreener), time.Since(started).Seconds())

	if err != nil {
		// Screener errors fail closed: a false negative here is
		// cheaper than a false alarm.
		log.Printf("[WARN] Analyzer source=%s screener error, treating as negative: %v", s.ID, err)
		metrics.RecordScreen("error")
		return nil
	}
	if !screener.Incident {
		metrics.RecordScreen("negative")
		return &CycleResult{Screener: screener}
	}

	metrics.RecordScreen("positive")
	log.Printf("[Analyzer] source=%s screener positive kind=%s", s.ID, screener.IncidentKind)

	// Snapshot the long window NOW so downstream sees exactly what the
	// screener saw, not whatever the ring holds later.
	window := s.Ring.Snapshot(s.cfg.LongWindow)
	detectedAt := time.Now()

	reps := Representatives(window)
	prompt = s.prompts.Get(vision.RoleConfirmer)
	started = time.Now()
	confirmer, err := s.vis.Analyze(ctx, vision.RoleConfirmer, reps, prompt)
	metrics.RecordVisionLatency(string(vision.RoleConfirmer), time.Since(started).Seconds())

	if err != nil {
		// Confirmer errors fail open: a screener hit with no
		// confirmation signal is better reported than dropped during a
		// provider outage.
		log.Printf("[WARN] Analyzer source=%s confirmer error, emitting on screener alone: %v", s.ID, err)
		metrics.RecordConfirmation("fallback")
		return &CycleResult{
			Screener: screener,
			Fallback: true,
			Incident: &Incident{
				TenantID:        s.TenantID,
				SourceID:        s.ID,
				SourceName:      s.Name,
				DetectedAt:      detectedAt,
				Screener:        screener,
				ConfirmerSource: ConfirmerSourceFallback,
				Window:          window,
			},
		}
	}

	positive := 0
	for _, fv := range confirmer.PerFrame {
		if fv.Incident {
			positive++
		}
	}
	if positive < s.cfg.ConfirmThreshold {
		log.Printf("[Analyzer] veto source=%s screener_narrative=%q", s.ID, screener.Narrative)
		metrics.VetoesTotal.Inc()
		return &CycleResult{Screener: screener, Confirmer: confirmer, Vetoed: true}
	}

	metrics.RecordConfirmation("confirmed")
	log.Printf("[Analyzer] source=%s confirmed kind=%s frames=%d/%d", s.ID, confirmer.IncidentKind, positive, len(confirmer.PerFrame))
	return &CycleResult{
		Screener:  screener,
		Confirmer: confirmer,
		Confirmed: true,
		Incident: &Incident{
			TenantID:        s.TenantID,
			SourceID:        s.ID,
			SourceName:      s.Name,
			DetectedAt:      detectedAt,
			Screener:        screener,
			Confirmer:       confirmer,
			ConfirmerSource: "confirmer",
			Window:          window,
		},
	}
}

func (s *Source) emit(ctx context.Context, in *Incident) {
	select {
	case s.out <- in:
	case <-ctx.Done():
	case <-s.stopCh:
		// Shutting down; the incident is discarded with the frames.
	}
}

// Representatives samples start/middle/end of the window for the
// confirmer. Fewer than three frames means fewer samples, never
// duplicates.
func Representatives(window []ring.Frame) []vision.SampledFrame {
	switch len(window) {
	case 0:
		return nil
	case 1:
		return []vision.SampledFrame{{Position: "start", JPEG: window[0].Payload}}
	case 2:
		return []vision.SampledFrame{
			{Position: "start", JPEG: window[0].Payload},
			{Position: "end", JPEG: window[1].Payload},
		}
	default:
		return []vision.SampledFrame{
			{Position: "start", JPEG: window[0].Payload},
			{Position: "middle", JPEG: window[len(window)/2].Payload},
			{Position: "end", JPEG: window[len(window)-1].Payload},
		}
	}
}
