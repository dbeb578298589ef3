package analyzer

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-sentinel/internal/metrics"
	"github.com/technosupport/ts-sentinel/internal/vision"
)

// ErrSourceOwned is returned when a tenant touches a source id first
// claimed by a different tenant.
var ErrSourceOwned = errors.New("source belongs to another tenant")

// ErrUnknownSource is returned when an operation names a source that
// has never ingested a frame.
var ErrUnknownSource = errors.New("unknown source")

// Supervisor owns every live Source. Sources are created lazily on
// first frame and each runs its own screening loop; confirmed
// incidents from all of them fan into one bounded channel consumed by
// the coordinator.
type Supervisor struct {
	cfg     Config
	vis     vision.Analyzer
	prompts *vision.PromptStore

	mu      sync.RWMutex
	sources map[string]*Source    // source id -> loop
	owners  map[string]uuid.UUID  // source id -> owning tenant

	incidents chan *Incident
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	grace     time.Duration
}

func NewSupervisor(cfg Config, vis vision.Analyzer, prompts *vision.PromptStore) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:       cfg,
		vis:       vis,
		prompts:   prompts,
		sources:   make(map[string]*Source),
		owners:    make(map[string]uuid.UUID),
		incidents: make(chan *Incident, 64),
		ctx:       ctx,
		cancel:    cancel,
		grace:     10 * time.Second,
	}
}

// Incidents is the channel of confirmed incidents. Closed after Stop
// has drained every loop.
func (sv *Supervisor) Incidents() <-chan *Incident {
	return sv.incidents
}

// Append routes a frame to its source ring, creating the source loop
// on first sight. Source ids are claimed by the first tenant to use
// them; any other tenant gets ErrSourceOwned.
func (sv *Supervisor) Append(tenantID uuid.UUID, sourceID, sourceName string, capturedAt time.Time, payload []byte) (int, error) {
	src, err := sv.ensure(tenantID, sourceID, sourceName)
	if err != nil {
		return 0, err
	}
	src.Ring.Append(capturedAt, payload, "jpeg")
	src.LastFrame = capturedAt
	metrics.FramesIngestedTotal.Inc()
	metrics.RingFrames.Set(float64(sv.RingTotal()))
	return src.Ring.Size(), nil
}

// Get returns the tenant's source, enforcing ownership.
func (sv *Supervisor) Get(tenantID uuid.UUID, sourceID string) (*Source, error) {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	owner, ok := sv.owners[sourceID]
	if !ok {
		return nil, ErrUnknownSource
	}
	if owner != tenantID {
		return nil, ErrSourceOwned
	}
	return sv.sources[sourceID], nil
}

func (sv *Supervisor) ensure(tenantID uuid.UUID, sourceID, sourceName string) (*Source, error) {
	sv.mu.RLock()
	owner, known := sv.owners[sourceID]
	src := sv.sources[sourceID]
	sv.mu.RUnlock()

	if known {
		if owner != tenantID {
			return nil, ErrSourceOwned
		}
		return src, nil
	}

	sv.mu.Lock()
	defer sv.mu.Unlock()
	if owner, known := sv.owners[sourceID]; known {
		if owner != tenantID {
			return nil, ErrSourceOwned
		}
		return sv.sources[sourceID], nil
	}

	src = newSource(tenantID, sourceID, sourceName, sv.cfg, sv.vis, sv.prompts, sv.incidents)
	sv.owners[sourceID] = tenantID
	sv.sources[sourceID] = src
	metrics.ActiveSources.Set(float64(len(sv.sources)))
	log.Printf("[Analyzer] source=%s name=%q tenant=%s: loop started", sourceID, sourceName, tenantID)

	sv.wg.Add(1)
	go func() {
		defer sv.wg.Done()
		src.runLoop(sv.ctx)
	}()
	return src, nil
}

// RingTotal reports the frame count across all rings, for the gauge.
func (sv *Supervisor) RingTotal() int {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	total := 0
	for _, s := range sv.sources {
		total += s.Ring.Size()
	}
	return total
}

// Stop cancels every loop and waits up to the grace period for
// in-flight vision calls, then closes the incident channel. Frames are
// ephemeral and simply dropped.
func (sv *Supervisor) Stop() {
	sv.cancel()
	sv.mu.RLock()
	for _, s := range sv.sources {
		close(s.stopCh)
	}
	sv.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		sv.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		close(sv.incidents)
	case <-time.After(sv.grace):
		// In-flight calls are abandoned; the channel stays open so a
		// straggler's emit cannot panic. The coordinator stops on its
		// own signal.
		log.Printf("[WARN] Analyzer shutdown grace expired, abandoning in-flight calls")
	}
}
