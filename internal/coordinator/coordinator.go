// Package coordinator consumes confirmed incidents and runs each one
// end to end: dedup, evidence clip assembly, publication, alert
// dispatch, and only after a successful dispatch the dedup record, so
// a failed alert never silences the next detection of the same scene.
package coordinator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-sentinel/internal/alerts"
	"github.com/technosupport/ts-sentinel/internal/analyzer"
	"github.com/technosupport/ts-sentinel/internal/clip"
	"github.com/technosupport/ts-sentinel/internal/dedup"
	"github.com/technosupport/ts-sentinel/internal/evidence"
	"github.com/technosupport/ts-sentinel/internal/fingerprint"
	"github.com/technosupport/ts-sentinel/internal/metrics"
	"github.com/technosupport/ts-sentinel/internal/ring"
)

// TenantResolver supplies the display name and contact address for the
// alert. Backed by the tenants service in production.
type TenantResolver interface {
	TenantContact(ctx context.Context, id uuid.UUID) (name, contactEmail string, err error)
}

// Assembler builds the MP4 evidence clip from the captured window.
type Assembler interface {
	Assemble(ctx context.Context, window []ring.Frame) (*clip.Result, error)
}

// Publisher externalizes the clip and returns its tokenized URL.
type Publisher interface {
	Publish(ctx context.Context, tenantID uuid.UUID, data []byte, incidentKind string) (*evidence.Record, error)
}

// Dispatcher delivers the alert.
type Dispatcher interface {
	Dispatch(ctx context.Context, a *alerts.Alert) (string, error)
}

// EventSink receives pipeline events for fanout (NATS, websocket
// feed). Implementations must tolerate being nil-receivered off.
type EventSink interface {
	IncidentConfirmed(in *analyzer.Incident)
	IncidentSuppressed(in *analyzer.Incident, secondsSinceLast float64)
	AlertDispatched(in *analyzer.Incident, result string, evidenceURL string)
}

type Config struct {
	Cooldown time.Duration
	Workers  int
}

func DefaultConfig() Config {
	return Config{Cooldown: dedup.DefaultCooldown, Workers: 2}
}

type Coordinator struct {
	cfg        Config
	cache      *dedup.Cache
	tenants    TenantResolver
	assembler  Assembler
	publisher  Publisher
	dispatcher Dispatcher
	events     EventSink // optional

	in     <-chan *analyzer.Incident
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(cfg Config, in <-chan *analyzer.Incident, cache *dedup.Cache, tenants TenantResolver, assembler Assembler, publisher Publisher, dispatcher Dispatcher, events EventSink) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = dedup.DefaultCooldown
	}
	return &Coordinator{
		cfg:        cfg,
		cache:      cache,
		tenants:    tenants,
		assembler:  assembler,
		publisher:  publisher,
		dispatcher: dispatcher,
		events:     events,
		in:         in,
		stopCh:     make(chan struct{}),
	}
}

func (c *Coordinator) Start(ctx context.Context) {
	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-c.stopCh:
					return
				case in, ok := <-c.in:
					if !ok {
						return
					}
					c.Process(ctx, in)
				}
			}
		}()
	}
}

func (c *Coordinator) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// Process runs one confirmed incident through the pipeline. Errors
// along the way degrade the outcome (clip-less alert, local evidence,
// spooled mail) but are never silently hidden.
func (c *Coordinator) Process(ctx context.Context, in *analyzer.Incident) {
	key := c.dedupKey(in)

	if key != "" {
		if dup, since := c.cache.IsDuplicate(key, c.cfg.Cooldown); dup {
			log.Printf("[Coordinator] suppressed(seconds_since_last=%.1f, key=%s)", *since, key)
			metrics.IncidentsSuppressedTotal.Inc()
			if c.events != nil {
				c.events.IncidentSuppressed(in, *since)
			}
			return
		}
	}

	if c.events != nil {
		c.events.IncidentConfirmed(in)
	}

	name, contact, err := c.tenants.TenantContact(ctx, in.TenantID)
	if err != nil {
		log.Printf("[ERROR] Coordinator: tenant lookup failed for %s, dropping incident: %v", in.TenantID, err)
		return
	}

	rec, clipDetail := c.publishEvidence(ctx, in)

	alert := &alerts.Alert{
		ID:           uuid.New(),
		TenantID:     in.TenantID,
		TenantName:   name,
		Recipient:    contact,
		SourceName:   in.SourceName,
		IncidentKind: in.Kind(),
		Narrative:    c.narrative(in),
		DetectedAt:   in.DetectedAt,
	}
	if rec != nil {
		alert.EvidenceURL = rec.URL
		alert.EvidenceExp = rec.ExpiresAt
	}

	result, err := c.dispatcher.Dispatch(ctx, alert)
	if err != nil {
		if err == alerts.ErrNoRecipient {
			log.Printf("[WARN] Coordinator: tenant=%s has no contact address, alert dropped", in.TenantID)
			metrics.RecordAlert("dropped")
			return
		}
		log.Printf("[ERROR] Coordinator: dispatch failed terminally: %v", err)
		return
	}

	via := "none"
	if rec != nil {
		via = rec.StorageLocation
	}
	log.Printf("[Coordinator] incident handled: tenant=%s source=%s alert=%s evidence=%s detail=%s", in.TenantID, in.SourceID, result, via, clipDetail)

	// Record only after a successful send: a spooled alert leaves the
	// scene un-recorded so the next detection re-alerts.
	if result == alerts.ResultSent && key != "" {
		c.cache.Record(key, in.Kind())
	}
	if c.events != nil {
		c.events.AlertDispatched(in, result, alert.EvidenceURL)
	}
}

// dedupKey fingerprints the middle frame of the confirmed window,
// namespaced by tenant. An unfingerprintable window disables dedup for
// this incident rather than dropping it.
func (c *Coordinator) dedupKey(in *analyzer.Incident) string {
	if len(in.Window) == 0 {
		return ""
	}
	mid := in.Window[len(in.Window)/2]
	fp, err := fingerprint.Compute(mid.Payload)
	if err != nil {
		log.Printf("[WARN] Coordinator: fingerprint failed, dedup disabled for this incident: %v", err)
		return ""
	}
	return dedup.TenantKey(in.TenantID.String(), fp.Hex())
}

// publishEvidence assembles and publishes the clip. A nil record means
// the alert goes out without evidence.
func (c *Coordinator) publishEvidence(ctx context.Context, in *analyzer.Incident) (*evidence.Record, string) {
	res, err := c.assembler.Assemble(ctx, in.Window)
	if err != nil {
		log.Printf("[WARN] Coordinator: clip assembly failed, alerting without evidence: %v", err)
		return nil, "clip-unavailable"
	}

	detail := "ok"
	if res.OverBudget {
		detail = "over-budget"
	}

	rec, err := c.publisher.Publish(ctx, in.TenantID, res.Data, in.Kind())
	if err != nil {
		log.Printf("[ERROR] Coordinator: evidence publication failed entirely: %v", err)
		return nil, "publish-failed"
	}
	return rec, detail
}

// narrative combines the screener's account with the confirmer's when
// one exists.
func (c *Coordinator) narrative(in *analyzer.Incident) string {
	n := in.Screener.Narrative
	if in.Confirmer != nil && in.Confirmer.Narrative != "" {
		if n != "" {
			n += "\n\nConfirmation: " + in.Confirmer.Narrative
		} else {
			n = in.Confirmer.Narrative
		}
	}
	if in.ConfirmerSource == analyzer.ConfirmerSourceFallback {
		n += "\n\n(Confirmation stage unavailable; reported on first-stage detection alone.)"
	}
	return n
}
