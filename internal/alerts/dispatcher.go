// Package alerts delivers the human-facing notification for a
// confirmed incident over SMTP. Delivery failures after retries land
// in the offline spool; operators replay those out-of-band.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-sentinel/internal/metrics"
)

// ErrNoRecipient means the tenant has no contact address. There is no
// one to spool for, so the coordinator logs and drops.
var ErrNoRecipient = errors.New("tenant contact address not configured")

const (
	ResultSent    = "sent"
	ResultSpooled = "spooled"
)

// Alert is one outgoing notification.
type Alert struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	TenantName   string
	Recipient    string
	SourceName   string
	IncidentKind string
	Narrative    string
	EvidenceURL  string
	EvidenceExp  time.Time
	DetectedAt   time.Time
}

// Subject renders the mail subject line.
func (a *Alert) Subject() string {
	kind := a.IncidentKind
	if kind == "" {
		kind = "security incident"
	}
	return fmt.Sprintf("[TS-Sentinel] %s at %s", kind, a.SourceName)
}

// Body renders the plain-text mail body.
func (a *Alert) Body() string {
	b := fmt.Sprintf("Security incident detected for %s.\n\nTime: %s\nSource: %s\nKind: %s\n\n%s\n",
		a.TenantName,
		a.DetectedAt.UTC().Format(time.RFC3339),
		a.SourceName,
		a.IncidentKind,
		a.Narrative,
	)
	if a.EvidenceURL != "" {
		b += fmt.Sprintf("\nEvidence clip: %s\nLink expires: %s\n", a.EvidenceURL, a.EvidenceExp.UTC().Format(time.RFC3339))
	}
	return b
}

type Config struct {
	Host        string
	Port        int
	User        string
	Password    string
	From        string
	Retries     int
	BackoffBase time.Duration
	Timeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Port:        587,
		Retries:     3,
		BackoffBase: 2 * time.Second,
		Timeout:     30 * time.Second,
	}
}

type Dispatcher struct {
	cfg   Config
	spool *Spool
	send  func(a *Alert) error // test seam; defaults to smtpSend
}

func NewDispatcher(cfg Config, spool *Spool) *Dispatcher {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	d := &Dispatcher{cfg: cfg, spool: spool}
	d.send = d.smtpSend
	return d
}

// Dispatch sends the alert with retry and backoff. On exhaustion the
// alert is spooled and ResultSpooled is returned: the spool file is
// the durable record, no further retries happen here.
func (d *Dispatcher) Dispatch(ctx context.Context, a *Alert) (string, error) {
	if a.Recipient == "" {
		return "", ErrNoRecipient
	}

	var lastErr error
	attempts := 1 + d.cfg.Retries
	for i := 1; i <= attempts; i++ {
		if err := d.send(a); err != nil {
			lastErr = err
			log.Printf("[WARN] Alert dispatch attempt %d/%d failed: %v", i, attempts, err)
			if i < attempts {
				select {
				case <-time.After(d.cfg.BackoffBase * time.Duration(1<<(i-1))):
				case <-ctx.Done():
					return "", ctx.Err()
				}
			}
			continue
		}
		metrics.RecordAlert(ResultSent)
		log.Printf("[Alerts] Dispatched alert=%s tenant=%s recipient=%s", a.ID, a.TenantID, a.Recipient)
		return ResultSent, nil
	}

	if err := d.spool.Write(a, lastErr.Error()); err != nil {
		metrics.RecordAlert("dropped")
		return "", fmt.Errorf("dispatch failed (%v) and spool failed: %w", lastErr, err)
	}
	metrics.RecordAlert(ResultSpooled)
	log.Printf("[WARN] Alert degraded to offline spool: alert=%s reason=%v", a.ID, lastErr)
	return ResultSpooled, nil
}
