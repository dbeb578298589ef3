package alerts

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Spool is the offline-alert directory. One plain-text file per failed
// alert; the retention sweeper deletes old ones, operators replay
// them out-of-band.
type Spool struct {
	Dir string
}

func NewSpool(dir string) (*Spool, error) {
	if dir == "" {
		dir = "offline_alerts"
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &Spool{Dir: dir}, nil
}

// Write persists the alert with its failure reason. The file must
// exist before the coordinator moves on: it is the only durable record
// of the alert.
func (s *Spool) Write(a *Alert, failureReason string) error {
	name := fmt.Sprintf("alert_%s_%s.txt",
		time.Now().UTC().Format("2006-01-02T15-04-05.000Z"),
		a.ID.String()[:8],
	)

	content := fmt.Sprintf(
		"alert_id: %s\ntenant_id: %s\ntenant_name: %s\nrecipient: %s\nsource: %s\nincident_kind: %s\ndetected_at: %s\nevidence_url: %s\nfailure_reason: %s\n\n%s",
		a.ID,
		a.TenantID,
		a.TenantName,
		a.Recipient,
		a.SourceName,
		a.IncidentKind,
		a.DetectedAt.UTC().Format(time.RFC3339),
		a.EvidenceURL,
		failureReason,
		a.Body(),
	)

	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, []byte(content), 0640); err != nil {
		return fmt.Errorf("write spool file: %w", err)
	}
	return nil
}
