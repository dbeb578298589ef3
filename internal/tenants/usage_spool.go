package tenants

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-sentinel/internal/data"
)

// usageSpool is the JSONL failover for usage records the database
// would not take. Replay is idempotent: every record carries a
// client-generated id and the insert is ON CONFLICT DO NOTHING.
type usageSpool struct {
	mu   sync.Mutex
	path string
}

func newUsageSpool(path string) *usageSpool {
	if path == "" {
		path = "usage_spool.jsonl"
	}
	return &usageSpool{path: path}
}

func (sp *usageSpool) append(r *data.UsageRecord) error {
	line, err := json.Marshal(r)
	if err != nil {
		return err
	}

	sp.mu.Lock()
	defer sp.mu.Unlock()
	f, err := os.OpenFile(sp.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

// RecordUsage appends one usage record, spooling on database failure.
// Ingest never fails because billing is down.
func (s *Service) RecordUsage(ctx context.Context, tenantID uuid.UUID, endpoint string, cost int) {
	rec := &data.UsageRecord{
		ID:         uuid.New(),
		TenantID:   tenantID,
		Endpoint:   endpoint,
		Cost:       cost,
		RecordedAt: time.Now().UTC(),
	}
	if err := s.Usage.Insert(ctx, rec); err != nil {
		log.Printf("[WARN] Usage insert failed, spooling: %v", err)
		if err := s.spool.append(rec); err != nil {
			log.Printf("[ERROR] Usage spool failed, record lost: %v", err)
		}
	}
}

// StartUsageReplayer retries spooled usage records every 30 seconds
// until the context ends.
func (s *Service) StartUsageReplayer(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.replayUsageSpool(ctx)
			}
		}
	}()
}

func (s *Service) replayUsageSpool(ctx context.Context) {
	s.spool.mu.Lock()
	info, err := os.Stat(s.spool.path)
	if os.IsNotExist(err) || (err == nil && info.Size() == 0) {
		s.spool.mu.Unlock()
		return
	}

	// Rotate the spool out so concurrent appends start a fresh file.
	replayPath := fmt.Sprintf("%s.replay-%d", s.spool.path, time.Now().UnixNano())
	if err := os.Rename(s.spool.path, replayPath); err != nil {
		s.spool.mu.Unlock()
		log.Printf("[WARN] Usage spool rotation failed: %v", err)
		return
	}
	s.spool.mu.Unlock()

	f, err := os.Open(replayPath)
	if err != nil {
		log.Printf("[WARN] Usage spool open failed: %v", err)
		return
	}
	defer f.Close()

	var replayed, respooled int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec data.UsageRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if err := s.Usage.Insert(ctx, &rec); err != nil {
			// Database still down: push the record back onto the live
			// spool for the next pass.
			_ = s.spool.append(&rec)
			respooled++
			continue
		}
		replayed++
	}

	f.Close()
	os.Remove(replayPath)
	if replayed > 0 || respooled > 0 {
		log.Printf("[Usage] Replay: %d flushed, %d still pending", replayed, respooled)
	}
}
