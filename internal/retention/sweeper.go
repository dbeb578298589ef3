// Package retention removes expired local artifacts: fallback evidence
// clips, spooled alert files, and stale dedup fingerprints.
package retention

import (
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/technosupport/ts-sentinel/internal/dedup"
)

type Config struct {
	EvidenceDir string
	SpoolDir    string
	MaxAge      time.Duration // file age before deletion
	DedupTTL    time.Duration
	Interval    time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAge:   30 * 24 * time.Hour,
		DedupTTL: 24 * time.Hour,
		Interval: 24 * time.Hour,
	}
}

// Sweeper deletes files older than MaxAge from the configured
// directories and prunes the dedup cache on the same cadence.
type Sweeper struct {
	cfg    Config
	cache  *dedup.Cache // optional
	stopCh chan struct{}
	wg     sync.WaitGroup

	now func() time.Time
}

func NewSweeper(cfg Config, cache *dedup.Cache) *Sweeper {
	return &Sweeper{
		cfg:    cfg,
		cache:  cache,
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
}

func (s *Sweeper) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.stopCh:
				return
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Sweep runs one pass and returns the number of files removed. Errors
// on individual files are logged and do not abort the pass.
func (s *Sweeper) Sweep() int {
	removed := 0
	for _, dir := range []string{s.cfg.EvidenceDir, s.cfg.SpoolDir} {
		if dir == "" {
			continue
		}
		removed += s.sweepDir(dir)
	}
	if s.cache != nil {
		if n := s.cache.Prune(s.cfg.DedupTTL); n > 0 {
			log.Printf("[INFO] Retention pruned %d dedup entries", n)
		}
	}
	if removed > 0 {
		log.Printf("[INFO] Retention removed %d expired files", removed)
	}
	return removed
}

func (s *Sweeper) sweepDir(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[WARN] Retention cannot read %s: %v", dir, err)
		}
		return 0
	}

	cutoff := s.now().Add(-s.cfg.MaxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Deleted out from under us mid-sweep; fine.
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			log.Printf("[WARN] Retention failed to remove %s: %v", path, err)
			continue
		}
		removed++
	}
	return removed
}
