// Package dedup suppresses repeat incidents. Keys are perceptual
// fingerprints namespaced by tenant; entries persist to a JSON file so
// suppression survives restarts and looped footage.
package dedup

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultCooldown = 300 * time.Second
	DefaultTTL      = 86400 * time.Second
	DefaultMaxKeys  = 10000
	DefaultFile     = ".incident_cache.json"
)

// Entry records the last sighting of one fingerprint.
type Entry struct {
	LastSeenAt   float64 `json:"last_seen_at"` // epoch seconds
	IncidentKind string  `json:"incident_kind"`
}

// Cache is the process-wide dedup table. In memory it is an LRU bound
// to MaxKeys; on disk it is a single JSON object written
// temp-then-rename. Persistence is debounced through a background
// writer so no lock is ever held across file I/O.
type Cache struct {
	mu    sync.Mutex
	table *lru.Cache[string, Entry]
	path  string
	ttl   time.Duration

	flushCh chan struct{} // capacity 1: at most one pending flush
	stopCh  chan struct{}
	wg      sync.WaitGroup

	now func() time.Time // test hook
}

type Config struct {
	Path    string
	MaxKeys int
	TTL     time.Duration
}

func DefaultConfig() Config {
	return Config{Path: DefaultFile, MaxKeys: DefaultMaxKeys, TTL: DefaultTTL}
}

func NewCache(cfg Config) *Cache {
	if cfg.Path == "" {
		cfg.Path = DefaultFile
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = DefaultMaxKeys
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	table, _ := lru.New[string, Entry](cfg.MaxKeys)
	return &Cache{
		table:   table,
		path:    cfg.Path,
		ttl:     cfg.TTL,
		flushCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
}

// TenantKey namespaces a fingerprint so tenants never collide.
func TenantKey(tenantID, fingerprintHex string) string {
	return tenantID + ":" + fingerprintHex
}

// Load reads the persisted table. A missing file starts empty; a
// corrupt file starts empty with a warning, never an error.
func (c *Cache) Load() {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[WARN] Dedup cache read failed (%s): %v. Starting empty.", c.path, err)
		}
		return
	}

	var entries map[string]Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		log.Printf("[WARN] Dedup cache corrupt (%s): %v. Starting empty.", c.path, err)
		return
	}

	c.mu.Lock()
	for k, e := range entries {
		c.table.Add(k, e)
	}
	n := c.table.Len()
	c.mu.Unlock()

	// Entries past the TTL never suppress anything; drop them now
	// rather than carrying them until the daily sweep.
	expired := c.Prune(c.ttl)
	log.Printf("[Dedup] Loaded %d entries from %s (%d expired)", n-expired, c.path, expired)
}

// IsDuplicate reports whether key was recorded within cooldown, and if
// so, how many seconds ago.
func (c *Cache) IsDuplicate(key string, cooldown time.Duration) (bool, *float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.table.Get(key)
	if !ok {
		return false, nil
	}
	since := float64(c.now().UnixNano())/float64(time.Second) - e.LastSeenAt
	if since < cooldown.Seconds() {
		return true, &since
	}
	return false, &since
}

// Record stamps key with the current time and schedules a flush.
// Callers record only after a successful dispatch so failed alerts do
// not silence future retries on the same scene.
func (c *Cache) Record(key, incidentKind string) {
	c.mu.Lock()
	c.table.Add(key, Entry{
		LastSeenAt:   float64(c.now().UnixNano()) / float64(time.Second),
		IncidentKind: incidentKind,
	})
	c.mu.Unlock()
	c.requestFlush()
}

// Prune drops entries older than ttl and schedules a flush when
// anything was removed.
func (c *Cache) Prune(ttl time.Duration) int {
	cutoff := float64(c.now().Add(-ttl).UnixNano()) / float64(time.Second)

	c.mu.Lock()
	removed := 0
	for _, k := range c.table.Keys() {
		if e, ok := c.table.Peek(k); ok && e.LastSeenAt < cutoff {
			c.table.Remove(k)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		log.Printf("[Dedup] Pruned %d expired entries", removed)
		c.requestFlush()
	}
	return removed
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.table.Len()
}

// Start launches the background flusher. Stop drains it and writes a
// final snapshot.
func (c *Cache) Start() {
	c.wg.Add(1)
	go c.flushLoop()
}

func (c *Cache) Stop() {
	close(c.stopCh)
	c.wg.Wait()
	if err := c.Save(); err != nil {
		log.Printf("[ERROR] Dedup final flush failed: %v", err)
	}
}

func (c *Cache) requestFlush() {
	select {
	case c.flushCh <- struct{}{}:
	default: // a flush is already pending
	}
}

func (c *Cache) flushLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.flushCh:
			if err := c.Save(); err != nil {
				log.Printf("[WARN] Dedup persist failed, cache is in-memory only: %v", err)
			}
		case <-c.stopCh:
			return
		}
	}
}

// Save writes the full table as one JSON object, temp-then-rename.
func (c *Cache) Save() error {
	c.mu.Lock()
	entries := make(map[string]Entry, c.table.Len())
	for _, k := range c.table.Keys() {
		if e, ok := c.table.Peek(k); ok {
			entries[k] = e
		}
	}
	c.mu.Unlock()

	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal dedup cache: %w", err)
	}

	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, ".incident_cache-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}
