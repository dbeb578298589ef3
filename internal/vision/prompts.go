package vision

import (
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Built-in prompts. Operators override per role by dropping
// screener.txt / confirmer.txt into PROMPTS_DIR; edits apply without a
// restart.

const defaultScreenerPrompt = `You are a security screening assistant watching surveillance footage.
You receive a single recent frame from one camera. Decide whether it shows
a security incident in progress: unauthorized entry, forced entry, theft,
vandalism, violence, a weapon, a fire, or a person in a restricted area
outside business hours. Ordinary activity (staff, customers, deliveries,
animals, weather, lighting changes) is NOT an incident.

Respond with strict JSON only, no prose around it:
{"incident": <bool>, "incident_kind": "<short label or empty>", "confidence": <0..1>, "narrative": "<one or two sentences describing what you see>"}`

const defaultConfirmerPrompt = `You are a senior security reviewer. A fast first-pass screener flagged a
possible incident on this camera. You receive several frames sampled from
the surrounding seconds, each labeled with its position in the window.
Judge each frame independently and conservatively: confirm only what is
visible, and veto false positives such as reflections, shadows, screens,
posters, or routine activity.

Respond with strict JSON only:
{"incident": <bool>, "incident_kind": "<short label or empty>", "confidence": <0..1>, "narrative": "<overall assessment>",
 "per_frame": [{"position": "<as labeled>", "incident": <bool>, "narrative": "<what this frame shows>"}]}
The top-level "incident" is true when any frame shows the incident.`

// PromptStore serves the per-role prompt text. Without an override
// directory it returns the built-ins.
type PromptStore struct {
	mu      sync.RWMutex
	prompts map[Role]string
	dir     string
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewPromptStore(dir string) *PromptStore {
	s := &PromptStore{
		prompts: map[Role]string{
			RoleScreener:  defaultScreenerPrompt,
			RoleConfirmer: defaultConfirmerPrompt,
		},
		dir:    dir,
		stopCh: make(chan struct{}),
	}
	if dir != "" {
		s.reloadAll()
	}
	return s
}

func (s *PromptStore) Get(role Role) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prompts[role]
}

// Start watches the override directory. Falls back to a 60s polling
// loop when fsnotify cannot watch the directory.
func (s *PromptStore) Start() {
	if s.dir == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	usePolling := false
	if err != nil {
		log.Printf("[WARN] Prompt watcher: fsnotify failed (%v), falling back to polling", err)
		usePolling = true
	} else if err := watcher.Add(s.dir); err != nil {
		log.Printf("[WARN] Prompt watcher: cannot watch %s (%v), falling back to polling", s.dir, err)
		watcher.Close()
		usePolling = true
	}

	if !usePolling {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer watcher.Close()
			for {
				select {
				case <-s.stopCh:
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
						time.Sleep(100 * time.Millisecond) // editors write in bursts
						s.reloadAll()
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					log.Printf("[WARN] Prompt watcher error: %v", err)
				}
			}
		}()
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.reloadAll()
			}
		}
	}()
}

func (s *PromptStore) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *PromptStore) reloadAll() {
	for role, fallback := range map[Role]string{
		RoleScreener:  defaultScreenerPrompt,
		RoleConfirmer: defaultConfirmerPrompt,
	} {
		path := filepath.Join(s.dir, string(role)+".txt")
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				log.Printf("[WARN] Prompt reload failed for %s: %v", path, err)
			}
			s.mu.Lock()
			s.prompts[role] = fallback
			s.mu.Unlock()
			continue
		}
		s.mu.Lock()
		changed := s.prompts[role] != string(raw)
		s.prompts[role] = string(raw)
		s.mu.Unlock()
		if changed {
			log.Printf("[Vision] Prompt override loaded for %s from %s", role, path)
		}
	}
}
