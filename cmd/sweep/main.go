// sweep runs one retention pass and exits, for external cron
// alongside the daemon's daily in-process sweeps. Concurrent runs are
// safe: a file deleted by the other party is a logged non-event.
package main

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/technosupport/ts-sentinel/internal/retention"
)

func main() {
	cfg := retention.DefaultConfig()
	cfg.EvidenceDir = getEnv("LOCAL_EVIDENCE_DIR", "local_evidence")
	cfg.SpoolDir = getEnv("OFFLINE_ALERTS_DIR", "offline_alerts")
	cfg.MaxAge = time.Duration(getEnvInt("RETENTION_DAYS", 30)) * 24 * time.Hour

	removed := retention.NewSweeper(cfg, nil).Sweep()
	log.Printf("[INFO] Sweep complete: %d files removed", removed)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
