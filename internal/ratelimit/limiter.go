// Package ratelimit enforces per-tenant request quotas on Redis. Each
// endpoint class has its own window; exceeding it turns into a 429 at
// the gateway.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrRedisUnavailable  = errors.New("redis unavailable")
)

// Class buckets endpoints that share a quota.
type Class string

const (
	ClassIngest   Class = "ingest"   // POST /buffer/frame
	ClassAnalysis Class = "analysis" // on-demand analyze, alert, evidence ops
	ClassRead     Class = "read"     // usage, feed token
)

type LimitConfig struct {
	Rate   int           `yaml:"rate"`
	Window time.Duration `yaml:"window"`
}

// UnmarshalYAML accepts the window as a duration string ("1s", "1m").
func (c *LimitConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Rate   int    `yaml:"rate"`
		Window string `yaml:"window"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.Rate = raw.Rate
	if raw.Window != "" {
		d, err := time.ParseDuration(raw.Window)
		if err != nil {
			return fmt.Errorf("invalid window %q: %w", raw.Window, err)
		}
		c.Window = d
	}
	return nil
}

// Rules maps endpoint classes to their limits. Loaded from
// config/ratelimits.yaml; missing classes fall back to defaults.
type Rules struct {
	Ingest   LimitConfig `yaml:"ingest"`
	Analysis LimitConfig `yaml:"analysis"`
	Read     LimitConfig `yaml:"read"`
}

func DefaultRules() Rules {
	return Rules{
		Ingest:   LimitConfig{Rate: 100, Window: time.Second},
		Analysis: LimitConfig{Rate: 60, Window: time.Minute},
		Read:     LimitConfig{Rate: 600, Window: time.Minute},
	}
}

// LoadRules reads the yaml rules file, keeping defaults for anything
// unset. A missing file is not an error.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return rules, nil
		}
		return rules, err
	}
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return DefaultRules(), fmt.Errorf("parse ratelimit rules: %w", err)
	}
	return rules, nil
}

func (r Rules) For(class Class) LimitConfig {
	switch class {
	case ClassIngest:
		return r.Ingest
	case ClassAnalysis:
		return r.Analysis
	default:
		return r.Read
	}
}

type Decision struct {
	Limit      int
	Remaining  int
	RetryAfter int // seconds
	Allowed    bool
}

type Limiter struct {
	client *redis.Client
	rules  Rules
}

func NewLimiter(client *redis.Client, rules Rules) *Limiter {
	return &Limiter{client: client, rules: rules}
}

// windowScript atomically increments the window counter and arms its
// expiry on first hit.
var windowScript = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if tonumber(current) == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	return current
`)

// Check counts one request for (tenant, class) and decides whether it
// fits the window.
func (l *Limiter) Check(ctx context.Context, tenantID string, class Class) (*Decision, error) {
	cfg := l.rules.For(class)
	key := fmt.Sprintf("rl:%s:%s", tenantID, class)

	count, err := windowScript.Run(ctx, l.client, []string{key}, cfg.Window.Milliseconds()).Int()
	if err != nil {
		return nil, ErrRedisUnavailable
	}

	remaining := cfg.Rate - count
	if remaining < 0 {
		remaining = 0
	}
	return &Decision{
		Limit:      cfg.Rate,
		Remaining:  remaining,
		RetryAfter: int(cfg.Window.Seconds()),
		Allowed:    count <= cfg.Rate,
	}, nil
}
