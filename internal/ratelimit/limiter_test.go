package ratelimit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimiter(t *testing.T, rules Rules) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewLimiter(client, rules), mr
}

func TestWithinLimit(t *testing.T) {
	rules := DefaultRules()
	rules.Analysis = LimitConfig{Rate: 3, Window: time.Minute}
	l, _ := testLimiter(t, rules)

	for i := 0; i < 3; i++ {
		d, err := l.Check(context.Background(), "tenant-1", ClassAnalysis)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 3-(i+1), d.Remaining)
	}
}

func TestExceedsLimit(t *testing.T) {
	rules := DefaultRules()
	rules.Ingest = LimitConfig{Rate: 2, Window: time.Second}
	l, _ := testLimiter(t, rules)

	l.Check(context.Background(), "tenant-1", ClassIngest)
	l.Check(context.Background(), "tenant-1", ClassIngest)
	d, err := l.Check(context.Background(), "tenant-1", ClassIngest)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 1, d.RetryAfter)
}

func TestTenantsAreIndependent(t *testing.T) {
	rules := DefaultRules()
	rules.Ingest = LimitConfig{Rate: 1, Window: time.Second}
	l, _ := testLimiter(t, rules)

	d, _ := l.Check(context.Background(), "tenant-a", ClassIngest)
	assert.True(t, d.Allowed)
	d, _ = l.Check(context.Background(), "tenant-a", ClassIngest)
	assert.False(t, d.Allowed)

	d, _ = l.Check(context.Background(), "tenant-b", ClassIngest)
	assert.True(t, d.Allowed)
}

func TestWindowResets(t *testing.T) {
	rules := DefaultRules()
	rules.Read = LimitConfig{Rate: 1, Window: time.Second}
	l, mr := testLimiter(t, rules)

	d, _ := l.Check(context.Background(), "t", ClassRead)
	assert.True(t, d.Allowed)
	d, _ = l.Check(context.Background(), "t", ClassRead)
	assert.False(t, d.Allowed)

	mr.FastForward(1100 * time.Millisecond)
	d, _ = l.Check(context.Background(), "t", ClassRead)
	assert.True(t, d.Allowed)
}

func TestRedisDown(t *testing.T) {
	rules := DefaultRules()
	l, mr := testLimiter(t, rules)
	mr.Close()

	_, err := l.Check(context.Background(), "t", ClassRead)
	assert.ErrorIs(t, err, ErrRedisUnavailable)
}

func TestLoadRules(t *testing.T) {
	t.Run("missing file keeps defaults", func(t *testing.T) {
		rules, err := LoadRules(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, DefaultRules(), rules)
	})

	t.Run("partial file overrides", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		require.NoError(t, os.WriteFile(path, []byte("ingest:\n  rate: 5\n  window: 2s\n"), 0644))

		rules, err := LoadRules(path)
		require.NoError(t, err)
		assert.Equal(t, 5, rules.Ingest.Rate)
		assert.Equal(t, 2*time.Second, rules.Ingest.Window)
		assert.Equal(t, DefaultRules().Read, rules.Read)
	})
}
