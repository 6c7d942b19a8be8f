package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestLimiter_BurstThenRefuse(t *testing.T) {
	limiter := NewLimiter(2.0, 2)
	limiter.now = fixedClock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))

	ok, _ := limiter.Allow("channel-a")
	assert.True(t, ok)
	ok, _ = limiter.Allow("channel-a")
	assert.True(t, ok)

	ok, retry := limiter.Allow("channel-a")
	assert.False(t, ok)
	assert.InDelta(t, float64(500*time.Millisecond), float64(retry), float64(10*time.Millisecond))
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	limiter := NewLimiter(1.0, 1)
	limiter.now = fixedClock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))

	ok, _ := limiter.Allow("channel-a")
	assert.True(t, ok)
	ok, _ = limiter.Allow("channel-b")
	assert.True(t, ok)

	ok, _ = limiter.Allow("channel-a")
	assert.False(t, ok)
	ok, _ = limiter.Allow("channel-b")
	assert.False(t, ok)
}

func TestLimiter_RefillOverTime(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	limiter := NewLimiter(1.0, 1)
	limiter.now = func() time.Time { return now }

	ok, _ := limiter.Allow("channel-a")
	require.True(t, ok)
	ok, _ = limiter.Allow("channel-a")
	require.False(t, ok)

	now = now.Add(1100 * time.Millisecond)
	ok, _ = limiter.Allow("channel-a")
	assert.True(t, ok)
}

func TestLimiter_DisabledAllowsEverything(t *testing.T) {
	limiter := NewLimiter(0, 0)
	assert.False(t, limiter.Enabled())
	for i := 0; i < 100; i++ {
		ok, _ := limiter.Allow("channel-a")
		require.True(t, ok)
	}
	assert.Empty(t, limiter.Stats())
}

func TestLimiter_SweepDropsIdleKeys(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	limiter := NewLimiter(5, 5)
	limiter.now = func() time.Time { return now }

	limiter.Allow("old")
	now = now.Add(9 * time.Minute)
	limiter.Allow("fresh")
	now = now.Add(2 * time.Minute)

	assert.Equal(t, 1, limiter.Sweep())
	stats := limiter.Stats()
	assert.Contains(t, stats, "fresh")
	assert.NotContains(t, stats, "old")
}

func TestLimiter_StatsReportThrottled(t *testing.T) {
	limiter := NewLimiter(1, 1)
	limiter.now = fixedClock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))

	limiter.Allow("channel-a")
	stats := limiter.Stats()["channel-a"]
	assert.True(t, stats.IsThrottled())
	assert.Equal(t, 1, stats.Burst)
}

func TestLimiter_ConcurrentAllow(t *testing.T) {
	limiter := NewLimiter(1, 10)
	limiter.now = fixedClock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))

	var allowed int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := limiter.Allow("channel-a"); ok {
				atomic.AddInt32(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), atomic.LoadInt32(&allowed))
}
