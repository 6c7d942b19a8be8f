package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter throttles inbound traffic with one token bucket per key (signal source or user)
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	rps     float64
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a keyed limiter. rps <= 0 disables limiting.
func NewLimiter(rps float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		rps:     rps,
		burst:   burst,
		idleTTL: 10 * time.Minute,
		now:     time.Now,
	}
}

// Enabled reports whether the limiter ever refuses requests
func (l *Limiter) Enabled() bool {
	return l != nil && l.rps > 0
}

func (l *Limiter) getBucket(key string, now time.Time) *bucket {
	l.mu.RLock()
	b, exists := l.buckets[key]
	l.mu.RUnlock()

	if exists {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if b, exists := l.buckets[key]; exists {
		return b
	}

	b = &bucket{
		limiter:  rate.NewLimiter(rate.Limit(l.rps), l.burst),
		lastSeen: now,
	}
	l.buckets[key] = b
	return b
}

// Allow takes one token for key. When refused, retryAfter is the wait until the next token.
func (l *Limiter) Allow(key string) (allowed bool, retryAfter time.Duration) {
	if !l.Enabled() {
		return true, 0
	}

	now := l.now()
	b := l.getBucket(key, now)

	l.mu.Lock()
	b.lastSeen = now
	l.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Sweep drops buckets idle longer than the idle TTL and returns how many were removed
func (l *Limiter) Sweep() int {
	if l == nil {
		return 0
	}
	cutoff := l.now().Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Stats returns the current token state per key
func (l *Limiter) Stats() map[string]LimiterStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	now := l.now()
	stats := make(map[string]LimiterStats, len(l.buckets))
	for key, b := range l.buckets {
		stats[key] = LimiterStats{
			Key:             key,
			RPS:             float64(b.limiter.Limit()),
			Burst:           b.limiter.Burst(),
			TokensAvailable: b.limiter.TokensAt(now),
			LastSeen:        b.lastSeen,
		}
	}
	return stats
}

// LimiterStats is a point-in-time view of one bucket
type LimiterStats struct {
	Key             string    `json:"key"`
	RPS             float64   `json:"rps"`
	Burst           int       `json:"burst"`
	TokensAvailable float64   `json:"tokens_available"`
	LastSeen        time.Time `json:"last_seen"`
}

// IsThrottled returns true when the bucket has no whole token left
func (s LimiterStats) IsThrottled() bool {
	return s.TokensAvailable < 1
}
