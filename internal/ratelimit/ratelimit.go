// Package ratelimit implements the Rate Limiter (C6): a per-model token
// bucket independent of the Circuit Breaker, backed by
// golang.org/x/time/rate.
package ratelimit

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultStaleBucketThreshold is the idle period after which an unused
// bucket is pruned by the sweeper.
const DefaultStaleBucketThreshold = 30 * time.Minute

type bucket struct {
	limiter    *rate.Limiter
	lastUsedAt time.Time
}

// Limiter owns every model's TokenBucket in memory, lazily created on first
// use and pruned by an idle sweeper.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	staleAt time.Duration
	logger  *zap.Logger
}

// New returns a Limiter. staleBucketThreshold defaults to
// DefaultStaleBucketThreshold when zero.
func New(staleBucketThreshold time.Duration, logger *zap.Logger) *Limiter {
	if staleBucketThreshold <= 0 {
		staleBucketThreshold = DefaultStaleBucketThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		staleAt: staleBucketThreshold,
		logger:  logger.With(zap.String("component", "ratelimit")),
	}
}

// CheckModel is a non-blocking try-acquire of one token for name. When
// requestsPerMinute is <= 0 the limiter is disabled for this model and
// CheckModel always admits.
func (l *Limiter) CheckModel(name string, requestsPerMinute int) bool {
	if requestsPerMinute <= 0 {
		return true
	}

	l.mu.Lock()
	b, ok := l.buckets[name]
	if !ok {
		capacity := requestsPerMinute
		refillPerSec := float64(requestsPerMinute) / 60.0
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(refillPerSec), capacity)}
		l.buckets[name] = b
	}
	b.lastUsedAt = time.Now()
	limiter := b.limiter
	l.mu.Unlock()

	return limiter.Allow()
}

// Sweep removes buckets that haven't been touched within the stale
// threshold. Intended to run periodically from a background goroutine.
func (l *Limiter) Sweep() int {
	cutoff := time.Now().Add(-l.staleAt)

	l.mu.Lock()
	defer l.mu.Unlock()

	pruned := 0
	for name, b := range l.buckets {
		if b.lastUsedAt.Before(cutoff) {
			delete(l.buckets, name)
			pruned++
		}
	}
	if pruned > 0 {
		l.logger.Debug("pruned stale token buckets", zap.Int("count", pruned))
	}
	return pruned
}

// RunSweeper blocks, sweeping every interval, until stop is closed. Intended
// to be launched in its own goroutine by the caller.
func (l *Limiter) RunSweeper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// BucketCount reports the number of live buckets, for admin introspection.
func (l *Limiter) BucketCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
