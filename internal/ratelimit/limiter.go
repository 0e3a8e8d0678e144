// Package ratelimit provides sliding-window rate limiting for skill buckets.
//
// Two windows back the limiter: a durable one in the store, shared across
// processes, and a process-local one used when no store is configured or
// when the store errors mid-check. The durable admission is atomic, so no
// interleaving of concurrent callers admits more than the cap per window.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/aegis-agent/aegis/internal/observability"
	"github.com/aegis-agent/aegis/internal/store"
)

// Limit is one bucket's policy.
type Limit struct {
	// MaxCalls is the number of admissions allowed per window.
	MaxCalls int `yaml:"max_calls"`
	// WindowSeconds is the window length.
	WindowSeconds int `yaml:"window_seconds"`
}

// Window returns the window length as a duration.
func (l Limit) Window() time.Duration {
	return time.Duration(l.WindowSeconds) * time.Second
}

// Limiter admits or rejects events per bucket.
type Limiter struct {
	store  store.Store
	logger *observability.Logger

	mu    sync.Mutex
	local map[string][]time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewLimiter creates a limiter. The store may be nil; the limiter then runs
// entirely on the process-local window.
func NewLimiter(st store.Store, logger *observability.Logger) *Limiter {
	return &Limiter{
		store:  st,
		logger: logger,
		local:  make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow admits one event into bucket under limit. The durable window is
// preferred; on storage error the check falls back to the local window so a
// store outage degrades accuracy, not availability.
func (l *Limiter) Allow(ctx context.Context, bucket string, limit Limit) bool {
	if limit.MaxCalls <= 0 || limit.WindowSeconds <= 0 {
		return true
	}

	if l.store != nil {
		ok, err := l.store.SlidingWindowAdmit(ctx, "ratelimit:"+bucket, l.now(), limit.Window(), limit.MaxCalls)
		if err == nil {
			return ok
		}
		if l.logger != nil {
			l.logger.Warn(ctx, "durable rate limit unavailable, using local window",
				"bucket", bucket, "error", err)
		}
	}

	return l.allowLocal(bucket, limit)
}

// allowLocal applies the evict-count-record sequence on the in-process
// window under the lock.
func (l *Limiter) allowLocal(bucket string, limit Limit) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-limit.Window())
	kept := l.local[bucket][:0]
	for _, t := range l.local[bucket] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit.MaxCalls {
		l.local[bucket] = kept
		return false
	}
	l.local[bucket] = append(kept, now)
	return true
}
