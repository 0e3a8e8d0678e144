package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aegis-agent/aegis/internal/store"
)

func TestLocalWindowBound(t *testing.T) {
	l := NewLimiter(nil, nil)
	base := time.Now()
	l.now = func() time.Time { return base }
	limit := Limit{MaxCalls: 3, WindowSeconds: 60}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !l.Allow(ctx, "b", limit) {
			t.Fatalf("call %d rejected under cap", i)
		}
	}
	if l.Allow(ctx, "b", limit) {
		t.Error("fourth call admitted over cap")
	}

	// Window slides: after 61s the oldest entries expire.
	l.now = func() time.Time { return base.Add(61 * time.Second) }
	if !l.Allow(ctx, "b", limit) {
		t.Error("call rejected after window expired")
	}
}

func TestBucketsAreIndependent(t *testing.T) {
	l := NewLimiter(nil, nil)
	limit := Limit{MaxCalls: 1, WindowSeconds: 60}
	ctx := context.Background()

	if !l.Allow(ctx, "a", limit) {
		t.Fatal("first call to bucket a rejected")
	}
	if !l.Allow(ctx, "b", limit) {
		t.Error("bucket b throttled by bucket a")
	}
	if l.Allow(ctx, "a", limit) {
		t.Error("bucket a over cap")
	}
}

func TestZeroLimitMeansUnlimited(t *testing.T) {
	l := NewLimiter(nil, nil)
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		if !l.Allow(ctx, "b", Limit{}) {
			t.Fatal("unconfigured limit rejected a call")
		}
	}
}

func TestDurableWindowPreferred(t *testing.T) {
	st := store.NewMemoryStore()
	l := NewLimiter(st, nil)
	limit := Limit{MaxCalls: 2, WindowSeconds: 60}
	ctx := context.Background()

	if !l.Allow(ctx, "b", limit) || !l.Allow(ctx, "b", limit) {
		t.Fatal("calls under cap rejected")
	}
	if l.Allow(ctx, "b", limit) {
		t.Error("third call admitted over durable cap")
	}
}

// failingStore errors on every sliding-window call.
type failingStore struct{ *store.MemoryStore }

func (f failingStore) SlidingWindowAdmit(ctx context.Context, key string, now time.Time, window time.Duration, maxCalls int) (bool, error) {
	return false, errors.New("storage down")
}

func TestFallbackToLocalOnStoreError(t *testing.T) {
	l := NewLimiter(failingStore{store.NewMemoryStore()}, nil)
	limit := Limit{MaxCalls: 2, WindowSeconds: 60}
	ctx := context.Background()

	// The local window still enforces the cap.
	if !l.Allow(ctx, "b", limit) || !l.Allow(ctx, "b", limit) {
		t.Fatal("fallback rejected calls under cap")
	}
	if l.Allow(ctx, "b", limit) {
		t.Error("fallback admitted call over cap")
	}
}

func TestConcurrentAdmissionBound(t *testing.T) {
	l := NewLimiter(nil, nil)
	limit := Limit{MaxCalls: 10, WindowSeconds: 60}
	ctx := context.Background()

	const callers = 100
	var wg sync.WaitGroup
	results := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- l.Allow(ctx, "b", limit)
		}()
	}
	wg.Wait()
	close(results)

	admitted := 0
	for ok := range results {
		if ok {
			admitted++
		}
	}
	if admitted != limit.MaxCalls {
		t.Errorf("admitted %d calls, want %d", admitted, limit.MaxCalls)
	}
}
