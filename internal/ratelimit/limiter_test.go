package ratelimit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"
)

// TestNewLimiterDefaults verifies zero values fall back to the provider quota.
func TestNewLimiterDefaults(t *testing.T) {
	l := NewLimiter(Config{})
	if l.window != 60*time.Second {
		t.Errorf("window = %v, want 60s", l.window)
	}
	if l.maxRequests != 40 {
		t.Errorf("maxRequests = %d, want 40", l.maxRequests)
	}
	if l.backoff != 0 {
		t.Errorf("backoff = %v, want 0 for explicit zero config", l.backoff)
	}
	if def := DefaultConfig(); def.Backoff != 2*time.Second {
		t.Errorf("DefaultConfig().Backoff = %v, want 2s", def.Backoff)
	}
}

// TestAcquireUnderCapacityDoesNotBlock verifies the first maxRequests calls return at once.
func TestAcquireUnderCapacityDoesNotBlock(t *testing.T) {
	l := NewLimiter(Config{Window: time.Second, MaxRequests: 5})

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := l.Acquire(context.Background(), "a"); err != nil {
			t.Fatalf("Acquire() #%d error: %v", i+1, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("5 acquires under capacity took %v", elapsed)
	}
	if got := l.InWindow("a"); got != 5 {
		t.Errorf("InWindow = %d, want 5", got)
	}
}

// TestAcquireWaitsForOldestPlusBackoff verifies a caller at capacity waits for the window and backoff.
func TestAcquireWaitsForOldestPlusBackoff(t *testing.T) {
	l := NewLimiter(Config{Window: 100 * time.Millisecond, MaxRequests: 2, Backoff: 30 * time.Millisecond})

	var waits []time.Duration
	l.SetWaitFunc(func(_ string, d time.Duration) { waits = append(waits, d) })

	ctx := context.Background()
	_ = l.Acquire(ctx, "")
	_ = l.Acquire(ctx, "")

	start := time.Now()
	if err := l.Acquire(ctx, ""); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < 120*time.Millisecond {
		t.Errorf("third Acquire returned after %v, want >= ~130ms", elapsed)
	}
	if elapsed > 400*time.Millisecond {
		t.Errorf("third Acquire took %v, expected ~130ms", elapsed)
	}
	if len(waits) == 0 {
		t.Error("wait callback was not invoked")
	}
}

// TestCallersAreIndependent verifies one caller's usage does not throttle another.
func TestCallersAreIndependent(t *testing.T) {
	l := NewLimiter(Config{Window: time.Minute, MaxRequests: 1})
	ctx := context.Background()

	if err := l.Acquire(ctx, "alpha"); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- l.Acquire(ctx, "beta") }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Acquire(beta) error: %v", err)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Acquire(beta) blocked on alpha's quota")
	}
}

// TestAcquireRespectsContextCancellation verifies Acquire returns on context cancel.
func TestAcquireRespectsContextCancellation(t *testing.T) {
	l := NewLimiter(Config{Window: time.Minute, MaxRequests: 1})
	_ = l.Acquire(context.Background(), "x")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx, "x")
	if err != context.DeadlineExceeded {
		t.Errorf("Acquire() error = %v, want context.DeadlineExceeded", err)
	}
	if got := l.InWindow("x"); got != 1 {
		t.Errorf("cancelled Acquire recorded a request: InWindow = %d", got)
	}
}

// TestNoIdleAccumulation verifies idle time does not grant more than maxRequests at once.
func TestNoIdleAccumulation(t *testing.T) {
	l := NewLimiter(Config{Window: 50 * time.Millisecond, MaxRequests: 2})
	time.Sleep(150 * time.Millisecond) // idle for three windows

	ctx := context.Background()
	_ = l.Acquire(ctx, "c")
	_ = l.Acquire(ctx, "c")
	if _, ok := l.tryAcquire("c"); ok {
		t.Error("idle period allowed a third request inside one window")
	}
}

// TestConcurrentAcquireNeverExceedsWindow checks the sliding-window invariant under contention.
func TestConcurrentAcquireNeverExceedsWindow(t *testing.T) {
	const (
		maxRequests = 4
		window      = 80 * time.Millisecond
		callers     = 14
	)
	l := NewLimiter(Config{Window: window, MaxRequests: maxRequests})

	var (
		mu    sync.Mutex
		stamp []time.Time
	)
	l.recordHook = func(_ string, at time.Time) {
		stamp = append(stamp, at) // called under l.mu
	}

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background(), "shared"); err != nil {
				t.Errorf("Acquire() error: %v", err)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(stamp) != callers {
		t.Fatalf("recorded %d requests, want %d", len(stamp), callers)
	}
	sort.Slice(stamp, func(i, j int) bool { return stamp[i].Before(stamp[j]) })
	for i := maxRequests; i < len(stamp); i++ {
		if gap := stamp[i].Sub(stamp[i-maxRequests]); gap < window {
			t.Errorf("requests %d and %d are %v apart, want >= %v", i-maxRequests, i, gap, window)
		}
	}
}
