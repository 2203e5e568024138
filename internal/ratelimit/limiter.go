// Package ratelimit provides a per-caller sliding-window limiter for elevation provider calls.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/velocols/colprofile/internal/constants"
)

// Config holds the limiter parameters. Zero values fall back to the package defaults.
type Config struct {
	Window      time.Duration // Trailing window over which requests are counted
	MaxRequests int           // Requests allowed per caller inside Window
	Backoff     time.Duration // Extra wait added once a slot frees up
}

// DefaultConfig returns the provider quota defaults (40 requests / 60s, 2s backoff).
func DefaultConfig() Config {
	return Config{
		Window:      constants.RateLimitWindow,
		MaxRequests: constants.RateLimitMaxRequests,
		Backoff:     constants.RateLimitBackoff,
	}
}

// WaitFunc is invoked before the limiter suspends a caller.
type WaitFunc func(callerID string, wait time.Duration)

// Limiter is a sliding-window log limiter. Each caller id keeps the timestamps of its
// admitted requests; a caller at capacity waits until its oldest timestamp leaves the
// window, plus the fixed backoff. Capacity never accumulates beyond one window.
type Limiter struct {
	window      time.Duration
	maxRequests int
	backoff     time.Duration

	requests map[string][]time.Time // Admitted timestamps per caller, oldest first
	mu       sync.Mutex

	now    func() time.Time
	onWait WaitFunc

	// recordHook observes every admitted request (tests only).
	recordHook func(callerID string, at time.Time)
}

// NewLimiter creates a limiter from cfg.
func NewLimiter(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}

	return &Limiter{
		window:      cfg.Window,
		maxRequests: cfg.MaxRequests,
		backoff:     cfg.Backoff,
		requests:    make(map[string][]time.Time),
		now:         time.Now,
	}
}

// SetWaitFunc registers a callback fired each time a caller has to wait.
func (l *Limiter) SetWaitFunc(fn WaitFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onWait = fn
}

// Acquire blocks until callerID may issue one more request, then records it.
// An empty callerID uses the default bucket. Returns ctx.Err() if cancelled while waiting.
func (l *Limiter) Acquire(ctx context.Context, callerID string) error {
	if callerID == "" {
		callerID = constants.DefaultCallerID
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		wait, ok := l.tryAcquire(callerID)
		if ok {
			return nil
		}

		l.mu.Lock()
		notify := l.onWait
		l.mu.Unlock()
		if notify != nil {
			notify(callerID, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			// Re-check: another goroutine may have taken the freed slot
		}
	}
}

// tryAcquire records a request if the caller has capacity. Otherwise it returns how long
// to wait: until the oldest timestamp exits the window, plus the backoff.
func (l *Limiter) tryAcquire(callerID string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	stamps := l.prune(callerID, now)

	if len(stamps) < l.maxRequests {
		l.requests[callerID] = append(stamps, now)
		if l.recordHook != nil {
			l.recordHook(callerID, now)
		}
		return 0, true
	}

	wait := stamps[0].Add(l.window).Sub(now) + l.backoff
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

// prune drops timestamps that fell out of the window. Caller must hold l.mu.
func (l *Limiter) prune(callerID string, now time.Time) []time.Time {
	stamps := l.requests[callerID]
	cut := 0
	for cut < len(stamps) && now.Sub(stamps[cut]) >= l.window {
		cut++
	}
	if cut > 0 {
		stamps = append(stamps[:0], stamps[cut:]...)
		l.requests[callerID] = stamps
	}
	return stamps
}

// InWindow returns how many requests callerID has inside the trailing window.
func (l *Limiter) InWindow(callerID string) int {
	if callerID == "" {
		callerID = constants.DefaultCallerID
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.prune(callerID, l.now()))
}
