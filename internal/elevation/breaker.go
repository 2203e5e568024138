package elevation

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/velocols/colprofile/internal/http"
	"github.com/velocols/colprofile/internal/logging"
	"github.com/velocols/colprofile/internal/metrics"
)

// BreakerSettings configures the provider circuit breaker.
type BreakerSettings struct {
	// MaxRequests allowed through while half-open
	MaxRequests uint32
	// Interval resets the failure counts while closed
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing again
	Timeout time.Duration
	// ConsecutiveFailures opens the breaker
	ConsecutiveFailures uint32
}

// DefaultBreakerSettings opens after 5 consecutive provider failures for 1 minute.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:         1,
		Interval:            2 * time.Minute,
		Timeout:             time.Minute,
		ConsecutiveFailures: 5,
	}
}

// BreakerProvider stops hammering a provider that keeps failing.
//
// Rate-limit signals and caller cancellations do not count as failures.
// While open, calls fail fast with an error wrapping http.ErrProvider.
type BreakerProvider struct {
	next     Provider
	cb       *gobreaker.CircuitBreaker[*FetchResult]
	name     string
	logger   *logging.Logger
	recorder *metrics.Recorder
}

// NewBreakerProvider wraps next. logger and recorder may be nil.
func NewBreakerProvider(next Provider, settings BreakerSettings, logger *logging.Logger, recorder *metrics.Recorder) *BreakerProvider {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	name := "elevation-provider"
	recorder.SetBreakerState(name, 0)

	bp := &BreakerProvider{
		next:     next,
		name:     name,
		logger:   logger,
		recorder: recorder,
	}

	bp.cb = gobreaker.NewCircuitBreaker[*FetchResult](gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			trip := counts.ConsecutiveFailures >= settings.ConsecutiveFailures
			if trip {
				logger.Warn().Uint32("consecutive_failures", counts.ConsecutiveFailures).Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return trip
		},

		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return http.ClassifyError(err) == http.ErrorTypeRateLimited
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info().Str("from", from.String()).Str("to", to.String()).Msg("[CIRCUIT BREAKER] State transition")
			recorder.SetBreakerState(name, stateToFloat(to))
		},
	})

	return bp
}

// FetchProfile calls the wrapped provider through the breaker.
func (b *BreakerProvider) FetchProfile(ctx context.Context, req Request) (*FetchResult, error) {
	result, err := b.cb.Execute(func() (*FetchResult, error) {
		return b.next.FetchProfile(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			b.recorder.ProviderRequest(metrics.ResultRejected)
			return nil, fmt.Errorf("%w: %s: %v", http.ErrProvider, b.name, err)
		}
		return nil, err
	}
	return result, nil
}

// State returns the current breaker state.
func (b *BreakerProvider) State() gobreaker.State {
	return b.cb.State()
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
