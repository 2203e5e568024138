package http

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/velocols/colprofile/internal/constants"
)

// ErrorType represents different classes of errors for retry strategy
type ErrorType int

const (
	// ErrorTypeSuccess indicates operation succeeded
	ErrorTypeSuccess ErrorType = iota
	// ErrorTypeRateLimited indicates the provider signalled quota exhaustion (429, "rate limit")
	ErrorTypeRateLimited
	// ErrorTypeProvider indicates a transient provider failure (network, 5xx)
	ErrorTypeProvider
	// ErrorTypeFatal indicates errors that should not be retried (4xx, validation, cancellation)
	ErrorTypeFatal
)

var (
	// ErrRateLimited is wrapped by every error that signals provider quota exhaustion.
	ErrRateLimited = errors.New("rate limited")

	// ErrProvider is wrapped by transient provider failures.
	ErrProvider = errors.New("provider error")
)

// StatusError is returned for non-2xx provider responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("provider returned %d %s", e.StatusCode, nethttp.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Unwrap maps the status onto ErrRateLimited or ErrProvider so errors.Is works.
func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == nethttp.StatusTooManyRequests:
		return ErrRateLimited
	case e.StatusCode >= 500:
		return ErrProvider
	default:
		return nil
	}
}

// PermanentError marks a failure that must never be retried, whatever its message says.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so ClassifyError reports it as fatal. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// ClassifyError determines the error type for retry strategy.
// Typed errors are checked first; the string fallback covers errors from
// transports that do not wrap our sentinels.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeSuccess
	}

	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return ErrorTypeFatal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeFatal
	}
	if errors.Is(err, ErrRateLimited) {
		return ErrorTypeRateLimited
	}
	if errors.Is(err, ErrProvider) {
		return ErrorTypeProvider
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return ErrorTypeFatal
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "quota") {
		return ErrorTypeRateLimited
	}

	if strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "tls handshake timeout") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "eof") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") {
		return ErrorTypeProvider
	}

	// Unknown errors - treat as fatal to avoid retrying on unexpected errors
	return ErrorTypeFatal
}

// Policy holds the bounded retry parameters for a single provider operation.
// Rate-limit and provider retries are counted independently.
type Policy struct {
	// RateLimitRetries is the number of retries after a rate-limit signal (default: 3)
	RateLimitRetries int
	// RateLimitStep is the linear delay unit: retry n waits (n+1)*step (default: 5s)
	RateLimitStep time.Duration
	// ProviderRetries is the number of retries after a transient provider error (default: 2)
	ProviderRetries int
	// ProviderDelay is the flat delay between provider retries (default: 3s)
	ProviderDelay time.Duration
	// OnRetry is an optional callback invoked before each retry sleep
	OnRetry func(attempt int, err error, errorType ErrorType, delay time.Duration)
}

// DefaultPolicy returns the single-col retry policy.
func DefaultPolicy() Policy {
	return Policy{
		RateLimitRetries: constants.RateLimitRetries,
		RateLimitStep:    constants.RateLimitRetryStep,
		ProviderRetries:  constants.ProviderRetries,
		ProviderDelay:    constants.ProviderRetryDelay,
	}
}

// RateLimitDelay returns the wait before rate-limit retry number retryCount (0-based).
func (p Policy) RateLimitDelay(retryCount int) time.Duration {
	return time.Duration(retryCount+1) * p.RateLimitStep
}

// ExecuteWithRetry runs operation until it succeeds or the policy is exhausted.
//
// Retry strategy:
//   - Rate-limited: linear backoff (n+1)*RateLimitStep, at most RateLimitRetries times
//   - Provider: flat ProviderDelay, at most ProviderRetries times
//   - Fatal errors and context cancellation: return immediately
//
// operation receives the 1-based attempt number.
func ExecuteWithRetry(ctx context.Context, policy Policy, operation func(attempt int) error) error {
	rateRetries, providerRetries := 0, 0

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := operation(attempt)
		if err == nil {
			return nil
		}

		errType := ClassifyError(err)
		var delay time.Duration

		switch errType {
		case ErrorTypeSuccess:
			return nil

		case ErrorTypeRateLimited:
			if rateRetries >= policy.RateLimitRetries {
				return fmt.Errorf("still rate limited after %d attempts: %w", attempt, err)
			}
			delay = policy.RateLimitDelay(rateRetries)
			rateRetries++

		case ErrorTypeProvider:
			if providerRetries >= policy.ProviderRetries {
				return fmt.Errorf("provider failed after %d attempts: %w", attempt, err)
			}
			delay = policy.ProviderDelay
			providerRetries++

		default:
			return err
		}

		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err, errType, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ErrorTypeName returns a human-readable name for an ErrorType
func ErrorTypeName(errType ErrorType) string {
	switch errType {
	case ErrorTypeSuccess:
		return "success"
	case ErrorTypeRateLimited:
		return "rate_limited"
	case ErrorTypeProvider:
		return "provider"
	case ErrorTypeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}
