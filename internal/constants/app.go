package constants

import (
	"time"
)

// Elevation provider quota
const (
	// RateLimitWindow - sliding window over which provider requests are counted (60s)
	RateLimitWindow = 60 * time.Second

	// RateLimitMaxRequests - requests allowed per caller inside one window
	RateLimitMaxRequests = 40

	// RateLimitBackoff - extra wait added after the oldest request leaves the window (2s)
	RateLimitBackoff = 2 * time.Second

	// DefaultCallerID - limiter bucket used when the caller does not name one
	DefaultCallerID = "default"
)

// Segmentation
const (
	// SignificantGradientChange - gradient delta (percentage points) that closes a segment
	SignificantGradientChange = 2.0

	// MinSegmentLengthKm - segments shorter than this are never emitted (0.5 km)
	MinSegmentLengthKm = 0.5

	// EarthRadiusKm - mean Earth radius used by the haversine distance
	EarthRadiusKm = 6371.0
)

// Difficulty thresholds, inclusive upper bounds in %
const (
	EasyMaxGradient        = 3.0
	ModerateMaxGradient    = 6.0
	ChallengingMaxGradient = 9.0
	DifficultMaxGradient   = 12.0
)

// Validation gate
const (
	// MinPointsPerKm - minimum sample density against the catalogued length
	MinPointsPerKm = 10.0

	// MaxElevationDeltaM - tolerated gap between computed max elevation and catalogue (50 m)
	MaxElevationDeltaM = 50.0
)

// Regeneration run
const (
	// DefaultConcurrency - cols processed in parallel
	DefaultConcurrency = 3

	// MinConcurrency - sequential mode
	MinConcurrency = 1

	// MaxConcurrency - upper bound accepted from flags/config
	MaxConcurrency = 32

	// TestSampleSize - cols processed in --test mode
	TestSampleSize = 5

	// ProfileCacheTTL - lifetime of a cached profile (1 week)
	ProfileCacheTTL = 7 * 24 * time.Hour

	// ProfileCachePrefix - cache key prefix, followed by the col id
	ProfileCachePrefix = "col_profile_"
)

// Single-col retry policy
const (
	// RateLimitRetries - retries after a rate-limit signal; delay grows linearly
	RateLimitRetries = 3

	// RateLimitRetryStep - delay unit: attempt n waits (n+1)*step
	RateLimitRetryStep = 5 * time.Second

	// ProviderRetries - retries after a generic provider error
	ProviderRetries = 2

	// ProviderRetryDelay - flat delay between provider retries
	ProviderRetryDelay = 3 * time.Second
)

// Elevation HTTP client
const (
	// SamplesPerKm - path densification target, kept above MinPointsPerKm
	SamplesPerKm = 12

	// MaxSamples - upper bound of points requested for one col
	MaxSamples = 512

	// ProviderTimeout - per-request timeout
	ProviderTimeout = 30 * time.Second

	// ProviderHTTPRetries - connection-level retries inside the HTTP client
	ProviderHTTPRetries = 2
)

// HTTP transport
const (
	HTTPDialTimeout           = 30 * time.Second
	HTTPDialKeepAlive         = 30 * time.Second
	HTTPIdleConnTimeout       = 90 * time.Second
	HTTPTLSHandshakeTimeout   = 15 * time.Second
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPMaxConnsPerHost - enough for MaxConcurrency workers against one provider host
	HTTPMaxConnsPerHost = 32

	// ProxyWarmupTimeout - budget for the optional proxy warmup request
	ProxyWarmupTimeout = 15 * time.Second

	// DefaultProxyPort - used when a proxy host is configured without a port
	DefaultProxyPort = 8080
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels (1000)
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (5000)
	EventBusMaxBuffer = 5000
)

// Warnings
const (
	// RateLimitWarnInterval - minimum gap between "waiting for quota" warnings
	RateLimitWarnInterval = 10 * time.Second
)
