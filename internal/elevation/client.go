package elevation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/velocols/colprofile/internal/constants"
	"github.com/velocols/colprofile/internal/http"
	"github.com/velocols/colprofile/internal/logging"
	"github.com/velocols/colprofile/internal/metrics"
	"github.com/velocols/colprofile/internal/models"
	"github.com/velocols/colprofile/internal/profile"
)

// lookupPath is the Open-Elevation compatible batch endpoint.
const lookupPath = "/api/v1/lookup"

// Config configures the HTTP provider.
type Config struct {
	BaseURL      string
	APIKey       string
	SamplesPerKm int
	MaxSamples   int
	// Timeout bounds one lookup including connection-level retries
	Timeout time.Duration
	// HTTPRetries is the number of connection-level retries (network errors, 5xx).
	// 429 responses are never retried here; they surface as rate-limit errors.
	HTTPRetries int
}

// DefaultConfig returns provider defaults for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:      baseURL,
		SamplesPerKm: constants.SamplesPerKm,
		MaxSamples:   constants.MaxSamples,
		Timeout:      constants.ProviderTimeout,
		HTTPRetries:  constants.ProviderHTTPRetries,
	}
}

// retryLogger implements the retryablehttp.LeveledLogger interface
type retryLogger struct {
	logger *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg("[RETRY] " + msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("[RETRY] " + msg)
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("[RETRY] " + msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg("[RETRY] " + msg)
}

// Client talks to an Open-Elevation compatible lookup API.
type Client struct {
	http     *retryablehttp.Client
	cfg      Config
	baseURL  string
	logger   *logging.Logger
	recorder *metrics.Recorder
}

type lookupLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type lookupRequest struct {
	Locations []lookupLocation `json:"locations"`
}

type lookupResult struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Elevation float64 `json:"elevation"`
}

type lookupResponse struct {
	Results []lookupResult `json:"results"`
}

// NewClient wraps base (usually from http.CreateProviderClient) with
// connection-level retries. recorder may be nil.
func NewClient(cfg Config, base *nethttp.Client, logger *logging.Logger, recorder *metrics.Recorder) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("elevation base URL is required")
	}
	if cfg.SamplesPerKm <= 0 {
		cfg.SamplesPerKm = constants.SamplesPerKm
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = constants.MaxSamples
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = constants.ProviderTimeout
	}
	if cfg.HTTPRetries < 0 {
		cfg.HTTPRetries = 0
	}
	if base == nil {
		base = &nethttp.Client{}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = base
	retryClient.RetryMax = cfg.HTTPRetries
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = &retryLogger{logger: logger}
	retryClient.CheckRetry = checkRetry
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		http:     retryClient,
		cfg:      cfg,
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:   logger,
		recorder: recorder,
	}, nil
}

// checkRetry defers to the default policy except for 429, which is left to
// the caller's rate-limit handling instead of being retried blindly.
func checkRetry(ctx context.Context, resp *nethttp.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if resp != nil && resp.StatusCode == nethttp.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// SampleCount returns how many points are requested for req: SamplesPerKm
// over the longer of the path and the catalogued length, capped at MaxSamples.
func (c *Client) SampleCount(req Request) int {
	length := math.Max(profile.PathLength(req.Path), req.LengthKm)
	n := int(math.Ceil(length*float64(c.cfg.SamplesPerKm))) + 1
	if n > c.cfg.MaxSamples {
		n = c.cfg.MaxSamples
	}
	if n < len(req.Path) {
		n = len(req.Path)
	}
	return n
}

// FetchProfile densifies the path and looks up the elevation of every vertex.
func (c *Client) FetchProfile(ctx context.Context, req Request) (*FetchResult, error) {
	path := req.Path
	if len(path) < 2 {
		return nil, fmt.Errorf("path needs at least 2 coordinates, got %d", len(path))
	}

	coords := profile.Densify(path, c.SampleCount(req))

	body := lookupRequest{Locations: make([]lookupLocation, len(coords))}
	for i, p := range coords {
		body.Locations[i] = lookupLocation{Latitude: p.Lat, Longitude: p.Lng}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode lookup request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := retryablehttp.NewRequestWithContext(reqCtx, nethttp.MethodPost, c.baseURL+lookupPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.recorder.ProviderRequest(metrics.ResultFailure)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if reqCtx.Err() != nil {
			return nil, fmt.Errorf("%w: lookup timed out after %s", http.ErrProvider, time.Since(start).Round(time.Millisecond))
		}
		return nil, fmt.Errorf("%w: %v", http.ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != nethttp.StatusOK {
		c.recorder.ProviderRequest(metrics.ResultFailure)
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &http.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var decoded lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		c.recorder.ProviderRequest(metrics.ResultFailure)
		return nil, fmt.Errorf("%w: failed to decode lookup response: %v", http.ErrProvider, err)
	}
	if len(decoded.Results) != len(coords) {
		c.recorder.ProviderRequest(metrics.ResultFailure)
		return nil, fmt.Errorf("%w: requested %d locations, got %d", http.ErrProvider, len(coords), len(decoded.Results))
	}
	c.recorder.ProviderRequest(metrics.ResultSuccess)

	points := make([]models.ElevationPoint, len(decoded.Results))
	for i, r := range decoded.Results {
		points[i] = models.ElevationPoint{Lat: r.Latitude, Lng: r.Longitude, Elevation: r.Elevation}
	}

	c.logger.Debug().
		Int("points", len(points)).
		Dur("elapsed", time.Since(start)).
		Msg("Elevation lookup complete")

	return newFetchResult(points), nil
}

func newFetchResult(points []models.ElevationPoint) *FetchResult {
	sum := profile.Summarize(points)
	return &FetchResult{
		Points:       points,
		TotalAscent:  sum.TotalAscent,
		TotalDescent: sum.TotalDescent,
		MinElevation: sum.MinElevation,
		MaxElevation: sum.MaxElevation,
	}
}
