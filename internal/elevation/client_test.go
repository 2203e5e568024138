package elevation

import (
	"context"
	"errors"
	"io"
	"math"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/velocols/colprofile/internal/http"
	"github.com/velocols/colprofile/internal/models"
	"github.com/velocols/colprofile/internal/profile"
	"github.com/velocols/colprofile/internal/validation"
)

// testPath is ~1.1 km due north.
var testPath = []models.Coordinate{{Lat: 45.0, Lng: 6.0}, {Lat: 45.01, Lng: 6.0}}

// lookupServer answers every location with an elevation rising 1 m per request index.
func lookupServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		calls.Add(1)
		if r.URL.Path != lookupPath || r.Method != nethttp.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}

		var req lookupRequest
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("decode request: %v", err)
		}

		resp := lookupResponse{Results: make([]lookupResult, len(req.Locations))}
		for i, loc := range req.Locations {
			resp.Results[i] = lookupResult{Latitude: loc.Latitude, Longitude: loc.Longitude, Elevation: 1000 + float64(i)}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	cfg := DefaultConfig(baseURL)
	cfg.APIKey = "secret"
	cfg.HTTPRetries = 1
	cfg.Timeout = 5 * time.Second
	c, err := NewClient(cfg, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.http.RetryWaitMin = time.Millisecond
	c.http.RetryWaitMax = 5 * time.Millisecond
	return c
}

func TestFetchProfileDensifiesAndSummarizes(t *testing.T) {
	var calls atomic.Int32
	srv := lookupServer(t, &calls)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	want := c.SampleCount(Request{Path: testPath})
	if want < 14 {
		t.Fatalf("SampleCount = %d, want at least 12/km over 1.1 km", want)
	}

	res, err := c.FetchProfile(context.Background(), Request{Path: testPath})
	if err != nil {
		t.Fatalf("FetchProfile: %v", err)
	}
	if len(res.Points) != want {
		t.Errorf("got %d points, want %d", len(res.Points), want)
	}
	if res.MinElevation != 1000 {
		t.Errorf("MinElevation = %v, want 1000", res.MinElevation)
	}
	if res.MaxElevation != 1000+float64(want-1) {
		t.Errorf("MaxElevation = %v, want %v", res.MaxElevation, 1000+float64(want-1))
	}
	if res.TotalAscent != float64(want-1) || res.TotalDescent != 0 {
		t.Errorf("ascent/descent = %v/%v", res.TotalAscent, res.TotalDescent)
	}
	if calls.Load() != 1 {
		t.Errorf("server saw %d calls, want 1", calls.Load())
	}
}

func TestFetchProfileErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantType  http.ErrorType
		wantCalls int32
	}{
		{"rate limited is not retried", nethttp.StatusTooManyRequests, "slow down", http.ErrorTypeRateLimited, 1},
		{"server error retried then surfaced", nethttp.StatusServiceUnavailable, "down", http.ErrorTypeProvider, 2},
		{"bad request is fatal", nethttp.StatusBadRequest, "bad", http.ErrorTypeFatal, 1},
		{"malformed json", nethttp.StatusOK, "{not json", http.ErrorTypeProvider, 1},
		{"result count mismatch", nethttp.StatusOK, `{"results":[]}`, http.ErrorTypeProvider, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL).FetchProfile(context.Background(), Request{Path: testPath})
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if got := http.ClassifyError(err); got != tt.wantType {
				t.Errorf("ClassifyError = %s, want %s (%v)", http.ErrorTypeName(got), http.ErrorTypeName(tt.wantType), err)
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("server saw %d calls, want %d", calls.Load(), tt.wantCalls)
			}
		})
	}
}

func TestFetchProfileRejectsShortPath(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	if _, err := c.FetchProfile(context.Background(), Request{Path: testPath[:1]}); err == nil {
		t.Error("expected error for single-vertex path")
	}
}

func TestFetchProfileCancelledContext(t *testing.T) {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := newTestClient(t, srv.URL).FetchProfile(ctx, Request{Path: testPath})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestSampleCountBounds(t *testing.T) {
	c := newTestClient(t, "http://example.invalid")

	long := []models.Coordinate{{Lat: 45, Lng: 6}, {Lat: 46, Lng: 6}}
	if got := c.SampleCount(Request{Path: long}); got != c.cfg.MaxSamples {
		t.Errorf("SampleCount(111 km) = %d, want cap %d", got, c.cfg.MaxSamples)
	}

	dense := make([]models.Coordinate, 600)
	for i := range dense {
		dense[i] = models.Coordinate{Lat: 45 + float64(i)*1e-5, Lng: 6}
	}
	if got := c.SampleCount(Request{Path: dense}); got != len(dense) {
		t.Errorf("SampleCount(dense) = %d, want existing %d vertices", got, len(dense))
	}
}

func TestFetchProfileSizesFromCataloguedLength(t *testing.T) {
	// Two vertices ~8.9 km apart standing in for a 15 km road.
	sparse := []models.Coordinate{{Lat: 45.0, Lng: 6.0}, {Lat: 45.08, Lng: 6.0}}
	const lengthKm = 15.0

	var calls atomic.Int32
	srv := lookupServer(t, &calls)
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	tests := []struct {
		name string
		req  Request
		want int
	}{
		{"path only", Request{Path: sparse}, int(math.Ceil(profile.PathLength(sparse)*float64(c.cfg.SamplesPerKm))) + 1},
		{"catalogued length longer", Request{Path: sparse, LengthKm: lengthKm}, int(math.Ceil(lengthKm*float64(c.cfg.SamplesPerKm))) + 1},
		{"catalogued length shorter", Request{Path: sparse, LengthKm: 2}, int(math.Ceil(profile.PathLength(sparse)*float64(c.cfg.SamplesPerKm))) + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.SampleCount(tt.req); got != tt.want {
				t.Errorf("SampleCount = %d, want %d", got, tt.want)
			}
		})
	}

	res, err := c.FetchProfile(context.Background(), Request{Path: sparse, LengthKm: lengthKm})
	if err != nil {
		t.Fatalf("FetchProfile: %v", err)
	}
	result := validation.Check(profile.Build(res.Points, time.Now()), &models.Col{ID: "sparse", Length: lengthKm})
	for _, reason := range result.Reasons {
		if strings.HasPrefix(reason, validation.ReasonLowDensity) {
			t.Errorf("%d points over %.0f km rejected: %s", len(res.Points), lengthKm, reason)
		}
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{}, nil, nil, nil); err == nil {
		t.Error("expected error for empty base URL")
	}
}
