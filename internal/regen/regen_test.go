package regen

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/velocols/colprofile/internal/backup"
	"github.com/velocols/colprofile/internal/cache"
	"github.com/velocols/colprofile/internal/catalogue"
	"github.com/velocols/colprofile/internal/elevation"
	"github.com/velocols/colprofile/internal/events"
	"github.com/velocols/colprofile/internal/http"
	"github.com/velocols/colprofile/internal/metrics"
	"github.com/velocols/colprofile/internal/models"
	"github.com/velocols/colprofile/internal/profile"
	"github.com/velocols/colprofile/internal/ratelimit"
	"github.com/velocols/colprofile/internal/validation"
)

// climb returns n points heading north in ~55 m steps at a constant gradient.
func climb(n int, gradient float64) []models.ElevationPoint {
	pts := make([]models.ElevationPoint, n)
	pts[0] = models.ElevationPoint{Lat: 45, Lng: 6, Elevation: 1000}
	for i := 1; i < n; i++ {
		lat := 45 + float64(i)*0.0005
		d := profile.Haversine(pts[i-1].Lat, pts[i-1].Lng, lat, 6)
		pts[i] = models.ElevationPoint{Lat: lat, Lng: 6, Elevation: pts[i-1].Elevation + d*1000*gradient/100}
	}
	return pts
}

func testCol(id, name string, grade float64, lat float64) models.Col {
	return models.Col{
		ID:       id,
		Name:     name,
		AvgGrade: grade,
		Path:     []models.Coordinate{{Lat: lat, Lng: 6}, {Lat: lat + 0.05, Lng: 6}},
	}
}

func threeCols() []models.Col {
	return []models.Col{
		testCol("alpe-d-huez", "Alpe d'Huez", 8.1, 45.1),
		testCol("galibier", "Col du Galibier", 6.9, 45.2),
		testCol("ventoux", "Mont Ventoux", 7.5, 45.3),
	}
}

// sharedStore keeps the wrapped store open across runs and counts Close calls.
type sharedStore struct {
	catalogue.Store
	closes atomic.Int32
}

func (s *sharedStore) Close() error {
	s.closes.Add(1)
	return nil
}

// fakeProvider answers with fixed points, optionally failing the first calls.
type fakeProvider struct {
	mu     sync.Mutex
	points []models.ElevationPoint
	fail   []error // Returned by successive calls before succeeding
	calls  int
	reqs   []elevation.Request
}

func (p *fakeProvider) FetchProfile(ctx context.Context, req elevation.Request) (*elevation.FetchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.reqs = append(p.reqs, req)
	if len(p.fail) > 0 {
		err := p.fail[0]
		if len(p.fail) > 1 {
			p.fail = p.fail[1:]
		} else if !errors.Is(err, errAlways) {
			p.fail = nil
		}
		return nil, err
	}
	return &elevation.FetchResult{Points: p.points}, nil
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// errAlways marks a failure the fake provider keeps returning.
var errAlways = errors.New("always")

func fastRetry() http.Policy {
	return http.Policy{
		RateLimitRetries: 3,
		RateLimitStep:    time.Millisecond,
		ProviderRetries:  2,
		ProviderDelay:    time.Millisecond,
	}
}

func newOrchestrator(t *testing.T, store catalogue.Store, provider elevation.Provider, c cache.Cache, mutate func(*Config)) *Orchestrator {
	t.Helper()
	cfg := Config{
		OpenStore: func(context.Context) (catalogue.Store, error) { return store, nil },
		Provider:  provider,
		Cache:     c,
		RateLimit: ratelimit.Config{Window: time.Minute, MaxRequests: 1000},
		Retry:     fastRetry(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	o, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func TestNewRequiresStoreAndProvider(t *testing.T) {
	if _, err := New(Config{Provider: &fakeProvider{}}); err == nil {
		t.Error("expected error without store opener")
	}
	open := func(context.Context) (catalogue.Store, error) { return catalogue.NewMemory(), nil }
	if _, err := New(Config{OpenStore: open}); err == nil {
		t.Error("expected error without provider")
	}
}

// TestColdThenWarmCache covers a first run with every lookup missing the cache
// and a second run served entirely from it.
func TestColdThenWarmCache(t *testing.T) {
	ctx := context.Background()
	store := &sharedStore{Store: catalogue.NewMemory(threeCols()...)}
	provider := &fakeProvider{points: climb(100, 14)}
	profiles := cache.NewMemory()
	rec := metrics.NewRecorder()
	o := newOrchestrator(t, store, provider, profiles, func(c *Config) { c.Recorder = rec })

	opts := models.RegenerationOptions{Concurrency: 1, Validate: true}
	m, err := o.RegenerateAll(ctx, opts)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if m.APICalls != 3 || m.CacheHits != 0 || m.ColsProcessed != 3 || m.ColsErrored != 0 {
		t.Fatalf("first run metrics = %+v", m)
	}

	cols, _ := store.GetAll(ctx)
	for _, c := range cols {
		if c.Profile == nil {
			t.Fatalf("col %s has no profile", c.ID)
		}
		if len(c.Profile.Segments) != 1 || c.Profile.Segments[0].Difficulty != models.DifficultyExtreme {
			t.Errorf("col %s segments = %+v, want one extreme segment", c.ID, c.Profile.Segments)
		}
	}
	if profiles.Len() != 3 {
		t.Errorf("cache holds %d profiles, want 3", profiles.Len())
	}

	m, err = o.RegenerateAll(ctx, opts)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if m.CacheHits != 3 || m.APICalls != 0 || m.ColsProcessed != 3 {
		t.Errorf("second run metrics = %+v", m)
	}
	if provider.Calls() != 3 {
		t.Errorf("provider called %d times over both runs, want 3", provider.Calls())
	}
	if store.closes.Load() != 2 {
		t.Errorf("store closed %d times, want once per run", store.closes.Load())
	}
	if got := testutil.ToFloat64(rec.Cols.WithLabelValues(metrics.OutcomeCacheHit)); got != 3 {
		t.Errorf("cache_hit counter = %v, want 3", got)
	}
}

func TestForceRefreshBypassesCache(t *testing.T) {
	ctx := context.Background()
	store := &sharedStore{Store: catalogue.NewMemory(threeCols()...)}
	provider := &fakeProvider{points: climb(100, 5)}
	profiles := cache.NewMemory()
	o := newOrchestrator(t, store, provider, profiles, nil)

	if _, err := o.RegenerateAll(ctx, models.RegenerationOptions{Concurrency: 3}); err != nil {
		t.Fatal(err)
	}
	m, err := o.RegenerateAll(ctx, models.RegenerationOptions{Concurrency: 3, ForceRefresh: true})
	if err != nil {
		t.Fatal(err)
	}
	if m.CacheHits != 0 || m.APICalls != 3 {
		t.Errorf("forced run metrics = %+v", m)
	}
}

func TestProviderReceivesCataloguedLength(t *testing.T) {
	cols := threeCols()
	cols[1].Length = 15
	provider := &fakeProvider{points: climb(100, 7)}
	o := newOrchestrator(t, catalogue.NewMemory(cols...), provider, nil, nil)

	if _, err := o.RegenerateCol(context.Background(), "galibier", false); err != nil {
		t.Fatalf("RegenerateCol: %v", err)
	}
	if len(provider.reqs) != 1 {
		t.Fatalf("provider saw %d requests, want 1", len(provider.reqs))
	}
	req := provider.reqs[0]
	if req.LengthKm != 15 || len(req.Path) != len(cols[1].Path) {
		t.Errorf("request = %+v, want catalogued length 15 and the col path", req)
	}
}

func TestRegenerateColRetriesRateLimit(t *testing.T) {
	ctx := context.Background()
	store := catalogue.NewMemory(threeCols()...)
	provider := &fakeProvider{
		points: climb(100, 7),
		fail:   []error{&http.StatusError{StatusCode: 429}},
	}
	var retries []http.ErrorType
	o := newOrchestrator(t, store, provider, nil, func(c *Config) {
		c.Retry.OnRetry = func(_ int, _ error, errType http.ErrorType, _ time.Duration) {
			retries = append(retries, errType)
		}
	})

	p, err := o.RegenerateCol(ctx, "galibier", true)
	if err != nil {
		t.Fatalf("RegenerateCol: %v", err)
	}
	if provider.Calls() != 2 {
		t.Errorf("provider called %d times, want success on attempt 2", provider.Calls())
	}
	if len(retries) != 1 || retries[0] != http.ErrorTypeRateLimited {
		t.Errorf("retries = %v, want one rate-limit retry", retries)
	}
	if len(p.Segments) != 1 || p.Segments[0].Difficulty != models.DifficultyChallenging {
		t.Errorf("segments = %+v", p.Segments)
	}
	if !store.Closed() {
		t.Error("store not closed after RegenerateCol")
	}
}

func TestRegenerateColRetryBounds(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int
		wantKind  models.ErrorKind
	}{
		{"rate limit", errors.Join(errAlways, &http.StatusError{StatusCode: 429}), 4, models.ErrorKindRateLimited},
		{"provider", errors.Join(errAlways, &http.StatusError{StatusCode: 503}), 3, models.ErrorKindProvider},
		{"bad request", errors.Join(errAlways, &http.StatusError{StatusCode: 400}), 1, models.ErrorKindProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeProvider{points: climb(100, 7), fail: []error{tt.err}}
			o := newOrchestrator(t, catalogue.NewMemory(threeCols()...), provider, nil, nil)

			_, err := o.RegenerateCol(context.Background(), "galibier", false)
			var colErr *ColError
			if !errors.As(err, &colErr) {
				t.Fatalf("err = %v, want *ColError", err)
			}
			if colErr.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", colErr.Kind, tt.wantKind)
			}
			if provider.Calls() != tt.wantCalls {
				t.Errorf("provider called %d times, want %d", provider.Calls(), tt.wantCalls)
			}
		})
	}
}

func TestRegenerateColUnknown(t *testing.T) {
	o := newOrchestrator(t, catalogue.NewMemory(), &fakeProvider{}, nil, nil)
	_, err := o.RegenerateCol(context.Background(), "nope", true)
	if !errors.Is(err, catalogue.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// TestValidationFailureKeepsPriorProfile checks that a profile whose maximum
// elevation is 80 m off the catalogue is rejected and never stored.
func TestValidationFailureKeepsPriorProfile(t *testing.T) {
	ctx := context.Background()
	points := climb(100, 7)
	prior := &models.ElevationProfile{MaxElevation: 1234}

	col := testCol("galibier", "Col du Galibier", 6.9, 45.2)
	col.Elevation = points[len(points)-1].Elevation + 80
	col.Profile = prior
	store := &sharedStore{Store: catalogue.NewMemory(col)}

	provider := &fakeProvider{points: points}
	bus := events.NewEventBus(100)
	failures := bus.Subscribe(events.EventColFailed)
	o := newOrchestrator(t, store, provider, cache.NewMemory(), func(c *Config) { c.Bus = bus })

	m, err := o.RegenerateAll(ctx, models.RegenerationOptions{Concurrency: 2, Validate: true})
	if err != nil {
		t.Fatal(err)
	}
	if m.ColsErrored != 1 || m.ColsProcessed != 0 || m.ColsSkipped != 0 || len(m.Errors) != 1 {
		t.Fatalf("metrics = %+v", m)
	}
	detail := m.Errors[0]
	if detail.Kind != models.ErrorKindValidation || detail.Name != "Col du Galibier" {
		t.Errorf("error detail = %+v", detail)
	}
	if !strings.Contains(detail.Message, validation.ReasonElevationMismatch) {
		t.Errorf("message %q lacks %q", detail.Message, validation.ReasonElevationMismatch)
	}

	stored, _ := store.GetByID(ctx, "galibier")
	if stored.Profile == nil || stored.Profile.MaxElevation != 1234 {
		t.Errorf("prior profile replaced: %+v", stored.Profile)
	}

	select {
	case ev := <-failures:
		if f := ev.(*events.ColFailedEvent); f.Kind != string(models.ErrorKindValidation) {
			t.Errorf("failure event kind = %s", f.Kind)
		}
	default:
		t.Error("no ColFailedEvent published")
	}

	// Without the gate the same profile is accepted.
	if _, err := o.RegenerateCol(ctx, "galibier", false); err != nil {
		t.Fatalf("RegenerateCol without validation: %v", err)
	}
	stored, _ = store.GetByID(ctx, "galibier")
	if stored.Profile.MaxElevation == 1234 {
		t.Error("profile not replaced when validation is off")
	}
}

func TestRegenerateColValidationNotRetried(t *testing.T) {
	points := climb(100, 7)
	col := testCol("galibier", "Col du Galibier", 6.9, 45.2)
	col.Elevation = points[len(points)-1].Elevation + 80
	provider := &fakeProvider{points: points}
	o := newOrchestrator(t, catalogue.NewMemory(col), provider, nil, nil)

	_, err := o.RegenerateCol(context.Background(), "galibier", true)
	var rejected *validation.Error
	if !errors.As(err, &rejected) {
		t.Fatalf("err = %v, want *validation.Error", err)
	}
	if provider.Calls() != 1 {
		t.Errorf("provider called %d times, want 1", provider.Calls())
	}
}

type brokenSink struct{}

func (brokenSink) Kind() string { return "broken" }

func (brokenSink) Write(context.Context, *models.Snapshot) (string, error) {
	return "", errors.New("disk full")
}

func (brokenSink) Read(context.Context, string) (*models.Snapshot, error) {
	return nil, errors.New("disk full")
}

func (brokenSink) List(context.Context) ([]models.BackupInfo, error) { return nil, nil }

func TestBackupFailureAbortsRun(t *testing.T) {
	store := catalogue.NewMemory(threeCols()...)
	provider := &fakeProvider{points: climb(100, 7)}
	o := newOrchestrator(t, store, provider, nil, func(c *Config) {
		c.Backups = backup.NewManager(brokenSink{}, nil)
	})

	m, err := o.RegenerateAll(context.Background(), models.RegenerationOptions{Concurrency: 2, Backup: true})
	if !errors.Is(err, backup.ErrSnapshotFailed) {
		t.Fatalf("err = %v, want ErrSnapshotFailed", err)
	}
	if m != nil {
		t.Errorf("metrics = %+v, want nil", m)
	}
	if provider.Calls() != 0 {
		t.Errorf("provider called %d times after failed backup", provider.Calls())
	}
	if !store.Closed() {
		t.Error("store not released after failed backup")
	}
}

func TestBackupRecordedInMetrics(t *testing.T) {
	ctx := context.Background()
	store := &sharedStore{Store: catalogue.NewMemory(threeCols()...)}
	o := newOrchestrator(t, store, &fakeProvider{points: climb(100, 7)}, nil, func(c *Config) {
		c.Backups = backup.NewManager(nil, nil)
	})

	m, err := o.RegenerateAll(ctx, models.RegenerationOptions{Concurrency: 2, Backup: true})
	if err != nil {
		t.Fatal(err)
	}
	infos, _ := store.ListBackups(ctx)
	if len(infos) != 1 || infos[0].Name != m.BackupName || infos[0].ColCount != 3 {
		t.Errorf("backups = %+v, metrics backup %q", infos, m.BackupName)
	}
}

func TestBackupWithoutManager(t *testing.T) {
	o := newOrchestrator(t, catalogue.NewMemory(threeCols()...), &fakeProvider{}, nil, nil)
	_, err := o.RegenerateAll(context.Background(), models.RegenerationOptions{Backup: true})
	if !errors.Is(err, backup.ErrSnapshotFailed) {
		t.Errorf("err = %v, want ErrSnapshotFailed", err)
	}
}

func TestEmptyCatalogueAverageIsZero(t *testing.T) {
	o := newOrchestrator(t, catalogue.NewMemory(), &fakeProvider{}, nil, nil)
	m, err := o.RegenerateAll(context.Background(), models.RegenerationOptions{Concurrency: 3})
	if err != nil {
		t.Fatal(err)
	}
	if m.ColsProcessed != 0 || m.AverageTimePerCol != 0 || m.ColsTotal != 0 {
		t.Errorf("metrics = %+v", m)
	}
	if m.RunID == "" {
		t.Error("run id not set")
	}
}

func TestColsWithoutPathAreSkipped(t *testing.T) {
	cols := threeCols()
	cols[1].Path = cols[1].Path[:1]
	provider := &fakeProvider{points: climb(100, 7)}
	o := newOrchestrator(t, catalogue.NewMemory(cols...), provider, nil, nil)

	m, err := o.RegenerateAll(context.Background(), models.RegenerationOptions{Concurrency: 2})
	if err != nil {
		t.Fatal(err)
	}
	if m.ColsSkipped != 1 || m.ColsProcessed != 2 || m.ColsErrored != 0 || m.APICalls != 2 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestDeadlineSkipsUnstartedCols(t *testing.T) {
	provider := &fakeProvider{points: climb(100, 7)}
	o := newOrchestrator(t, catalogue.NewMemory(threeCols()...), provider, nil, nil)

	base := time.Date(2026, 7, 14, 9, 0, 0, 0, time.UTC)
	var first atomic.Bool
	o.now = func() time.Time {
		if first.CompareAndSwap(false, true) {
			return base
		}
		return base.Add(time.Hour)
	}

	m, err := o.RegenerateAll(context.Background(), models.RegenerationOptions{Concurrency: 1, Deadline: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	if m.ColsSkipped != 3 || m.ColsProcessed != 0 || provider.Calls() != 0 {
		t.Errorf("metrics = %+v, provider calls %d", m, provider.Calls())
	}
	if m.TotalTime != time.Hour {
		t.Errorf("TotalTime = %s, want 1h", m.TotalTime)
	}
}

func TestCancelledContextSkipsEverything(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &fakeProvider{points: climb(100, 7)}
	o := newOrchestrator(t, catalogue.NewMemory(threeCols()...), provider, nil, nil)

	m, err := o.RegenerateAll(ctx, models.RegenerationOptions{Concurrency: 2})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if m == nil || m.ColsSkipped != 3 || provider.Calls() != 0 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestProviderFailureIsContained(t *testing.T) {
	cols := threeCols()
	provider := &fakeProvider{
		points: climb(100, 7),
		fail:   []error{&http.StatusError{StatusCode: 503}},
	}
	o := newOrchestrator(t, catalogue.NewMemory(cols...), provider, nil, nil)

	m, err := o.RegenerateAll(context.Background(), models.RegenerationOptions{Concurrency: 1})
	if err != nil {
		t.Fatal(err)
	}
	if m.ColsErrored != 1 || m.ColsProcessed != 2 || m.APICalls != 3 {
		t.Errorf("metrics = %+v", m)
	}
	if len(m.Errors) != 1 || m.Errors[0].Kind != models.ErrorKindProvider {
		t.Errorf("errors = %+v", m.Errors)
	}
}

func TestRunOrderFollowsPriority(t *testing.T) {
	cols := []models.Col{
		testCol("a", "Col de la Madeleine", 8.0, 45.1),
		testCol("b", "Col du Tourmalet", 7.4, 45.2),
		testCol("c", "Colle delle Finestre", 9.2, 45.3),
		testCol("d", "Mont Ventoux", 7.5, 45.4),
	}
	provider := &fakeProvider{points: climb(100, 7)}
	o := newOrchestrator(t, catalogue.NewMemory(cols...), provider, nil, func(c *Config) {
		c.Priority = WellKnownPriority([]string{"tourmalet", "ventoux"})
	})

	if _, err := o.RegenerateAll(context.Background(), models.RegenerationOptions{Concurrency: 1}); err != nil {
		t.Fatal(err)
	}

	want := []float64{45.4, 45.2, 45.3, 45.1}
	if len(provider.reqs) != len(want) {
		t.Fatalf("provider saw %d cols", len(provider.reqs))
	}
	for i, lat := range want {
		if provider.reqs[i].Path[0].Lat != lat {
			t.Errorf("call %d was col at lat %v, want %v", i, provider.reqs[i].Path[0].Lat, lat)
		}
	}
}

func TestTestModeProcessesSteepestSample(t *testing.T) {
	ctx := context.Background()
	var cols []models.Col
	for i, grade := range []float64{4, 9, 6, 11, 7, 5, 10} {
		cols = append(cols, testCol(string(rune('a'+i)), "Col", grade, 45+float64(i)/10))
	}
	store := &sharedStore{Store: catalogue.NewMemory(cols...)}
	o := newOrchestrator(t, store, &fakeProvider{points: climb(100, 7)}, nil, func(c *Config) { c.SampleSize = 3 })

	m, err := o.RegenerateAll(ctx, models.RegenerationOptions{Concurrency: 2, TestMode: true})
	if err != nil {
		t.Fatal(err)
	}
	if m.ColsTotal != 3 || m.ColsProcessed != 3 {
		t.Fatalf("metrics = %+v", m)
	}
	all, _ := store.GetAll(ctx)
	for _, c := range all {
		steep := c.AvgGrade >= 9
		if (c.Profile != nil) != steep {
			t.Errorf("col %s (%.0f%%) profile present = %v", c.ID, c.AvgGrade, c.Profile != nil)
		}
	}
}

func TestRunPublishesLifecycleEvents(t *testing.T) {
	bus := events.NewEventBus(200)
	all := bus.SubscribeAll()
	o := newOrchestrator(t, catalogue.NewMemory(threeCols()...), &fakeProvider{points: climb(100, 7)}, nil,
		func(c *Config) { c.Bus = bus })

	m, err := o.RegenerateAll(context.Background(), models.RegenerationOptions{Concurrency: 2, Validate: true})
	if err != nil {
		t.Fatal(err)
	}

	var started, completed int
	done := map[string]bool{}
	for {
		select {
		case ev := <-all:
			switch e := ev.(type) {
			case *events.RunStartedEvent:
				started++
				if e.TotalCols != 3 || e.RunID != m.RunID {
					t.Errorf("RunStartedEvent = %+v", e)
				}
			case *events.ColStateEvent:
				if e.NewState == events.StateDone {
					done[e.ColID] = true
				}
			case *events.RunCompleteEvent:
				completed++
				if e.Processed != 3 || e.APICalls != 3 {
					t.Errorf("RunCompleteEvent = %+v", e)
				}
			}
			continue
		default:
		}
		break
	}

	if started != 1 || completed != 1 || len(done) != 3 {
		t.Errorf("started %d, completed %d, done %v", started, completed, done)
	}
}
