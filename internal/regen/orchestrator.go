// Package regen rebuilds the elevation profiles of the col catalogue.
//
// A run snapshots the catalogue, orders it by priority and hands one task per
// col to a bounded pool. Each task either reuses a cached profile or spends
// provider quota to fetch, segment, validate, persist and cache a new one.
package regen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/velocols/colprofile/internal/backup"
	"github.com/velocols/colprofile/internal/cache"
	"github.com/velocols/colprofile/internal/catalogue"
	"github.com/velocols/colprofile/internal/constants"
	"github.com/velocols/colprofile/internal/elevation"
	"github.com/velocols/colprofile/internal/events"
	"github.com/velocols/colprofile/internal/http"
	"github.com/velocols/colprofile/internal/logging"
	"github.com/velocols/colprofile/internal/metrics"
	"github.com/velocols/colprofile/internal/models"
	"github.com/velocols/colprofile/internal/pool"
	"github.com/velocols/colprofile/internal/profile"
	"github.com/velocols/colprofile/internal/ratelimit"
	"github.com/velocols/colprofile/internal/validation"
)

// StoreOpener opens a catalogue connection. It is called once per run and the
// returned store is closed when the run ends.
type StoreOpener func(ctx context.Context) (catalogue.Store, error)

// Config wires an Orchestrator. OpenStore and Provider are required.
type Config struct {
	OpenStore StoreOpener
	Provider  elevation.Provider
	Cache     cache.Cache     // nil disables the profile cache
	Backups   *backup.Manager // required for runs with Backup set
	Bus       *events.EventBus
	Recorder  *metrics.Recorder
	Logger    *logging.Logger

	RateLimit ratelimit.Config
	CallerID  string // Limiter bucket; empty uses the default caller

	Segmenter  profile.Segmenter
	Gate       validation.Gate
	Retry      http.Policy // Single-col retry policy
	Priority   PriorityFunc
	SampleSize int // Cols processed in test mode
	CacheTTL   time.Duration

	// MetricsTextfile, when set, receives the Prometheus registry after each run.
	MetricsTextfile string
}

// Orchestrator runs regenerations. It holds no per-run state and may be reused.
type Orchestrator struct {
	cfg    Config
	logger *logging.Logger

	now      func() time.Time
	newRunID func() string
}

// New validates cfg and fills defaults.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.OpenStore == nil {
		return nil, errors.New("catalogue store opener is required")
	}
	if cfg.Provider == nil {
		return nil, errors.New("elevation provider is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}
	if cfg.Segmenter == (profile.Segmenter{}) {
		cfg.Segmenter = profile.DefaultSegmenter()
	}
	if cfg.Gate == (validation.Gate{}) {
		cfg.Gate = validation.DefaultGate()
	}
	if cfg.Retry.RateLimitStep <= 0 && cfg.Retry.ProviderDelay <= 0 &&
		cfg.Retry.RateLimitRetries == 0 && cfg.Retry.ProviderRetries == 0 {
		onRetry := cfg.Retry.OnRetry
		cfg.Retry = http.DefaultPolicy()
		cfg.Retry.OnRetry = onRetry
	}
	if cfg.Priority == nil {
		cfg.Priority = ByGradient
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = constants.TestSampleSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = constants.ProfileCacheTTL
	}

	return &Orchestrator{
		cfg:      cfg,
		logger:   cfg.Logger,
		now:      time.Now,
		newRunID: uuid.NewString,
	}, nil
}

// ColError is the failure of one col's pipeline.
type ColError struct {
	ColID string
	Kind  models.ErrorKind
	Err   error
}

func (e *ColError) Error() string {
	return e.Err.Error()
}

func (e *ColError) Unwrap() error {
	return e.Err
}

// fetchErrorKind maps a provider failure to its error kind.
func fetchErrorKind(err error) models.ErrorKind {
	if elevation.IsRateLimited(err) {
		return models.ErrorKindRateLimited
	}
	return models.ErrorKindProvider
}

// errorKind extracts the kind recorded for err.
func errorKind(err error) models.ErrorKind {
	var colErr *ColError
	if errors.As(err, &colErr) {
		return colErr.Kind
	}
	return models.ErrorKindUnexpected
}

// newLimiter builds the per-run limiter. Quota waits are counted and logged
// at most once per warn interval.
func (o *Orchestrator) newLimiter(runID string) *ratelimit.Limiter {
	limiter := ratelimit.NewLimiter(o.cfg.RateLimit)
	warn := &rate.Sometimes{Interval: constants.RateLimitWarnInterval}
	limiter.SetWaitFunc(func(callerID string, wait time.Duration) {
		o.cfg.Recorder.RateLimitWait(wait)
		warn.Do(func() {
			o.logger.Warn().
				Str("run", runID).
				Str("caller", callerID).
				Dur("wait", wait).
				Int("in_window", limiter.InWindow(callerID)).
				Msg("Provider quota exhausted, waiting")
			o.cfg.Bus.PublishLog(events.WarnLevel, fmt.Sprintf("provider quota exhausted, waiting %s", wait.Round(time.Millisecond)), "", nil)
		})
	})
	return limiter
}

// stateFunc observes pipeline state changes.
type stateFunc func(state events.ColState)

// pipeline runs fetch, segment, validate, persist and cache for one col.
// Every returned error is a *ColError. The stored profile is only replaced by
// a profile that passed the gate (when validate is set).
func (o *Orchestrator) pipeline(ctx context.Context, store catalogue.Store, limiter *ratelimit.Limiter,
	col *models.Col, validate bool, onState stateFunc, onFetch func()) (*models.ElevationProfile, error) {

	fail := func(kind models.ErrorKind, err error) (*models.ElevationProfile, error) {
		return nil, &ColError{ColID: col.ID, Kind: kind, Err: err}
	}

	onState(events.StateAwaitingQuota)
	if err := limiter.Acquire(ctx, o.cfg.CallerID); err != nil {
		return fail(models.ErrorKindRateLimited, err)
	}

	onState(events.StateFetching)
	onFetch()
	res, err := o.cfg.Provider.FetchProfile(ctx, elevation.Request{Path: col.Path, LengthKm: col.Length})
	if err != nil {
		return fail(fetchErrorKind(err), err)
	}
	if res == nil || len(res.Points) < 2 {
		return fail(models.ErrorKindProvider, fmt.Errorf("%w: provider returned too few points", http.ErrProvider))
	}

	onState(events.StateSegmenting)
	p := o.cfg.Segmenter.Build(res.Points, o.now())

	if validate {
		onState(events.StateValidating)
		if err := o.cfg.Gate.Check(p, col).Err(col.ID); err != nil {
			return fail(models.ErrorKindValidation, err)
		}
	}

	onState(events.StatePersisting)
	ok, err := store.UpdateProfile(ctx, col.ID, p)
	if err != nil {
		return fail(models.ErrorKindPersistence, err)
	}
	if !ok {
		return fail(models.ErrorKindPersistence, fmt.Errorf("col %s: %w", col.ID, catalogue.ErrNotFound))
	}

	if o.cfg.Cache != nil {
		if err := cache.SetProfile(ctx, o.cfg.Cache, col.ID, p, o.cfg.CacheTTL); err != nil {
			o.logger.Warn().Err(err).Str("col", col.ID).Msg("Failed to cache profile")
			o.cfg.Bus.PublishLog(events.WarnLevel, "failed to cache profile", col.ID, err)
		}
	}
	return p, nil
}

// RegenerateAll regenerates every col of the catalogue and returns the run metrics.
//
// A failed backup aborts the run before anything is modified. Per-col failures
// are recorded in the metrics and never abort the run. When ctx is cancelled
// the metrics gathered so far are returned together with ctx.Err().
func (o *Orchestrator) RegenerateAll(ctx context.Context, opts models.RegenerationOptions) (*models.RegenerationMetrics, error) {
	if opts.Concurrency > constants.MaxConcurrency {
		opts.Concurrency = constants.MaxConcurrency
	}

	startTime := o.now()
	r := &run{
		o:       o,
		id:      o.newRunID(),
		opts:    opts,
		metrics: &models.RegenerationMetrics{Errors: []models.ErrorDetail{}},
	}
	r.metrics.RunID = r.id
	if opts.Deadline > 0 {
		r.deadline = startTime.Add(opts.Deadline)
	}

	store, err := o.cfg.OpenStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalogue: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to close catalogue")
		}
	}()
	r.store = store

	if opts.Backup {
		if o.cfg.Backups == nil {
			return nil, fmt.Errorf("%w: no backup manager configured", backup.ErrSnapshotFailed)
		}
		info, err := o.cfg.Backups.Snapshot(ctx, store)
		if err != nil {
			o.logger.Error().Err(err).Str("run", r.id).Msg("Backup failed, run aborted")
			return nil, err
		}
		r.metrics.BackupName = info.Name
	}

	cols, err := store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalogue: %w", err)
	}

	var ordered []models.Col
	if opts.TestMode {
		ordered = Sample(cols, o.cfg.SampleSize)
	} else {
		ordered = o.cfg.Priority(cols)
	}
	r.metrics.ColsTotal = len(ordered)
	r.limiter = o.newLimiter(r.id)

	p := pool.New(opts.Concurrency, o.logger)
	o.logger.Info().
		Str("run", r.id).
		Int("cols", len(ordered)).
		Int("concurrency", p.Concurrency()).
		Bool("force", opts.ForceRefresh).
		Bool("validate", opts.Validate).
		Bool("test", opts.TestMode).
		Msg("Starting regeneration run")
	o.cfg.Bus.Publish(&events.RunStartedEvent{
		BaseEvent:  events.BaseEvent{EventType: events.EventRunStarted, Time: startTime},
		RunID:      r.id,
		TotalCols:  len(ordered),
		BackupName: r.metrics.BackupName,
	})

	for i := range ordered {
		col := ordered[i]
		if reason, stop := r.stopped(ctx); stop {
			r.skip(&col, reason)
			continue
		}
		p.Submit(func() error {
			r.process(ctx, col)
			return nil
		})
	}
	p.Wait()

	m := r.finish(startTime)
	return m, ctx.Err()
}

// RegenerateCol regenerates one col, retrying rate-limit and provider
// failures per the retry policy. Validation and persistence failures are not
// retried. The returned error is a *ColError.
func (o *Orchestrator) RegenerateCol(ctx context.Context, colID string, validate bool) (*models.ElevationProfile, error) {
	store, err := o.cfg.OpenStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalogue: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to close catalogue")
		}
	}()

	col, err := store.GetByID(ctx, colID)
	if err != nil {
		return nil, &ColError{ColID: colID, Kind: models.ErrorKindPersistence, Err: err}
	}
	if !col.HasPath() {
		return nil, &ColError{ColID: colID, Kind: models.ErrorKindValidation,
			Err: fmt.Errorf("col has %d coordinates, need at least 2", len(col.Path))}
	}

	runID := o.newRunID()
	limiter := o.newLimiter(runID)
	policy := o.cfg.Retry
	userRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, errType http.ErrorType, delay time.Duration) {
		o.logger.Warn().
			Err(err).
			Str("col", colID).
			Int("attempt", attempt).
			Str("type", http.ErrorTypeName(errType)).
			Dur("delay", delay).
			Msg("Regeneration attempt failed, retrying")
		if userRetry != nil {
			userRetry(attempt, err, errType, delay)
		}
	}

	state := events.StatePendingCacheCheck
	onState := func(next events.ColState) {
		o.cfg.Bus.PublishColState(runID, col.ID, col.Name, state, next)
		state = next
	}

	var result *models.ElevationProfile
	err = http.ExecuteWithRetry(ctx, policy, func(attempt int) error {
		p, err := o.pipeline(ctx, store, limiter, col, validate, onState, func() {})
		if err != nil {
			if kind := errorKind(err); kind != models.ErrorKindRateLimited && kind != models.ErrorKindProvider {
				return http.Permanent(err)
			}
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		colErr := retryOutcome(colID, err)
		onState(events.StateFailed)
		o.cfg.Bus.PublishColFailed(runID, col.ID, col.Name, string(colErr.Kind), colErr)
		o.logger.Error().Err(colErr).Str("col", colID).Str("kind", string(colErr.Kind)).Msg("Col regeneration failed")
		return nil, colErr
	}

	onState(events.StateDone)
	o.logger.Info().
		Str("col", colID).
		Int("segments", len(result.Segments)).
		Float64("max_elevation", result.MaxElevation).
		Msg("Col regenerated")
	return result, nil
}

// retryOutcome turns the error returned by the retry loop into a *ColError.
func retryOutcome(colID string, err error) *ColError {
	var colErr *ColError
	if !errors.As(err, &colErr) {
		return &ColError{ColID: colID, Kind: models.ErrorKindUnexpected, Err: err}
	}
	var permanent *http.PermanentError
	if errors.As(err, &permanent) || err == error(colErr) {
		return colErr
	}
	// Retries exhausted: keep the attempt summary.
	return &ColError{ColID: colID, Kind: colErr.Kind, Err: err}
}

// run is the mutable state of one RegenerateAll call.
type run struct {
	o        *Orchestrator
	id       string
	opts     models.RegenerationOptions
	store    catalogue.Store
	limiter  *ratelimit.Limiter
	deadline time.Time

	mu      sync.Mutex
	metrics *models.RegenerationMetrics
}

// stopped reports whether new work must not start, and why.
func (r *run) stopped(ctx context.Context) (string, bool) {
	if ctx.Err() != nil {
		return "cancelled", true
	}
	if !r.deadline.IsZero() && !r.o.now().Before(r.deadline) {
		return "deadline reached", true
	}
	return "", false
}

// process is the per-col task. It never returns an error: every outcome is
// recorded in the run metrics.
func (r *run) process(ctx context.Context, col models.Col) {
	start := r.o.now()
	state := events.ColState("")
	onState := func(next events.ColState) {
		r.o.cfg.Bus.PublishColState(r.id, col.ID, col.Name, state, next)
		state = next
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.fail(&col, &ColError{ColID: col.ID, Kind: models.ErrorKindUnexpected, Err: fmt.Errorf("panic: %v", rec)}, start, onState)
		}
	}()

	if reason, stop := r.stopped(ctx); stop {
		r.skip(&col, reason)
		return
	}
	if !col.HasPath() {
		r.skip(&col, "no path")
		return
	}

	onState(events.StatePendingCacheCheck)
	if !r.opts.ForceRefresh && r.o.cfg.Cache != nil {
		_, hit, err := cache.GetProfile(ctx, r.o.cfg.Cache, col.ID)
		if err != nil {
			r.o.logger.Warn().Err(err).Str("col", col.ID).Msg("Cache lookup failed")
			r.o.cfg.Bus.PublishLog(events.WarnLevel, "cache lookup failed", col.ID, err)
		}
		if hit {
			r.mu.Lock()
			r.metrics.CacheHits++
			r.metrics.ColsProcessed++
			r.mu.Unlock()
			r.o.cfg.Recorder.ObserveCol(metrics.OutcomeCacheHit, r.o.now().Sub(start))
			r.o.logger.Debug().Str("col", col.ID).Msg("Profile served from cache")
			onState(events.StateDone)
			return
		}
	}

	countFetch := func() {
		r.mu.Lock()
		r.metrics.APICalls++
		r.mu.Unlock()
	}
	p, err := r.o.pipeline(ctx, r.store, r.limiter, &col, r.opts.Validate, onState, countFetch)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			r.skip(&col, "cancelled")
			return
		}
		r.fail(&col, err, start, onState)
		return
	}

	r.mu.Lock()
	r.metrics.ColsProcessed++
	r.mu.Unlock()
	r.o.cfg.Recorder.ObserveCol(metrics.OutcomeProcessed, r.o.now().Sub(start))
	r.o.logger.Debug().
		Str("col", col.ID).
		Int("points", len(p.Points)).
		Int("segments", len(p.Segments)).
		Msg("Profile regenerated")
	onState(events.StateDone)
}

func (r *run) skip(col *models.Col, reason string) {
	r.mu.Lock()
	r.metrics.ColsSkipped++
	r.mu.Unlock()

	r.o.cfg.Recorder.ObserveCol(metrics.OutcomeSkipped, 0)
	r.o.logger.Debug().Str("col", col.ID).Str("reason", reason).Msg("Col skipped")
	r.o.cfg.Bus.PublishColState(r.id, col.ID, col.Name, "", events.StateSkipped)
}

func (r *run) fail(col *models.Col, err error, start time.Time, onState stateFunc) {
	kind := errorKind(err)
	r.mu.Lock()
	r.metrics.ColsErrored++
	r.metrics.Errors = append(r.metrics.Errors, models.ErrorDetail{
		ColID:   col.ID,
		Name:    col.Name,
		Kind:    kind,
		Message: err.Error(),
	})
	r.mu.Unlock()

	r.o.cfg.Recorder.ObserveCol(metrics.OutcomeErrored, r.o.now().Sub(start))
	r.o.cfg.Recorder.ColError(kind)
	r.o.logger.Error().Err(err).Str("col", col.ID).Str("kind", string(kind)).Msg("Col regeneration failed")
	onState(events.StateFailed)
	r.o.cfg.Bus.PublishColFailed(r.id, col.ID, col.Name, string(kind), err)
}

// finish computes the timing metrics and reports the run.
func (r *run) finish(start time.Time) *models.RegenerationMetrics {
	end := r.o.now()

	r.mu.Lock()
	m := r.metrics
	m.TotalTime = end.Sub(start)
	if m.ColsProcessed > 0 {
		m.AverageTimePerCol = m.TotalTime / time.Duration(m.ColsProcessed)
	}
	r.mu.Unlock()

	r.o.cfg.Recorder.RunFinished(m, end)
	if err := r.o.cfg.Recorder.WriteTextfile(r.o.cfg.MetricsTextfile); err != nil {
		r.o.logger.Warn().Err(err).Str("path", r.o.cfg.MetricsTextfile).Msg("Failed to write metrics textfile")
	}

	r.o.logger.Info().
		Str("run", r.id).
		Int("processed", m.ColsProcessed).
		Int("errors", m.ColsErrored).
		Int("skipped", m.ColsSkipped).
		Int("cache_hits", m.CacheHits).
		Int("api_calls", m.APICalls).
		Dur("duration", m.TotalTime).
		Msgf("Regeneration completed: %d/%d cols processed", m.ColsProcessed, m.ColsTotal)
	r.o.cfg.Bus.Publish(&events.RunCompleteEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventRunComplete, Time: end},
		RunID:     r.id,
		Processed: m.ColsProcessed,
		Errored:   m.ColsErrored,
		Skipped:   m.ColsSkipped,
		CacheHits: m.CacheHits,
		APICalls:  m.APICalls,
		Duration:  m.TotalTime,
	})
	return m
}
