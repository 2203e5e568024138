package cli

import (
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"os"

	"github.com/goccy/go-json"

	"github.com/velocols/colprofile/internal/backup"
	"github.com/velocols/colprofile/internal/cache"
	"github.com/velocols/colprofile/internal/catalogue"
	"github.com/velocols/colprofile/internal/config"
	"github.com/velocols/colprofile/internal/elevation"
	"github.com/velocols/colprofile/internal/events"
	"github.com/velocols/colprofile/internal/http"
	"github.com/velocols/colprofile/internal/logging"
	"github.com/velocols/colprofile/internal/metrics"
	"github.com/velocols/colprofile/internal/models"
	"github.com/velocols/colprofile/internal/pathutil"
	"github.com/velocols/colprofile/internal/profile"
	"github.com/velocols/colprofile/internal/progress"
	"github.com/velocols/colprofile/internal/ratelimit"
	"github.com/velocols/colprofile/internal/regen"
	"github.com/velocols/colprofile/internal/validation"
)

// openStore opens the configured catalogue store.
func openStore(ctx context.Context, cfg *config.Config) (catalogue.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		m := catalogue.NewMemory()
		if cfg.Store.Seed != "" {
			cols, err := readCatalogueFile(cfg.Store.Seed, nil)
			if err != nil {
				return nil, fmt.Errorf("failed to seed memory catalogue: %w", err)
			}
			if err := m.PutCols(ctx, cols); err != nil {
				return nil, err
			}
		}
		return m, nil

	case "badger":
		dir, err := pathutil.ResolveAbsolutePath(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		if err := config.EnsureDirectory(dir); err != nil {
			return nil, err
		}
		store, err := catalogue.OpenBadger(dir)
		if err != nil {
			return nil, err
		}
		return store, nil

	case "postgres":
		store, err := catalogue.OpenPostgres(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// openCache opens the configured profile cache. A nil cache disables caching.
func openCache(cfg *config.Config, logger *logging.Logger) (cache.Cache, error) {
	switch cfg.Cache.Driver {
	case "", "none":
		return nil, nil
	case "memory":
		return cache.NewMemory(), nil
	case "badger":
		dir, err := pathutil.ResolveAbsolutePath(cfg.Cache.Path)
		if err != nil {
			return nil, err
		}
		if err := config.EnsureDirectory(dir); err != nil {
			return nil, err
		}
		b, err := cache.OpenBadger(dir, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Cache.Driver)
	}
}

// newHTTPClient builds the proxy-aware client shared by the provider and cloud sinks.
func newHTTPClient(cfg *config.Config, logger *logging.Logger) (*nethttp.Client, error) {
	return http.CreateProviderClient(http.ClientOptions{
		Proxy:        cfg.Proxy,
		DisableHTTP2: cfg.Elevation.DisableHTTP2,
	}, logger)
}

// newBackupManager builds the manager with the configured snapshot sink.
func newBackupManager(ctx context.Context, cfg *config.Config, httpClient *nethttp.Client, logger *logging.Logger) (*backup.Manager, error) {
	var sink backup.Sink
	switch cfg.Backup.Sink {
	case "", "none":
	case "file":
		dir, err := pathutil.ResolveAbsolutePath(cfg.Backup.Dir)
		if err != nil {
			return nil, err
		}
		fileSink, err := backup.NewFileSink(dir)
		if err != nil {
			return nil, err
		}
		sink = fileSink
	case "s3":
		s3Sink, err := backup.NewS3Sink(ctx, cfg.Backup.S3, httpClient)
		if err != nil {
			return nil, err
		}
		sink = s3Sink
	case "azure":
		azureSink, err := backup.NewAzureSink(cfg.Backup.Azure, httpClient)
		if err != nil {
			return nil, err
		}
		sink = azureSink
	default:
		return nil, fmt.Errorf("unknown backup sink %q", cfg.Backup.Sink)
	}
	return backup.NewManager(sink, logger), nil
}

// newProvider builds the HTTP elevation client behind a circuit breaker.
func newProvider(cfg *config.Config, httpClient *nethttp.Client, logger *logging.Logger, recorder *metrics.Recorder) (elevation.Provider, error) {
	client, err := elevation.NewClient(elevation.Config{
		BaseURL:      cfg.Elevation.BaseURL,
		APIKey:       cfg.Elevation.APIKey,
		SamplesPerKm: cfg.Elevation.SamplesPerKm,
		MaxSamples:   cfg.Elevation.MaxSamples,
		Timeout:      cfg.Elevation.Timeout,
		HTTPRetries:  cfg.Elevation.HTTPRetries,
	}, httpClient, logger, recorder)
	if err != nil {
		return nil, err
	}

	settings := elevation.DefaultBreakerSettings()
	settings.ConsecutiveFailures = cfg.Elevation.Breaker.ConsecutiveFailures
	settings.Timeout = cfg.Elevation.Breaker.Timeout
	settings.Interval = cfg.Elevation.Breaker.Interval
	return elevation.NewBreakerProvider(client, settings, logger, recorder), nil
}

// app bundles everything a regeneration command needs.
type app struct {
	orchestrator *regen.Orchestrator
	bus          *events.EventBus
	recorder     *metrics.Recorder
	cache        cache.Cache
}

// Close releases the cache and the event bus.
func (a *app) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			GetLogger().Warn().Err(err).Msg("Failed to close profile cache")
		}
	}
	a.bus.Close()
}

// newApp wires the orchestrator from cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*app, error) {
	httpClient, err := newHTTPClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	recorder := metrics.NewRecorder()
	provider, err := newProvider(cfg, httpClient, logger, recorder)
	if err != nil {
		return nil, err
	}
	backups, err := newBackupManager(ctx, cfg, httpClient, logger)
	if err != nil {
		return nil, err
	}
	profiles, err := openCache(cfg, logger)
	if err != nil {
		return nil, err
	}

	textfile := ""
	if cfg.Metrics.Textfile != "" {
		if textfile, err = pathutil.ResolveAbsolutePath(cfg.Metrics.Textfile); err != nil {
			return nil, err
		}
	}

	bus := events.NewEventBus(0)
	orchestrator, err := regen.New(regen.Config{
		OpenStore: func(ctx context.Context) (catalogue.Store, error) { return openStore(ctx, cfg) },
		Provider:  provider,
		Cache:     profiles,
		Backups:   backups,
		Bus:       bus,
		Recorder:  recorder,
		Logger:    logger,
		RateLimit: ratelimit.Config{
			Window:      cfg.RateLimit.Window,
			MaxRequests: cfg.RateLimit.MaxRequests,
			Backoff:     cfg.RateLimit.Backoff,
		},
		Segmenter: profile.DefaultSegmenter(),
		Gate: validation.Gate{
			MinPointsPerKm:     cfg.Regen.MinPointsPerKm,
			MaxElevationDeltaM: cfg.Regen.MaxElevationDeltaM,
		},
		Retry: http.Policy{
			RateLimitRetries: cfg.Regen.RateLimitRetries,
			RateLimitStep:    cfg.Regen.RateLimitStep,
			ProviderRetries:  cfg.Regen.ProviderRetries,
			ProviderDelay:    cfg.Regen.ProviderDelay,
		},
		Priority:        regen.WellKnownPriority(cfg.Regen.PriorityNames),
		SampleSize:      cfg.Regen.SampleSize,
		CacheTTL:        cfg.Regen.CacheTTL,
		MetricsTextfile: textfile,
	})
	if err != nil {
		if profiles != nil {
			_ = profiles.Close()
		}
		bus.Close()
		return nil, err
	}

	return &app{orchestrator: orchestrator, bus: bus, recorder: recorder, cache: profiles}, nil
}

// catalogueFile is the import format: either a bare array of cols or {"cols": [...]}.
type catalogueFile struct {
	Cols []models.Col `json:"cols"`
}

// readCatalogueFile decodes a catalogue JSON file, reporting bytes read to reporter.
func readCatalogueFile(path string, reporter progress.Reporter) ([]models.Col, error) {
	resolved, err := pathutil.ResolveAbsolutePath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalogue file: %w", err)
	}
	defer f.Close()

	if reporter == nil {
		reporter = progress.NewNoOpProgress()
	}
	if info, err := f.Stat(); err == nil {
		reporter.Start(info.Size(), "Reading "+info.Name())
	}

	pr := progress.NewProgressReader(f, reporter)
	data, err := io.ReadAll(pr)
	if err != nil {
		reporter.Error(err)
		return nil, fmt.Errorf("failed to read catalogue file: %w", err)
	}
	reporter.Finish()
	GetLogger().Debug().Str("file", resolved).Int64("bytes", pr.BytesRead()).Msg("Catalogue file read")

	cols, err := decodeCatalogue(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cols, nil
}

// decodeCatalogue accepts both catalogue layouts and checks every col has an id.
func decodeCatalogue(data []byte) ([]models.Col, error) {
	var cols []models.Col
	if err := json.Unmarshal(data, &cols); err != nil {
		var wrapped catalogueFile
		if err2 := json.Unmarshal(data, &wrapped); err2 != nil {
			return nil, fmt.Errorf("invalid catalogue JSON: %w", err)
		}
		cols = wrapped.Cols
	}

	seen := make(map[string]bool, len(cols))
	for i, c := range cols {
		if c.ID == "" {
			return nil, fmt.Errorf("col #%d has no id", i+1)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("duplicate col id %q", c.ID)
		}
		seen[c.ID] = true
	}
	return cols, nil
}
