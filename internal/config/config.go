// Package config loads colprofile settings from defaults, a YAML file,
// the INI credentials file and COLPROFILE_ environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/velocols/colprofile/internal/backup"
	"github.com/velocols/colprofile/internal/constants"
	"github.com/velocols/colprofile/internal/http"
)

// EnvPrefix prefixes every environment override. Nested keys use a double
// underscore: COLPROFILE_REGEN__CONCURRENCY=5 sets regen.concurrency.
const EnvPrefix = "COLPROFILE_"

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "COLPROFILE_CONFIG"

// DefaultProviderURL is the public Open-Elevation instance.
const DefaultProviderURL = "https://api.open-elevation.com"

// Config is the full application configuration.
type Config struct {
	Elevation ElevationConfig  `koanf:"elevation"`
	RateLimit RateLimitConfig  `koanf:"ratelimit"`
	Regen     RegenConfig      `koanf:"regen"`
	Store     StoreConfig      `koanf:"store"`
	Cache     CacheConfig      `koanf:"cache"`
	Backup    BackupConfig     `koanf:"backup"`
	Metrics   MetricsConfig    `koanf:"metrics"`
	Proxy     http.ProxyConfig `koanf:"proxy"`
	Log       LogConfig        `koanf:"log"`
}

type ElevationConfig struct {
	BaseURL      string        `koanf:"base_url" validate:"required,url"`
	APIKey       string        `koanf:"api_key"`
	Timeout      time.Duration `koanf:"timeout" validate:"gt=0"`
	SamplesPerKm int           `koanf:"samples_per_km" validate:"gte=10"`
	MaxSamples   int           `koanf:"max_samples" validate:"gte=2"`
	HTTPRetries  int           `koanf:"http_retries" validate:"gte=0,lte=10"`
	DisableHTTP2 bool          `koanf:"disable_http2"`
	Breaker      BreakerConfig `koanf:"breaker"`
}

type BreakerConfig struct {
	ConsecutiveFailures uint32        `koanf:"consecutive_failures" validate:"gte=1"`
	Timeout             time.Duration `koanf:"timeout" validate:"gt=0"`
	Interval            time.Duration `koanf:"interval" validate:"gte=0"`
}

type RateLimitConfig struct {
	Window      time.Duration `koanf:"window" validate:"gt=0"`
	MaxRequests int           `koanf:"max_requests" validate:"gte=1"`
	Backoff     time.Duration `koanf:"backoff" validate:"gte=0"`
}

type RegenConfig struct {
	Concurrency   int           `koanf:"concurrency" validate:"gte=1,lte=32"`
	SampleSize    int           `koanf:"sample_size" validate:"gte=1"`
	PriorityNames []string      `koanf:"priority_names"`
	CacheTTL      time.Duration `koanf:"cache_ttl" validate:"gt=0"`

	RateLimitRetries int           `koanf:"rate_limit_retries" validate:"gte=0"`
	RateLimitStep    time.Duration `koanf:"rate_limit_step" validate:"gte=0"`
	ProviderRetries  int           `koanf:"provider_retries" validate:"gte=0"`
	ProviderDelay    time.Duration `koanf:"provider_delay" validate:"gte=0"`

	MinPointsPerKm     float64 `koanf:"min_points_per_km" validate:"gte=0"`
	MaxElevationDeltaM float64 `koanf:"max_elevation_delta_m" validate:"gt=0"`
}

type StoreConfig struct {
	Driver string `koanf:"driver" validate:"oneof=memory badger postgres"`
	Path   string `koanf:"path" validate:"required_if=Driver badger"`
	DSN    string `koanf:"dsn" validate:"required_if=Driver postgres"`
	// Seed is a JSON catalogue loaded into a memory store at startup.
	Seed string `koanf:"seed"`
}

type CacheConfig struct {
	Driver string `koanf:"driver" validate:"oneof=none memory badger"`
	Path   string `koanf:"path" validate:"required_if=Driver badger"`
}

type BackupConfig struct {
	Sink  string             `koanf:"sink" validate:"oneof=none file s3 azure"`
	Dir   string             `koanf:"dir" validate:"required_if=Sink file"`
	S3    backup.S3Config    `koanf:"s3"`
	Azure backup.AzureConfig `koanf:"azure"`
}

type MetricsConfig struct {
	// Textfile is a node_exporter textfile collector path; empty disables export.
	Textfile string `koanf:"textfile"`
}

type LogConfig struct {
	File    string `koanf:"file"`
	Verbose bool   `koanf:"verbose"`
}

// Default returns the built-in configuration.
func Default() *Config {
	dataDir := DataDirectory()
	return &Config{
		Elevation: ElevationConfig{
			BaseURL:      DefaultProviderURL,
			Timeout:      constants.ProviderTimeout,
			SamplesPerKm: constants.SamplesPerKm,
			MaxSamples:   constants.MaxSamples,
			HTTPRetries:  constants.ProviderHTTPRetries,
			Breaker: BreakerConfig{
				ConsecutiveFailures: 5,
				Timeout:             time.Minute,
				Interval:            2 * time.Minute,
			},
		},
		RateLimit: RateLimitConfig{
			Window:      constants.RateLimitWindow,
			MaxRequests: constants.RateLimitMaxRequests,
			Backoff:     constants.RateLimitBackoff,
		},
		Regen: RegenConfig{
			Concurrency:        constants.DefaultConcurrency,
			SampleSize:         constants.TestSampleSize,
			PriorityNames:      []string{"tourmalet", "galibier", "alpe d'huez", "ventoux", "stelvio", "izoard"},
			CacheTTL:           constants.ProfileCacheTTL,
			RateLimitRetries:   constants.RateLimitRetries,
			RateLimitStep:      constants.RateLimitRetryStep,
			ProviderRetries:    constants.ProviderRetries,
			ProviderDelay:      constants.ProviderRetryDelay,
			MinPointsPerKm:     constants.MinPointsPerKm,
			MaxElevationDeltaM: constants.MaxElevationDeltaM,
		},
		Store: StoreConfig{
			Driver: "badger",
			Path:   filepath.Join(dataDir, "catalogue"),
		},
		Cache: CacheConfig{
			Driver: "badger",
			Path:   filepath.Join(dataDir, "cache"),
		},
		Backup: BackupConfig{
			Sink: "none",
			Dir:  filepath.Join(dataDir, "backups"),
		},
		Proxy: http.ProxyConfig{
			Mode: "no-proxy",
			Port: constants.DefaultProxyPort,
		},
	}
}

// LoadOptions selects the sources Load reads.
type LoadOptions struct {
	// ConfigFile is an explicit YAML path (--config). Empty searches the defaults.
	ConfigFile string
	// CredentialsFile overrides DefaultCredentialsPath.
	CredentialsFile string
	// Environ replaces os.Environ (tests).
	Environ []string
}

// DefaultConfigPaths lists where a config file is searched, first match wins.
func DefaultConfigPaths() []string {
	return []string{
		"colprofile.yaml",
		"colprofile.yml",
		filepath.Join(ConfigDirectory(), "config.yaml"),
	}
}

// sliceConfigPaths are parsed as comma-separated lists when set from env.
var sliceConfigPaths = []string{
	"regen.priority_names",
}

// Load layers defaults < credentials file < YAML < environment and validates the result.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	creds, err := LoadCredentials(opts.CredentialsFile)
	if err != nil {
		return nil, err
	}
	if creds.BaseURL != "" {
		_ = k.Set("elevation.base_url", creds.BaseURL)
	}
	if creds.APIKey != "" {
		_ = k.Set("elevation.api_key", creds.APIKey)
	}

	configPath, err := findConfigFile(opts)
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := loadEnv(k, opts.Environ); err != nil {
		return nil, err
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := ValidateStruct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadEnv(k *koanf.Koanf, environ []string) error {
	if environ == nil {
		return k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil)
	}
	// Same transform over an explicit environment.
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		if path := envTransformFunc(key); path != "" {
			if err := k.Set(path, value); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps COLPROFILE_REGEN__CONCURRENCY to regen.concurrency.
// A handful of short aliases are accepted for the common settings.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))

	aliases := map[string]string{
		"config":      "",
		"api_key":     "elevation.api_key",
		"base_url":    "elevation.base_url",
		"concurrency": "regen.concurrency",
		"store_dsn":   "store.dsn",
	}
	if mapped, ok := aliases[key]; ok {
		return mapped
	}
	if !strings.Contains(key, "__") {
		return ""
	}
	return strings.ReplaceAll(key, "__", ".")
}

func findConfigFile(opts LoadOptions) (string, error) {
	if opts.ConfigFile != "" {
		if _, err := os.Stat(opts.ConfigFile); err != nil {
			return "", fmt.Errorf("config file %s: %w", opts.ConfigFile, err)
		}
		return opts.ConfigFile, nil
	}

	envPath := ""
	if opts.Environ == nil {
		envPath = os.Getenv(ConfigPathEnvVar)
	} else {
		for _, kv := range opts.Environ {
			if v, ok := strings.CutPrefix(kv, ConfigPathEnvVar+"="); ok {
				envPath = v
			}
		}
	}
	if envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
	}

	if opts.Environ != nil {
		// Explicit environments (tests) never pick up files from the working directory.
		return "", nil
	}
	for _, path := range DefaultConfigPaths() {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

// processSliceFields splits comma-separated env values for list settings.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}
