// Package config loads and validates the fewssync YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	defaultBaseURL      = "https://fdw.fews.net/api"
	defaultCountryCode  = "HT"
	defaultPageSize     = 1000
	defaultTimeout      = 5 * time.Minute
	defaultMaxAttempts  = 3
	defaultRPS          = 2.0
	defaultBreakerFails = 5
	defaultHistoryStart = "2005-01-01"
	defaultPriceType    = "Retail"
	defaultCurrency     = "HTG"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	API           APIConfig             `yaml:"api"`
	Database      DatabaseConfig        `yaml:"database"`
	Sync          SyncConfig            `yaml:"sync"`
	ExchangeRates ExchangeRateConfig    `yaml:"exchange_rates"`
	Units         map[string]UnitConfig `yaml:"units,omitempty" validate:"dive"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// APIConfig describes the upstream FEWS NET data warehouse endpoint.
type APIConfig struct {
	// BaseURL is the API root, e.g. "https://fdw.fews.net/api".
	BaseURL string `yaml:"base_url" validate:"required,url"`

	// CountryCode is the ISO 3166-1 alpha-2 code prices are filtered by.
	CountryCode string `yaml:"country_code" validate:"required,len=2,uppercase"`

	// PageSize is sent as page_size on every price request.
	PageSize int `yaml:"page_size" validate:"gte=1,lte=10000"`

	// Timeout bounds a single HTTP request. The price endpoint is slow for
	// full-history queries, so the default is generous.
	Timeout time.Duration `yaml:"timeout"`

	// MaxAttempts is how many times a retryable page fetch is tried.
	MaxAttempts int `yaml:"max_attempts" validate:"gte=1,lte=10"`

	// RequestsPerSecond paces outbound requests. Zero disables pacing.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`

	// BreakerFailures is the number of consecutive retryable failures that
	// opens the circuit breaker.
	BreakerFailures int `yaml:"breaker_failures" validate:"gte=1"`

	UserAgent string `yaml:"user_agent,omitempty"`
}

// DatabaseConfig locates the local SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SyncConfig controls the sync window and mapping defaults.
type SyncConfig struct {
	// HistoryStart is the first period date fetched by a full sync and by an
	// incremental sync against an empty database.
	HistoryStart string `yaml:"history_start" validate:"required,datetime=2006-01-02"`

	DefaultPriceType string `yaml:"default_price_type" validate:"required"`
	DefaultCurrency  string `yaml:"default_currency" validate:"required,len=3"`
}

// ExchangeRateConfig supplies local-currency-per-USD rates for deriving
// common_currency_price.
type ExchangeRateConfig struct {
	// HTGPerUSD is the fallback rate used for any period without a more
	// specific one. Nil leaves the USD price empty when nothing else is known.
	HTGPerUSD *float64 `yaml:"htg_per_usd,omitempty" validate:"omitempty,gt=0"`

	// Monthly overrides HTGPerUSD for individual periods, keyed "YYYY-MM".
	Monthly map[string]float64 `yaml:"monthly,omitempty" validate:"dive,keys,datetime=2006-01,endkeys,gt=0"`
}

// UnitConfig describes how a source unit converts to its canonical unit.
type UnitConfig struct {
	CommonUnit string `yaml:"common_unit" validate:"required"`

	// ConversionFactor is the number of CommonUnit in one source unit.
	ConversionFactor float64 `yaml:"conversion_factor" validate:"gt=0"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "fewssync".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request, e.g. Authorization: "Bearer <token>".
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/fewssync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "fewssync", "config.yaml"), nil
}

// DefaultDBPath returns the default database path:
// ~/.local/share/fewssync/fews.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "fewssync", "fews.db"), nil
}

// Default returns a configuration that syncs Haiti prices from the public
// FEWS NET API. The database path is left empty; see [Config.DBPath].
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:           defaultBaseURL,
			CountryCode:       defaultCountryCode,
			PageSize:          defaultPageSize,
			Timeout:           defaultTimeout,
			MaxAttempts:       defaultMaxAttempts,
			RequestsPerSecond: defaultRPS,
			BreakerFailures:   defaultBreakerFails,
		},
		Sync: SyncConfig{
			HistoryStart:     defaultHistoryStart,
			DefaultPriceType: defaultPriceType,
			DefaultCurrency:  defaultCurrency,
		},
	}
}

// Load reads and validates the configuration file at the given path. Keys
// absent from the file keep their [Default] values.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	cfg := Default()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like [Load] but falls back to [Default] when the file
// does not exist. Used for the default config path, which is optional because
// the public API needs no credentials.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		applyEnvOverrides(cfg)
		if err := cfg.validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return Load(path)
}

// applyEnvOverrides lets a handful of environment variables win over the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FEWSSYNC_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("FEWSSYNC_API_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("FEWSSYNC_COUNTRY_CODE"); v != "" {
		cfg.API.CountryCode = strings.ToUpper(v)
	}
}

// validate checks field tags and the rules the tags cannot express.
func (c *Config) validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return err
	}

	if c.API.Timeout <= 0 {
		c.API.Timeout = defaultTimeout
	}
	if c.API.Timeout > 30*time.Minute {
		return fmt.Errorf("api.timeout %v is too long (maximum 30m)", c.API.Timeout)
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}

// DBPath returns the configured database path, or the default one.
func (c *Config) DBPath() (string, error) {
	if c.Database.Path != "" {
		return expandHome(c.Database.Path)
	}
	return DefaultDBPath()
}

// HistoryStartDate parses Sync.HistoryStart. Load has already validated it.
func (c *Config) HistoryStartDate() time.Time {
	t, err := time.Parse(time.DateOnly, c.Sync.HistoryStart)
	if err != nil {
		t, _ = time.Parse(time.DateOnly, defaultHistoryStart)
	}
	return t
}

// Write serialises c as YAML to path, creating parent directories.
func (c *Config) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file %q: %w", path, err)
	}
	return nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
