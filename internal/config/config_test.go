package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("creating temp config: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	f.Close()
	return f.Name()
}

func TestLoad_Valid(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: "https://fdw.example.org/api"
  country_code: HT
  page_size: 500
  timeout: 90s
  max_attempts: 4
  requests_per_second: 1.5
  breaker_failures: 3
database:
  path: /tmp/fews.db
sync:
  history_start: "2010-01-01"
  default_price_type: Retail
  default_currency: HTG
exchange_rates:
  htg_per_usd: 130
  monthly:
    "2024-03": 132.5
units:
  lb:
    common_unit: kg
    conversion_factor: 0.45359237
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.BaseURL != "https://fdw.example.org/api" {
		t.Errorf("BaseURL = %q, want %q", cfg.API.BaseURL, "https://fdw.example.org/api")
	}
	if cfg.API.PageSize != 500 {
		t.Errorf("PageSize = %d, want 500", cfg.API.PageSize)
	}
	if cfg.API.Timeout != 90*time.Second {
		t.Errorf("Timeout = %v, want 90s", cfg.API.Timeout)
	}
	if cfg.API.MaxAttempts != 4 {
		t.Errorf("MaxAttempts = %d, want 4", cfg.API.MaxAttempts)
	}
	if cfg.ExchangeRates.HTGPerUSD == nil || *cfg.ExchangeRates.HTGPerUSD != 130 {
		t.Errorf("HTGPerUSD = %v, want 130", cfg.ExchangeRates.HTGPerUSD)
	}
	if cfg.ExchangeRates.Monthly["2024-03"] != 132.5 {
		t.Errorf("Monthly[2024-03] = %v, want 132.5", cfg.ExchangeRates.Monthly["2024-03"])
	}
	if u, ok := cfg.Units["lb"]; !ok || u.CommonUnit != "kg" {
		t.Errorf("Units[lb] = %+v, want common_unit kg", u)
	}
	want := time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := cfg.HistoryStartDate(); !got.Equal(want) {
		t.Errorf("HistoryStartDate = %v, want %v", got, want)
	}
}

func TestLoad_DefaultsForOmittedKeys(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/fews.db
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.BaseURL != defaultBaseURL {
		t.Errorf("BaseURL = %q, want default %q", cfg.API.BaseURL, defaultBaseURL)
	}
	if cfg.API.CountryCode != "HT" {
		t.Errorf("CountryCode = %q, want HT", cfg.API.CountryCode)
	}
	if cfg.API.Timeout != defaultTimeout {
		t.Errorf("Timeout = %v, want %v", cfg.API.Timeout, defaultTimeout)
	}
	if cfg.Sync.DefaultPriceType != "Retail" {
		t.Errorf("DefaultPriceType = %q, want Retail", cfg.Sync.DefaultPriceType)
	}
	if cfg.ExchangeRates.HTGPerUSD != nil {
		t.Error("HTGPerUSD should be nil by default")
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.PageSize != defaultPageSize {
		t.Errorf("PageSize = %d, want %d", cfg.API.PageSize, defaultPageSize)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"base url", "api:\n  base_url: not-a-url\n"},
		{"lowercase country", "api:\n  country_code: ht\n"},
		{"long country", "api:\n  country_code: HTI\n"},
		{"page size zero", "api:\n  page_size: 0\n"},
		{"too many attempts", "api:\n  max_attempts: 50\n"},
		{"negative rps", "api:\n  requests_per_second: -1\n"},
		{"timeout too long", "api:\n  timeout: 2h\n"},
		{"history start", "sync:\n  history_start: 01/01/2005\n"},
		{"zero rate", "exchange_rates:\n  htg_per_usd: 0\n"},
		{"bad month key", "exchange_rates:\n  monthly:\n    \"2024-13\": 130\n"},
		{"negative monthly rate", "exchange_rates:\n  monthly:\n    \"2024-01\": -5\n"},
		{"zero unit factor", "units:\n  lb:\n    common_unit: kg\n    conversion_factor: 0\n"},
		{"unit without common unit", "units:\n  lb:\n    conversion_factor: 0.45\n"},
		{"telemetry without endpoint", "telemetry:\n  insecure: true\n"},
		{"unknown key", "unknown_field: oops\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.BaseURL != defaultBaseURL {
		t.Errorf("BaseURL = %q, want default", cfg.API.BaseURL)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FEWSSYNC_DB_PATH", "/data/override.db")
	t.Setenv("FEWSSYNC_API_BASE_URL", "http://localhost:9000/api")
	t.Setenv("FEWSSYNC_COUNTRY_CODE", "ml")

	cfg, err := Load(writeConfig(t, "database:\n  path: /tmp/file.db\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Path != "/data/override.db" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
	if cfg.API.BaseURL != "http://localhost:9000/api" {
		t.Errorf("BaseURL = %q, want env override", cfg.API.BaseURL)
	}
	if cfg.API.CountryCode != "ML" {
		t.Errorf("CountryCode = %q, want ML", cfg.API.CountryCode)
	}
}

func TestDBPath(t *testing.T) {
	cfg := Default()
	cfg.Database.Path = "/var/lib/fews.db"
	got, err := cfg.DBPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/var/lib/fews.db" {
		t.Errorf("DBPath = %q, want /var/lib/fews.db", got)
	}

	cfg.Database.Path = "~/fews.db"
	got, err = cfg.DBPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	home, _ := os.UserHomeDir()
	if got != filepath.Join(home, "fews.db") {
		t.Errorf("DBPath = %q, want home-expanded path", got)
	}
}

func TestDefaultPath(t *testing.T) {
	path, err := DefaultPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path == "" {
		t.Error("DefaultPath returned empty string")
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	rate := 128.0
	cfg := Default()
	cfg.Database.Path = "/tmp/fews.db"
	cfg.ExchangeRates.HTGPerUSD = &rate
	cfg.Units = map[string]UnitConfig{"lb": {CommonUnit: "kg", ConversionFactor: 0.45359237}}

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := cfg.Write(path); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load after Write: %v", err)
	}
	if got.API.Timeout != cfg.API.Timeout {
		t.Errorf("Timeout = %v, want %v", got.API.Timeout, cfg.API.Timeout)
	}
	if got.ExchangeRates.HTGPerUSD == nil || *got.ExchangeRates.HTGPerUSD != rate {
		t.Errorf("HTGPerUSD = %v, want %v", got.ExchangeRates.HTGPerUSD, rate)
	}
	if got.Units["lb"].ConversionFactor != 0.45359237 {
		t.Errorf("Units[lb] = %+v", got.Units["lb"])
	}
}

func TestLoad_TelemetryValid(t *testing.T) {
	path := writeConfig(t, `
telemetry:
  otlp_endpoint: "localhost:4317"
  insecure: true
  service_name: "fews-staging"
  headers:
    Authorization: "Bearer secret"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telemetry == nil {
		t.Fatal("expected Telemetry to be non-nil")
	}
	if cfg.Telemetry.OTLPEndpoint != "localhost:4317" {
		t.Errorf("OTLPEndpoint = %q, want %q", cfg.Telemetry.OTLPEndpoint, "localhost:4317")
	}
	if !cfg.Telemetry.Insecure {
		t.Error("Insecure = false, want true")
	}
	if cfg.Telemetry.Headers["Authorization"] != "Bearer secret" {
		t.Errorf("Authorization header = %q", cfg.Telemetry.Headers["Authorization"])
	}
}

func TestLoad_TelemetryOmitted(t *testing.T) {
	cfg, err := Load(writeConfig(t, "database:\n  path: /tmp/x.db\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telemetry != nil {
		t.Error("expected Telemetry to be nil when block is omitted")
	}
}
