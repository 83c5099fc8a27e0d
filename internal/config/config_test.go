package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/campaignmaster/campaignmaster/internal/store"
	"github.com/campaignmaster/campaignmaster/pkg/errors"
)

const (
	TestDebugLevel = "DEBUG"
	TestAPIURL     = "https://api.example.com/api"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("Expected LogLevel to be INFO, got %s", cfg.Global.LogLevel)
	}

	// Cache defaults
	if cfg.Cache.DefaultTTL != 5*time.Minute {
		t.Errorf("Expected DefaultTTL to be 5 minutes, got %v", cfg.Cache.DefaultTTL)
	}
	if cfg.Cache.MaxEntries != 1000 {
		t.Errorf("Expected MaxEntries to be 1000, got %d", cfg.Cache.MaxEntries)
	}
	if cfg.Cache.Version != "1.0.0" {
		t.Errorf("Expected Version to be 1.0.0, got %s", cfg.Cache.Version)
	}
	if !cfg.Cache.EnablePersistence {
		t.Error("Expected persistence to be enabled by default")
	}
	if cfg.Cache.StorageKey != "app-cache" {
		t.Errorf("Expected StorageKey to be app-cache, got %s", cfg.Cache.StorageKey)
	}

	if cfg.Health.ErrorThreshold != 3 || cfg.Health.UnavailableThreshold != 10 {
		t.Errorf("Expected health thresholds 3/10, got %d/%d",
			cfg.Health.ErrorThreshold, cfg.Health.UnavailableThreshold)
	}

	// API defaults
	if cfg.API.BaseURL != "http://localhost:5000/api" {
		t.Errorf("Expected BaseURL to be http://localhost:5000/api, got %s", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 10*time.Second {
		t.Errorf("Expected API Timeout to be 10s, got %v", cfg.API.Timeout)
	}

	if cfg.Store.Backend != store.BackendMemory {
		t.Errorf("Expected memory store backend, got %s", cfg.Store.Backend)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("Expected server address :8080, got %s", cfg.Server.Address)
	}
	if !cfg.Monitoring.Metrics.Enabled {
		t.Error("Expected metrics to be enabled by default")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		config func() *Configuration
		field  string
	}{
		{
			name:   "valid config",
			config: NewDefault,
		},
		{
			name: "invalid log level",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.LogLevel = "INVALID"
				return cfg
			},
			field: "global.log_level",
		},
		{
			name: "invalid log format",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.LogFormat = "xml"
				return cfg
			},
			field: "global.log_format",
		},
		{
			name: "zero ttl",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Cache.DefaultTTL = 0
				return cfg
			},
			field: "cache.default_ttl",
		},
		{
			name: "zero max entries",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Cache.MaxEntries = 0
				return cfg
			},
			field: "cache.max_entries",
		},
		{
			name: "empty version",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Cache.Version = ""
				return cfg
			},
			field: "cache.version",
		},
		{
			name: "persistence without storage key",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Cache.StorageKey = ""
				return cfg
			},
			field: "cache.storage_key",
		},
		{
			name: "storage key not needed without persistence",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Cache.EnablePersistence = false
				cfg.Cache.StorageKey = ""
				return cfg
			},
		},
		{
			name: "unknown backend",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Store.Backend = "redis"
				return cfg
			},
			field: "store.backend",
		},
		{
			name: "s3 without bucket",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Store.Backend = store.BackendS3
				return cfg
			},
			field: "store.s3.bucket",
		},
		{
			name: "minio without endpoint",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Store.Backend = store.BackendMinIO
				cfg.Store.MinIO.Bucket = "cache"
				return cfg
			},
			field: "store.minio",
		},
		{
			name: "relative api url",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.API.BaseURL = "/api"
				return cfg
			},
			field: "api.base_url",
		},
		{
			name: "zero api timeout",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.API.Timeout = 0
				return cfg
			},
			field: "api.timeout",
		},
		{
			name: "server without address",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Server.Address = ""
				return cfg
			},
			field: "server.address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config().Validate()
			if tt.field == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error for %s", tt.field)
			}
			cmErr, ok := errors.As(err)
			if !ok {
				t.Fatalf("Validate() error type = %T, want *CampaignMasterError", err)
			}
			if cmErr.Code != errors.ErrCodeConfigValidation {
				t.Errorf("Validate() code = %s, want %s", cmErr.Code, errors.ErrCodeConfigValidation)
			}
			if cmErr.Context["field"] != tt.field {
				t.Errorf("Validate() field = %q, want %q", cmErr.Context["field"], tt.field)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
global:
  log_level: DEBUG
  log_format: json

cache:
  default_ttl: 10m
  max_entries: 250
  version: "2.0.0"

store:
  backend: file
  dir: /var/lib/campaignmaster

api:
  base_url: https://api.example.com/api
  timeout: 3s
  retry:
    max_attempts: 3
`

	if err := os.WriteFile(configFile, []byte(configContent), 0600); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Global.LogLevel != TestDebugLevel {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.LogFormat != "json" {
		t.Errorf("Expected LogFormat to be json, got %s", cfg.Global.LogFormat)
	}
	if cfg.Cache.DefaultTTL != 10*time.Minute {
		t.Errorf("Expected DefaultTTL to be 10m, got %v", cfg.Cache.DefaultTTL)
	}
	if cfg.Cache.MaxEntries != 250 {
		t.Errorf("Expected MaxEntries to be 250, got %d", cfg.Cache.MaxEntries)
	}
	if cfg.Cache.Version != "2.0.0" {
		t.Errorf("Expected Version to be 2.0.0, got %s", cfg.Cache.Version)
	}
	// Unset keys keep their defaults.
	if cfg.Cache.StorageKey != "app-cache" {
		t.Errorf("Expected StorageKey to stay app-cache, got %s", cfg.Cache.StorageKey)
	}
	if cfg.Store.Backend != store.BackendFile || cfg.Store.Dir != "/var/lib/campaignmaster" {
		t.Errorf("Expected file store at /var/lib/campaignmaster, got %s at %s", cfg.Store.Backend, cfg.Store.Dir)
	}
	if cfg.API.BaseURL != TestAPIURL {
		t.Errorf("Expected BaseURL to be %s, got %s", TestAPIURL, cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 3*time.Second {
		t.Errorf("Expected API Timeout to be 3s, got %v", cfg.API.Timeout)
	}
	if cfg.API.Retry.MaxAttempts != 3 {
		t.Errorf("Expected MaxAttempts to be 3, got %d", cfg.API.Retry.MaxAttempts)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadFromFileNonExistent(t *testing.T) {
	cfg := NewDefault()
	err := cfg.LoadFromFile("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("Expected error when loading non-existent config file")
	}
	if !errors.HasCode(err, errors.ErrCodeConfigLoad) {
		t.Errorf("Expected CONFIG_LOAD error, got %v", err)
	}
}

func TestLoadFromFileInvalidYAML(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte("cache: [unterminated"), 0600); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	err := NewDefault().LoadFromFile(configFile)
	if !errors.HasCode(err, errors.ErrCodeConfigLoad) {
		t.Errorf("Expected CONFIG_LOAD error, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	testEnvVars := map[string]string{
		"CAMPAIGNMASTER_LOG_LEVEL":         "ERROR",
		"CAMPAIGNMASTER_CACHE_TTL":         "10m",
		"CAMPAIGNMASTER_CACHE_MAX_ENTRIES": "5000",
		"CAMPAIGNMASTER_CACHE_VERSION":     "3.1.0",
		"CAMPAIGNMASTER_CACHE_PERSISTENCE": "false",
		"CAMPAIGNMASTER_STORE_BACKEND":     "minio",
		"CAMPAIGNMASTER_MINIO_ENDPOINT":    "localhost:9000",
		"CAMPAIGNMASTER_MINIO_BUCKET":      "cache",
		"CAMPAIGNMASTER_API_URL":           TestAPIURL,
		"CAMPAIGNMASTER_API_TIMEOUT":       "2s",
		"CAMPAIGNMASTER_CORS_ORIGINS":      "https://a.example.com, https://b.example.com",
		"CAMPAIGNMASTER_METRICS_ENABLED":   "false",
	}
	for key, value := range testEnvVars {
		t.Setenv(key, value)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Global.LogLevel != "ERROR" {
		t.Errorf("Expected LogLevel to be ERROR, got %s", cfg.Global.LogLevel)
	}
	if cfg.Cache.DefaultTTL != 10*time.Minute {
		t.Errorf("Expected DefaultTTL to be 10m, got %v", cfg.Cache.DefaultTTL)
	}
	if cfg.Cache.MaxEntries != 5000 {
		t.Errorf("Expected MaxEntries to be 5000, got %d", cfg.Cache.MaxEntries)
	}
	if cfg.Cache.Version != "3.1.0" {
		t.Errorf("Expected Version to be 3.1.0, got %s", cfg.Cache.Version)
	}
	if cfg.Cache.EnablePersistence {
		t.Error("Expected persistence to be disabled")
	}
	if cfg.Store.Backend != store.BackendMinIO || cfg.Store.MinIO.Endpoint != "localhost:9000" {
		t.Errorf("Expected minio backend at localhost:9000, got %s at %s", cfg.Store.Backend, cfg.Store.MinIO.Endpoint)
	}
	if cfg.API.BaseURL != TestAPIURL {
		t.Errorf("Expected BaseURL to be %s, got %s", TestAPIURL, cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 2*time.Second {
		t.Errorf("Expected API Timeout to be 2s, got %v", cfg.API.Timeout)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example.com" {
		t.Errorf("Expected two CORS origins, got %v", cfg.Server.CORSOrigins)
	}
	if cfg.Monitoring.Metrics.Enabled {
		t.Error("Expected metrics to be disabled")
	}
}

func TestLoadFromEnvPublicAPIURL(t *testing.T) {
	env := map[string]string{"NEXT_PUBLIC_API_URL": "https://public.example.com/api"}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := NewDefault()
	if err := cfg.loadFromEnv(lookup); err != nil {
		t.Fatalf("loadFromEnv() error = %v", err)
	}
	if cfg.API.BaseURL != "https://public.example.com/api" {
		t.Errorf("Expected public API URL, got %s", cfg.API.BaseURL)
	}

	// The prefixed variable wins.
	env["CAMPAIGNMASTER_API_URL"] = TestAPIURL
	cfg = NewDefault()
	if err := cfg.loadFromEnv(lookup); err != nil {
		t.Fatalf("loadFromEnv() error = %v", err)
	}
	if cfg.API.BaseURL != TestAPIURL {
		t.Errorf("Expected %s, got %s", TestAPIURL, cfg.API.BaseURL)
	}
}

func TestLoadFromEnvInvalidValue(t *testing.T) {
	env := map[string]string{
		"CAMPAIGNMASTER_CACHE_TTL":         "soon",
		"CAMPAIGNMASTER_CACHE_MAX_ENTRIES": "42",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := NewDefault()
	err := cfg.loadFromEnv(lookup)
	if !errors.HasCode(err, errors.ErrCodeConfigLoad) {
		t.Fatalf("Expected CONFIG_LOAD error, got %v", err)
	}
	if !strings.Contains(err.Error(), "CAMPAIGNMASTER_CACHE_TTL") {
		t.Errorf("Expected error to name the variable, got %v", err)
	}
	if cfg.Cache.DefaultTTL != 5*time.Minute {
		t.Errorf("Expected DefaultTTL to stay 5m, got %v", cfg.Cache.DefaultTTL)
	}
	if cfg.Cache.MaxEntries != 42 {
		t.Errorf("Expected MaxEntries to be applied, got %d", cfg.Cache.MaxEntries)
	}
}

func TestSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "saved_config.yaml")

	cfg := NewDefault()
	cfg.Global.LogLevel = TestDebugLevel
	cfg.Cache.DefaultTTL = 90 * time.Second
	cfg.API.BaseURL = TestAPIURL

	if err := cfg.SaveToFile(configFile); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	info, err := os.Stat(configFile)
	if err != nil {
		t.Fatalf("Config file was not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("Expected mode 0600, got %o", perm)
	}

	newCfg := NewDefault()
	if err := newCfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}

	if newCfg.Global.LogLevel != TestDebugLevel {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", newCfg.Global.LogLevel)
	}
	if newCfg.Cache.DefaultTTL != 90*time.Second {
		t.Errorf("Expected DefaultTTL to be 90s, got %v", newCfg.Cache.DefaultTTL)
	}
	if newCfg.API.BaseURL != TestAPIURL {
		t.Errorf("Expected BaseURL to be %s, got %s", TestAPIURL, newCfg.API.BaseURL)
	}
}

func TestSaveToFileCreateDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := NewDefault()
	if err := cfg.SaveToFile(configFile); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}
}
