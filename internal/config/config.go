package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/campaignmaster/campaignmaster/internal/apiclient"
	"github.com/campaignmaster/campaignmaster/internal/cache"
	"github.com/campaignmaster/campaignmaster/internal/metrics"
	"github.com/campaignmaster/campaignmaster/internal/store"
	"github.com/campaignmaster/campaignmaster/pkg/api"
	"github.com/campaignmaster/campaignmaster/pkg/errors"
	"github.com/campaignmaster/campaignmaster/pkg/health"
	"github.com/campaignmaster/campaignmaster/pkg/utils"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "CAMPAIGNMASTER_"

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Cache      cache.Config     `yaml:"cache"`
	Store      store.Config     `yaml:"store"`
	API        apiclient.Config `yaml:"api"`
	Server     api.ServerConfig `yaml:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Health     health.Config    `yaml:"health"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics metrics.Config `yaml:"metrics"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		Cache:  *cache.DefaultConfig(),
		Store:  *store.DefaultConfig(),
		API:    *apiclient.DefaultConfig(),
		Server: api.DefaultServerConfig(),
		Monitoring: MonitoringConfig{
			Metrics: *metrics.DefaultConfig(),
		},
		Health: health.DefaultConfig(),
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to read config file").
			WithComponent("config").
			WithContext("file", filename)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to parse config file").
			WithComponent("config").
			WithContext("file", filename)
	}

	return nil
}

type envLoader struct {
	lookup func(string) (string, bool)
	err    error
}

func (l *envLoader) get(name string) (string, bool) {
	val, ok := l.lookup(EnvPrefix + name)
	if !ok || val == "" {
		return "", false
	}
	return val, true
}

func (l *envLoader) fail(name, val string, err error) {
	if l.err == nil {
		l.err = errors.Wrap(err, errors.ErrCodeConfigLoad, fmt.Sprintf("invalid value %q for %s%s", val, EnvPrefix, name)).
			WithComponent("config")
	}
}

func (l *envLoader) str(name string, dst *string) {
	if val, ok := l.get(name); ok {
		*dst = val
	}
}

func (l *envLoader) integer(name string, dst *int) {
	if val, ok := l.get(name); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			l.fail(name, val, err)
			return
		}
		*dst = n
	}
}

func (l *envLoader) boolean(name string, dst *bool) {
	if val, ok := l.get(name); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			l.fail(name, val, err)
			return
		}
		*dst = b
	}
}

func (l *envLoader) duration(name string, dst *time.Duration) {
	if val, ok := l.get(name); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			l.fail(name, val, err)
			return
		}
		*dst = d
	}
}

// LoadFromEnv loads configuration from CAMPAIGNMASTER_* environment
// variables. NEXT_PUBLIC_API_URL is honored when CAMPAIGNMASTER_API_URL is
// unset. The first malformed value is reported; the rest still apply.
func (c *Configuration) LoadFromEnv() error {
	return c.loadFromEnv(os.LookupEnv)
}

func (c *Configuration) loadFromEnv(lookup func(string) (string, bool)) error {
	l := &envLoader{lookup: lookup}

	// Global settings
	l.str("LOG_LEVEL", &c.Global.LogLevel)
	l.str("LOG_FORMAT", &c.Global.LogFormat)
	l.str("LOG_FILE", &c.Global.LogFile)

	// Cache settings
	l.duration("CACHE_TTL", &c.Cache.DefaultTTL)
	l.integer("CACHE_MAX_ENTRIES", &c.Cache.MaxEntries)
	l.str("CACHE_VERSION", &c.Cache.Version)
	l.boolean("CACHE_PERSISTENCE", &c.Cache.EnablePersistence)
	l.str("CACHE_STORAGE_KEY", &c.Cache.StorageKey)
	l.duration("CACHE_SWEEP_INTERVAL", &c.Cache.SweepInterval)

	// Store settings
	l.str("STORE_BACKEND", &c.Store.Backend)
	l.str("STORE_DIR", &c.Store.Dir)
	l.duration("STORE_TIMEOUT", &c.Store.Timeout)
	l.boolean("STORE_COMPRESS", &c.Store.Compress)
	l.str("S3_BUCKET", &c.Store.S3.Bucket)
	l.str("S3_PREFIX", &c.Store.S3.Prefix)
	l.str("S3_REGION", &c.Store.S3.Region)
	l.str("S3_ENDPOINT", &c.Store.S3.Endpoint)
	l.boolean("S3_FORCE_PATH_STYLE", &c.Store.S3.ForcePathStyle)
	l.boolean("S3_CARGOSHIP", &c.Store.S3.EnableCargoShip)
	l.str("MINIO_ENDPOINT", &c.Store.MinIO.Endpoint)
	l.str("MINIO_BUCKET", &c.Store.MinIO.Bucket)
	l.str("MINIO_ACCESS_KEY", &c.Store.MinIO.AccessKey)
	l.str("MINIO_SECRET_KEY", &c.Store.MinIO.SecretKey)
	l.boolean("MINIO_USE_SSL", &c.Store.MinIO.UseSSL)

	// API client settings
	if val, ok := lookup("NEXT_PUBLIC_API_URL"); ok && val != "" {
		c.API.BaseURL = val
	}
	l.str("API_URL", &c.API.BaseURL)
	l.duration("API_TIMEOUT", &c.API.Timeout)
	l.duration("API_CACHE_TTL", &c.API.CacheTTL)
	l.boolean("API_COALESCE", &c.API.Coalesce)
	l.integer("API_RETRY_ATTEMPTS", &c.API.Retry.MaxAttempts)

	// Server and monitoring
	l.boolean("SERVER_ENABLED", &c.Server.Enabled)
	l.str("SERVER_ADDRESS", &c.Server.Address)
	if val, ok := l.get("CORS_ORIGINS"); ok {
		c.Server.CORSOrigins = splitList(val)
	}
	l.boolean("METRICS_ENABLED", &c.Monitoring.Metrics.Enabled)

	return l.err
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to marshal config").
			WithComponent("config")
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to create config directory").
			WithComponent("config").
			WithContext("file", filename)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to write config file").
			WithComponent("config").
			WithContext("file", filename)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	invalid := func(field, format string, args ...interface{}) error {
		return errors.NewError(errors.ErrCodeConfigValidation, fmt.Sprintf(format, args...)).
			WithComponent("config").
			WithContext("field", field)
	}

	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return invalid("global.log_level", "invalid log_level: %s (must be one of: DEBUG, INFO, WARN, ERROR)", c.Global.LogLevel)
	}
	if _, err := utils.ParseLogFormat(c.Global.LogFormat); err != nil {
		return invalid("global.log_format", "invalid log_format: %s (must be text or json)", c.Global.LogFormat)
	}

	if c.Cache.DefaultTTL <= 0 {
		return invalid("cache.default_ttl", "default_ttl must be greater than 0")
	}
	if c.Cache.MaxEntries <= 0 {
		return invalid("cache.max_entries", "max_entries must be greater than 0")
	}
	if c.Cache.Version == "" {
		return invalid("cache.version", "version cannot be empty")
	}
	if c.Cache.EnablePersistence && c.Cache.StorageKey == "" {
		return invalid("cache.storage_key", "storage_key is required when persistence is enabled")
	}

	switch strings.ToLower(c.Store.Backend) {
	case "", store.BackendMemory:
	case store.BackendFile:
		if c.Store.Dir == "" {
			return invalid("store.dir", "dir is required for the file backend")
		}
	case store.BackendS3:
		if c.Store.S3.Bucket == "" {
			return invalid("store.s3.bucket", "bucket is required for the s3 backend")
		}
	case store.BackendMinIO:
		if c.Store.MinIO.Endpoint == "" || c.Store.MinIO.Bucket == "" {
			return invalid("store.minio", "endpoint and bucket are required for the minio backend")
		}
	default:
		return invalid("store.backend", "unknown store backend: %s", c.Store.Backend)
	}

	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("api.base_url", "base_url must be an absolute http(s) URL: %s", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		return invalid("api.timeout", "timeout must be greater than 0")
	}

	if c.Server.Enabled && c.Server.Address == "" {
		return invalid("server.address", "address is required when the server is enabled")
	}
	if c.Monitoring.Metrics.Enabled && !strings.HasPrefix(c.Monitoring.Metrics.Path, "/") {
		return invalid("monitoring.metrics.path", "metrics path must start with /: %s", c.Monitoring.Metrics.Path)
	}

	return nil
}
