// Package store persists cache snapshots to a durable backend.
//
// A Backend moves raw bytes for a key. The Adapter sits on top of a Backend
// and speaks in values: it encodes them as JSON (optionally gzip compressed),
// retries transient failures, bounds every call with a timeout, and never
// returns an error to its caller. Failures are logged and reported as a
// false result so the in-memory cache keeps working when storage does not.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/campaignmaster/campaignmaster/pkg/errors"
	"github.com/campaignmaster/campaignmaster/pkg/retry"
	"github.com/campaignmaster/campaignmaster/pkg/utils"
)

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendS3     = "s3"
	BackendMinIO  = "minio"
)

// Backend reads and writes opaque snapshot bytes by key. Read returns an
// error carrying ErrCodeSnapshotNotFound when the key does not exist.
// Delete of a missing key is not an error.
type Backend interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Name() string
}

// Config selects and configures a backend plus the adapter around it.
type Config struct {
	Backend  string        `yaml:"backend"`
	Dir      string        `yaml:"dir"`
	Timeout  time.Duration `yaml:"timeout"`
	Compress bool          `yaml:"compress"`
	Retry    retry.Config  `yaml:"retry"`
	S3       S3Config      `yaml:"s3"`
	MinIO    MinIOConfig   `yaml:"minio"`
}

// DefaultConfig returns an in-memory store with a 5s operation timeout.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendMemory,
		Dir:     "./data",
		Timeout: 5 * time.Second,
		Retry:   retry.DefaultConfig(),
	}
}

// NewBackend builds the backend named by cfg.Backend.
func NewBackend(ctx context.Context, cfg *Config, logger *utils.StructuredLogger) (Backend, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	switch strings.ToLower(cfg.Backend) {
	case "", BackendMemory:
		return NewMemoryBackend(), nil
	case BackendFile:
		return NewOSBackend(cfg.Dir)
	case BackendS3:
		return NewS3Backend(ctx, cfg.S3, logger)
	case BackendMinIO:
		return NewMinIOBackend(cfg.MinIO)
	default:
		return nil, errors.NewError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("unknown store backend %q", cfg.Backend)).
			WithComponent("store")
	}
}

// New builds the configured backend and wraps it in an Adapter.
func New(ctx context.Context, cfg *Config, opts ...AdapterOption) (*Adapter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	a := NewAdapter(nil, cfg, opts...)
	backend, err := NewBackend(ctx, cfg, a.logger)
	if err != nil {
		return nil, err
	}
	a.backend = backend
	return a, nil
}

func notFound(backend, key string) error {
	return errors.NewError(errors.ErrCodeSnapshotNotFound, "snapshot not found").
		WithComponent("store").
		WithContext("backend", backend).
		WithContext("key", key)
}

// IsNotFound reports whether err means the key does not exist.
func IsNotFound(err error) bool {
	return errors.HasCode(err, errors.ErrCodeSnapshotNotFound)
}

func validateKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") || strings.HasPrefix(key, ".") {
		return errors.NewError(errors.ErrCodeInvalidKey, fmt.Sprintf("invalid storage key %q", key)).
			WithComponent("store")
	}
	return nil
}
