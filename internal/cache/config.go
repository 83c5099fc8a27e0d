package cache

import (
	"time"

	"github.com/campaignmaster/campaignmaster/pkg/utils"
)

// Config holds Manager settings. They are fixed once the Manager is built.
// Name labels logs and metrics. A negative SweepInterval disables the
// background sweeper.
type Config struct {
	Name              string        `yaml:"name"`
	DefaultTTL        time.Duration `yaml:"default_ttl"`
	MaxEntries        int           `yaml:"max_entries"`
	Version           string        `yaml:"version"`
	EnablePersistence bool          `yaml:"enable_persistence"`
	StorageKey        string        `yaml:"storage_key"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:              "app",
		DefaultTTL:        5 * time.Minute,
		MaxEntries:        1000,
		Version:           "1.0.0",
		EnablePersistence: true,
		StorageKey:        "app-cache",
		SweepInterval:     time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Name == "" {
		c.Name = def.Name
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = def.DefaultTTL
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = def.MaxEntries
	}
	if c.Version == "" {
		c.Version = def.Version
	}
	if c.StorageKey == "" {
		c.StorageKey = def.StorageKey
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = def.SweepInterval
	}
	return c
}

// Store persists the snapshot document. Implementations report failure
// through the boolean results and must not panic.
type Store interface {
	Load(key string, v any) bool
	Save(key string, v any) bool
	Remove(key string)
}

// Eviction reasons passed to Recorder.RecordEviction.
const (
	ReasonExpired  = "expired"
	ReasonCapacity = "capacity"
)

// Recorder receives cache metrics.
type Recorder interface {
	RecordLookup(cache string, hit bool)
	RecordEviction(cache, reason string, count int)
	RecordEntries(cache string, count int)
	RecordPersist(cache string, success bool, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordLookup(string, bool)                 {}
func (nopRecorder) RecordEviction(string, string, int)        {}
func (nopRecorder) RecordEntries(string, int)                 {}
func (nopRecorder) RecordPersist(string, bool, time.Duration) {}

// Option configures a Manager.
type Option func(*Manager)

// WithStore sets the snapshot store. Without one the Manager is purely
// in-memory even when EnablePersistence is set.
func WithStore(s Store) Option {
	return func(m *Manager) {
		m.store = s
	}
}

// WithLogger sets the Manager logger.
func WithLogger(l *utils.StructuredLogger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithRecorder reports metrics to r.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// EntryOption configures a single Set.
type EntryOption func(*entryOptions)

type entryOptions struct {
	ttl  time.Duration
	tags []string
}

// WithTTL overrides the default TTL. Non-positive values use the default.
func WithTTL(ttl time.Duration) EntryOption {
	return func(o *entryOptions) {
		o.ttl = ttl
	}
}

// WithTags attaches tags to the entry.
func WithTags(tags ...string) EntryOption {
	return func(o *entryOptions) {
		o.tags = append(o.tags, tags...)
	}
}
