package cache

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/campaignmaster/campaignmaster/pkg/utils"
)

// Manager is a TTL cache with tag invalidation and snapshot persistence.
// It is safe for concurrent use.
type Manager struct {
	cfg      Config
	store    Store
	logger   *utils.StructuredLogger
	recorder Recorder
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]*Entry
	seq     uint64

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	// pending is set when an entry was dropped without scheduling a
	// snapshot write; the next sweep writes one.
	pending atomic.Bool

	persistMu sync.Mutex
	dirty     chan struct{}
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Stats describes the current contents of a Manager.
type Stats struct {
	TotalEntries   int     `json:"total_entries"`
	ExpiredEntries int     `json:"expired_entries"`
	ValidEntries   int     `json:"valid_entries"`
	MemoryUsage    int64   `json:"memory_usage"`
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	Evictions      int64   `json:"evictions"`
	HitRate        float64 `json:"hit_rate"`
}

// New creates a Manager. A nil cfg uses DefaultConfig. When persistence is
// enabled and a store is set, the snapshot is loaded before New returns.
func New(cfg *Config, opts ...Option) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	m := &Manager{
		cfg:      cfg.withDefaults(),
		recorder: nopRecorder{},
		now:      time.Now,
		entries:  make(map[string]*Entry),
		dirty:    make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = utils.OrDefault(m.logger).WithComponent("cache").WithField("cache", m.cfg.Name)

	if m.persistent() {
		m.load()
		m.wg.Add(1)
		go m.persistLoop()
	}

	m.Sweep()

	if m.cfg.SweepInterval > 0 {
		m.wg.Add(1)
		go m.sweepLoop()
	}

	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

func (m *Manager) nowMillis() int64 {
	return m.now().UnixMilli()
}

// Set stores data under key, replacing any existing entry.
func (m *Manager) Set(key string, data any, opts ...EntryOption) {
	var o entryOptions
	for _, opt := range opts {
		opt(&o)
	}
	ttl := o.ttl
	if ttl <= 0 {
		ttl = m.cfg.DefaultTTL
	}

	m.mu.Lock()
	m.seq++
	m.entries[key] = &Entry{
		Data:      data,
		Timestamp: m.nowMillis(),
		TTL:       millis(ttl),
		Version:   m.cfg.Version,
		Tags:      normalizeTags(o.tags),
		seq:       m.seq,
	}
	var res SweepResult
	if len(m.entries) > m.cfg.MaxEntries {
		res = m.sweepLocked(key)
	}
	count := len(m.entries)
	m.mu.Unlock()

	m.recordSweep(res)
	m.recorder.RecordEntries(m.cfg.Name, count)
	m.markDirty()
}

// Get returns the live value stored under key. An expired entry is
// dropped from memory and reported as a miss.
func (m *Manager) Get(key string) (any, bool) {
	e, ok := m.lookup(key)
	if ok {
		m.hits.Add(1)
	} else {
		m.misses.Add(1)
	}
	m.recorder.RecordLookup(m.cfg.Name, ok)
	if !ok {
		return nil, false
	}
	return e.Data, true
}

// Has reports whether key holds a live entry. Lookup counters are not
// updated.
func (m *Manager) Has(key string) bool {
	_, ok := m.lookup(key)
	return ok
}

func (m *Manager) lookup(key string) (*Entry, bool) {
	now := m.nowMillis()

	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.Expired(now) {
		return e, true
	}

	m.mu.Lock()
	// The entry may have been replaced between the two locks.
	if cur, ok := m.entries[key]; ok && cur == e {
		delete(m.entries, key)
		m.pending.Store(true)
	}
	m.mu.Unlock()
	return nil, false
}

// Delete removes key and reports whether it was present.
func (m *Manager) Delete(key string) bool {
	m.mu.Lock()
	_, ok := m.entries[key]
	delete(m.entries, key)
	count := len(m.entries)
	m.mu.Unlock()

	if ok {
		m.recorder.RecordEntries(m.cfg.Name, count)
		m.markDirty()
	}
	return ok
}

// Clear drops every entry and persists the empty snapshot.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.entries = make(map[string]*Entry)
	m.mu.Unlock()

	m.recorder.RecordEntries(m.cfg.Name, 0)
	m.markDirty()
	m.logger.Debug("Cache cleared")
}

// InvalidateByTag removes every entry tagged with tag.
func (m *Manager) InvalidateByTag(tag string) int {
	return m.invalidate("tag", tag, func(_ string, e *Entry) bool {
		return e.HasTag(tag)
	})
}

// InvalidateByPattern removes every entry whose key contains pattern.
// The pattern is a literal substring.
func (m *Manager) InvalidateByPattern(pattern string) int {
	return m.invalidate("pattern", pattern, func(key string, _ *Entry) bool {
		return strings.Contains(key, pattern)
	})
}

// InvalidateByVersion removes every entry written under a version other
// than version.
func (m *Manager) InvalidateByVersion(version string) int {
	return m.invalidate("version", version, func(_ string, e *Entry) bool {
		return e.Version != version
	})
}

func (m *Manager) invalidate(kind, value string, match func(string, *Entry) bool) int {
	m.mu.Lock()
	removed := 0
	for key, e := range m.entries {
		if match(key, e) {
			delete(m.entries, key)
			removed++
		}
	}
	count := len(m.entries)
	m.mu.Unlock()

	if removed > 0 {
		m.recorder.RecordEntries(m.cfg.Name, count)
		m.markDirty()
	}
	m.logger.Debug("Cache invalidated", map[string]interface{}{
		kind:      value,
		"removed": removed,
	})
	return removed
}

// Stats returns entry counts and lookup counters.
func (m *Manager) Stats() Stats {
	now := m.nowMillis()

	m.mu.RLock()
	stats := Stats{TotalEntries: len(m.entries)}
	for key, e := range m.entries {
		if e.Expired(now) {
			stats.ExpiredEntries++
		}
		if data, err := json.Marshal(e); err == nil {
			stats.MemoryUsage += int64(len(key) + len(data))
		}
	}
	m.mu.RUnlock()

	stats.ValidEntries = stats.TotalEntries - stats.ExpiredEntries
	stats.Hits = m.hits.Load()
	stats.Misses = m.misses.Load()
	stats.Evictions = m.evictions.Load()
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// Keys returns the keys of live entries in sorted order.
func (m *Manager) Keys() []string {
	now := m.nowMillis()

	m.mu.RLock()
	keys := make([]string, 0, len(m.entries))
	for key, e := range m.entries {
		if !e.Expired(now) {
			keys = append(keys, key)
		}
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Tags returns the distinct tags of live entries in sorted order.
func (m *Manager) Tags() []string {
	now := m.nowMillis()

	m.mu.RLock()
	var tags []string
	for _, e := range m.entries {
		if !e.Expired(now) {
			tags = append(tags, e.Tags...)
		}
	}
	m.mu.RUnlock()

	return normalizeTags(tags)
}

// Close stops background work and writes a final snapshot.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
		err = m.Flush()
	})
	return err
}
