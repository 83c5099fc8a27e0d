package cache

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaignmaster/campaignmaster/internal/store"
)

type countingStore struct {
	*store.Adapter

	mu    sync.Mutex
	saves int
	fail  bool
}

func (s *countingStore) Save(key string, v any) bool {
	s.mu.Lock()
	s.saves++
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return false
	}
	return s.Adapter.Save(key, v)
}

func (s *countingStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func persistentConfig(version string) *Config {
	return &Config{Version: version, EnablePersistence: true, StorageKey: "test-cache"}
}

func snapshotKeys(t *testing.T, a *store.Adapter) []string {
	t.Helper()
	raw := store.LoadOr(a, "test-cache", map[string]json.RawMessage{})
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	return normalizeTags(keys)
}

func TestPersist_RoundTrip(t *testing.T) {
	type campaign struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	clock := newFakeClock()
	backing := newMemoryStore()

	m1 := newTestManager(t, persistentConfig("1.0.0"), clock, WithStore(backing))
	m1.Set("campaigns", []campaign{{1, "spring"}}, WithTags("campaigns", "list"))
	m1.Set("count", 42)
	require.NoError(t, m1.Close())

	m2 := newTestManager(t, persistentConfig("1.0.0"), clock, WithStore(backing))

	got, ok := GetAs[[]campaign](m2, "campaigns")
	require.True(t, ok)
	assert.Equal(t, []campaign{{1, "spring"}}, got)

	n, ok := GetAs[int](m2, "count")
	require.True(t, ok)
	assert.Equal(t, 42, n)

	assert.Equal(t, []string{"campaigns", "list"}, m2.Tags())
	assert.Equal(t, 1, m2.InvalidateByTag("list"))
}

func TestPersist_VersionGate(t *testing.T) {
	clock := newFakeClock()
	backing := newMemoryStore()

	m1 := newTestManager(t, persistentConfig("1.0.0"), clock, WithStore(backing))
	m1.Set("k", "v1")
	require.NoError(t, m1.Close())

	m2 := newTestManager(t, persistentConfig("2.0.0"), clock, WithStore(backing))
	_, ok := m2.Get("k")
	assert.False(t, ok)
	require.NoError(t, m2.Close())

	assert.Empty(t, snapshotKeys(t, backing), "discarded entries are purged from the store")
}

func TestPersist_DropsExpiredOnLoad(t *testing.T) {
	clock := newFakeClock()
	backing := newMemoryStore()

	m1 := newTestManager(t, persistentConfig("1.0.0"), clock, WithStore(backing))
	m1.Set("short", 1, WithTTL(time.Second))
	m1.Set("long", 2, WithTTL(time.Hour))
	require.NoError(t, m1.Close())

	clock.Advance(time.Second)

	m2 := newTestManager(t, persistentConfig("1.0.0"), clock, WithStore(backing))
	assert.Equal(t, []string{"long"}, m2.Keys())
	require.NoError(t, m2.Flush())
	assert.Equal(t, []string{"long"}, snapshotKeys(t, backing))
}

func TestPersist_LoadEnforcesCapacity(t *testing.T) {
	clock := newFakeClock()
	backing := newMemoryStore()

	m1 := newTestManager(t, persistentConfig("1.0.0"), clock, WithStore(backing))
	for _, key := range []string{"a", "b", "c"} {
		m1.Set(key, key)
		clock.Advance(time.Millisecond)
	}
	require.NoError(t, m1.Close())

	cfg := persistentConfig("1.0.0")
	cfg.MaxEntries = 2
	m2 := newTestManager(t, cfg, clock, WithStore(backing))
	assert.Equal(t, []string{"b", "c"}, m2.Keys())
}

func TestPersist_WritesInBackground(t *testing.T) {
	backing := newMemoryStore()
	m := newTestManager(t, persistentConfig("1.0.0"), newFakeClock(), WithStore(backing))

	m.Set("k", 1)

	assert.Eventually(t, func() bool {
		return len(snapshotKeys(t, backing)) == 1
	}, time.Second, 5*time.Millisecond)

	assert.True(t, m.Delete("k"))
	assert.Eventually(t, func() bool {
		return len(snapshotKeys(t, backing)) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestPersist_LazyExpiryDefersWrite(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, persistentConfig("1.0.0"), clock, WithStore(newMemoryStore()))

	m.Set("k", 1, WithTTL(time.Second))
	clock.Advance(time.Second)

	_, ok := m.Get("k")
	assert.False(t, ok)
	assert.True(t, m.pending.Load(), "read path leaves the write to the next sweep")

	m.Sweep()
	assert.False(t, m.pending.Load())
}

func TestPersist_FailureKeepsMemoryState(t *testing.T) {
	backing := &countingStore{Adapter: newMemoryStore(), fail: true}
	rec := newRecordingRecorder()
	m := newTestManager(t, persistentConfig("1.0.0"), newFakeClock(), WithStore(backing), WithRecorder(rec))

	m.Set("k", 1)
	v, ok := m.Get("k")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	err := m.Flush()
	require.Error(t, err)
	assert.Positive(t, backing.saveCount())
	assert.True(t, m.Has("k"))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Positive(t, rec.failures)
}

func TestPersist_UnserializableValue(t *testing.T) {
	backing := newMemoryStore()
	m := newTestManager(t, persistentConfig("1.0.0"), newFakeClock(), WithStore(backing))

	m.Set("fn", func() {})

	assert.True(t, m.Has("fn"))
	assert.Error(t, m.Flush())
}

func TestPersist_Disabled(t *testing.T) {
	backing := &countingStore{Adapter: newMemoryStore()}
	m := newTestManager(t, &Config{EnablePersistence: false}, newFakeClock(), WithStore(backing))

	m.Set("k", 1)
	m.Clear()
	require.NoError(t, m.Flush())
	require.NoError(t, m.Close())

	assert.Equal(t, 0, backing.saveCount())
}

func TestPersist_CloseIsIdempotent(t *testing.T) {
	backing := &countingStore{Adapter: newMemoryStore()}
	m := New(persistentConfig("1.0.0"), WithStore(backing))

	m.Set("k", 1)
	require.NoError(t, m.Close())
	saves := backing.saveCount()
	require.NoError(t, m.Close())

	assert.Equal(t, saves, backing.saveCount())
	assert.Equal(t, []string{"k"}, snapshotKeys(t, backing.Adapter))
}
