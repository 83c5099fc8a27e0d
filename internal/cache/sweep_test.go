package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSweep_EvictsOldestWrite(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, &Config{MaxEntries: 2}, clock)

	m.Set("k1", 1)
	clock.Advance(time.Millisecond)
	m.Set("k2", 2)
	clock.Advance(time.Millisecond)
	m.Set("k3", 3)

	m.Sweep()

	assert.False(t, m.Has("k1"))
	assert.True(t, m.Has("k2"))
	assert.True(t, m.Has("k3"))
	assert.Equal(t, []string{"k2", "k3"}, m.Keys())
}

func TestSweep_IgnoresReadRecency(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, &Config{MaxEntries: 2}, clock)

	m.Set("k1", 1)
	clock.Advance(time.Millisecond)
	m.Set("k2", 2)
	clock.Advance(time.Millisecond)

	// Reading k1 does not protect it.
	m.Get("k1")
	m.Set("k3", 3)

	assert.Equal(t, []string{"k2", "k3"}, m.Keys())
}

func TestSweep_ExpiredBeforeCapacity(t *testing.T) {
	clock := newFakeClock()
	rec := newRecordingRecorder()
	m := newTestManager(t, &Config{MaxEntries: 3}, clock, WithRecorder(rec))

	m.Set("old", 1)
	clock.Advance(time.Millisecond)
	m.Set("short", 2, WithTTL(5*time.Millisecond))
	clock.Advance(time.Millisecond)
	m.Set("new", 3)
	clock.Advance(10 * time.Millisecond)

	// Over capacity, but the expired entry makes room first.
	m.Set("newest", 4)

	assert.Equal(t, []string{"new", "newest", "old"}, m.Keys())
	assert.Equal(t, 1, rec.evictions[ReasonExpired])
	assert.Equal(t, 0, rec.evictions[ReasonCapacity])
}

func TestSweep_SameTimestampUsesWriteOrder(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, &Config{MaxEntries: 2}, clock)

	m.Set("first", 1)
	m.Set("second", 2)
	m.Set("third", 3)

	assert.Equal(t, []string{"second", "third"}, m.Keys())
}

func TestSweep_NeverEvictsKeyBeingWritten(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, &Config{MaxEntries: 2}, clock)

	clock.Advance(time.Hour)
	m.Set("k1", 1)
	m.Set("k2", 2)

	// A clock step backwards makes the new write the oldest.
	clock.Advance(-30 * time.Minute)
	m.Set("k3", 3)

	assert.True(t, m.Has("k3"))
	assert.False(t, m.Has("k1"))
	assert.Equal(t, 2, m.Stats().TotalEntries)
}

func TestSweep_Result(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, &Config{MaxEntries: 10}, clock)

	for _, key := range []string{"a", "b", "c"} {
		m.Set(key, key, WithTTL(time.Second))
	}
	m.Set("d", "d")
	clock.Advance(time.Second)

	res := m.Sweep()
	assert.Equal(t, SweepResult{Expired: 3, Evicted: 0, Remaining: 1}, res)
	assert.Equal(t, 3, res.Removed())
	assert.Equal(t, int64(3), m.Stats().Evictions)

	assert.Equal(t, SweepResult{Remaining: 1}, m.Sweep())
}

func TestSweep_BackgroundLoop(t *testing.T) {
	clock := newFakeClock()
	m := New(&Config{SweepInterval: 10 * time.Millisecond}, WithClock(clock.Now))
	defer m.Close()

	m.Set("k", 1, WithTTL(time.Second))
	clock.Advance(time.Second)

	assert.Eventually(t, func() bool {
		return m.Stats().TotalEntries == 0
	}, time.Second, 5*time.Millisecond)
}
