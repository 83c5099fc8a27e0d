package cache

import (
	"sort"
	"time"

	"github.com/campaignmaster/campaignmaster/pkg/errors"
)

func (m *Manager) persistent() bool {
	return m.cfg.EnablePersistence && m.store != nil
}

// markDirty schedules a snapshot write. Concurrent requests collapse into
// one write.
func (m *Manager) markDirty() {
	if !m.persistent() {
		return
	}
	select {
	case m.dirty <- struct{}{}:
	default:
	}
}

func (m *Manager) persistLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.dirty:
			m.persist()
		case <-m.stopCh:
			return
		}
	}
}

// Flush writes the current snapshot synchronously.
func (m *Manager) Flush() error {
	if !m.persistent() {
		return nil
	}
	if !m.persist() {
		return errors.NewError(errors.ErrCodeSnapshotWrite, "cache snapshot was not saved").
			WithComponent("cache").
			WithOperation("flush").
			WithContext("storage_key", m.cfg.StorageKey)
	}
	return nil
}

func (m *Manager) persist() bool {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.RLock()
	snapshot := make(map[string]Entry, len(m.entries))
	for key, e := range m.entries {
		snapshot[key] = *e
	}
	m.mu.RUnlock()

	start := time.Now()
	ok := m.store.Save(m.cfg.StorageKey, snapshot)
	m.recorder.RecordPersist(m.cfg.Name, ok, time.Since(start))
	if !ok {
		m.logger.Warn("Cache snapshot not persisted; keeping in-memory state", map[string]interface{}{
			"entries": len(snapshot),
		})
	}
	return ok
}

// load restores live entries written under the configured version.
func (m *Manager) load() {
	var stored map[string]storedEntry
	if !m.store.Load(m.cfg.StorageKey, &stored) {
		return
	}

	keys := make([]string, 0, len(stored))
	for key := range stored {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := stored[keys[i]], stored[keys[j]]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return keys[i] < keys[j]
	})

	now := m.nowMillis()
	discarded := 0

	m.mu.Lock()
	for _, key := range keys {
		e := stored[key].entry()
		if e.Version != m.cfg.Version || e.Expired(now) {
			discarded++
			continue
		}
		m.seq++
		e.seq = m.seq
		m.entries[key] = e
	}
	loaded := len(m.entries)
	m.mu.Unlock()

	if discarded > 0 {
		m.pending.Store(true)
	}
	m.recorder.RecordEntries(m.cfg.Name, loaded)
	m.logger.Info("Cache snapshot loaded", map[string]interface{}{
		"loaded":    loaded,
		"discarded": discarded,
	})
}
