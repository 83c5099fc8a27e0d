package cache

import (
	"sort"
	"time"
)

// SweepResult reports what a sweep removed.
type SweepResult struct {
	Expired   int `json:"expired"`
	Evicted   int `json:"evicted"`
	Remaining int `json:"remaining"`
}

// Removed is the total number of entries removed.
func (r SweepResult) Removed() int {
	return r.Expired + r.Evicted
}

// Sweep removes expired entries and then evicts the oldest writes until the
// index is back within MaxEntries. A snapshot write is scheduled when
// anything changed since the last one.
func (m *Manager) Sweep() SweepResult {
	m.mu.Lock()
	res := m.sweepLocked("")
	m.mu.Unlock()

	m.recordSweep(res)
	m.recorder.RecordEntries(m.cfg.Name, res.Remaining)

	if m.pending.Swap(false) || res.Removed() > 0 {
		m.markDirty()
	}
	if res.Removed() > 0 {
		m.logger.Debug("Cache swept", map[string]interface{}{
			"expired":   res.Expired,
			"evicted":   res.Evicted,
			"remaining": res.Remaining,
		})
	}
	return res
}

// sweepLocked applies the eviction policy. keep is never evicted for
// capacity. Callers hold m.mu.
func (m *Manager) sweepLocked(keep string) SweepResult {
	var res SweepResult
	now := m.nowMillis()

	for key, e := range m.entries {
		if e.Expired(now) {
			delete(m.entries, key)
			res.Expired++
		}
	}

	if over := len(m.entries) - m.cfg.MaxEntries; over > 0 {
		type candidate struct {
			key string
			e   *Entry
		}
		candidates := make([]candidate, 0, len(m.entries))
		for key, e := range m.entries {
			if key != keep {
				candidates = append(candidates, candidate{key, e})
			}
		}
		sort.Slice(candidates, func(i, j int) bool {
			a, b := candidates[i].e, candidates[j].e
			if a.Timestamp != b.Timestamp {
				return a.Timestamp < b.Timestamp
			}
			return a.seq < b.seq
		})
		for i := 0; i < over && i < len(candidates); i++ {
			delete(m.entries, candidates[i].key)
			res.Evicted++
		}
	}

	res.Remaining = len(m.entries)
	return res
}

func (m *Manager) recordSweep(res SweepResult) {
	if res.Expired > 0 {
		m.evictions.Add(int64(res.Expired))
		m.recorder.RecordEviction(m.cfg.Name, ReasonExpired, res.Expired)
	}
	if res.Evicted > 0 {
		m.evictions.Add(int64(res.Evicted))
		m.recorder.RecordEviction(m.cfg.Name, ReasonCapacity, res.Evicted)
	}
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.stopCh:
			return
		}
	}
}
