package cache

import (
	"encoding/json"
	"sort"
	"time"
)

// Entry is one cached value and its metadata. Timestamp and TTL are in
// milliseconds.
type Entry struct {
	Data      any      `json:"data"`
	Timestamp int64    `json:"timestamp"`
	TTL       int64    `json:"ttl"`
	Version   string   `json:"version"`
	Tags      []string `json:"tags"`

	// seq orders entries written in the same millisecond.
	seq uint64
}

// Expired reports whether the entry is no longer live at now (ms).
func (e *Entry) Expired(now int64) bool {
	return now-e.Timestamp >= e.TTL
}

// HasTag reports whether tag is in the entry's tag set.
func (e *Entry) HasTag(tag string) bool {
	i := sort.SearchStrings(e.Tags, tag)
	return i < len(e.Tags) && e.Tags[i] == tag
}

// storedEntry is the persisted form; Data stays raw until it is read.
type storedEntry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	TTL       int64           `json:"ttl"`
	Version   string          `json:"version"`
	Tags      []string        `json:"tags"`
}

func (s storedEntry) entry() *Entry {
	return &Entry{
		Data:      s.Data,
		Timestamp: s.Timestamp,
		TTL:       s.TTL,
		Version:   s.Version,
		Tags:      normalizeTags(s.Tags),
	}
}

// normalizeTags returns a sorted copy of tags without duplicates or empty
// strings. The result is never nil.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// millis rounds positive durations up to whole milliseconds so a
// sub-millisecond TTL still yields a live entry.
func millis(d time.Duration) int64 {
	ms := d.Milliseconds()
	if d > 0 && d%time.Millisecond != 0 {
		ms++
	}
	return ms
}
