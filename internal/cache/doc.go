/*
Package cache provides the tag-aware, TTL-based key/value cache shared by
every CampaignMaster component that reads backend data.

# Entries

Each value is stored in an Entry together with its write time, its TTL
(both in milliseconds), the cache version it was written under, and a set
of tags. An entry is live while now - timestamp < ttl. Entry.Expired is the
only place that rule is evaluated.

# Manager

Manager owns the in-memory index and exposes the cache operations:

	m := cache.New(&cache.Config{DefaultTTL: 5 * time.Minute, MaxEntries: 1000},
		cache.WithStore(adapter),
		cache.WithLogger(logger),
	)
	defer m.Close()

	m.Set("campaigns:list", campaigns, cache.WithTags("campaigns"))
	if v, ok := cache.GetAs[[]Campaign](m, "campaigns:list"); ok {
		...
	}
	m.InvalidateByTag("campaigns")

Reads of an expired entry return a miss and drop the entry from memory.
Writes, deletes and invalidations schedule a snapshot write; the snapshot
is written by a single background goroutine so callers never wait on the
store.

# Eviction

A sweep removes every expired entry, then, while the index holds more than
MaxEntries, removes the entry with the oldest write time. Access recency is
not tracked. Sweeps run on SweepInterval and inline from Set whenever a
write takes the index over capacity.

# Persistence

The whole index is written as one JSON document under StorageKey through a
Store. At construction the document is read back and only entries written
under the same Version that are still live are kept. Store failures are
handled by the Store; the Manager never returns them.

Values restored from a snapshot are held as json.RawMessage until read;
GetAs decodes them into the requested type.

# Package-level functions

SetCache, GetCache, HasCache, InvalidateCache and InvalidateCacheByTag
operate on the Manager installed with SetDefault. Components that can take
a *Manager directly should do so.
*/
package cache
