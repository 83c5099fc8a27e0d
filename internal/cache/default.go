package cache

import "sync/atomic"

var defaultManager atomic.Pointer[Manager]

// SetDefault installs m as the Manager used by the package-level functions
// and returns the previous one. Passing nil uninstalls it.
func SetDefault(m *Manager) *Manager {
	return defaultManager.Swap(m)
}

// Default returns the installed Manager, or nil.
func Default() *Manager {
	return defaultManager.Load()
}

// SetCache stores data in the default Manager.
func SetCache(key string, data any, opts ...EntryOption) {
	if m := Default(); m != nil {
		m.Set(key, data, opts...)
	}
}

// GetCache reads key from the default Manager.
func GetCache(key string) (any, bool) {
	if m := Default(); m != nil {
		return m.Get(key)
	}
	return nil, false
}

// HasCache reports whether the default Manager holds a live entry for key.
func HasCache(key string) bool {
	if m := Default(); m != nil {
		return m.Has(key)
	}
	return false
}

// InvalidateCache removes entries whose key contains pattern.
func InvalidateCache(pattern string) int {
	if m := Default(); m != nil {
		return m.InvalidateByPattern(pattern)
	}
	return 0
}

// InvalidateCacheByTag removes entries tagged with tag.
func InvalidateCacheByTag(tag string) int {
	if m := Default(); m != nil {
		return m.InvalidateByTag(tag)
	}
	return 0
}
