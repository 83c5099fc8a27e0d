package cache

import (
	"context"
	"encoding/json"
)

// GetAs returns the live value under key as a T. Values restored from a
// snapshot are decoded from JSON; a value that cannot be converted is
// reported as absent.
func GetAs[T any](m *Manager, key string) (T, bool) {
	v, ok := m.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	return convert[T](v)
}

func convert[T any](v any) (T, bool) {
	var out T
	if t, ok := v.(T); ok {
		return t, true
	}

	raw, ok := v.(json.RawMessage)
	if !ok {
		data, err := json.Marshal(v)
		if err != nil {
			return out, false
		}
		raw = data
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		var zero T
		return zero, false
	}
	return out, true
}

// Preload fetches a fresh value, stores it under key and returns it. The
// cache is not consulted first.
func Preload[T any](ctx context.Context, m *Manager, key string, fetch func(context.Context) (T, error), opts ...EntryOption) (T, error) {
	v, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	m.Set(key, v, opts...)
	return v, nil
}

// Refresh fetches a fresh value and stores it under key. If the fetch fails
// and key still holds a live value, that value is returned instead;
// otherwise the fetch error is returned unchanged.
func Refresh[T any](ctx context.Context, m *Manager, key string, fetch func(context.Context) (T, error), opts ...EntryOption) (T, error) {
	v, err := fetch(ctx)
	if err == nil {
		m.Set(key, v, opts...)
		return v, nil
	}

	if cached, ok := GetAs[T](m, key); ok {
		m.logger.Debug("Refresh failed, serving cached value", map[string]interface{}{
			"key":   key,
			"error": err,
		})
		return cached, nil
	}
	var zero T
	return zero, err
}
