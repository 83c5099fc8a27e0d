package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefault_NoManagerInstalled(t *testing.T) {
	prev := SetDefault(nil)
	defer SetDefault(prev)

	SetCache("k", 1)
	_, ok := GetCache("k")
	assert.False(t, ok)
	assert.False(t, HasCache("k"))
	assert.Equal(t, 0, InvalidateCache("k"))
	assert.Equal(t, 0, InvalidateCacheByTag("t"))
}

func TestDefault_FreeFunctions(t *testing.T) {
	m := newTestManager(t, nil, newFakeClock())
	prev := SetDefault(m)
	defer SetDefault(prev)

	assert.Same(t, m, Default())

	SetCache("campaigns:1", "spring", WithTags("campaigns"))
	SetCache("campaigns:2", "summer", WithTags("campaigns"))
	SetCache("providers", "gmail", WithTags("email"))

	v, ok := GetCache("campaigns:1")
	assert.True(t, ok)
	assert.Equal(t, "spring", v)
	assert.True(t, HasCache("providers"))

	assert.Equal(t, 1, InvalidateCache("campaigns:2"))
	assert.Equal(t, 1, InvalidateCacheByTag("campaigns"))
	assert.Equal(t, []string{"providers"}, m.Keys())
}
