package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_Deterministic(t *testing.T) {
	k1 := Key("ioc_extraction", "report body", "openai", "gpt-4o")
	k2 := Key("ioc_extraction", "report body", "openai", "gpt-4o")
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 32)
}

func TestKey_VariesByDimension(t *testing.T) {
	base := Key("summary", "payload", "openai", "gpt-4o")
	assert.NotEqual(t, base, Key("ioc_extraction", "payload", "openai", "gpt-4o"))
	assert.NotEqual(t, base, Key("summary", "other payload", "openai", "gpt-4o"))
	assert.NotEqual(t, base, Key("summary", "payload", "anthropic", "gpt-4o"))
	assert.NotEqual(t, base, Key("summary", "payload", "openai", "gpt-4.1"))
}

func TestKey_PayloadTruncatedAt500(t *testing.T) {
	prefix := strings.Repeat("a", 500)
	k1 := Key("summary", prefix+"tail one", "openai", "gpt-4o")
	k2 := Key("summary", prefix+"completely different tail", "openai", "gpt-4o")
	assert.Equal(t, k1, k2)
}

func TestCache_GetSet(t *testing.T) {
	c := New(10, time.Hour)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("k", "v")
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	hits, misses, size := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, 1, size)
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New(10, time.Minute)
	current := time.Unix(1000, 0)
	c.now = func() time.Time { return current }

	c.Set("k", "v")
	_, ok := c.Get("k")
	assert.True(t, ok)

	current = current.Add(2 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)

	_, _, size := c.Stats()
	assert.Equal(t, 0, size)
}

func TestCache_LRUEviction(t *testing.T) {
	c := New(2, time.Hour)

	c.Set("a", "1")
	c.Set("b", "2")

	// touch "a" so "b" becomes the eviction candidate
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("c", "3")

	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestCache_SetRefreshesExisting(t *testing.T) {
	c := New(2, time.Hour)
	c.Set("k", "old")
	c.Set("k", "new")

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "new", got)

	_, _, size := c.Stats()
	assert.Equal(t, 1, size)
}
