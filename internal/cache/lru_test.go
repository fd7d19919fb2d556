package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU_SetGet(t *testing.T) {
	c := NewLRU(time.Minute, 2)
	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU(time.Minute, 2)
	c.Set("a", 1)
	c.Set("b", 2)
	// touch "a" so "b" becomes least recently used
	_, _ = c.Get("a")
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "b should have been evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestLRU_ExpiresByTTL(t *testing.T) {
	c := NewLRU(time.Millisecond, 10)
	c.Set("a", 1)
	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestLRU_DeleteAndStats(t *testing.T) {
	c := NewLRU(time.Minute, 10)
	c.Set("a", 1)
	_, _ = c.Get("a")
	_, _ = c.Get("missing")
	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
}
