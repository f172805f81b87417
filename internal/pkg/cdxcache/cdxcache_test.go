package cdxcache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_GetPut(t *testing.T) {
	c := New(4, 0)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Put("a", []string{"20200101000000"})
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []string{"20200101000000"}, v)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New(3, 0)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	// 触碰 a，使 b 成为最久未使用
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("d", 4)

	_, ok = c.Get("b")
	assert.False(t, ok, "b should be evicted")
	for _, key := range []string{"a", "c", "d"} {
		_, ok := c.Get(key)
		assert.True(t, ok, "%s should survive", key)
	}
	assert.Equal(t, 3, c.Len())
}

func TestCache_PutOverwrites(t *testing.T) {
	c := New(2, 0)
	c.Put("a", 1)
	c.Put("a", 2)
	assert.Equal(t, 1, c.Len())

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestCache_NeverExceedsCapacity(t *testing.T) {
	c := New(8, 0)
	for i := 0; i < 100; i++ {
		c.Put(fmt.Sprintf("key-%d", i), i)
		assert.LessOrEqual(t, c.Len(), 8)
	}
	assert.Equal(t, 8, c.Len())
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New(4, 10*time.Millisecond)
	c.Put("a", 1)

	_, ok := c.Get("a")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_Stats(t *testing.T) {
	c := New(2, 0)
	c.Put("a", 1)
	c.Get("a")
	c.Get("nope")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 2, stats.Capacity)
}

func TestCache_InvalidateAndClear(t *testing.T) {
	c := New(4, 0)
	c.Put("a", 1)
	c.Put("b", 2)

	c.Invalidate("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
}
