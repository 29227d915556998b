package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLRUGetSet(t *testing.T) {
	c := NewLRU[int](2)

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("a", 1)
	c.Set("b", 2)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Len())
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU[int](2)
	c.Set("a", 1)
	c.Set("b", 2)

	// Touch "a" so "b" becomes the eviction candidate.
	_, _ = c.Get("a")
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestLRUUpdateExisting(t *testing.T) {
	c := NewLRU[int](2)
	c.Set("a", 1)
	c.Set("a", 10)

	v, _ := c.Get("a")
	assert.Equal(t, 10, v)
	assert.Equal(t, 1, c.Len())
}

func TestLRUClear(t *testing.T) {
	c := NewLRU[int](4)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Clear()
	assert.Zero(t, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}
