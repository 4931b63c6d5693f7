package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLRUCache(t *testing.T) {
	t.Run("Should evict the least recently used entry", func(t *testing.T) {
		c := NewLRUCache[int](2)
		c.Put("a", 1)
		c.Put("b", 2)

		// Touch a so b becomes the oldest
		_, ok := c.Get("a")
		assert.True(t, ok)

		c.Put("c", 3)

		_, ok = c.Get("b")
		assert.False(t, ok)
		v, ok := c.Get("a")
		assert.True(t, ok)
		assert.Equal(t, 1, v)
		assert.Equal(t, 2, c.Len())
	})

	t.Run("Should update existing keys in place", func(t *testing.T) {
		c := NewLRUCache[string](2)
		c.Put("a", "old")
		c.Put("a", "new")

		v, ok := c.Get("a")
		assert.True(t, ok)
		assert.Equal(t, "new", v)
		assert.Equal(t, 1, c.Len())
	})

	t.Run("Should remove keys", func(t *testing.T) {
		c := NewLRUCache[int](2)
		c.Put("a", 1)
		c.Remove("a")
		c.Remove("missing")

		_, ok := c.Get("a")
		assert.False(t, ok)
		assert.Zero(t, c.Len())
	})

	t.Run("Should clamp capacity to one", func(t *testing.T) {
		c := NewLRUCache[int](0)
		c.Put("a", 1)
		c.Put("b", 2)
		assert.Equal(t, 1, c.Len())
	})
}
