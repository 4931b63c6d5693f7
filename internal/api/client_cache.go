package api

import (
	"container/list"
	"sync"
)

// LRUCache is a thread-safe least-recently-used cache
type LRUCache[V any] struct {
	capacity int
	cache    map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
}

type cacheEntry[V any] struct {
	key   string
	value V
}

// NewLRUCache creates a cache holding at most capacity entries (minimum 1)
func NewLRUCache[V any](capacity int) *LRUCache[V] {
	if capacity < 1 {
		capacity = 1
	}
	return &LRUCache[V]{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Get retrieves a value and marks it most recently used
func (c *LRUCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.cache[key]; exists {
		c.lru.MoveToFront(elem)
		return elem.Value.(*cacheEntry[V]).value, true
	}
	var zero V
	return zero, false
}

// Put adds or updates a value, evicting the oldest entry at capacity
func (c *LRUCache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.cache[key]; exists {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry[V]).value = value
		return
	}

	if c.lru.Len() >= c.capacity {
		if oldest := c.lru.Back(); oldest != nil {
			c.lru.Remove(oldest)
			delete(c.cache, oldest.Value.(*cacheEntry[V]).key)
		}
	}

	c.cache[key] = c.lru.PushFront(&cacheEntry[V]{key: key, value: value})
}

// Remove evicts a key if present
func (c *LRUCache[V]) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.cache[key]; exists {
		c.lru.Remove(elem)
		delete(c.cache, key)
	}
}

// Len returns the current number of items in the cache
func (c *LRUCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
