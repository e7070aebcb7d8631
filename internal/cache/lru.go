package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRU is a bounded cache with per-entry TTL. It backs small read-mostly
// lookups (owner profiles) where staleness must be capped: an entry is
// served for at most ttl after its last Set, regardless of how often it is
// read. Expired entries are dropped lazily, on the read that finds them or
// when a Set reclaims space.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[K]*list.Element
	order    *list.List // front = most recently used
	clock    func() time.Time
}

type entry[K comparable, V any] struct {
	key     K
	value   V
	staleAt time.Time
}

func NewLRU[K comparable, V any](capacity int, ttl time.Duration) *LRU[K, V] {
	return &LRU[K, V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[K]*list.Element, capacity),
		order:    list.New(),
		clock:    time.Now,
	}
}

// Get returns the cached value for key. A hit refreshes recency but never
// the TTL.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		return zero, false
	}
	e := elem.Value.(*entry[K, V])
	if !c.clock().Before(e.staleAt) {
		c.remove(elem)
		return zero, false
	}
	c.order.MoveToFront(elem)
	return e.value, true
}

// Set stores value under key with a fresh TTL.
func (c *LRU[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	staleAt := c.clock().Add(c.ttl)
	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry[K, V])
		e.value = value
		e.staleAt = staleAt
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		c.reclaim()
	}
	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value, staleAt: staleAt})
}

// Delete drops key if present.
func (c *LRU[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.remove(elem)
	}
}

func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// reclaim frees one slot: expired entries anywhere in the list go first,
// then the least recently used survivor.
func (c *LRU[K, V]) reclaim() {
	now := c.clock()
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if !now.Before(elem.Value.(*entry[K, V]).staleAt) {
			c.remove(elem)
			return
		}
		elem = prev
	}
	if oldest := c.order.Back(); oldest != nil {
		c.remove(oldest)
	}
}

func (c *LRU[K, V]) remove(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*entry[K, V]).key)
}
