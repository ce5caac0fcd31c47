// Package cache provides the bounded LRU+TTL map shared by the embedding
// cache and the response cache. Eviction is LRU on write once the cache is
// full; expired entries are dropped on read and by EvictExpired sweeps.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Cache is a mutex-protected LRU with per-entry TTL. Get refreshes recency.
type Cache[V any] struct {
	mu      sync.Mutex
	cap     int
	ttl     time.Duration
	list    *list.List               // front = most recent
	entries map[string]*list.Element // key -> element
	now     func() time.Time
}

type entry[V any] struct {
	key        string
	value      V
	insertedAt time.Time
}

// New creates a cache holding at most capacity entries, each valid for ttl.
func New[V any](capacity int, ttl time.Duration) *Cache[V] {
	if capacity <= 0 {
		capacity = 1024
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache[V]{
		cap:     capacity,
		ttl:     ttl,
		list:    list.New(),
		entries: make(map[string]*list.Element, capacity),
		now:     time.Now,
	}
}

// Get returns the cached value and refreshes its recency. Expired entries are
// removed and reported as misses.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	ent := el.Value.(entry[V])
	if c.now().Sub(ent.insertedAt) > c.ttl {
		c.list.Remove(el)
		delete(c.entries, key)
		return zero, false
	}
	c.list.MoveToFront(el)
	return ent.value, true
}

// Put inserts or replaces a value, evicting the least recently used entry
// when the cache is full.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value = entry[V]{key: key, value: value, insertedAt: c.now()}
		c.list.MoveToFront(el)
		return
	}
	el := c.list.PushFront(entry[V]{key: key, value: value, insertedAt: c.now()})
	c.entries[key] = el
	if c.list.Len() > c.cap {
		lru := c.list.Back()
		if lru != nil {
			ent := lru.Value.(entry[V])
			delete(c.entries, ent.key)
			c.list.Remove(lru)
		}
	}
}

// EvictExpired removes all expired entries and returns how many were dropped.
func (c *Cache[V]) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	now := c.now()
	for el := c.list.Back(); el != nil; {
		prev := el.Prev()
		ent := el.Value.(entry[V])
		if now.Sub(ent.insertedAt) > c.ttl {
			c.list.Remove(el)
			delete(c.entries, ent.key)
			n++
		}
		el = prev
	}
	return n
}

// Clear drops every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list.Init()
	c.entries = make(map[string]*list.Element, c.cap)
}

// Size returns the current number of entries.
func (c *Cache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// StartSweeper evicts expired entries every interval until stop is closed.
func (c *Cache[V]) StartSweeper(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.EvictExpired()
			case <-stop:
				return
			}
		}
	}()
}
