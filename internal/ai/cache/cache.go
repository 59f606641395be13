// Package cache provides a bounded in-memory cache for AI task responses.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Cache is a thread-safe LRU cache with per-entry TTL expiry.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	entries map[string]*list.Element
	order   *list.List // front = most recently used

	hits   int64
	misses int64

	now func() time.Time
}

type entry struct {
	key       string
	value     string
	expiresAt time.Time
}

// New creates a cache holding at most maxSize entries, each valid for ttl.
func New(maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		maxSize: maxSize,
		ttl:     ttl,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Key derives the cache key for a task invocation. Only the first 500 bytes
// of the payload participate, so near-identical reports with a shared prefix
// hash the same way the original pipeline expects.
func Key(task, payload, provider, model string) string {
	if len(payload) > 500 {
		payload = payload[:500]
	}
	sum := sha256.Sum256([]byte(task + payload + provider + model))
	return hex.EncodeToString(sum[:])[:32]
}

// Get returns the cached value for key if present and unexpired.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return "", false
	}

	ent := elem.Value.(*entry)
	if c.now().After(ent.expiresAt) {
		c.order.Remove(elem)
		delete(c.entries, key)
		c.misses++
		return "", false
	}

	c.order.MoveToFront(elem)
	c.hits++
	return ent.value, true
}

// Set stores a value, evicting the least recently used entry when full.
func (c *Cache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		ent := elem.Value.(*entry)
		ent.value = value
		ent.expiresAt = c.now().Add(c.ttl)
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			evicted := oldest.Value.(*entry)
			delete(c.entries, evicted.key)
			log.Debug().Str("key", evicted.key).Msg("Evicted LRU cache entry")
		}
	}

	c.entries[key] = c.order.PushFront(&entry{
		key:       key,
		value:     value,
		expiresAt: c.now().Add(c.ttl),
	})
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// Stats reports cumulative hit/miss counts and the current size.
func (c *Cache) Stats() (hits, misses int64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.order.Len()
}
