// Package idempotency caches job submission responses by dedupe key so a
// duplicate submission can replay the prior response instead of re-running
// the job.
package idempotency

import (
	"sync"
	"time"
)

type entry struct {
	response  []byte
	createdAt time.Time
}

// Cache is a TTL-bounded, size-limited in-memory response cache.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	ttl        time.Duration
	maxEntries int
	stop       chan struct{}
}

// New creates a Cache that expires entries after ttl and evicts the oldest
// entry when maxEntries is exceeded. A background goroutine prunes expired
// entries every ttl/2.
func New(ttl time.Duration, maxEntries int) *Cache {
	c := &Cache{
		entries:    make(map[string]*entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		stop:       make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Key builds the cache key for a caller's dedupe key. Dedupe keys are scoped
// per user; two users may reuse the same key without colliding.
func Key(userID, dedupeKey string) string {
	return userID + "\x00" + dedupeKey
}

// Get returns the cached response if it exists and has not expired.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(e.createdAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.response, true
}

// Set stores a response under the given key. If the cache is at capacity,
// the oldest entry is evicted to make room.
func (c *Cache) Set(key string, response []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}

	c.entries[key] = &entry{
		response:  response,
		createdAt: time.Now(),
	}
}

// Stop terminates the background cleanup goroutine.
func (c *Cache) Stop() {
	close(c.stop)
}

func (c *Cache) cleanupLoop() {
	interval := c.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.prune()
		case <-c.stop:
			return
		}
	}
}

// prune removes all expired entries.
func (c *Cache) prune() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, e := range c.entries {
		if now.Sub(e.createdAt) > c.ttl {
			delete(c.entries, k)
		}
	}
}

// evictOldest removes the entry with the earliest createdAt. Caller must
// hold c.mu.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	first := true
	for k, e := range c.entries {
		if first || e.createdAt.Before(oldestTime) {
			oldestKey = k
			oldestTime = e.createdAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}
