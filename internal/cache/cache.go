package cache

import (
	"sync"
	"time"
)

// entry is a single cached value with its insertion time and TTL
type entry struct {
	value      interface{}
	insertedAt time.Time
	ttl        time.Duration
}

// expired reports whether the entry is past its TTL at time t
func (e entry) expired(t time.Time) bool {
	return t.Sub(e.insertedAt) >= e.ttl
}

// Cache is an in-memory TTL cache for the dashboard read path. A miss never
// carries an error; callers fetch fresh on a miss.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry

	now  func() time.Time
	done chan struct{}
	once sync.Once
}

// New creates a cache and starts a background sweep at the given interval.
// A non-positive interval disables the sweep.
func New(sweepInterval time.Duration) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
		done:    make(chan struct{}),
	}

	if sweepInterval > 0 {
		ticker := time.NewTicker(sweepInterval)
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					c.Cleanup()
				case <-c.done:
					return
				}
			}
		}()
	}

	return c
}

// Get returns the value for key if present and fresh. An expired entry is
// evicted and reported as a miss.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if e.expired(c.now()) {
		c.mu.Lock()
		// re-check under the write lock; a Set may have replaced the entry
		if cur, ok := c.entries[key]; ok && cur.insertedAt.Equal(e.insertedAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with a per-entry TTL, replacing any existing entry
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, insertedAt: c.now(), ttl: ttl}
	c.mu.Unlock()
}

// Delete removes key from the cache
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Cleanup removes every expired entry
func (c *Cache) Cleanup() {
	t := c.now()
	c.mu.Lock()
	for key, e := range c.entries {
		if e.expired(t) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

// Len returns the number of entries currently held, fresh or expired
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop halts the background sweep. Safe to call more than once.
func (c *Cache) Stop() {
	c.once.Do(func() { close(c.done) })
}
