// Package aliascache provides an in-memory TTL cache for alias lookups.
//
// Both positive results (alias -> target) and negative results (alias
// known to be absent) are cached, with separate TTLs. Negative caching
// matters here because an MTA probes several tables for every recipient
// and most probes miss.
package aliascache

import (
	"sync"
	"time"

	"github.com/leapmail/mx/logger"
	"github.com/leapmail/mx/pkg/metrics"
)

// Entry is a cached lookup result.
type Entry struct {
	Value      string
	IsNegative bool
	ExpiresAt  time.Time
}

// Cache is a bounded TTL map of alias lookup results.
type Cache struct {
	mu          sync.RWMutex
	entries     map[string]*Entry
	positiveTTL time.Duration
	negativeTTL time.Duration
	maxSize     int

	stopCleanup    chan struct{}
	cleanupStopped chan struct{}
	stopped        bool
}

// New creates a cache and starts its background cleanup loop.
func New(positiveTTL, negativeTTL time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	c := &Cache{
		entries:        make(map[string]*Entry),
		positiveTTL:    positiveTTL,
		negativeTTL:    negativeTTL,
		maxSize:        maxSize,
		stopCleanup:    make(chan struct{}),
		cleanupStopped: make(chan struct{}),
	}
	go c.cleanupLoop()

	logger.Info("AliasCache: initialized", "positive_ttl", positiveTTL,
		"negative_ttl", negativeTTL, "max_size", maxSize)
	return c
}

// Get returns the cached result for key. found is false when the key is
// absent or expired; negative is true when the absence of the alias
// itself is the cached result.
func (c *Cache) Get(key string) (value string, negative bool, found bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.ExpiresAt) {
		metrics.LookupCacheMissesTotal.Inc()
		return "", false, false
	}
	metrics.LookupCacheHitsTotal.Inc()
	return entry.Value, entry.IsNegative, true
}

// Set stores a positive lookup result.
func (c *Cache) Set(key, value string) {
	c.store(key, &Entry{
		Value:     value,
		ExpiresAt: time.Now().Add(c.positiveTTL),
	})
}

// SetNegative records that key has no target.
func (c *Cache) SetNegative(key string) {
	c.store(key, &Entry{
		IsNegative: true,
		ExpiresAt:  time.Now().Add(c.negativeTTL),
	})
}

// Invalidate drops the entry for key, if any.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	metrics.LookupCacheSize.Set(float64(len(c.entries)))
	c.mu.Unlock()
}

func (c *Cache) store(key string, entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		if _, exists := c.entries[key]; !exists {
			c.evictOldestLocked()
		}
	}
	c.entries[key] = entry
	metrics.LookupCacheSize.Set(float64(len(c.entries)))
}

// evictOldestLocked removes the entry closest to expiry. Called with
// the write lock held.
func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestExpiry time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.ExpiresAt.Before(oldestExpiry) {
			oldestKey = k
			oldestExpiry = e.ExpiresAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Size returns the current number of cached entries.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop terminates the cleanup loop. Safe to call more than once.
func (c *Cache) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	close(c.stopCleanup)
	<-c.cleanupStopped
}

func (c *Cache) cleanupLoop() {
	defer close(c.cleanupStopped)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCleanup:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *Cache) removeExpired() {
	now := time.Now()

	c.mu.Lock()
	removed := 0
	for k, e := range c.entries {
		if now.After(e.ExpiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	metrics.LookupCacheSize.Set(float64(size))
	if removed > 0 {
		logger.Debug("AliasCache: removed expired entries", "count", removed, "remaining", size)
	}
}
