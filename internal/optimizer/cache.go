package optimizer

import (
	"sync"
	"time"

	"github.com/GoLogware/loggate/internal/model"
)

// messagePrefixLen bounds how much of the message participates in the
// cache key, so near-identical records with long payloads still dedupe.
const messagePrefixLen = 64

// cacheKey derives the deterministic key from (level, message prefix,
// service).
func cacheKey(rec *model.LogRecord) string {
	msg := rec.Message
	if len(msg) > messagePrefixLen {
		msg = msg[:messagePrefixLen]
	}
	return string(rec.Level) + "|" + msg + "|" + rec.Service
}

type cacheEntry struct {
	key       string
	timestamp time.Time
}

// ttlCache is a fixed-size TTL cache. Entries expire after the TTL
// regardless of access; overflow evicts the oldest entry. Guarded by
// its own mutex so parallel batch chunks can share it.
type ttlCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]*cacheEntry
	order      []string // insertion order, oldest first
}

func newTTLCache(ttl time.Duration, maxEntries int) *ttlCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &ttlCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]*cacheEntry, maxEntries),
	}
}

// hit reports whether key is present and fresh. Expired entries are
// dropped lazily on lookup.
func (c *ttlCache) hit(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return false
	}
	if now.Sub(entry.timestamp) > c.ttl {
		delete(c.entries, key)
		return false
	}
	return true
}

// put records key, evicting the oldest entry when at capacity.
func (c *ttlCache) put(key string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[key]; ok {
		entry.timestamp = now
		return
	}
	for len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = &cacheEntry{key: key, timestamp: now}
	c.order = append(c.order, key)
}

func (c *ttlCache) evictOldestLocked() {
	for len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if _, ok := c.entries[oldest]; ok {
			delete(c.entries, oldest)
			return
		}
		// Key already expired out of the map; keep scanning.
	}
}

// cleanup drops every expired entry; run on the janitor interval. The
// order queue is compacted in the same pass, otherwise keys that expire
// without ever hitting the capacity path accumulate there forever.
func (c *ttlCache) cleanup(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, entry := range c.entries {
		if now.Sub(entry.timestamp) > c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 || len(c.order) > len(c.entries) {
		kept := c.order[:0]
		for _, key := range c.order {
			if _, ok := c.entries[key]; ok {
				kept = append(kept, key)
			}
		}
		c.order = kept
	}
	return removed
}

func (c *ttlCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
