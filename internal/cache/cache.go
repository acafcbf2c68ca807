package cache

import (
	"crypto/sha256"
	"fmt"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache holds raw expert responses for a bounded time.
type Cache struct {
	store   *gocache.Cache
	ttl     time.Duration
	enabled bool

	hits   atomic.Int64
	misses atomic.Int64
}

// Stats describes cache usage since creation.
type Stats struct {
	Enabled bool          `json:"enabled"`
	Entries int           `json:"entries"`
	Hits    int64         `json:"hits"`
	Misses  int64         `json:"misses"`
	TTL     time.Duration `json:"ttl"`
}

// New creates a cache. A non-positive ttl disables expiry.
func New(enabled bool, ttl time.Duration) *Cache {
	if !enabled {
		return &Cache{}
	}
	exp := ttl
	cleanup := ttl * 2
	if ttl <= 0 {
		exp = gocache.NoExpiration
		cleanup = 0
	}
	return &Cache{
		store:   gocache.New(exp, cleanup),
		ttl:     ttl,
		enabled: true,
	}
}

// Get retrieves a cached response by key. Returns ("", false) on miss.
func (c *Cache) Get(key string) (string, bool) {
	if c == nil || !c.enabled {
		return "", false
	}
	v, ok := c.store.Get(key)
	if !ok {
		c.misses.Add(1)
		return "", false
	}
	c.hits.Add(1)
	s, _ := v.(string)
	return s, true
}

// Put stores a response.
func (c *Cache) Put(key, response string) {
	if c == nil || !c.enabled {
		return
	}
	c.store.SetDefault(key, response)
}

// Clear removes all entries.
func (c *Cache) Clear() {
	if c == nil || !c.enabled {
		return
	}
	c.store.Flush()
}

// Stats returns current usage counters.
func (c *Cache) Stats() Stats {
	if c == nil || !c.enabled {
		return Stats{}
	}
	return Stats{
		Enabled: true,
		Entries: c.store.ItemCount(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		TTL:     c.ttl,
	}
}

// Enabled returns whether caching is enabled.
func (c *Cache) Enabled() bool {
	return c != nil && c.enabled
}

// HashKey creates a SHA-256 hash of the given key material.
func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h)
}

// BuildCacheKey creates a cache key from the expert call inputs.
func BuildCacheKey(provider, model, expert, diff string) string {
	return HashKey(fmt.Sprintf("%s:%s:%s:%s", provider, model, expert, diff))
}
