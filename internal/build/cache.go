package build

import (
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/golang/groupcache/lru"
	"golang.org/x/crypto/sha3"

	"github.com/cinder-lang/cinder/internal/buildcfg"
)

// Key addresses one unit's outputs by content: the same source text
// compiled under the same configuration always maps to the same key.
type Key string

// Fingerprint derives a unit's cache key from the build configuration
// and its source text. SHA3-256, like the ABI selectors.
func Fingerprint(cfg *buildcfg.Config, source []byte) Key {
	h := sha3.New256()
	io.WriteString(h, cfg.String())
	fmt.Fprintf(h, " inline-budget=%d\n", cfg.InlineBudget)
	h.Write(source)
	return Key(hex.EncodeToString(h.Sum(nil)))
}

// CacheStats counts cache traffic.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// Cache is a bounded, thread-safe artifact store. Watch-mode rebuilds
// consult it so units whose key is unchanged are served from memory
// instead of being recompiled. Entries are evicted least recently used.
type Cache struct {
	mu    sync.Mutex
	lru   *lru.Cache
	stats CacheStats
}

// NewCache returns a cache holding at most maxEntries outputs
// (<=0 selects 256).
func NewCache(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	c := &Cache{}
	c.lru = &lru.Cache{
		MaxEntries: maxEntries,
		OnEvicted:  func(lru.Key, interface{}) { c.stats.Evictions++ },
	}
	return c
}

// Get returns the cached output for a key.
func (c *Cache) Get(key Key) (*Output, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Get(key)
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	return v.(*Output), true
}

// Put stores a unit's output. The cache keeps the pointer, so callers
// must not mutate an Output after handing it over.
func (c *Cache) Put(key Key, out *Output) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, out)
}

// Invalidate drops a key, forcing the next build of that unit to run.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Len returns the number of cached outputs.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a snapshot of the traffic counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
