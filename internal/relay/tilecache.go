package relay

import (
	"math"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// TileCache is an in-memory tile store bounded by total byte size. Reads
// refresh recency and eviction removes the least recently touched entry
// until a new tile fits.
type TileCache struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, []byte]
	size     int64
	maxBytes int64
}

// NewTileCache returns an empty cache holding at most maxBytes of tile data.
func NewTileCache(maxBytes int64) *TileCache {
	// Entry count is unbounded in practice; the byte budget is enforced here.
	lru, err := simplelru.NewLRU[string, []byte](math.MaxInt32, nil)
	if err != nil {
		panic(err)
	}
	return &TileCache{lru: lru, maxBytes: maxBytes}
}

// Get returns the tile stored under key and marks it as most recently used.
func (c *TileCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(key)
}

// Put stores data under key, evicting old entries as needed. Tiles larger
// than the whole cache are not stored and Put reports false.
func (c *TileCache) Put(key string, data []byte) bool {
	n := int64(len(data))

	c.mu.Lock()
	defer c.mu.Unlock()

	if n > c.maxBytes {
		return false
	}
	if old, ok := c.lru.Peek(key); ok {
		c.lru.Remove(key)
		c.size -= int64(len(old))
	}
	c.evictLocked(c.maxBytes - n)
	c.lru.Add(key, data)
	c.size += n
	tileCacheBytes.Set(float64(c.size))
	return true
}

// Resize changes the byte budget, evicting entries if the cache shrank.
func (c *TileCache) Resize(maxBytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxBytes = maxBytes
	c.evictLocked(maxBytes)
}

// Len is the number of cached tiles.
func (c *TileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Bytes is the total size of cached tiles.
func (c *TileCache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Clear drops every entry.
func (c *TileCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.size = 0
	tileCacheBytes.Set(0)
}

func (c *TileCache) evictLocked(limit int64) {
	for c.size > limit {
		_, data, ok := c.lru.RemoveOldest()
		if !ok {
			c.size = 0
			return
		}
		c.size -= int64(len(data))
		tileEvictionsTotal.Inc()
	}
	tileCacheBytes.Set(float64(c.size))
}
