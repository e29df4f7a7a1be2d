package tools

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/moolen/sleuth/internal/investigation"
)

// DefaultCacheSize is the number of results kept when caching is enabled.
const DefaultCacheSize = 256

// CacheStats represents cache statistics.
type CacheStats struct {
	Items   int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// ResultCache keeps successful tool results keyed by tool name and parameters.
type ResultCache struct {
	lru    *lru.Cache[string, investigation.ToolResult]
	hits   uint64
	misses uint64
}

// NewResultCache creates a cache holding up to size results.
func NewResultCache(size int) (*ResultCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, investigation.ToolResult](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	return &ResultCache{lru: c}, nil
}

// Get returns a cached result.
func (c *ResultCache) Get(key string) (investigation.ToolResult, bool) {
	res, ok := c.lru.Get(key)
	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return investigation.ToolResult{}, false
	}
	atomic.AddUint64(&c.hits, 1)
	return res, true
}

// Put stores a result. Failed results are ignored.
func (c *ResultCache) Put(key string, result investigation.ToolResult) {
	if !result.Success {
		return
	}
	c.lru.Add(key, result)
}

// Purge removes all entries.
func (c *ResultCache) Purge() {
	c.lru.Purge()
}

// Stats returns cache statistics.
func (c *ResultCache) Stats() CacheStats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)
	stats := CacheStats{Items: c.lru.Len(), Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}

// MakeKey builds a deterministic cache key from a tool name and its
// parameters. Parameter order does not matter.
func MakeKey(toolName string, params map[string]interface{}) string {
	h := sha256.New()
	h.Write([]byte(toolName))

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		paramBytes, _ := json.Marshal(params[k])
		h.Write(paramBytes)
	}

	return hex.EncodeToString(h.Sum(nil))
}
