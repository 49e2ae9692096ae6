package devserver

import (
	"sync"

	"github.com/glassboxhq/glassbox/internal/infrastructure/monitoring"
	"github.com/glassboxhq/glassbox/internal/shared/fingerprint"
)

// transformCache memoizes transform output per path, keyed by the source
// content's fingerprint so unchanged files are never re-transformed.
type transformCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	metrics *monitoring.Metrics
}

type cacheEntry struct {
	fingerprint string
	output      []byte
}

func newTransformCache(metrics *monitoring.Metrics) *transformCache {
	return &transformCache{
		entries: make(map[string]cacheEntry),
		metrics: metrics,
	}
}

// get returns the cached output for path when the stored fingerprint
// matches the current content.
func (c *transformCache) get(path string, content []byte) ([]byte, bool) {
	fp := fingerprint.Of(content)
	c.mu.RLock()
	entry, ok := c.entries[path]
	c.mu.RUnlock()
	if ok && entry.fingerprint == fp {
		if c.metrics != nil {
			c.metrics.CacheHits.Inc()
		}
		return entry.output, true
	}
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}
	return nil, false
}

func (c *transformCache) put(path string, content, output []byte) {
	c.mu.Lock()
	c.entries[path] = cacheEntry{fingerprint: fingerprint.Of(content), output: output}
	c.mu.Unlock()
}

func (c *transformCache) invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

func (c *transformCache) reset() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}
