// Package airspace classifies each snapshot against the special-use
// airspace polygons and tracks P-56 intrusions: the geofence engine, the
// intrusion tracker, the precompute pipeline, and the read cache the HTTP
// handlers serve from.
package airspace

import "sync"

// Read cache keys published by the pipeline each tick.
const (
	KeyAircraftList = "aircraft_list"
	KeySFRA         = "sfra"
	KeyFRZ          = "frz"
	KeyP56          = "p56"
	KeySystemStatus = "system_status"
)

// CacheEntry is one versioned payload.
type CacheEntry struct {
	Payload    interface{}
	ComputedAt float64
}

// ReadCache is the single shared read surface between the pipeline (sole
// writer) and the HTTP handlers. Entries are replaced whole, so readers
// never observe a partial publish.
type ReadCache struct {
	mu      sync.RWMutex
	entries map[string]CacheEntry
}

// NewReadCache creates an empty cache.
func NewReadCache() *ReadCache {
	return &ReadCache{entries: make(map[string]CacheEntry)}
}

// Publish replaces a batch of entries under one lock so a tick's bundle
// becomes visible atomically.
func (c *ReadCache) Publish(payloads map[string]interface{}, computedAt float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, payload := range payloads {
		c.entries[key] = CacheEntry{Payload: payload, ComputedAt: computedAt}
	}
}

// Get returns the entry for key. ok is false before the first publish of
// that key; the API surfaces that as "initializing".
func (c *ReadCache) Get(key string) (CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry, ok
}
