// Package pricecache is the single-writer, many-reader price map the router
// updates from spot events and everything else reads from.
package pricecache

import (
	"sync"
	"time"

	"github.com/palmoil/agent/internal/model"
)

// Cache holds the most recent valid Price per symbol id.
type Cache struct {
	mu     sync.RWMutex
	prices map[int64]model.Price
}

// New constructs an empty Cache.
func New() *Cache {
	return &Cache{prices: make(map[int64]model.Price)}
}

// Set stores p for symbolID if it is well-formed. Returns false if rejected.
func (c *Cache) Set(symbolID int64, p model.Price) bool {
	if !p.Valid() {
		return false
	}
	c.mu.Lock()
	c.prices[symbolID] = p
	c.mu.Unlock()
	return true
}

// Get returns the last valid price for symbolID, and whether one exists.
func (c *Cache) Get(symbolID int64) (model.Price, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[symbolID]
	return p, ok
}

// Stale reports whether the cached price for symbolID is older than maxAge,
// or absent entirely.
func (c *Cache) Stale(symbolID int64, maxAge time.Duration, now time.Time) bool {
	p, ok := c.Get(symbolID)
	if !ok {
		return true
	}
	if p.Timestamp.IsZero() {
		return false
	}
	return now.Sub(p.Timestamp) > maxAge
}
