package enrich

import (
	"sync"
	"sync/atomic"
	"time"
)

// TimestampCache maps block numbers to block times for one enrichment run.
// Writers may race on the same block; the values are identical so the last
// write wins.
type TimestampCache struct {
	entries sync.Map // uint64 -> time.Time
	size    atomic.Int64
}

// NewTimestampCache creates an empty cache
func NewTimestampCache() *TimestampCache {
	return &TimestampCache{}
}

// Get returns the cached time of a block
func (c *TimestampCache) Get(block uint64) (time.Time, bool) {
	v, ok := c.entries.Load(block)
	if !ok {
		return time.Time{}, false
	}
	return v.(time.Time), true
}

// Put stores the time of a block
func (c *TimestampCache) Put(block uint64, at time.Time) {
	if _, loaded := c.entries.Swap(block, at); !loaded {
		c.size.Add(1)
	}
}

// Len returns the number of cached blocks
func (c *TimestampCache) Len() int {
	return int(c.size.Load())
}
