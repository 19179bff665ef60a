package logmeta

import (
	"time"

	"github.com/c360/dlog/pkg/cache"
)

// LogSegmentMetadata describes one storage segment of a log stream.
type LogSegmentMetadata struct {
	LogName    string `json:"log_name"`
	SegmentID  uint64 `json:"segment_id"`
	LedgerID   uint64 `json:"ledger_id"`
	FirstTxID  int64  `json:"first_tx_id"`
	LastTxID   int64  `json:"last_tx_id"`
	Inprogress bool   `json:"inprogress"`
}

// SegmentCache caches the segment list per log so readers avoid re-fetching
// segment metadata on every read. Entries age out on a TTL; the clock is
// injectable for tests.
type SegmentCache struct {
	ttl *cache.TTL[[]LogSegmentMetadata]
}

// NewSegmentCache creates a segment cache with the given entry TTL. A zero
// ttl disables expiry.
func NewSegmentCache(ttl time.Duration, opts ...cache.Option[[]LogSegmentMetadata]) *SegmentCache {
	return &SegmentCache{ttl: cache.NewTTL(ttl, opts...)}
}

// Get returns the cached segment list for a log.
func (c *SegmentCache) Get(logName string) ([]LogSegmentMetadata, bool) {
	return c.ttl.Get(logName)
}

// Put stores the segment list for a log, replacing any cached value.
func (c *SegmentCache) Put(logName string, segments []LogSegmentMetadata) {
	c.ttl.Set(logName, segments)
}

// Invalidate drops the cached segment list for a log.
func (c *SegmentCache) Invalidate(logName string) {
	c.ttl.Delete(logName)
}

// Size returns the number of cached logs, expired entries included.
func (c *SegmentCache) Size() int { return c.ttl.Size() }

// Clear drops every cached entry.
func (c *SegmentCache) Clear() { c.ttl.Clear() }

// Stats reports cache hit and miss counters.
func (c *SegmentCache) Stats() cache.Stats { return c.ttl.Stats() }
