package eventcache

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/relaywatch/relaywatch/module"
	"github.com/relaywatch/relaywatch/module/metrics"
	"github.com/relaywatch/relaywatch/module/util"
	"github.com/relaywatch/relaywatch/storage/codec"
)

// DefaultCapacity is the number of event ids remembered by default.
const DefaultCapacity = 10_000

// Cache remembers the ids of events that were already surfaced, so that an event delivered by
// several relays, or replayed from a relay's backlog after a reconnect, is forwarded only once.
// It has a fixed capacity and evicts the least recently seen id when full.
type Cache struct {
	mu      sync.Mutex
	entries *simplelru.LRU[string, int64] // event id -> unix time of insertion
	version util.VersionTracker
	metrics module.CacheMetrics
	now     func() time.Time
}

var _ module.Snapshotter = (*Cache)(nil)

func New(capacity int, collector module.CacheMetrics) (*Cache, error) {
	entries, err := simplelru.NewLRU[string, int64](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create event cache: %w", err)
	}
	return &Cache{
		entries: entries,
		version: util.NewVersionTracker(),
		metrics: collector,
		now:     time.Now,
	}, nil
}

// Seen records eventID and reports whether it was already present. For any id, exactly one
// of any number of concurrent calls returns false, until the id is evicted.
func (c *Cache) Seen(eventID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Get refreshes the recency of the id
	if _, ok := c.entries.Get(eventID); ok {
		c.metrics.CacheHit(metrics.ResourceEventCache)
		return true
	}

	c.entries.Add(eventID, c.now().Unix())
	c.version.Bump()
	c.metrics.CacheMiss(metrics.ResourceEventCache)
	c.metrics.CacheEntries(metrics.ResourceEventCache, uint(c.entries.Len()))
	return false
}

// Contains reports whether eventID is cached, without recording it or refreshing its recency.
func (c *Cache) Contains(eventID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Contains(eventID)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

func (c *Cache) Dirty() bool {
	return c.version.Dirty()
}

func (c *Cache) MarkPersisted(version uint64) {
	c.version.MarkPersisted(version)
}

type entry struct {
	ID         string `cbor:"id" msgpack:"id"`
	InsertedAt int64  `cbor:"t" msgpack:"t"`
}

type snapshot struct {
	// Entries are ordered from least to most recently seen.
	Entries []entry `cbor:"entries" msgpack:"entries"`
}

// EncodeSnapshot encodes the cached ids in recency order.
func (c *Cache) EncodeSnapshot(enc codec.Codec) ([]byte, uint64, error) {
	c.mu.Lock()
	version := c.version.Current()
	keys := c.entries.Keys()
	snap := snapshot{Entries: make([]entry, 0, len(keys))}
	for _, id := range keys {
		insertedAt, _ := c.entries.Peek(id)
		snap.Entries = append(snap.Entries, entry{ID: id, InsertedAt: insertedAt})
	}
	c.mu.Unlock()

	data, err := enc.Marshal(snap)
	if err != nil {
		return nil, 0, fmt.Errorf("could not encode event cache snapshot: %w", err)
	}
	return data, version, nil
}

// RestoreSnapshot adds the ids of a snapshot that are not cached yet. Restored ids are older
// than any id recorded since startup, so they are inserted as least recently seen; ids beyond
// the remaining capacity are dropped, oldest first.
func (c *Cache) RestoreSnapshot(enc codec.Codec, data []byte) error {
	var snap snapshot
	if err := enc.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("could not decode event cache snapshot: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// re-insert current entries after the restored ones to keep them most recent
	current := c.entries.Keys()
	currentTimes := make([]int64, len(current))
	for i, id := range current {
		currentTimes[i], _ = c.entries.Peek(id)
	}
	c.entries.Purge()

	for _, e := range snap.Entries {
		c.entries.Add(e.ID, e.InsertedAt)
	}
	for i, id := range current {
		c.entries.Add(id, currentTimes[i])
	}

	c.metrics.CacheEntries(metrics.ResourceEventCache, uint(c.entries.Len()))
	return nil
}
