package cancellation

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/rs/zerolog"

	"github.com/relaywatch/relaywatch/module"
	"github.com/relaywatch/relaywatch/module/component"
	"github.com/relaywatch/relaywatch/module/irrecoverable"
	"github.com/relaywatch/relaywatch/module/metrics"
	"github.com/relaywatch/relaywatch/module/util"
	"github.com/relaywatch/relaywatch/storage/codec"
)

type Config struct {
	// Capacity bounds the number of remembered cancellations; the oldest is evicted when full.
	Capacity int
	// Retention is how long a cancellation suppresses further CLOSE frames for the same id.
	Retention time.Duration
	// SweepInterval is the period of the age based sweep.
	SweepInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Capacity:      1000,
		Retention:     30 * time.Minute,
		SweepInterval: 5 * time.Minute,
	}
}

// Key identifies a cancelled subscription. Subscription ids are only meaningful per relay.
type Key struct {
	Relay          string
	SubscriptionID string
}

// Tracker remembers subscription ids the engine has sent CLOSE for because a relay delivered
// frames for a subscription the engine does not hold. A relay that keeps sending frames for such
// an id gets exactly one CLOSE per retention period.
type Tracker struct {
	*component.ComponentManager
	log     zerolog.Logger
	config  Config
	metrics module.CacheMetrics
	now     func() time.Time

	mu      sync.Mutex
	entries *simplelru.LRU[Key, int64] // cancellation time, unix nanoseconds
	version util.VersionTracker
}

var _ component.Component = (*Tracker)(nil)
var _ module.Snapshotter = (*Tracker)(nil)

func New(log zerolog.Logger, config Config, collector module.CacheMetrics) (*Tracker, error) {
	entries, err := simplelru.NewLRU[Key, int64](config.Capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create cancellation tracker: %w", err)
	}
	if config.SweepInterval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", config.SweepInterval)
	}

	t := &Tracker{
		log:     log.With().Str("component", "cancellation_tracker").Logger(),
		config:  config,
		metrics: collector,
		now:     time.Now,
		entries: entries,
		version: util.NewVersionTracker(),
	}
	t.ComponentManager = component.NewComponentManagerBuilder().
		AddWorker(t.sweepLoop).
		Build()
	return t, nil
}

// IsCancelled reports whether a CLOSE was sent for the subscription within the retention period.
func (t *Tracker) IsCancelled(relay string, subscriptionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cancelledAt, ok := t.entries.Peek(Key{Relay: relay, SubscriptionID: subscriptionID})
	if ok && !t.expired(cancelledAt) {
		t.metrics.CacheHit(metrics.ResourceCancelledSubIDs)
		return true
	}
	t.metrics.CacheMiss(metrics.ResourceCancelledSubIDs)
	return false
}

// RecordCancellation records the subscription as cancelled and reports whether the caller
// should send CLOSE. Of any number of concurrent calls for the same subscription, exactly one
// returns true; later calls return false until the entry expires or is evicted.
func (t *Tracker) RecordCancellation(relay string, subscriptionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := Key{Relay: relay, SubscriptionID: subscriptionID}
	if cancelledAt, ok := t.entries.Peek(key); ok && !t.expired(cancelledAt) {
		return false
	}

	t.entries.Add(key, t.now().UnixNano())
	t.version.Bump()
	t.metrics.CacheEntries(metrics.ResourceCancelledSubIDs, uint(t.entries.Len()))
	return true
}

// Sweep removes every cancellation older than the retention period and returns how many were
// removed.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	// keys are ordered oldest first, and insertion order equals cancellation time order
	for _, key := range t.entries.Keys() {
		cancelledAt, _ := t.entries.Peek(key)
		if !t.expired(cancelledAt) {
			break
		}
		t.entries.Remove(key)
		removed++
	}
	if removed > 0 {
		t.version.Bump()
		t.metrics.CacheEntries(metrics.ResourceCancelledSubIDs, uint(t.entries.Len()))
	}
	return removed
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries.Len()
}

func (t *Tracker) expired(cancelledAt int64) bool {
	return t.now().Sub(time.Unix(0, cancelledAt)) > t.config.Retention
}

func (t *Tracker) sweepLoop(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	ticker := time.NewTicker(t.config.SweepInterval)
	defer ticker.Stop()
	ready()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := t.Sweep(); removed > 0 {
				t.log.Debug().Int("removed", removed).Int("remaining", t.Len()).Msg("swept expired cancellations")
			}
		}
	}
}

func (t *Tracker) Dirty() bool {
	return t.version.Dirty()
}

func (t *Tracker) MarkPersisted(version uint64) {
	t.version.MarkPersisted(version)
}

type entry struct {
	Relay          string `cbor:"relay" msgpack:"relay"`
	SubscriptionID string `cbor:"sub" msgpack:"sub"`
	CancelledAt    int64  `cbor:"at" msgpack:"at"`
}

type snapshot struct {
	Entries []entry `cbor:"entries" msgpack:"entries"`
}

func (t *Tracker) EncodeSnapshot(enc codec.Codec) ([]byte, uint64, error) {
	t.mu.Lock()
	version := t.version.Current()
	keys := t.entries.Keys()
	snap := snapshot{Entries: make([]entry, 0, len(keys))}
	for _, key := range keys {
		cancelledAt, _ := t.entries.Peek(key)
		snap.Entries = append(snap.Entries, entry{Relay: key.Relay, SubscriptionID: key.SubscriptionID, CancelledAt: cancelledAt})
	}
	t.mu.Unlock()

	data, err := enc.Marshal(snap)
	if err != nil {
		return nil, 0, fmt.Errorf("could not encode cancellation snapshot: %w", err)
	}
	return data, version, nil
}

// RestoreSnapshot adds the unexpired cancellations of a snapshot that are not tracked yet.
func (t *Tracker) RestoreSnapshot(enc codec.Codec, data []byte) error {
	var snap snapshot
	if err := enc.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("could not decode cancellation snapshot: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.entries.Keys()
	currentTimes := make([]int64, len(current))
	for i, key := range current {
		currentTimes[i], _ = t.entries.Peek(key)
	}
	t.entries.Purge()

	for _, e := range snap.Entries {
		if t.expired(e.CancelledAt) {
			continue
		}
		t.entries.Add(Key{Relay: e.Relay, SubscriptionID: e.SubscriptionID}, e.CancelledAt)
	}
	for i, key := range current {
		t.entries.Add(key, currentTimes[i])
	}
	t.metrics.CacheEntries(metrics.ResourceCancelledSubIDs, uint(t.entries.Len()))
	return nil
}
