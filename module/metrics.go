package module

import (
	"time"
)

// RelayMetrics tracks connection level activity per relay.
// Implementations must be non-blocking and concurrency safe.
type RelayMetrics interface {
	// ConnectionState reports the state a relay endpoint transitioned to.
	ConnectionState(relay string, state string)
	// ConnectAttempt reports the outcome of a connection attempt.
	ConnectAttempt(relay string, success bool)
	// FrameReceived reports an inbound frame, labelled by frame label.
	FrameReceived(relay string, label string)
	// FrameSent reports an outbound frame, labelled by frame label.
	FrameSent(relay string, label string)
	// PongReceived reports the round trip time of a keepalive ping.
	PongReceived(relay string, rtt time.Duration)
	// RelayRemoved drops the per-relay series of a relay no config references anymore.
	RelayRemoved(relay string)
}

// SubscriptionMetrics tracks subscriptions and event delivery.
type SubscriptionMetrics interface {
	// ActiveSubscriptions reports the number of (config, relay) subscriptions currently held.
	ActiveSubscriptions(count int)
	// EventMatched reports an event that was forwarded to the notification sink.
	EventMatched(configID string)
	// EventDropped reports an event that was not forwarded, labelled by reason.
	EventDropped(reason string)
	// SubscriptionCancelled reports a CLOSE sent for an unknown subscription id.
	SubscriptionCancelled(relay string)
	// FrameQueueLength reports the number of inbound frames waiting to be routed for a relay.
	FrameQueueLength(relay string, length int)
	// FrameQueueRemoved drops the queue length series of a relay that is no longer routed.
	FrameQueueRemoved(relay string)
}

// HealthMetrics tracks the periodic health check.
type HealthMetrics interface {
	// HealthCheckCompleted reports the duration of a health check over all relays.
	HealthCheckCompleted(duration time.Duration)
	// RelayVerdict reports the verdict a health check reached for a relay.
	RelayVerdict(relay string, verdict string)
}

// CacheMetrics tracks bounded in-memory structures.
type CacheMetrics interface {
	// CacheEntries report the total number of cached items
	CacheEntries(resource string, entries uint)
	// CacheHit report the number of times the queried item is found in the cache
	CacheHit(resource string)
	// CacheMiss report the number of times the queried item is not found in the cache
	CacheMiss(resource string)
}

// PersistenceMetrics tracks snapshot writes to the key-value store.
type PersistenceMetrics interface {
	SnapshotPersisted(key string, size int, duration time.Duration)
	SnapshotFailed(key string)
}
