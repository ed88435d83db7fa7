package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaywatch/relaywatch/module/metrics"
)

func TestRelayCollector_ConnectionState(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := metrics.NewRelayCollector(registry)

	collector.ConnectionState("wss://a.example", "connecting")
	collector.ConnectionState("wss://a.example", "connected")
	collector.ConnectionState("wss://b.example", "reconnecting")

	// one series per (relay, state)
	count, err := testutil.GatherAndCount(registry, "relaywatch_relay_connection_state")
	require.NoError(t, err)
	assert.Equal(t, 8, count)

	collector.RelayRemoved("wss://a.example")
	count, err = testutil.GatherAndCount(registry, "relaywatch_relay_connection_state")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestSubscriptionCollector_FrameQueueLength(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := metrics.NewSubscriptionCollector(registry)

	collector.FrameQueueLength("wss://a.example", 3)
	collector.FrameQueueLength("wss://a.example", 1)
	collector.FrameQueueLength("wss://b.example", 0)

	count, err := testutil.GatherAndCount(registry, "relaywatch_subscriptions_frame_queue_length")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	collector.FrameQueueRemoved("wss://a.example")
	count, err = testutil.GatherAndCount(registry, "relaywatch_subscriptions_frame_queue_length")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCollector_RegistersAllCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	collector.ConnectAttempt("wss://a.example", false)
	collector.FrameReceived("wss://a.example", "EVENT")
	collector.FrameSent("wss://a.example", "REQ")
	collector.PongReceived("wss://a.example", 20*time.Millisecond)
	collector.ActiveSubscriptions(3)
	collector.EventMatched("config-1")
	collector.EventDropped(metrics.DropReasonDuplicate)
	collector.SubscriptionCancelled("wss://a.example")
	collector.FrameQueueLength("wss://a.example", 2)
	collector.HealthCheckCompleted(time.Millisecond)
	collector.RelayVerdict("wss://a.example", "healthy")
	collector.CacheEntries(metrics.ResourceEventCache, 10)
	collector.CacheHit(metrics.ResourceEventCache)
	collector.CacheMiss(metrics.ResourceEventCache)
	collector.SnapshotPersisted("cursors", 128, time.Millisecond)
	collector.SnapshotFailed("cursors")

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 17)
}

func TestCollector_DuplicateRegistrationPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics.NewCollector(registry)
	assert.Panics(t, func() {
		metrics.NewCollector(registry)
	})
}
