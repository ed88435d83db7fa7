package watcher

import (
	"time"

	"github.com/relaywatch/relaywatch/engine/router"
	"github.com/relaywatch/relaywatch/module/cancellation"
	"github.com/relaywatch/relaywatch/module/eventcache"
	"github.com/relaywatch/relaywatch/module/health"
	"github.com/relaywatch/relaywatch/module/subscriptions"
	"github.com/relaywatch/relaywatch/network/relay"
	"github.com/relaywatch/relaywatch/storage/codec"
	"github.com/relaywatch/relaywatch/storage/compressor"
)

type Config struct {
	Relay         relay.Config
	Router        router.Config
	Subscriptions subscriptions.Config
	Health        health.Config
	Cancellation  cancellation.Config
	Persister     PersisterConfig

	// EventCacheCapacity bounds the number of remembered event ids.
	EventCacheCapacity int
	// UserAgent is sent with every websocket handshake.
	UserAgent string
}

func DefaultConfig() Config {
	return Config{
		Relay:              relay.DefaultConfig(),
		Router:             router.DefaultConfig(),
		Subscriptions:      subscriptions.DefaultConfig(),
		Health:             health.DefaultConfig(),
		Cancellation:       cancellation.DefaultConfig(),
		Persister:          DefaultPersisterConfig(),
		EventCacheCapacity: eventcache.DefaultCapacity,
		UserAgent:          "relaywatch",
	}
}

type PersisterConfig struct {
	// Codec names the snapshot encoding, see codec.ByName.
	Codec string
	// Compression names the compressor applied to encoded snapshots, see compressor.ByName.
	Compression string
	// FlushInterval is the period at which changed snapshots are written.
	FlushInterval time.Duration
	// BreakerFailures is the number of consecutive failed writes that open the circuit breaker.
	BreakerFailures uint32
	// BreakerCooldown is how long an open breaker rejects writes before trying again.
	BreakerCooldown time.Duration
}

func DefaultPersisterConfig() PersisterConfig {
	return PersisterConfig{
		Codec:           codec.NameCBOR,
		Compression:     compressor.NameSnappy,
		FlushInterval:   30 * time.Second,
		BreakerFailures: 3,
		BreakerCooldown: 2 * time.Minute,
	}
}
