package cmd

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/relaywatch/relaywatch/engine/watcher"
)

const (
	// All constant strings are used for CLI flag names and corresponding keys for config values.
	// relay connections
	relayDialTimeout        = "relay-dial-timeout"
	relayWriteTimeout       = "relay-write-timeout"
	relayReadLimit          = "relay-read-limit"
	relayBackoffBase        = "relay-backoff-base"
	relayBackoffCap         = "relay-backoff-cap"
	relayBackoffJitter      = "relay-backoff-jitter-percent"
	relayMaxFramesPerSecond = "relay-max-frames-per-second"
	relayFrameBurst         = "relay-frame-burst"
	userAgent               = "user-agent"
	// frame processing
	routerWorkers       = "router-workers"
	routerQueueCapacity = "router-queue-capacity"
	// subscriptions
	safetyWindow = "subscription-safety-window"
	// deduplication and cancellations
	eventCacheCapacity    = "event-cache-capacity"
	cancellationCapacity  = "cancellation-capacity"
	cancellationRetention = "cancellation-retention"
	cancellationSweep     = "cancellation-sweep-interval"
	// health
	pongTimeout = "health-pong-timeout"
	deadAfter   = "health-dead-after"
	// persistence
	snapshotCodec       = "snapshot-codec"
	snapshotCompression = "snapshot-compression"
	flushInterval       = "snapshot-flush-interval"
	breakerFailures     = "snapshot-breaker-failures"
	breakerCooldown     = "snapshot-breaker-cooldown"
)

func AllFlagNames() []string {
	return []string{
		relayDialTimeout, relayWriteTimeout, relayReadLimit, relayBackoffBase, relayBackoffCap, relayBackoffJitter,
		relayMaxFramesPerSecond, relayFrameBurst, userAgent, routerWorkers, routerQueueCapacity, safetyWindow,
		eventCacheCapacity, cancellationCapacity, cancellationRetention, cancellationSweep, pongTimeout, deadAfter,
		snapshotCodec, snapshotCompression, flushInterval, breakerFailures, breakerCooldown,
	}
}

// InitializeEngineFlags initializes all CLI flags for the engine configuration on the provided pflag set.
// Args:
//
//	*pflag.FlagSet: the pflag set of the command.
//	watcher.Config: the default engine config used to set default values on the flags
func InitializeEngineFlags(flags *pflag.FlagSet, config watcher.Config) {
	flags.Duration(relayDialTimeout, config.Relay.DialTimeout, "timeout of a relay websocket handshake")
	flags.Duration(relayWriteTimeout, config.Relay.WriteTimeout, "timeout of a frame write to a relay")
	flags.Int64(relayReadLimit, config.Relay.ReadLimit, "maximum size in bytes of an inbound frame")
	flags.Duration(relayBackoffBase, config.Relay.BackoffBase, "delay before the first reconnect attempt")
	flags.Duration(relayBackoffCap, config.Relay.BackoffCap, "maximum delay between reconnect attempts")
	flags.Uint64(relayBackoffJitter, config.Relay.BackoffJitterPercent, "jitter applied to reconnect delays, in percent")
	flags.Float64(relayMaxFramesPerSecond, config.Relay.MaxFramesPerSecond, "outbound frames per second per relay, 0 for no limit")
	flags.Int(relayFrameBurst, config.Relay.FrameBurst, "outbound frame burst per relay")
	flags.String(userAgent, config.UserAgent, "user agent sent with relay handshakes")

	flags.Int(routerWorkers, config.Router.Workers, "number of goroutines processing inbound frames")
	flags.Int(routerQueueCapacity, config.Router.QueueCapacity, "inbound frames buffered per relay before dropping")

	flags.Duration(safetyWindow, config.Subscriptions.SafetyWindow, "how far back a new subscription asks for events")

	flags.Int(eventCacheCapacity, config.EventCacheCapacity, "number of event ids remembered for deduplication")
	flags.Int(cancellationCapacity, config.Cancellation.Capacity, "number of cancelled subscriptions remembered")
	flags.Duration(cancellationRetention, config.Cancellation.Retention, "how long a cancelled subscription is remembered")
	flags.Duration(cancellationSweep, config.Cancellation.SweepInterval, "interval between sweeps of expired cancellations")

	flags.Duration(pongTimeout, config.Health.PongTimeout, "how long a keepalive ping may stay unanswered")
	flags.Duration(deadAfter, config.Health.DeadAfter, "failure streak after which a relay is reported dead")

	flags.String(snapshotCodec, config.Persister.Codec, "snapshot encoding: cbor or msgpack")
	flags.String(snapshotCompression, config.Persister.Compression, "snapshot compression: snappy, gzip or none")
	flags.Duration(flushInterval, config.Persister.FlushInterval, "interval between snapshot flushes")
	flags.Uint32(breakerFailures, config.Persister.BreakerFailures, "consecutive failed writes that pause persistence, 0 to never pause")
	flags.Duration(breakerCooldown, config.Persister.BreakerCooldown, "how long persistence pauses after repeated failures")
}

// EngineConfig reads the engine configuration from the viper store, where flags and environment
// variables were bound.
func EngineConfig(v *viper.Viper) watcher.Config {
	config := watcher.DefaultConfig()

	config.Relay.DialTimeout = v.GetDuration(relayDialTimeout)
	config.Relay.WriteTimeout = v.GetDuration(relayWriteTimeout)
	config.Relay.ReadLimit = v.GetInt64(relayReadLimit)
	config.Relay.BackoffBase = v.GetDuration(relayBackoffBase)
	config.Relay.BackoffCap = v.GetDuration(relayBackoffCap)
	config.Relay.BackoffJitterPercent = v.GetUint64(relayBackoffJitter)
	config.Relay.MaxFramesPerSecond = v.GetFloat64(relayMaxFramesPerSecond)
	config.Relay.FrameBurst = v.GetInt(relayFrameBurst)
	config.UserAgent = v.GetString(userAgent)

	config.Router.Workers = v.GetInt(routerWorkers)
	config.Router.QueueCapacity = v.GetInt(routerQueueCapacity)

	config.Subscriptions.SafetyWindow = v.GetDuration(safetyWindow)

	config.EventCacheCapacity = v.GetInt(eventCacheCapacity)
	config.Cancellation.Capacity = v.GetInt(cancellationCapacity)
	config.Cancellation.Retention = v.GetDuration(cancellationRetention)
	config.Cancellation.SweepInterval = v.GetDuration(cancellationSweep)

	config.Health.PongTimeout = v.GetDuration(pongTimeout)
	config.Health.DeadAfter = v.GetDuration(deadAfter)

	config.Persister.Codec = v.GetString(snapshotCodec)
	config.Persister.Compression = v.GetString(snapshotCompression)
	config.Persister.FlushInterval = v.GetDuration(flushInterval)
	config.Persister.BreakerFailures = v.GetUint32(breakerFailures)
	config.Persister.BreakerCooldown = v.GetDuration(breakerCooldown)
	return config
}
