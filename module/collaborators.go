package module

import (
	"time"

	"github.com/relaywatch/relaywatch/model/nostr"
)

// ConfigProvider supplies the subscription configs the engine should follow. Implementations
// own the configs; the engine only reads them.
type ConfigProvider interface {
	// EnabledConfigs returns the currently enabled subscription configs.
	EnabledConfigs() ([]nostr.SubscriptionConfig, error)
}

// NotificationSink receives every event that passed deduplication and filtering. Each event id
// reaches the sink at most once. Implementations must not block for long: they are called on the
// shared frame processing pool.
type NotificationSink interface {
	OnMatchedEvent(config nostr.SubscriptionConfig, event nostr.Event)
}

// PowerStatePolicy supplies the timing parameters that depend on the host's execution state.
type PowerStatePolicy interface {
	// PingInterval is the interval between keepalive pings on a connected relay.
	PingInterval() time.Duration
	// HealthThreshold is the inactivity period after which a connected relay is considered stale.
	HealthThreshold() time.Duration
	// HealthCheckInterval is the cadence of the periodic health check.
	HealthCheckInterval() time.Duration
}

// NotificationSinkFunc adapts a function to the NotificationSink interface.
type NotificationSinkFunc func(config nostr.SubscriptionConfig, event nostr.Event)

func (f NotificationSinkFunc) OnMatchedEvent(config nostr.SubscriptionConfig, event nostr.Event) {
	f(config, event)
}
