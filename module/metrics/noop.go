package metrics

import (
	"time"

	"github.com/relaywatch/relaywatch/module"
)

type NoopCollector struct{}

func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

var _ module.RelayMetrics = (*NoopCollector)(nil)
var _ module.SubscriptionMetrics = (*NoopCollector)(nil)
var _ module.HealthMetrics = (*NoopCollector)(nil)
var _ module.CacheMetrics = (*NoopCollector)(nil)
var _ module.PersistenceMetrics = (*NoopCollector)(nil)

func (nc *NoopCollector) ConnectionState(relay string, state string)   {}
func (nc *NoopCollector) ConnectAttempt(relay string, success bool)    {}
func (nc *NoopCollector) FrameReceived(relay string, label string)     {}
func (nc *NoopCollector) FrameSent(relay string, label string)         {}
func (nc *NoopCollector) PongReceived(relay string, rtt time.Duration) {}
func (nc *NoopCollector) RelayRemoved(relay string)                    {}

func (nc *NoopCollector) ActiveSubscriptions(count int)             {}
func (nc *NoopCollector) EventMatched(configID string)              {}
func (nc *NoopCollector) EventDropped(reason string)                {}
func (nc *NoopCollector) SubscriptionCancelled(relay string)        {}
func (nc *NoopCollector) FrameQueueLength(relay string, length int) {}
func (nc *NoopCollector) FrameQueueRemoved(relay string)            {}

func (nc *NoopCollector) HealthCheckCompleted(duration time.Duration) {}
func (nc *NoopCollector) RelayVerdict(relay string, verdict string)   {}

func (nc *NoopCollector) CacheEntries(resource string, entries uint) {}
func (nc *NoopCollector) CacheHit(resource string)                   {}
func (nc *NoopCollector) CacheMiss(resource string)                  {}

func (nc *NoopCollector) SnapshotPersisted(key string, size int, duration time.Duration) {}
func (nc *NoopCollector) SnapshotFailed(key string)                                      {}
