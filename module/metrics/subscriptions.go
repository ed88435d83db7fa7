package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/relaywatch/relaywatch/module"
)

type SubscriptionCollector struct {
	active    prometheus.Gauge
	matched   *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	cancelled *prometheus.CounterVec
	queued    *prometheus.GaugeVec
}

var _ module.SubscriptionMetrics = (*SubscriptionCollector)(nil)

func NewSubscriptionCollector(registerer prometheus.Registerer) *SubscriptionCollector {
	factory := promauto.With(registerer)
	return &SubscriptionCollector{
		active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceRelayWatch,
			Subsystem: subsystemSubscriptions,
			Name:      "active",
			Help:      "the number of (config, relay) subscriptions currently held",
		}),

		matched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceRelayWatch,
			Subsystem: subsystemSubscriptions,
			Name:      "events_matched_total",
			Help:      "the number of events forwarded to the notification sink, per config",
		}, []string{LabelConfigID}),

		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceRelayWatch,
			Subsystem: subsystemSubscriptions,
			Name:      "events_dropped_total",
			Help:      "the number of delivered events that were not forwarded, by reason",
		}, []string{LabelReason}),

		cancelled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceRelayWatch,
			Subsystem: subsystemSubscriptions,
			Name:      "cancelled_total",
			Help:      "the number of CLOSE frames sent for unknown subscription ids",
		}, []string{LabelRelay}),

		queued: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespaceRelayWatch,
			Subsystem: subsystemSubscriptions,
			Name:      "frame_queue_length",
			Help:      "the number of inbound frames waiting to be routed, per relay",
		}, []string{LabelRelay}),
	}
}

func (sc *SubscriptionCollector) ActiveSubscriptions(count int) {
	sc.active.Set(float64(count))
}

func (sc *SubscriptionCollector) EventMatched(configID string) {
	sc.matched.With(prometheus.Labels{LabelConfigID: configID}).Inc()
}

func (sc *SubscriptionCollector) EventDropped(reason string) {
	sc.dropped.With(prometheus.Labels{LabelReason: reason}).Inc()
}

func (sc *SubscriptionCollector) SubscriptionCancelled(relay string) {
	sc.cancelled.With(prometheus.Labels{LabelRelay: relay}).Inc()
}

func (sc *SubscriptionCollector) FrameQueueLength(relay string, length int) {
	sc.queued.With(prometheus.Labels{LabelRelay: relay}).Set(float64(length))
}

func (sc *SubscriptionCollector) FrameQueueRemoved(relay string) {
	sc.queued.Delete(prometheus.Labels{LabelRelay: relay})
}
