package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/relaywatch/relaywatch/module"
)

type HealthCollector struct {
	checkDuration prometheus.Histogram
	verdicts      *prometheus.CounterVec
}

var _ module.HealthMetrics = (*HealthCollector)(nil)

func NewHealthCollector(registerer prometheus.Registerer) *HealthCollector {
	factory := promauto.With(registerer)
	return &HealthCollector{
		checkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespaceRelayWatch,
			Subsystem: subsystemHealth,
			Name:      "check_duration_seconds",
			Help:      "duration of a health check over all relays",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),

		verdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceRelayWatch,
			Subsystem: subsystemHealth,
			Name:      "verdicts_total",
			Help:      "the number of health verdicts per relay",
		}, []string{LabelRelay, LabelVerdict}),
	}
}

func (hc *HealthCollector) HealthCheckCompleted(duration time.Duration) {
	hc.checkDuration.Observe(duration.Seconds())
}

func (hc *HealthCollector) RelayVerdict(relay string, verdict string) {
	hc.verdicts.With(prometheus.Labels{LabelRelay: relay, LabelVerdict: verdict}).Inc()
}
