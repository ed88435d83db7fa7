package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/relaywatch/relaywatch/module"
)

type PersistenceCollector struct {
	writes   *prometheus.HistogramVec
	size     *prometheus.GaugeVec
	failures *prometheus.CounterVec
}

var _ module.PersistenceMetrics = (*PersistenceCollector)(nil)

func NewPersistenceCollector(registerer prometheus.Registerer) *PersistenceCollector {
	factory := promauto.With(registerer)
	return &PersistenceCollector{
		writes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespaceRelayWatch,
			Subsystem: subsystemStorage,
			Name:      "snapshot_write_seconds",
			Help:      "duration of snapshot writes",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{LabelKey}),

		size: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespaceRelayWatch,
			Subsystem: subsystemStorage,
			Name:      "snapshot_bytes",
			Help:      "size of the last persisted snapshot",
		}, []string{LabelKey}),

		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceRelayWatch,
			Subsystem: subsystemStorage,
			Name:      "snapshot_failures_total",
			Help:      "the number of failed snapshot writes",
		}, []string{LabelKey}),
	}
}

func (pc *PersistenceCollector) SnapshotPersisted(key string, size int, duration time.Duration) {
	pc.writes.With(prometheus.Labels{LabelKey: key}).Observe(duration.Seconds())
	pc.size.With(prometheus.Labels{LabelKey: key}).Set(float64(size))
}

func (pc *PersistenceCollector) SnapshotFailed(key string) {
	pc.failures.With(prometheus.Labels{LabelKey: key}).Inc()
}
