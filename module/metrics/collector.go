package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector bundles every collector of the engine, registered on a single registerer.
type Collector struct {
	*RelayCollector
	*SubscriptionCollector
	*HealthCollector
	*CacheCollector
	*PersistenceCollector
}

func NewCollector(registerer prometheus.Registerer) *Collector {
	return &Collector{
		RelayCollector:        NewRelayCollector(registerer),
		SubscriptionCollector: NewSubscriptionCollector(registerer),
		HealthCollector:       NewHealthCollector(registerer),
		CacheCollector:        NewCacheCollector(registerer),
		PersistenceCollector:  NewPersistenceCollector(registerer),
	}
}
