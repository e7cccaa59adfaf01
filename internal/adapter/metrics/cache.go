package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheMetrics tracks the user/patient lookup cache, by layer ("memory", "redis").
type CacheMetrics struct {
	Hits          *prometheus.CounterVec
	Misses        *prometheus.CounterVec
	Invalidations *prometheus.CounterVec
}

func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	m := &CacheMetrics{
		Hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lookup_cache",
			Name:      "hits_total",
			Help:      "Lookup cache hits, by layer.",
		}, []string{"layer"}),
		Misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lookup_cache",
			Name:      "misses_total",
			Help:      "Lookup cache misses, by layer.",
		}, []string{"layer"}),
		Invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lookup_cache",
			Name:      "invalidations_total",
			Help:      "Lookup cache invalidations, by kind (user, patient).",
		}, []string{"kind"}),
	}

	reg.MustRegister(m.Hits, m.Misses, m.Invalidations)
	return m
}
