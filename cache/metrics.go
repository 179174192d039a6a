package cache

import "github.com/prometheus/client_golang/prometheus"

var (
	hitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "volview_cache_hits_total",
		Help: "Cache lookups served from memory",
	}, []string{"cache"})
	missesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "volview_cache_misses_total",
		Help: "Cache lookups that required or joined a load",
	}, []string{"cache"})
	evictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "volview_cache_evictions_total",
		Help: "Entries evicted as least recently used",
	}, []string{"cache"})
	loadSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "volview_cache_load_seconds",
		Help:    "Duration of cache loads",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 9),
	}, []string{"cache"})
)

// Collectors returns the cache metrics for registration with Prometheus.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{hitsTotal, missesTotal, evictionsTotal, loadSeconds}
}
