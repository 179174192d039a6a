package render

import "github.com/prometheus/client_golang/prometheus"

var (
	residentBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "volview_decoded_volume_bytes",
		Help: "Voxel bytes held by the decoded-volume cache",
	})
	imageBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "volview_slice_image_bytes",
		Help:    "Size of encoded slice images",
		Buckets: prometheus.ExponentialBuckets(1024, 2, 12),
	})
)

// Collectors returns the rendering metrics for registration with Prometheus.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{residentBytes, imageBytes}
}
