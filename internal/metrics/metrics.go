// Package metrics exposes indexd's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "indexd",
	Subsystem: "cache",
	Name:      "misses",
})

var CacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "indexd",
	Subsystem: "cache",
	Name:      "evictions",
})

var OpenResults = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "indexd",
	Subsystem: "broker",
	Name:      "opens",
}, []string{"result"})

var OpenDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "indexd",
	Subsystem: "broker",
	Name:      "open_duration_seconds",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
}, []string{"result"})

var HandleCloses = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "indexd",
	Subsystem: "broker",
	Name:      "handle_closes",
}, []string{"reason"})

var Snapshots = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "indexd",
	Subsystem: "admin",
	Name:      "snapshots",
}, []string{"result"})

// Register adds all package-level collectors to the registry. The serve
// command owns a private registry so tests never fight over the global
// one.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		CacheMisses,
		CacheEvictions,
		OpenResults,
		OpenDuration,
		HandleCloses,
		Snapshots,
	)
}

// Handler returns the HTTP handler serving a registry at /metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
