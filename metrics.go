package spacesync

import "github.com/prometheus/client_golang/prometheus"

var pushRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "spacesync",
	Subsystem: "push",
	Name:      "requests",
}, []string{"result"})

var pushMutations = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "spacesync",
	Subsystem: "push",
	Name:      "mutations",
}, []string{"outcome"})

var pushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "spacesync",
	Subsystem: "push",
	Name:      "duration_seconds",
	Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
})

var pullRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "spacesync",
	Subsystem: "pull",
	Name:      "requests",
}, []string{"result"})

var pullPatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "spacesync",
	Subsystem: "pull",
	Name:      "patch_size",
	Buckets:   []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000},
})

var pullDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "spacesync",
	Subsystem: "pull",
	Name:      "duration_seconds",
	Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
})

// Collectors lists the engine metric vecs for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		pushRequests, pushMutations, pushDuration,
		pullRequests, pullPatchSize, pullDuration,
	}
}
