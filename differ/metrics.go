package differ

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	fetchDuration prometheus.Histogram
	diffDuration  prometheus.Histogram
	changedPools  prometheus.Histogram
	fetchErrors   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "arb",
			Subsystem: "differ",
			Name:      "fetch_duration_seconds",
			Help:      "Time spent reading the watched slots of every pool at a block.",
			Buckets:   prometheus.DefBuckets,
		}),
		diffDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "arb",
			Subsystem: "differ",
			Name:      "diff_duration_seconds",
			Help:      "Time spent comparing two snapshots.",
			Buckets:   []float64{.00001, .0001, .0005, .001, .005, .01, .05},
		}),
		changedPools: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "arb",
			Subsystem: "differ",
			Name:      "changed_pools",
			Help:      "Pools whose watched state changed per block.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		fetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arb",
			Subsystem: "differ",
			Name:      "fetch_errors_total",
			Help:      "Snapshots that could not be read.",
		}),
	}
	reg.MustRegister(m.fetchDuration, m.diffDuration, m.changedPools, m.fetchErrors)
	return m
}
