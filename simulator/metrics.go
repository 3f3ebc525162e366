package simulator

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	pathDuration *prometheus.HistogramVec
	pathOutcomes *prometheus.CounterVec
	inFlight     prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pathDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "arb",
			Subsystem: "simulator",
			Name:      "path_duration_seconds",
			Help:      "Time spent simulating one swap path.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
		}, []string{"outcome"}),
		pathOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arb",
			Subsystem: "simulator",
			Name:      "paths_total",
			Help:      "Simulated swap paths by outcome.",
		}, []string{"outcome"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arb",
			Subsystem: "simulator",
			Name:      "paths_in_flight",
			Help:      "Swap paths currently being simulated.",
		}),
	}
	reg.MustRegister(m.pathDuration, m.pathOutcomes, m.inFlight)
	return m
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k := KindOf(err); k != 0 {
		return k.String()
	}
	return "error"
}
