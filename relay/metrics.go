package relay

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	dispatchDuration *prometheus.HistogramVec
	dispatchOutcomes *prometheus.CounterVec
	broadcasts       *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "arb",
			Subsystem: "relay",
			Name:      "dispatch_duration_seconds",
			Help:      "Round-trip time of a bundle dispatch to one relay.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2, 5, 10},
		}, []string{"relay"}),
		dispatchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arb",
			Subsystem: "relay",
			Name:      "dispatches_total",
			Help:      "Bundle dispatches by relay and final outcome.",
		}, []string{"relay", "outcome"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arb",
			Subsystem: "relay",
			Name:      "broadcasts_total",
			Help:      "Bundle broadcasts by whether any relay accepted.",
		}, []string{"success"}),
	}
	reg.MustRegister(m.dispatchDuration, m.dispatchOutcomes, m.broadcasts)
	return m
}

func (m *Metrics) observeDispatch(res Result) {
	m.dispatchDuration.WithLabelValues(res.Relay).Observe(res.Elapsed.Seconds())
	m.dispatchOutcomes.WithLabelValues(res.Relay, res.Outcome.String()).Inc()
}

func (m *Metrics) observeBroadcast(r Report) {
	m.broadcasts.WithLabelValues(strconv.FormatBool(r.Success())).Inc()
}
