package ethereum

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requestDuration *prometheus.HistogramVec
	requestErrors   *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "arb",
			Subsystem: "node",
			Name:      "request_duration_seconds",
			Help:      "Latency of JSON-RPC requests to the chain node.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		requestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arb",
			Subsystem: "node",
			Name:      "request_errors_total",
			Help:      "Failed JSON-RPC requests to the chain node.",
		}, []string{"method"}),
	}
	reg.MustRegister(m.requestDuration, m.requestErrors)
	return m
}

func (m *metrics) observe(method string, d time.Duration, err error) {
	m.requestDuration.WithLabelValues(method).Observe(d.Seconds())
	if err != nil {
		m.requestErrors.WithLabelValues(method).Inc()
	}
}
