package client

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics are the dispatcher's opt-in prometheus collectors.
type metrics struct {
	requests  *prometheus.CounterVec
	refreshes prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dcn_client_requests_total",
			Help: "Total dispatched operation invocations by operation and response status.",
		}, []string{"operation", "status"}),
		refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dcn_client_token_refreshes_total",
			Help: "Total access token refresh operations.",
		}),
	}
	reg.MustRegister(m.requests, m.refreshes)
	return m
}
