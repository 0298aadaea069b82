package sse

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the Prometheus collectors this transport exposes via its
// /metrics endpoint.
type metrics struct {
	connectionsTotal   prometheus.Counter
	activeConnections  prometheus.Gauge
	messagesSentTotal  prometheus.Counter
	postRequestsTotal  *prometheus.CounterVec
	rateLimitedTotal   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mcp_sse_connections_total",
			Help: "Total number of SSE connections accepted.",
		}),
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mcp_sse_active_connections",
			Help: "Number of currently open SSE connections.",
		}),
		messagesSentTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mcp_sse_messages_sent_total",
			Help: "Total number of frames delivered over SSE streams.",
		}),
		postRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_sse_post_requests_total",
			Help: "Total POST /message requests, labeled by outcome.",
		}, []string{"outcome"}),
		rateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mcp_sse_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter.",
		}),
	}
}
