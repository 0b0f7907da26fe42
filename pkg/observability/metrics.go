// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the gateway.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Buckets suited to LLM latencies, 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openrouter_proxy_requests_total",
			Help: "Inbound requests by method, route and status class",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "openrouter_proxy_request_duration_seconds",
			Help:    "Inbound request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "route"},
	)

	// StreamingConnections tracks relayed event streams currently open.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "openrouter_proxy_streaming_connections_active",
			Help: "Active streaming relays",
		},
	)

	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openrouter_proxy_upstream_requests_total",
			Help: "Upstream calls by path and status class",
		},
		[]string{"path", "status"},
	)

	// StreamLinesDropped counts relay lines not forwarded, by reason
	// (keepalive, blank, oversize).
	StreamLinesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openrouter_proxy_stream_lines_dropped_total",
			Help: "Stream lines dropped by the relay",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		UpstreamRequestsTotal,
		StreamLinesDropped,
	)
}

// StatusClass turns 429 into "4xx".
func StatusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
