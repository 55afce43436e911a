package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		gatewayRequestsTotal,
		gatewayRequestDuration,
	)
}

var (
	gatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Outbound gateway calls by method, operation and result.",
		},
		[]string{"method", "op", "result"}, // op: create|query; result: ok|error
	)

	gatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Outbound gateway call latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		},
		[]string{"method", "op"},
	)
)

func ObserveGatewayRequest(method, op string, err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	gatewayRequestsTotal.WithLabelValues(norm(method), norm(op), result).Inc()
	gatewayRequestDuration.WithLabelValues(norm(method), norm(op)).Observe(d.Seconds())
}
