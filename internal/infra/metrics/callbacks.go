package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		paymentCallbacksTotal,
		paymentCallbackDuration,
	)
}

var (
	// result: ok|ignored|fail
	// reason (fail only): malformed|rejected|unavailable|store
	paymentCallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_callbacks_total",
			Help: "Gateway notifications by method, result and reason.",
		},
		[]string{"method", "result", "reason"},
	)

	paymentCallbackDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_callback_duration_seconds",
			Help:    "Duration of notification handling in seconds.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "result"},
	)
)

func ObserveCallback(method, result, reason string, d time.Duration) {
	if reason == "" {
		reason = "none"
	}
	paymentCallbacksTotal.WithLabelValues(norm(method), norm(result), norm(reason)).Inc()
	paymentCallbackDuration.WithLabelValues(norm(method), norm(result)).Observe(d.Seconds())
}
