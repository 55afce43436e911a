package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(paymentsReconciledTotal, entitlementRepairsTotal, completedAmountRecent, rateLimitTriggeredTotal)
}

var (
	paymentsReconciledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_reconciled_total",
			Help: "Stale pending payments checked by the reconciler, labeled by result.",
		},
		[]string{"result"}, // 'completed', 'failed', 'pending', 'error'
	)

	entitlementRepairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_entitlement_repairs_total",
			Help: "Completed payments without a recorded grant retried by the reconciler, labeled by result.",
		},
		[]string{"result"}, // 'granted', 'failed', 'error'
	)

	completedAmountRecent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "payments_completed_amount_24h",
			Help: "Sum of payments completed in the last 24 hours, in minor units.",
		},
	)

	rateLimitTriggeredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_rate_limit_triggered_total",
			Help: "Total number of create-payment requests rejected by the per-user rate limiter.",
		},
	)
)

func IncReconciled(result string) {
	paymentsReconciledTotal.WithLabelValues(norm(result)).Inc()
}

func IncRateLimitTriggered() {
	rateLimitTriggeredTotal.Inc()
}

func IncEntitlementRepair(result string) {
	entitlementRepairsTotal.WithLabelValues(norm(result)).Inc()
}

func SetCompletedAmountRecent(amount int64) {
	completedAmountRecent.Set(float64(amount))
}
