package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		subscriptionsExpiredTotal,
		creditPackagesExpiredTotal,
		entitlementsGrantedTotal,
		entitlementFailuresTotal,
	)
}

var (
	subscriptionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_expired_total",
			Help: "Total number of subscriptions processed by the expiry worker.",
		},
	)

	creditPackagesExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credit_packages_expired_total",
			Help: "Total number of credit packages processed by the expiry worker.",
		},
	)

	entitlementsGrantedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlements_granted_total",
			Help: "Entitlements granted after settlement, by kind.",
		},
		[]string{"kind"}, // 'subscription', 'creditpackage'
	)

	entitlementFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_failures_total",
			Help: "Settled payments whose entitlement grant failed and awaits reconciliation.",
		},
		[]string{"kind"},
	)
)

func IncSubscriptionsExpired(count int) {
	subscriptionsExpiredTotal.Add(float64(count))
}

func IncCreditPackagesExpired(count int) {
	creditPackagesExpiredTotal.Add(float64(count))
}

func IncEntitlementGranted(kind string) {
	entitlementsGrantedTotal.WithLabelValues(norm(kind)).Inc()
}

func IncEntitlementFailure(kind string) {
	entitlementFailuresTotal.WithLabelValues(norm(kind)).Inc()
}
