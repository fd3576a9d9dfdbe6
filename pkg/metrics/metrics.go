// Package metrics defines Prometheus metrics for the teamspace API.
//
// Metric naming follows Prometheus conventions:
//   - teamspace_ prefix for all custom metrics
//   - _total suffix for counters
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PrincipalResolutionsTotal counts request resolutions by outcome:
	// federated, local, none or invalid.
	PrincipalResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamspace_principal_resolutions_total",
			Help: "Total principal resolutions by credential source.",
		},
		[]string{"source"},
	)

	// GuardDecisionsTotal counts guarded mutations by terminal state.
	GuardDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamspace_guard_decisions_total",
			Help: "Total guarded mutations by outcome.",
		},
		[]string{"outcome"},
	)

	// LoginAttemptsTotal counts sign-in attempts by method and result.
	LoginAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamspace_login_attempts_total",
			Help: "Total sign-in attempts by method and result.",
		},
		[]string{"method", "result"},
	)

	// IdentityEnsuresTotal counts identity row ensure calls by result.
	IdentityEnsuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamspace_identity_ensures_total",
			Help: "Total identity row ensure operations by result.",
		},
		[]string{"result"},
	)

	// PushSubscriptionsPrunedTotal counts push subscriptions removed for
	// not being refreshed.
	PushSubscriptionsPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teamspace_push_subscriptions_pruned_total",
			Help: "Total stale push subscriptions removed.",
		},
	)
)

// RateLimitedTotal counts requests refused by a rate limit tier.
var RateLimitedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "teamspace_rate_limited_total",
		Help: "Total requests refused with 429, by tier.",
	},
	[]string{"tier"},
)

var registry = prometheus.NewRegistry()

func init() {
	registry.MustRegister(
		PrincipalResolutionsTotal,
		GuardDecisionsTotal,
		LoginAttemptsTotal,
		IdentityEnsuresTotal,
		PushSubscriptionsPrunedTotal,
		RateLimitedTotal,
	)
}

// Handler serves the teamspace metrics registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
