// Package metrics provides Prometheus instrumentation for the settlement engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DealsTotal counts deal status transitions, including terminal MILK
	// outcomes which exist for metrics only.
	DealsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlex_deals_total",
		Help: "Deal status transitions",
	}, []string{"status"})

	// AllocationNoCapacity counts deals for which no requisite qualified.
	AllocationNoCapacity = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlex_allocation_no_capacity_total",
		Help: "Deals left unrouted because no requisite qualified",
	})

	// AllocationClaimConflicts counts candidates lost to a concurrent claim.
	AllocationClaimConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlex_allocation_claim_conflicts_total",
		Help: "Requisite claims lost to a concurrent allocation",
	})

	// MatchResults counts notification match outcomes.
	MatchResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlex_match_results_total",
		Help: "Notification match outcomes",
	}, []string{"outcome"})

	// RateFetchFailures counts market-feed fetches that fell back to a cached
	// or constant rate.
	RateFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlex_rate_fetch_failures_total",
		Help: "Market-feed fetches that fell back to cached or constant rate",
	})

	// RateAge tracks the age of the served rate in seconds.
	RateAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlex_rate_age_seconds",
		Help: "Age of the most recently served market rate",
	})

	// DisputesAutoAccepted counts sweep-resolved disputes.
	DisputesAutoAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlex_disputes_auto_accepted_total",
		Help: "Disputes auto-accepted after SLA expiry",
	})

	// CallbackDeliveries counts merchant callback outcomes.
	CallbackDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlex_callback_deliveries_total",
		Help: "Merchant callback delivery outcomes",
	}, []string{"outcome"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
