// Package metrics exposes Prometheus counters for the credit engine.
// Collectors auto-register on the default registry; the /metrics endpoint
// in the API server serves them via promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEvents counts inbound webhook deliveries by outcome:
	// credited, duplicate, ignored, rejected, failed.
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_webhook_events_total",
			Help: "Inbound payment webhook deliveries by outcome",
		},
		[]string{"outcome"},
	)

	// CreditsGranted counts credits added through the webhook path,
	// labeled by package.
	CreditsGranted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_credits_granted_total",
			Help: "Credits granted via webhook ingestion by package",
		},
		[]string{"package"},
	)

	// ResolverStrategyHits counts which fallback strategy produced a
	// resolved payment.
	ResolverStrategyHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_resolver_strategy_hits_total",
			Help: "Payment resolutions by winning strategy",
		},
		[]string{"strategy"},
	)

	// ResolverNotFound counts resolver runs that exhausted every
	// strategy cleanly.
	ResolverNotFound = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credit_resolver_not_found_total",
			Help: "Payment resolutions ending with no qualifying payment",
		},
	)

	// ExternalCallFailures counts failed calls to external providers.
	ExternalCallFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_external_call_failures_total",
			Help: "Failed external provider calls by provider",
		},
		[]string{"provider"},
	)

	// ManualAdjustments counts administrative ledger corrections by
	// direction (grant, revoke).
	ManualAdjustments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_manual_adjustments_total",
			Help: "Manual ledger adjustments by direction",
		},
		[]string{"direction"},
	)
)
