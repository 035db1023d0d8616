package webmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts billing webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "foyer",
		Subsystem: "web",
		Name:      "webhook_requests_total",
		Help:      "Total billing webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks billing webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "foyer",
		Subsystem: "web",
		Name:      "webhook_duration_seconds",
		Help:      "Billing webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// ProviderCallsTotal counts synchronous billing provider calls by action and outcome.
	ProviderCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "foyer",
		Subsystem: "web",
		Name:      "provider_calls_total",
		Help:      "Billing provider API calls by action and outcome.",
	}, []string{"action", "outcome"})

	// AccountsByConfirmation tracks accounts by email confirmation state.
	AccountsByConfirmation = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "foyer",
		Subsystem: "web",
		Name:      "accounts_by_confirmation",
		Help:      "Number of accounts by email confirmation state.",
	}, []string{"state"})

	// LoginsTotal counts login attempts by outcome.
	LoginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "foyer",
		Subsystem: "web",
		Name:      "logins_total",
		Help:      "Login attempts by outcome.",
	}, []string{"outcome"})
)
