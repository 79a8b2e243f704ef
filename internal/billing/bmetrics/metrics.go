package bmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubscribersByStatus tracks the number of subscriptions in each status.
	SubscribersByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "entityguardian",
		Subsystem: "billing",
		Name:      "subscribers_by_status",
		Help:      "Number of subscriptions by status.",
	}, []string{"status"})

	// WebhookRequestsTotal counts Stripe webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "entityguardian",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total Stripe webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks Stripe webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "entityguardian",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Stripe webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// CheckoutSessionsTotal counts checkout session attempts by outcome.
	CheckoutSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "entityguardian",
		Subsystem: "billing",
		Name:      "checkout_sessions_total",
		Help:      "Total hosted checkout session attempts by outcome.",
	}, []string{"outcome"})

	// CatalogSyncTotal counts price catalog sync runs by outcome.
	CatalogSyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "entityguardian",
		Subsystem: "billing",
		Name:      "catalog_sync_total",
		Help:      "Total price catalog sync runs by outcome.",
	}, []string{"outcome"})

	// EntitlementChecksTotal counts entitlement decisions by check and result.
	EntitlementChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "entityguardian",
		Subsystem: "billing",
		Name:      "entitlement_checks_total",
		Help:      "Total entitlement checks by kind and decision.",
	}, []string{"check", "allowed"})

	// UsageAlertsTotal counts usage threshold alerts by metric.
	UsageAlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "entityguardian",
		Subsystem: "billing",
		Name:      "usage_alerts_total",
		Help:      "Total usage threshold alerts recorded by metric.",
	}, []string{"metric"})
)
