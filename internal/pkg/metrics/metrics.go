package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RateLimitRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payguard_rate_limit_rejected_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"profile"},
	)

	RateLimitStoreErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payguard_rate_limit_store_errors_total",
			Help: "Rate limit store failures (requests were admitted)",
		},
	)

	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payguard_auth_failures_total",
			Help: "Rejected API key authentications",
		},
		[]string{"reason"},
	)

	AuditIntegrityFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payguard_audit_integrity_failures_total",
			Help: "Audit chain verification runs that found errors",
		},
	)

	AuditAppends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payguard_audit_appends_total",
			Help: "Audit ledger appends by outcome",
		},
		[]string{"outcome"},
	)

	EntitlementDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payguard_entitlement_denials_total",
			Help: "Entitlement and quota denials by violation type",
		},
		[]string{"type"},
	)

	EntitlementAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payguard_entitlement_alerts_total",
			Help: "Violation alert thresholds crossed",
		},
		[]string{"scope"},
	)

	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payguard_gateway_requests_total",
			Help: "Outbound payment gateway calls",
		},
		[]string{"operation", "outcome"},
	)

	GatewayLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payguard_gateway_request_duration_seconds",
			Help:    "Outbound payment gateway call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	Payments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payguard_payments_total",
			Help: "Payment status transitions",
		},
		[]string{"status"},
	)

	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payguard_webhooks_received_total",
			Help: "Gateway webhooks by outcome",
		},
		[]string{"gateway", "outcome"},
	)

	WebhookSignatureFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payguard_webhook_signature_failures_total",
			Help: "Webhooks rejected for an invalid signature",
		},
		[]string{"gateway"},
	)

	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payguard_jobs_processed_total",
			Help: "Background jobs by type and outcome",
		},
		[]string{"type", "outcome"},
	)
)
