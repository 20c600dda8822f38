package audit

// Action is the closed set of audited facts.
type Action string

const (
	ActionPaymentCreated        Action = "payment.created"
	ActionPaymentCaptured       Action = "payment.captured"
	ActionPaymentFailed         Action = "payment.failed"
	ActionPaymentRefunded       Action = "payment.refunded"
	ActionRefundIssued          Action = "refund.issued"
	ActionSubscriptionCreated   Action = "subscription.created"
	ActionSubscriptionCancelled Action = "subscription.cancelled"
	ActionSubscriptionExpired   Action = "subscription.expired"
	ActionEntitlementGranted    Action = "entitlement.granted"
	ActionEntitlementRevoked    Action = "entitlement.revoked"
	ActionRoleChanged           Action = "role.changed"
	ActionAPIKeyRotated         Action = "apikey.rotated"
	ActionWebhookRejected       Action = "webhook.rejected"
	ActionIntegrityFailed       Action = "audit.integrity_failed"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

var defaultSeverity = map[Action]Severity{
	ActionPaymentCreated:        SeverityInfo,
	ActionPaymentCaptured:       SeverityInfo,
	ActionPaymentFailed:         SeverityWarning,
	ActionPaymentRefunded:       SeverityWarning,
	ActionRefundIssued:          SeverityWarning,
	ActionSubscriptionCreated:   SeverityInfo,
	ActionSubscriptionCancelled: SeverityWarning,
	ActionSubscriptionExpired:   SeverityInfo,
	ActionEntitlementGranted:    SeverityInfo,
	ActionEntitlementRevoked:    SeverityWarning,
	ActionRoleChanged:           SeverityCritical,
	ActionAPIKeyRotated:         SeverityCritical,
	ActionWebhookRejected:       SeverityCritical,
	ActionIntegrityFailed:       SeverityCritical,
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	_, ok := defaultSeverity[a]
	return ok
}

// DefaultSeverity returns the severity used when an entry does not set one.
func (a Action) DefaultSeverity() Severity {
	if s, ok := defaultSeverity[a]; ok {
		return s
	}
	return SeverityInfo
}
