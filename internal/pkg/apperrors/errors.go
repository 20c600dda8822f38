package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error for transport mapping and logging.
type Kind string

const (
	KindAuthentication    Kind = "authentication"
	KindRateLimit         Kind = "rate_limit"
	KindEntitlementDenied Kind = "entitlement_denied"
	KindQuotaExceeded     Kind = "quota_exceeded"
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindGateway           Kind = "gateway"
	KindCaptureDenied     Kind = "capture_denied"
	KindIntegrity         Kind = "integrity"
	KindInternal          Kind = "internal"
)

// Error is the error type returned across package boundaries. Message is
// safe to show to callers; Err carries internal detail for logs only.
type Error struct {
	Code    int               `json:"code"`
	Kind    Kind              `json:"-"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Err     error             `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error of the given kind with its default HTTP code.
func New(kind Kind, message string, err error) *Error {
	return &Error{Code: codeFor(kind), Kind: kind, Message: message, Err: err}
}

func codeFor(kind Kind) int {
	switch kind {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindRateLimit, KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindEntitlementDenied:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindCaptureDenied:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

func Authentication(message string) *Error {
	return New(KindAuthentication, message, nil)
}

// Validation carries per-field messages.
func Validation(message string, fields map[string]string) *Error {
	e := New(KindValidation, message, nil)
	e.Fields = fields
	return e
}

func NotFound(message string) *Error {
	return New(KindNotFound, message, nil)
}

// Gateway wraps an upstream failure. The caller-facing message is generic.
func Gateway(op string, err error) *Error {
	return New(KindGateway, "Payment provider request failed", fmt.Errorf("%s: %w", op, err))
}

func CaptureDenied(reason string) *Error {
	return New(KindCaptureDenied, "Payment was declined", errors.New(reason))
}

func Integrity(message string) *Error {
	return New(KindIntegrity, message, nil)
}

func Internal(err error) *Error {
	return New(KindInternal, "Internal server error", err)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
