// Package apperrors defines the error taxonomy shared by every service in
// the control plane. Each kind carries a stable machine-readable code and
// maps to an HTTP status at the boundary.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
)

// Kind classifies an error for programmatic handling.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindConsentRequired   Kind = "consent_required"
	KindTrustInsufficient Kind = "trust_insufficient"
	KindIntentRateLimit   Kind = "intent_rate_limit"
	KindIntentLocked      Kind = "intent_locked"
	KindInvalidTransition Kind = "invalid_state_transition"
	KindTerminalState     Kind = "terminal_state"
	KindRequiresReason    Kind = "requires_reason"
	KindRequiresPerm      Kind = "requires_permission"
	KindUnauthorized      Kind = "unauthorized"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindCircuitOpen       Kind = "circuit_open"
	KindDatabase          Kind = "database"
	KindTimeout           Kind = "timeout"
	KindExternalService   Kind = "external_service"
	KindEncryption        Kind = "encryption"
	KindInternal          Kind = "internal"
)

// Error is the typed error carried through the submission pipeline and the
// escalation engine. Details hold structured context (e.g. required vs actual
// trust level) that boundaries may expose.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	TraceID string
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.cause }

// Code returns the stable machine-readable code for the boundary envelope.
func (e *Error) Code() string { return string(e.Kind) }

// WithDetail attaches one structured detail and returns the error.
func (e *Error) WithDetail(key string, val interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = val
	return e
}

// WithTrace attaches a trace ID for correlation.
func (e *Error) WithTrace(traceID string) *Error {
	e.TraceID = traceID
	return e
}

// New creates a typed error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a typed error around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf extracts the Kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ============================================================================
// HTTP MAPPING
// ============================================================================

var httpStatus = map[Kind]int{
	KindValidation:        http.StatusBadRequest,
	KindConsentRequired:   http.StatusForbidden,
	KindTrustInsufficient: http.StatusForbidden,
	KindIntentRateLimit:   http.StatusTooManyRequests,
	KindIntentLocked:      http.StatusConflict,
	KindInvalidTransition: http.StatusConflict,
	KindTerminalState:     http.StatusConflict,
	KindRequiresReason:    http.StatusBadRequest,
	KindRequiresPerm:      http.StatusForbidden,
	KindUnauthorized:      http.StatusUnauthorized,
	KindNotFound:          http.StatusNotFound,
	KindConflict:          http.StatusConflict,
	KindCircuitOpen:       http.StatusBadGateway,
	KindDatabase:          http.StatusInternalServerError,
	KindTimeout:           http.StatusGatewayTimeout,
	KindExternalService:   http.StatusBadGateway,
	KindEncryption:        http.StatusInternalServerError,
	KindInternal:          http.StatusInternalServerError,
}

// HTTPStatus maps an error to its boundary status code.
func HTTPStatus(err error) int {
	if status, ok := httpStatus[KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ============================================================================
// MESSAGE SANITIZATION
// ============================================================================

// sensitiveRe matches message fragments that must never leak to callers in
// production: credentials and raw SQL.
var sensitiveRe = regexp.MustCompile(`(?i)(password|secret|token|key|credential|sql)`)

// GenericMessage replaces sensitive or internal messages in production.
const GenericMessage = "An internal error occurred"

// SanitizedMessage returns the user-visible message for err. In production,
// messages matching the sensitive pattern (and all internal-class errors)
// collapse to GenericMessage; the trace ID remains for correlation.
func SanitizedMessage(err error, production bool) string {
	var ae *Error
	if !errors.As(err, &ae) {
		if production {
			return GenericMessage
		}
		return err.Error()
	}
	if !production {
		return ae.Message
	}
	switch ae.Kind {
	case KindDatabase, KindEncryption, KindInternal:
		return GenericMessage
	}
	if sensitiveRe.MatchString(ae.Message) {
		return GenericMessage
	}
	return ae.Message
}
