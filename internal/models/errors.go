package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can decide whether to retry, surface or escalate
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindNotFound          ErrorKind = "not_found"
	KindConflict          ErrorKind = "conflict"
	KindPaymentPending    ErrorKind = "payment_pending"
	KindProviderTransient ErrorKind = "provider_transient"
	KindProviderPermanent ErrorKind = "provider_permanent"
	KindReconciliation    ErrorKind = "reconciliation"
)

// Stable machine-readable codes returned to clients
const (
	CodeInvalidRequest         = "INVALID_REQUEST"
	CodeInvalidInterval        = "INVALID_INTERVAL"
	CodeInvalidMetadata        = "INVALID_METADATA"
	CodePaymentNotSucceeded    = "PAYMENT_NOT_SUCCEEDED"
	CodeBoxNoLongerAvailable   = "BOX_NO_LONGER_AVAILABLE"
	CodeBoxUnavailable         = "BOX_UNAVAILABLE"
	CodeBoxInactive            = "BOX_INACTIVE"
	CodeNotCancellable         = "NOT_CANCELLABLE"
	CodeExtensionConflict      = "EXTENSION_CONFLICT"
	CodeExtensionNotAllowed    = "EXTENSION_NOT_ALLOWED"
	CodeBookingNotFound        = "BOOKING_NOT_FOUND"
	CodePaymentNotFound        = "PAYMENT_NOT_FOUND"
	CodeBoxNotFound            = "BOX_NOT_FOUND"
	CodeForbidden              = "FORBIDDEN"
	CodeInvalidPIN             = "INVALID_PIN"
	CodeProviderUnreachable    = "PAYMENT_PROVIDER_UNREACHABLE"
	CodeProviderRejected       = "PAYMENT_PROVIDER_REJECTED"
	CodeRefundFailed           = "REFUND_FAILED"
	CodeChargeMissing          = "CHARGE_MISSING"
	CodeDuplicateSettledCharge = "DUPLICATE_SETTLED_CHARGE"
)

// AppError is the structured error every service returns for expected failures.
// Message is safe to show to end users; Err carries the underlying cause for logs.
type AppError struct {
	Kind    ErrorKind              `json:"kind"`
	Code    string                 `json:"error"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail attaches a key/value the client can act on (conflicting booking id, applied tier, ...)
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewValidationError creates a validation error
func NewValidationError(code, message string) *AppError {
	return &AppError{Kind: KindValidation, Code: code, Message: message}
}

// NewNotFoundError creates a not-found error
func NewNotFoundError(code, message string) *AppError {
	return &AppError{Kind: KindNotFound, Code: code, Message: message}
}

// NewConflictError creates a conflict error
func NewConflictError(code, message string) *AppError {
	return &AppError{Kind: KindConflict, Code: code, Message: message}
}

// NewPaymentNotSucceededError reports a payment the provider has not settled yet. Callers may poll again.
func NewPaymentNotSucceededError(providerStatus string) *AppError {
	return &AppError{
		Kind:    KindPaymentPending,
		Code:    CodePaymentNotSucceeded,
		Message: "payment has not succeeded yet",
		Details: map[string]interface{}{"provider_status": providerStatus},
	}
}

// NewProviderTransientError wraps a retryable payment provider failure
func NewProviderTransientError(message string, err error) *AppError {
	return &AppError{Kind: KindProviderTransient, Code: CodeProviderUnreachable, Message: message, Err: err}
}

// NewProviderPermanentError wraps a payment provider rejection
func NewProviderPermanentError(message string, err error) *AppError {
	return &AppError{Kind: KindProviderPermanent, Code: CodeProviderRejected, Message: message, Err: err}
}

// NewReconciliationWarning records a committed operation whose follow-up leg failed
func NewReconciliationWarning(code, message string, err error) *AppError {
	return &AppError{Kind: KindReconciliation, Code: code, Message: message, Err: err}
}

// AsAppError extracts an *AppError from an error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the error kind, or an empty kind for unclassified errors
func KindOf(err error) ErrorKind {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
