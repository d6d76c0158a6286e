package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error type strings. These are user-visible in the Iceberg error
// envelope and are the contract clients switch on; never rename them.
const (
	ErrTypeMalformedProjectID      = "MalformedProjectID"
	ErrTypeInvalidNamespace        = "InvalidNamespace"
	ErrTypeInvalidQueueConfig      = "InvalidQueueConfig"
	ErrTypeTableIdentifierInvalid  = "TableIdentifierInvalid"
	ErrTypeActionForbidden         = "ActionForbidden"
	ErrTypeAuthzUnavailable        = "AuthorizationBackendUnavailable"
	ErrTypeEntityNotFound          = "EntityNotFound"
	ErrTypeEntityAlreadyExists     = "EntityAlreadyExists"
	ErrTypeEntityProtected         = "EntityProtected"
	ErrTypeConcurrentModification  = "ConcurrentModification"
	ErrTypeTransactionFailed       = "TransactionFailed"
	ErrTypeDatabaseError           = "DatabaseError"
	ErrTypeSecretBackendUnavail    = "SecretBackendUnavailable"
	ErrTypeStorageBackendUnavail   = "StorageBackendUnavailable"
	ErrTypeLicenseExpired          = "LicenseExpired"
	ErrTypeLicenseQuotaExceeded    = "LicenseQuotaExceeded"
	ErrTypeBadRequest              = "BadRequest"
	ErrTypeRequestThrottled        = "RequestThrottled"
	ErrTypeUnauthenticated         = "Unauthenticated"
	ErrTypeUnexpected              = "InternalServerError"
)

// Error is the structured error value used everywhere above the store and
// authorization layers. It carries a stable type string, an HTTP status and
// an optional cause chain rendered into the envelope's stack array.
type Error struct {
	Type    string
	Code    int
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Stack renders the cause chain for the envelope's stack array, outermost
// first.
func (e *Error) Stack() []string {
	var stack []string
	for err := e.cause; err != nil; err = errors.Unwrap(err) {
		stack = append(stack, err.Error())
	}
	return stack
}

// WithCause attaches a cause, returning a copy.
func (e *Error) WithCause(cause error) *Error {
	c := *e
	c.cause = cause
	return &c
}

// ErrorModel extracts the *Error from err, converting unknown errors to a
// generic 500.
func ErrorModel(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return &Error{Type: ErrTypeUnexpected, Code: http.StatusInternalServerError, Message: err.Error()}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Type: ErrTypeEntityNotFound, Code: http.StatusNotFound, Message: fmt.Sprintf(format, args...)}
}

func AlreadyExists(format string, args ...any) *Error {
	return &Error{Type: ErrTypeEntityAlreadyExists, Code: http.StatusConflict, Message: fmt.Sprintf(format, args...)}
}

func Protected(format string, args ...any) *Error {
	return &Error{Type: ErrTypeEntityProtected, Code: http.StatusConflict, Message: fmt.Sprintf(format, args...)}
}

func ConcurrentModification(format string, args ...any) *Error {
	return &Error{Type: ErrTypeConcurrentModification, Code: http.StatusConflict, Message: fmt.Sprintf(format, args...)}
}

// Forbidden builds an authorization denial. The type string is scoped
// (e.g. "WarehouseActionForbidden") so clients can tell which level denied.
func Forbidden(scope, format string, args ...any) *Error {
	return &Error{Type: scope + ErrTypeActionForbidden, Code: http.StatusForbidden, Message: fmt.Sprintf(format, args...)}
}

func TransactionFailed(cause error) *Error {
	return &Error{
		Type:    ErrTypeTransactionFailed,
		Code:    http.StatusConflict,
		Message: "transaction failed due to a concurrent conflict, retry the request",
		cause:   cause,
	}
}

func DatabaseError(cause error) *Error {
	return &Error{
		Type:    ErrTypeDatabaseError,
		Code:    http.StatusServiceUnavailable,
		Message: "database unavailable",
		cause:   cause,
	}
}

func AuthzUnavailable(cause error) *Error {
	return &Error{
		Type:    ErrTypeAuthzUnavailable,
		Code:    http.StatusServiceUnavailable,
		Message: "authorization backend unavailable",
		cause:   cause,
	}
}

func BadRequest(format string, args ...any) *Error {
	return &Error{Type: ErrTypeBadRequest, Code: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

func Unauthenticated(format string, args ...any) *Error {
	return &Error{Type: ErrTypeUnauthenticated, Code: http.StatusUnauthorized, Message: fmt.Sprintf(format, args...)}
}

// IsType reports whether err carries the given stable type string.
func IsType(err error, typ string) bool {
	var de *Error
	return errors.As(err, &de) && de.Type == typ
}

// IsNotFound reports whether err is an existence failure.
func IsNotFound(err error) bool { return IsType(err, ErrTypeEntityNotFound) }

// IsRetryable reports whether the request-level single retry applies.
func IsRetryable(err error) bool { return IsType(err, ErrTypeTransactionFailed) }
