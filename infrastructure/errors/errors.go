// Package errors provides unified error handling for the deposition platform.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code.
type ErrorCode string

const (
	// Authorization errors
	ErrCodeMissingToken ErrorCode = "missing_token"
	ErrCodeAccessDenied ErrorCode = "access_denied"

	// Resource errors
	ErrCodeNotFound     ErrorCode = "not_found"
	ErrCodeConflict     ErrorCode = "conflict"
	ErrCodeInvalidState ErrorCode = "invalid_state"

	// Input errors
	ErrCodeValidation ErrorCode = "validation_failed"

	// System errors
	ErrCodeConfiguration   ErrorCode = "configuration_error"
	ErrCodeExternalService ErrorCode = "external_service_error"
	ErrCodeInternal        ErrorCode = "internal_error"
)

// ServiceError represents a structured error with code, message, and HTTP status.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new ServiceError.
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error with a ServiceError.
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// NotFound reports a referenced entity as absent.
func NotFound(entity, id string) *ServiceError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found: %s", entity, id), http.StatusNotFound)
}

// Validation reports input failing a declared constraint.
func Validation(message string) *ServiceError {
	return New(ErrCodeValidation, message, http.StatusUnprocessableEntity)
}

// ValidationField reports a validation failure tied to a specific field.
func ValidationField(field, message string) *ServiceError {
	return Validation(message).WithDetails("field", field)
}

// InvalidState reports a precondition on entity state not being met.
func InvalidState(message string) *ServiceError {
	return New(ErrCodeInvalidState, message, http.StatusConflict)
}

// Conflict reports a uniqueness or duplicate-key collision.
func Conflict(message string) *ServiceError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

// Unauthorized reports a request with no usable credentials.
func Unauthorized(message string) *ServiceError {
	return New(ErrCodeMissingToken, message, http.StatusUnauthorized)
}

// Forbidden reports a policy denial for an authenticated principal.
func Forbidden(message string) *ServiceError {
	return New(ErrCodeAccessDenied, message, http.StatusForbidden)
}

// Configuration reports a startup misconfiguration. Fatal: boot must abort.
func Configuration(message string) *ServiceError {
	return New(ErrCodeConfiguration, message, http.StatusInternalServerError)
}

// ExternalService reports an unreachable or failing external dependency.
func ExternalService(message string, err error) *ServiceError {
	return Wrap(ErrCodeExternalService, message, http.StatusServiceUnavailable, err)
}

// Internal reports an unexpected internal failure.
func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

// codeOf extracts the ErrorCode from an error chain, or "" if none.
func codeOf(err error) ErrorCode {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool { return codeOf(err) == ErrCodeNotFound }

// IsValidation reports whether err is a Validation error.
func IsValidation(err error) bool { return codeOf(err) == ErrCodeValidation }

// IsInvalidState reports whether err is an InvalidState error.
func IsInvalidState(err error) bool { return codeOf(err) == ErrCodeInvalidState }

// IsConflict reports whether err is a Conflict error.
func IsConflict(err error) bool { return codeOf(err) == ErrCodeConflict }

// IsAuthorization reports whether err is an authorization denial of either kind.
func IsAuthorization(err error) bool {
	code := codeOf(err)
	return code == ErrCodeMissingToken || code == ErrCodeAccessDenied
}

// IsConfiguration reports whether err is a Configuration error.
func IsConfiguration(err error) bool { return codeOf(err) == ErrCodeConfiguration }

// IsExternalService reports whether err is an ExternalService error.
func IsExternalService(err error) bool { return codeOf(err) == ErrCodeExternalService }
