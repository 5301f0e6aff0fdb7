package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound            ErrorType = "not_found"
	ErrorTypeValidation          ErrorType = "validation"
	ErrorTypeInvalidCredential   ErrorType = "invalid_credential"
	ErrorTypeCredentialExpired   ErrorType = "credential_expired"
	ErrorTypeCredentialTampered  ErrorType = "credential_tampered"
	ErrorTypeForbidden           ErrorType = "forbidden"
	ErrorTypeQuotaExceeded       ErrorType = "quota_exceeded"
	ErrorTypePolicyViolation     ErrorType = "policy_violation"
	ErrorTypeVersionConflict     ErrorType = "version_conflict"
	ErrorTypeExecutionFailure    ErrorType = "execution_failure"
	ErrorTypeTimeout             ErrorType = "timeout"
	ErrorTypeInternal            ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Not Found Errors
	ErrObjectNotFound    = NewDomainError(ErrorTypeNotFound, "schema object not found", nil)
	ErrEventNotFound     = NewDomainError(ErrorTypeNotFound, "event not found", nil)
	ErrPrincipalNotFound = NewDomainError(ErrorTypeNotFound, "principal not found", nil)

	// Validation Errors
	ErrInvalidInput      = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInvalidObjectType = NewDomainError(ErrorTypeValidation, "invalid object type", nil)
	ErrInvalidObjectName = NewDomainError(ErrorTypeValidation, "object name must be fully qualified", nil)
	ErrEmptyStatement    = NewDomainError(ErrorTypeValidation, "sql statement cannot be empty", nil)

	// Credential Errors
	ErrInvalidCredential  = NewDomainError(ErrorTypeInvalidCredential, "invalid credential", nil)
	ErrCredentialExpired  = NewDomainError(ErrorTypeCredentialExpired, "credential expired", nil)
	ErrCredentialRevoked  = NewDomainError(ErrorTypeInvalidCredential, "credential revoked", nil)
	ErrCredentialTampered = NewDomainError(ErrorTypeCredentialTampered, "credential tampered", nil)

	// Permission Errors
	ErrForbidden         = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)
	ErrMissingCapability = NewDomainError(ErrorTypeForbidden, "missing required capability", nil)

	// Quota Errors
	ErrRuntimeBudgetExceeded = NewDomainError(ErrorTypeQuotaExceeded, "daily runtime budget exceeded", nil)
	ErrRowLimitExceeded      = NewDomainError(ErrorTypeQuotaExceeded, "row limit exceeds principal maximum", nil)

	// Policy Errors
	ErrSecurityRejected = NewDomainError(ErrorTypePolicyViolation, "statement rejected by security policy", nil)

	// Conflict Errors
	ErrVersionConflict = NewDomainError(ErrorTypeVersionConflict, "deployment version conflict", nil)

	// Execution Errors
	ErrExecutionFailed = NewDomainError(ErrorTypeExecutionFailure, "statement execution failed", nil)
	ErrQueryTimeout    = NewDomainError(ErrorTypeTimeout, "statement timed out", nil)

	// Internal Errors
	ErrInternal      = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrDatabaseError = NewDomainError(ErrorTypeInternal, "database error", nil)
)

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsCredentialError checks if an error is any credential failure
func IsCredentialError(err error) bool {
	switch GetErrorType(err) {
	case ErrorTypeInvalidCredential, ErrorTypeCredentialExpired, ErrorTypeCredentialTampered:
		return true
	}
	return false
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return GetErrorType(err) == ErrorTypeForbidden
}

// IsQuotaError checks if an error is a quota error
func IsQuotaError(err error) bool {
	return GetErrorType(err) == ErrorTypeQuotaExceeded
}

// IsPolicyViolationError checks if an error is a policy violation error
func IsPolicyViolationError(err error) bool {
	return GetErrorType(err) == ErrorTypePolicyViolation
}

// IsVersionConflictError checks if an error is a version conflict error
func IsVersionConflictError(err error) bool {
	return GetErrorType(err) == ErrorTypeVersionConflict
}

// IsExecutionError checks if an error is an execution failure
func IsExecutionError(err error) bool {
	return GetErrorType(err) == ErrorTypeExecutionFailure
}

// IsTimeoutError checks if an error is a timeout error
func IsTimeoutError(err error) bool {
	return GetErrorType(err) == ErrorTypeTimeout
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapExecution wraps an error as an execution failure
func WrapExecution(message string, err error) error {
	return NewDomainError(ErrorTypeExecutionFailure, message, err)
}
