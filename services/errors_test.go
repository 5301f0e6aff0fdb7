package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDomainError(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeNotFound, "resource not found", baseErr)

	assert.Equal(t, ErrorTypeNotFound, domainErr.Type)
	assert.Equal(t, "resource not found", domainErr.Message)
	assert.Equal(t, baseErr, domainErr.Err)
	assert.NotNil(t, domainErr.Details)
}

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *DomainError
		wantMsg string
	}{
		{
			name: "error with wrapped error",
			err: &DomainError{
				Type:    ErrorTypeNotFound,
				Message: "object not found",
				Err:     errors.New("db error"),
			},
			wantMsg: "not_found: object not found (db error)",
		},
		{
			name: "error without wrapped error",
			err: &DomainError{
				Type:    ErrorTypeValidation,
				Message: "invalid input",
				Err:     nil,
			},
			wantMsg: "validation: invalid input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeInternal, "internal error", baseErr)

	unwrapped := errors.Unwrap(domainErr)
	assert.Equal(t, baseErr, unwrapped)
}

func TestDomainError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{
			name:   "same error type",
			err:    NewDomainError(ErrorTypeNotFound, "not found", nil),
			target: ErrObjectNotFound,
			want:   true,
		},
		{
			name:   "different error type",
			err:    NewDomainError(ErrorTypeValidation, "validation", nil),
			target: ErrObjectNotFound,
			want:   false,
		},
		{
			name:   "not a domain error",
			err:    NewDomainError(ErrorTypeNotFound, "not found", nil),
			target: errors.New("regular error"),
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := NewDomainError(ErrorTypeValidation, "validation error", nil)

	err.WithDetail("field", "object_name").WithDetail("value", "not-qualified")

	assert.Equal(t, "object_name", err.Details["field"])
	assert.Equal(t, "not-qualified", err.Details["value"])
}

func TestIsNotFoundError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"not found error", ErrObjectNotFound, true},
		{"wrapped not found", fmt.Errorf("wrapped: %w", ErrPrincipalNotFound), true},
		{"validation error", ErrInvalidInput, false},
		{"regular error", errors.New("regular"), false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNotFoundError(tt.err))
		})
	}
}

func TestIsCredentialError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"invalid credential", ErrInvalidCredential, true},
		{"expired credential", ErrCredentialExpired, true},
		{"revoked credential", ErrCredentialRevoked, true},
		{"tampered credential", ErrCredentialTampered, true},
		{"wrapped credential", fmt.Errorf("auth: %w", ErrInvalidCredential), true},
		{"forbidden error", ErrForbidden, false},
		{"regular error", errors.New("regular"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCredentialError(tt.err))
		})
	}
}

func TestIsForbiddenError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"forbidden error", ErrForbidden, true},
		{"missing capability", ErrMissingCapability, true},
		{"credential error", ErrInvalidCredential, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsForbiddenError(tt.err))
		})
	}
}

func TestIsQuotaError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"runtime budget", ErrRuntimeBudgetExceeded, true},
		{"row limit", ErrRowLimitExceeded, true},
		{"policy violation", ErrSecurityRejected, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsQuotaError(tt.err))
		})
	}
}

func TestIsPolicyViolationError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"security rejected", ErrSecurityRejected, true},
		{"with reasons detail", NewDomainError(ErrorTypePolicyViolation, "rejected", nil).WithDetail("reasons", []string{"x"}), true},
		{"validation error", ErrInvalidInput, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPolicyViolationError(tt.err))
		})
	}
}

func TestIsVersionConflictError(t *testing.T) {
	assert.True(t, IsVersionConflictError(ErrVersionConflict))
	assert.True(t, IsVersionConflictError(fmt.Errorf("deploy: %w", ErrVersionConflict)))
	assert.False(t, IsVersionConflictError(ErrExecutionFailed))
}

func TestIsExecutionAndTimeoutErrors(t *testing.T) {
	assert.True(t, IsExecutionError(ErrExecutionFailed))
	assert.False(t, IsExecutionError(ErrQueryTimeout))
	assert.True(t, IsTimeoutError(ErrQueryTimeout))
	assert.False(t, IsTimeoutError(ErrExecutionFailed))
}

func TestIsInternalError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"internal error", ErrInternal, true},
		{"database error", ErrDatabaseError, true},
		{"execution error", ErrExecutionFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsInternalError(tt.err))
		})
	}
}

func TestGetErrorType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"not found", ErrObjectNotFound, ErrorTypeNotFound},
		{"validation", ErrInvalidInput, ErrorTypeValidation},
		{"quota", ErrRuntimeBudgetExceeded, ErrorTypeQuotaExceeded},
		{"conflict", ErrVersionConflict, ErrorTypeVersionConflict},
		{"regular error", errors.New("regular"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetErrorType(tt.err))
		})
	}
}

func TestGetErrorDetails(t *testing.T) {
	err := NewDomainError(ErrorTypeValidation, "validation error", nil)
	err.WithDetail("field", "source").WithDetail("reason", "unknown schema")

	details := GetErrorDetails(err)
	require.NotNil(t, details)
	assert.Equal(t, "source", details["field"])
	assert.Equal(t, "unknown schema", details["reason"])

	regularErr := errors.New("regular error")
	assert.Nil(t, GetErrorDetails(regularErr))
}

func TestWrapError(t *testing.T) {
	baseErr := errors.New("base error")
	wrapped := WrapError(ErrorTypeInternal, "wrapped message", baseErr)

	var domainErr *DomainError
	require.True(t, errors.As(wrapped, &domainErr))
	assert.Equal(t, ErrorTypeInternal, domainErr.Type)
	assert.Equal(t, "wrapped message", domainErr.Message)
	assert.Equal(t, baseErr, errors.Unwrap(wrapped))
}

func TestWrapInternal(t *testing.T) {
	baseErr := errors.New("database connection failed")
	wrapped := WrapInternal("failed to connect", baseErr)

	assert.True(t, IsInternalError(wrapped))
	assert.Equal(t, baseErr, errors.Unwrap(wrapped))
}

func TestWrapExecution(t *testing.T) {
	baseErr := errors.New("warehouse suspended")
	wrapped := WrapExecution("statement failed", baseErr)

	assert.True(t, IsExecutionError(wrapped))
	assert.Equal(t, baseErr, errors.Unwrap(wrapped))
}

func TestAllErrorVariablesAreDefined(t *testing.T) {
	// Test that all predefined error variables are properly initialized
	errorVars := []error{
		ErrObjectNotFound,
		ErrEventNotFound,
		ErrPrincipalNotFound,

		ErrInvalidInput,
		ErrInvalidObjectType,
		ErrInvalidObjectName,
		ErrEmptyStatement,

		ErrInvalidCredential,
		ErrCredentialExpired,
		ErrCredentialRevoked,
		ErrCredentialTampered,

		ErrForbidden,
		ErrMissingCapability,

		ErrRuntimeBudgetExceeded,
		ErrRowLimitExceeded,

		ErrSecurityRejected,
		ErrVersionConflict,
		ErrExecutionFailed,
		ErrQueryTimeout,

		ErrInternal,
		ErrDatabaseError,
	}

	for _, err := range errorVars {
		assert.NotNil(t, err, "error variable should not be nil")
		assert.NotEmpty(t, err.Error(), "error should have a message")
	}
}

func TestErrorTypeCheckersCoverage(t *testing.T) {
	// Ensure all error types have corresponding checker functions
	typeCheckers := map[ErrorType]func(error) bool{
		ErrorTypeNotFound:           IsNotFoundError,
		ErrorTypeValidation:         IsValidationError,
		ErrorTypeInvalidCredential:  IsCredentialError,
		ErrorTypeCredentialExpired:  IsCredentialError,
		ErrorTypeCredentialTampered: IsCredentialError,
		ErrorTypeForbidden:          IsForbiddenError,
		ErrorTypeQuotaExceeded:      IsQuotaError,
		ErrorTypePolicyViolation:    IsPolicyViolationError,
		ErrorTypeVersionConflict:    IsVersionConflictError,
		ErrorTypeExecutionFailure:   IsExecutionError,
		ErrorTypeTimeout:            IsTimeoutError,
		ErrorTypeInternal:           IsInternalError,
	}

	for errType, checker := range typeCheckers {
		t.Run(string(errType), func(t *testing.T) {
			err := NewDomainError(errType, "test error", nil)
			assert.True(t, checker(err), "checker should return true for %s", errType)
		})
	}
}
