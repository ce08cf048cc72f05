package services

import (
	"errors"
	"fmt"

	"github.com/memcrypt/console-gateway/utils"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeExternal     ErrorType = "external"
)

// DomainError represents a structured error with additional context.
// Message is safe to return to clients; Err is for logs only.
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details []utils.FieldError
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

// Is matches another DomainError of the same type. Sentinels with the
// same type and message are also matched when target carries a message.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	if e.Type != t.Type {
		return false
	}
	return t.Message == "" || e.Message == t.Message
}

// WithDetail returns a copy of the error with a field detail appended.
// Sentinels stay untouched.
func (e *DomainError) WithDetail(field, message string) *DomainError {
	cp := *e
	cp.Details = append(append([]utils.FieldError(nil), e.Details...), utils.FieldError{Field: field, Message: message})
	return &cp
}

// Wrap returns a copy of the error carrying cause as its underlying error
func (e *DomainError) Wrap(cause error) *DomainError {
	cp := *e
	cp.Err = cause
	return &cp
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// Domain error variables

var (
	// Authentication
	ErrMissingCredential = NewDomainError(ErrorTypeUnauthorized, "No token provided", nil)
	ErrInvalidCredential = NewDomainError(ErrorTypeUnauthorized, "Invalid token", nil)

	// Authorization
	ErrMissingPrincipalData    = NewDomainError(ErrorTypeForbidden, "User information not found", nil)
	ErrInsufficientPermissions = NewDomainError(ErrorTypeForbidden, "Insufficient permissions", nil)

	// Validation
	ErrMissingResourceID    = NewDomainError(ErrorTypeValidation, "User ID is required", nil).WithDetail("userId", "A valid user ID must be provided")
	ErrInvalidInput         = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrUserNotPending       = NewDomainError(ErrorTypeValidation, "User is not pending approval", nil)
	ErrApprovalUserNotFound = NewDomainError(ErrorTypeValidation, "User not found", nil)

	// Not found
	ErrUserNotFound         = NewDomainError(ErrorTypeNotFound, "User not found or inaccessible", nil)
	ErrOrganizationNotFound = NewDomainError(ErrorTypeNotFound, "Organization not found", nil)

	// Rate limit
	ErrRateLimitExceeded = NewDomainError(ErrorTypeRateLimit, "Rate limit exceeded", nil)

	// Conflict
	ErrConcurrentUpdate = NewDomainError(ErrorTypeConflict, "concurrent update detected", nil)

	// Internal
	ErrInternal      = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrDatabaseError = NewDomainError(ErrorTypeInternal, "database error", nil)

	// External
	ErrKeySetUnavailable = NewDomainError(ErrorTypeExternal, "identity provider key set unavailable", nil)
)

// Error type checking helper functions

func isType(err error, t ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == t
	}
	return false
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool { return isType(err, ErrorTypeNotFound) }

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool { return isType(err, ErrorTypeValidation) }

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool { return isType(err, ErrorTypeUnauthorized) }

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool { return isType(err, ErrorTypeForbidden) }

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool { return isType(err, ErrorTypeRateLimit) }

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool { return isType(err, ErrorTypeConflict) }

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool { return isType(err, ErrorTypeInternal) }

// IsExternalError checks if an error is an external dependency error
func IsExternalError(err error) bool { return isType(err, ErrorTypeExternal) }

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the field details of a domain error, or nil if not a domain error
func GetErrorDetails(err error) []utils.FieldError {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// PublicMessage returns the client-safe message of a domain error
func PublicMessage(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return ""
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapExternal wraps an error as an external dependency error
func WrapExternal(message string, err error) error {
	return NewDomainError(ErrorTypeExternal, message, err)
}
