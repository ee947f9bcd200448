package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/upb/llm-failover/services/failover"
	"github.com/upb/llm-failover/services/providers"
	"github.com/upb/llm-failover/utils"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeUnauthorized  ErrorType = "unauthorized"
	ErrorTypeForbidden     ErrorType = "forbidden"
	ErrorTypeInternal      ErrorType = "internal"
	ErrorTypeExternal      ErrorType = "external"
	ErrorTypeUnavailable   ErrorType = "unavailable"
	ErrorTypeUnprocessable ErrorType = "unprocessable"
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
	ErrProviderNotFound = NewDomainError(ErrorTypeNotFound, "provider not found", nil)

	// Validation Errors
	ErrInvalidInput  = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrEmptyPrompt   = NewDomainError(ErrorTypeValidation, "prompt cannot be empty", nil)
	ErrInvalidSchema = NewDomainError(ErrorTypeValidation, "invalid json schema", nil)

	// Authorization Errors
	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInvalidToken = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)
	ErrTokenExpired = NewDomainError(ErrorTypeUnauthorized, "authentication token expired", nil)

	// Permission Errors
	ErrForbidden = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)

	// Internal Errors
	ErrInternal      = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrDatabaseError = NewDomainError(ErrorTypeInternal, "database error", nil)

	// External Provider Errors
	ErrProvidersExhausted = NewDomainError(ErrorTypeExternal, "all LLM providers failed", nil)

	// Availability Errors
	ErrNoProviders      = NewDomainError(ErrorTypeUnavailable, "no LLM providers configured", nil)
	ErrRequestCancelled = NewDomainError(ErrorTypeUnavailable, "request cancelled before a provider responded", nil)

	// Unprocessable Errors
	ErrSchemaValidation = NewDomainError(ErrorTypeUnprocessable, "generated object does not match schema", nil)
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

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnauthorized
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return GetErrorType(err) == ErrorTypeForbidden
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// IsExternalError checks if an error is an external provider error
func IsExternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeExternal
}

// IsUnavailableError checks if an error means the service cannot serve requests
func IsUnavailableError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnavailable
}

// IsUnprocessableError checks if an error is an unprocessable model output error
func IsUnprocessableError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnprocessable
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

// WrapExternal wraps an error as an external provider error
func WrapExternal(message string, err error) error {
	return NewDomainError(ErrorTypeExternal, message, err)
}

// FromFailover translates orchestrator, registry and validation errors into
// domain errors. Domain errors pass through unchanged.
func FromFailover(err error) error {
	if err == nil {
		return nil
	}

	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return err
	}

	var exhausted *failover.ExhaustedError
	if errors.As(err, &exhausted) {
		return fromExhausted(exhausted)
	}

	var validationErr *utils.ValidationError
	switch {
	case errors.Is(err, failover.ErrNoProvidersConfigured):
		return NewDomainError(ErrorTypeUnavailable, ErrNoProviders.Message, err)

	case errors.Is(err, providers.ErrUnknownProvider):
		return NewDomainError(ErrorTypeNotFound, ErrProviderNotFound.Message, err)

	case errors.Is(err, failover.ErrInvalidSchema):
		return NewDomainError(ErrorTypeValidation, ErrInvalidSchema.Message, err).
			WithDetail("schema", err.Error())

	case errors.As(err, &validationErr):
		return NewDomainError(ErrorTypeValidation, ErrInvalidInput.Message, err).
			WithDetail("fields", validationErr.Fields)

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return NewDomainError(ErrorTypeUnavailable, ErrRequestCancelled.Message, err)
	}

	return WrapInternal("unexpected failover error", err)
}

// fromExhausted reports a schema failure as unprocessable when the last
// provider that answered produced an invalid object
func fromExhausted(exhausted *failover.ExhaustedError) error {
	details := make([]map[string]interface{}, 0, len(exhausted.Failures))
	for _, f := range exhausted.Failures {
		entry := map[string]interface{}{
			"provider": f.ProviderID,
			"attempts": f.Attempts,
			"skipped":  f.Skipped,
		}
		if f.Err != nil {
			entry["error"] = f.Err.Error()
		}
		details = append(details, entry)
	}

	var schemaErr *failover.SchemaValidationError
	if errors.As(exhausted.LastError(), &schemaErr) {
		return NewDomainError(ErrorTypeUnprocessable, ErrSchemaValidation.Message, exhausted).
			WithDetail("providers", details).
			WithDetail("validation_errors", schemaErr.Errors)
	}

	return NewDomainError(ErrorTypeExternal, ErrProvidersExhausted.Message, exhausted).
		WithDetail("providers", details)
}
