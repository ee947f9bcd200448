package providers

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnknownProvider is returned when a provider id is not registered
var ErrUnknownProvider = errors.New("unknown provider")

// Classification tells the orchestrator whether a failure is worth retrying
type Classification int

const (
	// Transient failures (timeouts, network errors, 429, 5xx) are retried
	// against the same provider and then failed over
	Transient Classification = iota
	// Fatal failures (bad credentials, rejected request, unknown model) are
	// not retried against the same provider
	Fatal
)

// String returns the classification name
func (c Classification) String() string {
	if c == Fatal {
		return "fatal"
	}
	return "transient"
}

// Classifier is implemented by errors that know their own classification
type Classifier interface {
	Classification() Classification
}

// ProviderError represents an error from a provider
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Code is the error code
	Code string

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Class tells whether the failure is retryable
	Class Classification

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	msg := e.Message
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Classification implements Classifier
func (e *ProviderError) Classification() Classification {
	return e.Class
}

// NewProviderError creates a new provider error
func NewProviderError(provider, code, message string, statusCode int, class Classification, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Class:      class,
		Cause:      cause,
	}
}

// NewTransientError creates a retryable provider error
func NewTransientError(provider, code, message string, statusCode int, cause error) *ProviderError {
	return NewProviderError(provider, code, message, statusCode, Transient, cause)
}

// NewFatalError creates a non-retryable provider error
func NewFatalError(provider, code, message string, statusCode int, cause error) *ProviderError {
	return NewProviderError(provider, code, message, statusCode, Fatal, cause)
}

// ClassForStatus classifies an HTTP status returned by a vendor API
func ClassForStatus(statusCode int) Classification {
	switch {
	case statusCode == http.StatusRequestTimeout,
		statusCode == http.StatusTooEarly,
		statusCode == http.StatusTooManyRequests,
		statusCode >= 500:
		return Transient
	case statusCode >= 400:
		return Fatal
	default:
		return Transient
	}
}

// Classify tags err as Transient or Fatal. Errors that carry their own
// classification win. Everything else, including deadlines, network failures
// and truncated bodies, is transient.
func Classify(err error) Classification {
	var classifier Classifier
	if errors.As(err, &classifier) {
		return classifier.Classification()
	}
	return Transient
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	return err != nil && Classify(err) == Transient
}

// unknownProvider wraps ErrUnknownProvider with the offending id
func unknownProvider(id string) error {
	return fmt.Errorf("%w: %s", ErrUnknownProvider, id)
}
