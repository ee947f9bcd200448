package failover

import (
	"errors"
	"fmt"
	"strings"

	"github.com/upb/llm-failover/services/providers"
)

var (
	// ErrNoProvidersConfigured is returned when the registry is empty
	ErrNoProvidersConfigured = errors.New("no providers configured")

	// ErrInvalidSchema is returned when the caller's JSON Schema cannot be compiled
	ErrInvalidSchema = errors.New("invalid json schema")
)

// ProviderFailure is the outcome of one provider within an exhausted call
type ProviderFailure struct {
	ProviderID string `json:"provider"`
	Err        error  `json:"-"`
	Attempts   int    `json:"attempts"`
	Skipped    bool   `json:"skipped"`
}

// ExhaustedError is returned when every provider was skipped or failed.
// Failures holds one entry per configured provider, in priority order.
type ExhaustedError struct {
	Capability Capability
	Failures   []ProviderFailure
}

// Error implements the error interface
func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.ProviderID, f.Err))
	}
	return fmt.Sprintf("all providers exhausted for %s: %s", e.Capability, strings.Join(parts, "; "))
}

// Unwrap exposes every provider error to errors.Is and errors.As
func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}

// LastError returns the error of the last provider that was actually called
func (e *ExhaustedError) LastError() error {
	for i := len(e.Failures) - 1; i >= 0; i-- {
		if !e.Failures[i].Skipped {
			return e.Failures[i].Err
		}
	}
	return nil
}

// SchemaValidationError is returned when a provider produced an object that
// does not satisfy the requested schema. It is fatal for that provider.
type SchemaValidationError struct {
	ProviderID string
	Errors     []string
	Cause      error
}

// Error implements the error interface
func (e *SchemaValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: generated object is not valid json: %v", e.ProviderID, e.Cause)
	}
	return fmt.Sprintf("%s: generated object does not match schema: %s", e.ProviderID, strings.Join(e.Errors, "; "))
}

// Unwrap returns the decoding error, if any
func (e *SchemaValidationError) Unwrap() error {
	return e.Cause
}

// Classification implements providers.Classifier
func (e *SchemaValidationError) Classification() providers.Classification {
	return providers.Fatal
}
