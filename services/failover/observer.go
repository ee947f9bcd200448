package failover

import (
	"context"
	"time"

	"github.com/upb/llm-failover/services/providers"
)

// Capability names the operation being executed
type Capability string

const (
	CapabilityGenerateObject Capability = "generate_object"
	CapabilityGenerateText   Capability = "generate_text"
	CapabilityStreamText     Capability = "stream_text"
)

// Outcome is the result of a single provider attempt
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeCancelled Outcome = "cancelled"
)

// Attempt describes one provider attempt
type Attempt struct {
	RequestID  string
	Capability Capability
	ProviderID string
	Model      string

	// Number is 1-based within the provider; 0 for skipped providers
	Number int

	Outcome        Outcome
	Classification providers.Classification
	Err            error
	StartedAt      time.Time
	Latency        time.Duration
}

// Observer receives every attempt outcome. Implementations must not block.
type Observer interface {
	ObserveAttempt(ctx context.Context, attempt Attempt)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(ctx context.Context, attempt Attempt)

// ObserveAttempt implements Observer
func (f ObserverFunc) ObserveAttempt(ctx context.Context, attempt Attempt) {
	f(ctx, attempt)
}
