package models

import (
	"time"

	"github.com/google/uuid"
)

// AttemptOutcome is how a single provider attempt ended
type AttemptOutcome string

const (
	AttemptOutcomeSuccess   AttemptOutcome = "success"
	AttemptOutcomeFailure   AttemptOutcome = "failure"
	AttemptOutcomeSkipped   AttemptOutcome = "skipped"
	AttemptOutcomeCancelled AttemptOutcome = "cancelled"
)

// ProviderAttempt is one row of the provider attempt log
type ProviderAttempt struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	RequestID      string         `json:"request_id" db:"request_id"`
	Capability     string         `json:"capability" db:"capability"`
	Provider       string         `json:"provider" db:"provider"`
	Model          string         `json:"model" db:"model"`
	AttemptNumber  int            `json:"attempt_number" db:"attempt_number"` // 0 for skipped providers
	Outcome        AttemptOutcome `json:"outcome" db:"outcome"`
	Classification *string        `json:"classification,omitempty" db:"classification"`
	LatencyMs      int            `json:"latency_ms" db:"latency_ms"`
	ErrorMessage   *string        `json:"error_message,omitempty" db:"error_message"`
	StartedAt      time.Time      `json:"started_at" db:"started_at"`
}

// TableName returns the table name for the ProviderAttempt model
func (ProviderAttempt) TableName() string {
	return "provider_attempts"
}

// NewProviderAttempt creates a new ProviderAttempt instance
func NewProviderAttempt(requestID, capability, provider string, outcome AttemptOutcome) *ProviderAttempt {
	return &ProviderAttempt{
		ID:         uuid.New(),
		RequestID:  requestID,
		Capability: capability,
		Provider:   provider,
		Outcome:    outcome,
		StartedAt:  time.Now().UTC(),
	}
}

// WithCall sets the model, attempt number and timing of a provider call
func (a *ProviderAttempt) WithCall(model string, number int, startedAt time.Time, latency time.Duration) *ProviderAttempt {
	a.Model = model
	a.AttemptNumber = number
	if !startedAt.IsZero() {
		a.StartedAt = startedAt.UTC()
	}
	a.LatencyMs = int(latency.Milliseconds())
	return a
}

// WithError sets the failure classification and message
func (a *ProviderAttempt) WithError(classification, message string) *ProviderAttempt {
	a.Classification = &classification
	a.ErrorMessage = &message
	return a
}
