// Package circuitbreaker implements the per-provider Closed / Open / HalfOpen
// state machine used by the failover orchestrator.
//
// A breaker is purely in-memory. The Open to HalfOpen transition is lazy: it
// is evaluated inside IsCallPermitted against the time supplied by the caller,
// so no background timer is involved.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the circuit state of a single provider
type State int

const (
	// StateClosed allows every call
	StateClosed State = iota
	// StateOpen blocks every call until the reset timeout elapses
	StateOpen
	// StateHalfOpen allows a single trial call
	StateHalfOpen
)

// String returns the wire name of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON payloads
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrCircuitOpen is reported for providers skipped because their circuit
// refused the call
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds circuit breaker configuration
type Config struct {
	// Threshold is the number of consecutive failures that opens the circuit
	Threshold int

	// ResetTimeout is how long the circuit stays open before a trial call is allowed
	ResetTimeout time.Duration

	// OnStateChange is invoked after every transition, outside the breaker lock
	OnStateChange func(providerID string, from, to State)
}

// DefaultConfig returns the default breaker configuration
func DefaultConfig() Config {
	return Config{
		Threshold:    5,
		ResetTimeout: 60 * time.Second,
	}
}

// Snapshot is a point-in-time copy of a breaker record
type Snapshot struct {
	ProviderID          string        `json:"provider_id"`
	State               State         `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	OpenedAt            *time.Time    `json:"opened_at"`
	Threshold           int           `json:"threshold"`
	ResetTimeout        time.Duration `json:"reset_timeout"`
}

// Breaker is the circuit breaker for one provider. All methods are safe for
// concurrent use.
type Breaker struct {
	providerID string
	config     Config
	logger     *zap.Logger

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time // zero unless Open or HalfOpen
	trialInFlight       bool
	trialSeq            uint64 // id of the most recently granted trial
}

// Permit identifies one admitted call. Only the permit that was granted the
// half-open trial can release it.
type Permit struct {
	trial uint64 // zero when admitted while Closed
}

// Trial reports whether the permit holds the half-open trial
func (p Permit) Trial() bool {
	return p.trial != 0
}

// New creates a closed breaker for providerID
func New(providerID string, config Config, logger *zap.Logger) *Breaker {
	if config.Threshold <= 0 {
		config.Threshold = DefaultConfig().Threshold
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = DefaultConfig().ResetTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Breaker{
		providerID: providerID,
		config:     config,
		logger:     logger.With(zap.String("provider", providerID)),
		state:      StateClosed,
	}
}

// ProviderID returns the provider this breaker guards
func (b *Breaker) ProviderID() string {
	return b.providerID
}

// IsCallPermitted reports whether a call may be made at now.
//
// An Open circuit whose reset timeout has elapsed moves to HalfOpen and the
// caller is granted the trial call. While that trial is outstanding every
// other caller is refused.
func (b *Breaker) IsCallPermitted(now time.Time) bool {
	_, ok := b.Allow(now)
	return ok
}

// Allow is IsCallPermitted returning the Permit of the admitted call, for
// callers that may need to give the trial back with ReleaseTrial.
func (b *Breaker) Allow(now time.Time) (Permit, bool) {
	b.mu.Lock()

	from := b.state
	var permit Permit
	permitted := false

	switch b.state {
	case StateClosed:
		permitted = true

	case StateOpen:
		if now.Sub(b.openedAt) >= b.config.ResetTimeout {
			b.state = StateHalfOpen
			permit = b.grantTrial()
			permitted = true
		}

	case StateHalfOpen:
		if !b.trialInFlight {
			permit = b.grantTrial()
			permitted = true
		}
	}

	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return permit, permitted
}

// grantTrial must be called with mu held
func (b *Breaker) grantTrial() Permit {
	b.trialSeq++
	b.trialInFlight = true
	return Permit{trial: b.trialSeq}
}

// RecordSuccess closes the circuit and clears the failure count
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()

	from := b.state
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.openedAt = time.Time{}
	b.trialInFlight = false

	b.mu.Unlock()

	b.notify(from, StateClosed)
}

// RecordFailure counts a failed call made at now. A failed trial re-opens the
// circuit regardless of the threshold.
func (b *Breaker) RecordFailure(now time.Time) {
	b.mu.Lock()

	from := b.state
	b.consecutiveFailures++

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = now
		b.trialInFlight = false

	case StateClosed:
		if b.consecutiveFailures >= b.config.Threshold {
			b.state = StateOpen
			b.openedAt = now
		}
	}

	to := b.state
	failures := b.consecutiveFailures
	b.mu.Unlock()

	if from != to {
		b.logger.Warn("circuit opened",
			zap.Int("consecutive_failures", failures),
			zap.Int("threshold", b.config.Threshold),
			zap.String("from_state", from.String()))
	}
	b.notify(from, to)
}

// ReleaseTrial gives back the half-open trial held by p without recording an
// outcome, so the next caller can make the trial call instead. It does nothing
// unless p is the trial currently outstanding.
func (b *Breaker) ReleaseTrial(p Permit) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p.trial != 0 && b.state == StateHalfOpen && b.trialInFlight && p.trial == b.trialSeq {
		b.trialInFlight = false
	}
}

// Reset forces the breaker back to Closed with no failures
func (b *Breaker) Reset() {
	b.mu.Lock()

	from := b.state
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.openedAt = time.Time{}
	b.trialInFlight = false

	b.mu.Unlock()

	b.logger.Info("circuit reset", zap.String("from_state", from.String()))
	b.notify(from, StateClosed)
}

// State returns the stored state without evaluating the reset timeout
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a copy of the record as seen at now. An Open circuit whose
// reset timeout has elapsed is reported as HalfOpen; the stored state is not
// changed and no trial is consumed.
func (b *Breaker) Snapshot(now time.Time) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := Snapshot{
		ProviderID:          b.providerID,
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		Threshold:           b.config.Threshold,
		ResetTimeout:        b.config.ResetTimeout,
	}

	if b.state == StateOpen && now.Sub(b.openedAt) >= b.config.ResetTimeout {
		snap.State = StateHalfOpen
	}
	if !b.openedAt.IsZero() {
		openedAt := b.openedAt
		snap.OpenedAt = &openedAt
	}

	return snap
}

func (b *Breaker) notify(from, to State) {
	if from == to {
		return
	}

	if to != StateOpen {
		b.logger.Info("circuit state changed",
			zap.String("from_state", from.String()),
			zap.String("to_state", to.String()))
	}

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.providerID, from, to)
	}
}
