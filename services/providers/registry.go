package providers

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-failover/services/circuitbreaker"
	"github.com/upb/llm-failover/utils"
)

var (
	// ErrProviderAlreadyRegistered is returned when two entries share an id
	ErrProviderAlreadyRegistered = errors.New("provider already registered")

	// ErrNilAdapter is returned when an entry has no adapter
	ErrNilAdapter = errors.New("provider adapter cannot be nil")
)

// Entry pairs a provider configuration with the adapter that serves it
type Entry struct {
	Config  Config
	Adapter Adapter
}

// Candidate is a registered provider as seen by the orchestrator
type Candidate struct {
	Config  Config
	Adapter Adapter
	Breaker *circuitbreaker.Breaker
}

// ProviderStatus is a provider configuration with its circuit snapshot
type ProviderStatus struct {
	Config   Config
	Snapshot circuitbreaker.Snapshot
}

// Registry holds the configured providers in priority order and owns one
// circuit breaker per provider. It is immutable after construction, so reads
// need no locking; breaker state is guarded by each breaker.
type Registry struct {
	candidates []Candidate
	byID       map[string]int
}

// NewRegistry validates entries and builds the registry. Breakers are created
// here, once, and never replaced.
func NewRegistry(entries []Entry, breakerCfg circuitbreaker.Config, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "provider_registry"))

	candidates := make([]Candidate, 0, len(entries))
	byID := make(map[string]int, len(entries))

	for i, entry := range entries {
		cfg := entry.Config
		if cfg.CallTimeout == 0 {
			cfg.CallTimeout = DefaultCallTimeout
		}
		if err := utils.ValidateStruct(cfg); err != nil {
			return nil, fmt.Errorf("invalid provider config at index %d: %w", i, err)
		}
		if entry.Adapter == nil {
			return nil, fmt.Errorf("provider %s: %w", cfg.ID, ErrNilAdapter)
		}
		if _, exists := byID[cfg.ID]; exists {
			return nil, fmt.Errorf("provider %s: %w", cfg.ID, ErrProviderAlreadyRegistered)
		}

		byID[cfg.ID] = len(candidates)
		candidates = append(candidates, Candidate{
			Config:  cfg,
			Adapter: entry.Adapter,
			Breaker: circuitbreaker.New(cfg.ID, breakerCfg, logger),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Config.Priority < candidates[j].Config.Priority
	})
	for i, c := range candidates {
		byID[c.Config.ID] = i
	}

	for _, c := range candidates {
		logger.Info("provider registered",
			zap.String("provider", c.Config.ID),
			zap.Int("priority", c.Config.Priority),
			zap.String("model", c.Config.ModelID),
			zap.Duration("call_timeout", c.Config.CallTimeout))
	}

	return &Registry{candidates: candidates, byID: byID}, nil
}

// OrderedCandidates returns every provider sorted ascending by priority, ties
// in registration order. Circuit state is not consulted.
func (r *Registry) OrderedCandidates() []Candidate {
	out := make([]Candidate, len(r.candidates))
	copy(out, r.candidates)
	return out
}

// CircuitBreaker returns the breaker owned for providerID
func (r *Registry) CircuitBreaker(providerID string) (*circuitbreaker.Breaker, error) {
	c, err := r.Provider(providerID)
	if err != nil {
		return nil, err
	}
	return c.Breaker, nil
}

// Provider returns the candidate registered under providerID
func (r *Registry) Provider(providerID string) (Candidate, error) {
	i, ok := r.byID[providerID]
	if !ok {
		return Candidate{}, unknownProvider(providerID)
	}
	return r.candidates[i], nil
}

// ListAll returns each provider with its circuit snapshot as seen at now, in
// priority order
func (r *Registry) ListAll(now time.Time) []ProviderStatus {
	statuses := make([]ProviderStatus, 0, len(r.candidates))
	for _, c := range r.candidates {
		statuses = append(statuses, ProviderStatus{
			Config:   c.Config,
			Snapshot: c.Breaker.Snapshot(now),
		})
	}
	return statuses
}

// Len returns the number of registered providers
func (r *Registry) Len() int {
	return len(r.candidates)
}

// IDs returns provider ids in priority order
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.candidates))
	for _, c := range r.candidates {
		ids = append(ids, c.Config.ID)
	}
	return ids
}

// RegistryBuilder helps build a registry from several providers
type RegistryBuilder struct {
	entries    []Entry
	breakerCfg circuitbreaker.Config
	logger     *zap.Logger
}

// NewRegistryBuilder creates a new registry builder
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{
		breakerCfg: circuitbreaker.DefaultConfig(),
		logger:     zap.NewNop(),
	}
}

// WithProvider adds a provider
func (rb *RegistryBuilder) WithProvider(cfg Config, adapter Adapter) *RegistryBuilder {
	rb.entries = append(rb.entries, Entry{Config: cfg, Adapter: adapter})
	return rb
}

// WithBreakerConfig sets the configuration shared by every breaker
func (rb *RegistryBuilder) WithBreakerConfig(cfg circuitbreaker.Config) *RegistryBuilder {
	rb.breakerCfg = cfg
	return rb
}

// WithLogger sets the logger
func (rb *RegistryBuilder) WithLogger(logger *zap.Logger) *RegistryBuilder {
	rb.logger = logger
	return rb
}

// Build creates the registry
func (rb *RegistryBuilder) Build() (*Registry, error) {
	return NewRegistry(rb.entries, rb.breakerCfg, rb.logger)
}
