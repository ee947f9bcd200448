// Package health reports per-provider circuit state and performs
// administrative circuit resets.
package health

import (
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-failover/services/circuitbreaker"
	"github.com/upb/llm-failover/services/clock"
	"github.com/upb/llm-failover/services/providers"
)

// Registry is the subset of the provider registry the monitor needs
type Registry interface {
	ListAll(now time.Time) []providers.ProviderStatus
	CircuitBreaker(providerID string) (*circuitbreaker.Breaker, error)
}

// ProviderHealth is the reported health of one provider
type ProviderHealth struct {
	ProviderID          string               `json:"provider"`
	Priority            int                  `json:"priority"`
	Model               string               `json:"model"`
	State               circuitbreaker.State `json:"state"`
	ConsecutiveFailures int                  `json:"consecutive_failures"`
	OpenedAt            *time.Time           `json:"opened_at"`
}

// Summary aggregates provider health
type Summary struct {
	Providers []ProviderHealth `json:"providers"`
	Total     int              `json:"total"`
	Available int              `json:"available"`
}

// Monitor exposes provider health. Status never blocks on in-flight calls.
type Monitor struct {
	registry Registry
	clock    clock.Clock
	logger   *zap.Logger
}

// NewMonitor creates a new health monitor
func NewMonitor(registry Registry, clk clock.Clock, logger *zap.Logger) *Monitor {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		registry: registry,
		clock:    clk,
		logger:   logger.With(zap.String("component", "health_monitor")),
	}
}

// Status returns the health of every provider in priority order
func (m *Monitor) Status() []ProviderHealth {
	statuses := m.registry.ListAll(m.clock.Now())

	out := make([]ProviderHealth, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, ProviderHealth{
			ProviderID:          s.Config.ID,
			Priority:            s.Config.Priority,
			Model:               s.Config.ModelID,
			State:               s.Snapshot.State,
			ConsecutiveFailures: s.Snapshot.ConsecutiveFailures,
			OpenedAt:            s.Snapshot.OpenedAt,
		})
	}
	return out
}

// Summary returns Status with counts. A provider is available unless its
// circuit is open.
func (m *Monitor) Summary() Summary {
	status := m.Status()
	available := 0
	for _, p := range status {
		if p.State != circuitbreaker.StateOpen {
			available++
		}
	}
	return Summary{Providers: status, Total: len(status), Available: available}
}

// ResetProvider forces one provider's circuit closed
func (m *Monitor) ResetProvider(providerID string) error {
	cb, err := m.registry.CircuitBreaker(providerID)
	if err != nil {
		return err
	}

	cb.Reset()
	m.logger.Info("circuit breaker reset", zap.String("provider", providerID))
	return nil
}

// ResetAll forces every provider's circuit closed
func (m *Monitor) ResetAll() {
	statuses := m.registry.ListAll(m.clock.Now())
	for _, s := range statuses {
		if cb, err := m.registry.CircuitBreaker(s.Config.ID); err == nil {
			cb.Reset()
		}
	}
	m.logger.Info("all circuit breakers reset", zap.Int("providers", len(statuses)))
}
