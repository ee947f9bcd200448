package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/llm-failover/services/circuitbreaker"
	"github.com/upb/llm-failover/services/clock"
	"github.com/upb/llm-failover/services/failover"
	"github.com/upb/llm-failover/services/health"
	"github.com/upb/llm-failover/services/providers"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// testStack is a registry, orchestrator and monitor over scripted adapters
type testStack struct {
	registry     *providers.Registry
	orchestrator *failover.Orchestrator
	monitor      *health.Monitor
	clock        *clock.Fake
}

type namedAdapter struct {
	id      string
	adapter providers.Adapter
}

func newTestStack(t *testing.T, adapters ...namedAdapter) *testStack {
	t.Helper()

	entries := make([]providers.Entry, 0, len(adapters))
	for i, a := range adapters {
		entries = append(entries, providers.Entry{
			Config:  providers.Config{ID: a.id, Priority: i + 1, ModelID: a.id + "-model", CallTimeout: time.Second},
			Adapter: a.adapter,
		})
	}

	reg, err := providers.NewRegistry(entries, circuitbreaker.Config{Threshold: 2, ResetTimeout: time.Minute}, zap.NewNop())
	require.NoError(t, err)

	fc := clock.NewFake(t0)
	return &testStack{
		registry:     reg,
		orchestrator: failover.New(reg, failover.RetryPolicy{MaxRetries: 0, BaseDelay: time.Millisecond, Multiplier: 2}, fc, zap.NewNop()),
		monitor:      health.NewMonitor(reg, fc, zap.NewNop()),
		clock:        fc,
	}
}

func provider(id string, adapter providers.Adapter) namedAdapter {
	return namedAdapter{id: id, adapter: adapter}
}
