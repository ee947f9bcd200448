package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/upb/llm-failover/services/circuitbreaker"
	"github.com/upb/llm-failover/services/failover"
)

// Metrics holds the gateway's Prometheus collectors. It observes orchestrator
// attempts and breaker transitions.
type Metrics struct {
	attemptsTotal   *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	circuitState    *prometheus.GaugeVec
	transitions     *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewMetrics registers the collectors on reg under namespace
func NewMetrics(reg prometheus.Registerer, namespace string, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	return &Metrics{
		attemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_attempts_total",
				Help:      "Provider attempts by capability and outcome",
			},
			[]string{"provider", "capability", "outcome", "classification"},
		),
		attemptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_attempt_duration_seconds",
				Help:      "Provider attempt latency in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "capability"},
		),
		circuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit state per provider (0 closed, 1 open, 2 half-open)",
			},
			[]string{"provider"},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_transitions_total",
				Help:      "Circuit state transitions per provider",
			},
			[]string{"provider", "from", "to"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		logger: logger.With(zap.String("component", "metrics")),
	}
}

// InitProviders publishes a closed circuit for each provider so the gauge
// exists before the first transition
func (m *Metrics) InitProviders(ids []string) {
	for _, id := range ids {
		m.circuitState.WithLabelValues(id).Set(float64(circuitbreaker.StateClosed))
	}
}

// ObserveAttempt implements failover.Observer
func (m *Metrics) ObserveAttempt(_ context.Context, a failover.Attempt) {
	class := ""
	if a.Outcome == failover.OutcomeFailure {
		class = a.Classification.String()
	}
	m.attemptsTotal.WithLabelValues(a.ProviderID, string(a.Capability), string(a.Outcome), class).Inc()

	if a.Outcome == failover.OutcomeSuccess || a.Outcome == failover.OutcomeFailure {
		m.attemptDuration.WithLabelValues(a.ProviderID, string(a.Capability)).Observe(a.Latency.Seconds())
	}
}

// OnStateChange matches circuitbreaker.Config.OnStateChange
func (m *Metrics) OnStateChange(providerID string, from, to circuitbreaker.State) {
	m.circuitState.WithLabelValues(providerID).Set(float64(to))
	m.transitions.WithLabelValues(providerID, from.String(), to.String()).Inc()
	m.logger.Debug("circuit state published",
		zap.String("provider", providerID),
		zap.Stringer("to", to),
	)
}

// RecordHTTPRequest records one served HTTP request
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
