package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/upb/llm-failover/config"
	"github.com/upb/llm-failover/internal/observability"
	"github.com/upb/llm-failover/middleware"
	"github.com/upb/llm-failover/repositories"
	"github.com/upb/llm-failover/repositories/postgres"
	"github.com/upb/llm-failover/services/audit"
	"github.com/upb/llm-failover/services/circuitbreaker"
	"github.com/upb/llm-failover/services/clock"
	"github.com/upb/llm-failover/services/failover"
	"github.com/upb/llm-failover/services/health"
	"github.com/upb/llm-failover/services/providers"
	"github.com/upb/llm-failover/services/providers/anthropic"
	"github.com/upb/llm-failover/services/providers/openai"
)

// MetricsNamespace prefixes every exported metric
const MetricsNamespace = "llm_failover"

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger
	Clock  clock.Clock

	// Attempt log, nil when no database is configured
	DB        *postgres.DB
	TxManager repositories.TransactionManager
	Attempts  repositories.AttemptRepository
	Recorder  *audit.AttemptRecorder

	// Metrics
	Metrics         *observability.Metrics
	MetricsRegistry *prometheus.Registry

	// Failover
	Registry     *providers.Registry
	Orchestrator *failover.Orchestrator
	Monitor      *health.Monitor

	// AuthMiddleware guards admin routes; nil when ADMIN_JWT_SECRET is unset
	AuthMiddleware *middleware.AuthMiddleware
}

// Option customises NewDependencies
type Option func(*options)

type options struct {
	adapters map[string]providers.Adapter
	clock    clock.Clock
}

// WithAdapter replaces the adapter built for provider id. The provider must
// still be configured.
func WithAdapter(id string, adapter providers.Adapter) Option {
	return func(o *options) {
		o.adapters[id] = adapter
	}
}

// WithClock replaces the system clock
func WithClock(clk clock.Clock) Option {
	return func(o *options) {
		o.clock = clk
	}
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	o := &options{adapters: make(map[string]providers.Adapter), clock: clock.System()}
	for _, opt := range opts {
		opt(o)
	}

	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
		Clock:  o.clock,
	}

	deps.initMetrics()

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initProviders(cfg, o.adapters); err != nil {
		deps.closeDatabase()
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	deps.initFailover(cfg)
	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.Strings("providers", deps.Registry.IDs()),
		zap.Bool("attempt_log", deps.DB != nil),
		zap.Bool("admin_auth", deps.AuthMiddleware != nil))
	return deps, nil
}

func (d *Dependencies) initMetrics() {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.MetricsRegistry = reg
	d.Metrics = observability.NewMetrics(reg, MetricsNamespace, d.Logger)
}

// initDatabase connects the optional attempt log and starts its recorder
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if !cfg.Database.Enabled() {
		d.Logger.Info("database not configured, attempt log disabled")
		return nil
	}

	db, err := postgres.NewDB(ctx, cfg.Database, d.Logger)
	if err != nil {
		return err
	}

	if err := db.InitSchema(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.DB = db
	d.TxManager = postgres.NewTransactionManager(db, d.Logger)
	d.Attempts = postgres.NewAttemptRepository(db, d.Logger)
	d.Recorder = audit.NewAttemptRecorder(d.Attempts, d.TxManager, d.Logger, audit.DefaultConfig())
	if err := d.Recorder.Start(); err != nil {
		_ = db.Close()
		return err
	}

	d.Logger.Info("attempt log enabled")
	return nil
}

// initProviders builds the registry in PRIMARY_PROVIDER order, one breaker per provider
func (d *Dependencies) initProviders(cfg *config.Config, overrides map[string]providers.Adapter) error {
	settings := cfg.ProviderEntries()
	entries := make([]providers.Entry, 0, len(settings))

	for _, s := range settings {
		adapter, ok := overrides[s.ID]
		if !ok {
			var err error
			if adapter, err = newAdapter(s); err != nil {
				return err
			}
		}

		entries = append(entries, providers.Entry{
			Config: providers.Config{
				ID:          s.ID,
				Priority:    s.Priority,
				ModelID:     s.Model,
				CallTimeout: s.Timeout,
			},
			Adapter: adapter,
		})
	}

	registry, err := providers.NewRegistry(entries, circuitbreaker.Config{
		Threshold:     cfg.Failover.BreakerThreshold,
		ResetTimeout:  cfg.Failover.BreakerResetTimeout,
		OnStateChange: d.Metrics.OnStateChange,
	}, d.Logger)
	if err != nil {
		return err
	}

	if registry.Len() == 0 {
		d.Logger.Warn("no LLM providers configured")
	}

	d.Metrics.InitProviders(registry.IDs())
	d.Registry = registry
	return nil
}

func newAdapter(s config.ProviderSettings) (providers.Adapter, error) {
	switch s.ID {
	case config.ProviderOpenAI:
		return openai.NewAdapter(openai.Config{APIKey: s.APIKey, BaseURL: s.BaseURL}), nil
	case config.ProviderAnthropic:
		return anthropic.NewAdapter(anthropic.Config{APIKey: s.APIKey, BaseURL: s.BaseURL}), nil
	default:
		return nil, fmt.Errorf("no adapter for provider %q", s.ID)
	}
}

func (d *Dependencies) initFailover(cfg *config.Config) {
	policy := failover.RetryPolicy{
		MaxRetries: cfg.Failover.MaxRetries,
		BaseDelay:  cfg.Failover.RetryDelay,
		Multiplier: cfg.Failover.RetryMultiplier,
		MaxDelay:   cfg.Failover.RetryMaxDelay,
		Jitter:     cfg.Failover.RetryJitter,
	}

	opts := []failover.Option{failover.WithObserver(d.Metrics)}
	if d.Recorder != nil {
		opts = append(opts, failover.WithObserver(d.Recorder))
	}

	d.Orchestrator = failover.New(d.Registry, policy, d.Clock, d.Logger, opts...)
	d.Monitor = health.NewMonitor(d.Registry, d.Clock, d.Logger)
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	if cfg.Auth.AdminJWTSecret == "" {
		d.Logger.Warn("ADMIN_JWT_SECRET not set, admin routes are unauthenticated")
		return
	}
	d.AuthMiddleware = middleware.NewAuthMiddleware(middleware.NewHMACValidator(cfg.Auth.AdminJWTSecret), d.Logger)
}

func (d *Dependencies) closeDatabase() {
	if d.Recorder != nil {
		_ = d.Recorder.Stop(5 * time.Second)
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}

// Close gracefully shuts down all dependencies. Pending attempts are flushed
// before the database is closed.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Recorder != nil {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Recorder.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop attempt recorder: %w", err))
		}
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
