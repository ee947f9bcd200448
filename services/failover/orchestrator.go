// Package failover executes generation requests against the registered
// providers in priority order, skipping providers whose circuit is open,
// retrying transient failures locally and failing over to the next provider.
package failover

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/llm-failover/services/circuitbreaker"
	"github.com/upb/llm-failover/services/clock"
	"github.com/upb/llm-failover/services/providers"
)

// CandidateSource supplies providers in the order they should be tried
type CandidateSource interface {
	OrderedCandidates() []providers.Candidate
}

// Options are per-call generation options
type Options struct {
	System      string
	MaxTokens   int
	Temperature float64

	// SchemaName labels the schema for providers that require one
	SchemaName string

	// RequestID correlates attempts; generated when empty
	RequestID string

	Metadata map[string]string
}

// Metadata describes which provider served a call
type Metadata struct {
	RequestID string `json:"request_id"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`

	// Attempts counts every adapter call made for the request
	Attempts int `json:"attempts"`

	// Fallback is set when the serving provider was not the first candidate
	Fallback bool `json:"fallback"`
}

// TextResult is the result of GenerateText
type TextResult struct {
	Metadata
	Text         string          `json:"text"`
	FinishReason string          `json:"finish_reason,omitempty"`
	Usage        providers.Usage `json:"usage"`
}

// ObjectResult is the result of GenerateObject
type ObjectResult struct {
	Metadata
	Object json.RawMessage `json:"object"`
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithObserver adds an attempt observer
func WithObserver(observer Observer) Option {
	return func(o *Orchestrator) {
		if observer != nil {
			o.observers = append(o.observers, observer)
		}
	}
}

// WithRandom replaces the jitter source; fn must return values in [0, 1)
func WithRandom(fn func() float64) Option {
	return func(o *Orchestrator) {
		o.random = fn
	}
}

// Orchestrator runs the failover algorithm. It holds no mutable state between
// calls and is safe for concurrent use.
type Orchestrator struct {
	source    CandidateSource
	policy    RetryPolicy
	clock     clock.Clock
	logger    *zap.Logger
	observers []Observer
	random    func() float64
}

// New creates an orchestrator over source
func New(source CandidateSource, policy RetryPolicy, clk clock.Clock, logger *zap.Logger, opts ...Option) *Orchestrator {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		source: source,
		policy: policy.normalized(),
		clock:  clk,
		logger: logger.With(zap.String("component", "failover")),
		random: rand.Float64,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Policy returns the retry policy in effect
func (o *Orchestrator) Policy() RetryPolicy {
	return o.policy
}

// GenerateText generates free text with failover
func (o *Orchestrator) GenerateText(ctx context.Context, prompt string, opts Options) (*TextResult, error) {
	out, err := execute(ctx, o, CapabilityGenerateText, opts, boundedCall(
		func(ctx context.Context, c providers.Candidate) (*providers.Completion, error) {
			return c.Adapter.GenerateText(ctx, buildRequest(prompt, opts, c))
		}))
	if err != nil {
		return nil, err
	}

	res := &TextResult{
		Metadata:     out.meta,
		Text:         out.value.Text,
		FinishReason: out.value.FinishReason,
		Usage:        out.value.Usage,
	}
	if out.value.Model != "" {
		res.Model = out.value.Model
	}
	return res, nil
}

// GenerateObject generates a JSON value matching schema with failover. A
// provider whose output does not match the schema is treated as a fatal
// failure for that provider and the next one is tried.
func (o *Orchestrator) GenerateObject(ctx context.Context, schema json.RawMessage, prompt string, opts Options) (*ObjectResult, error) {
	compiled, err := compileSchema(schema)
	if err != nil {
		return nil, err
	}

	out, err := execute(ctx, o, CapabilityGenerateObject, opts, boundedCall(
		func(ctx context.Context, c providers.Candidate) (json.RawMessage, error) {
			obj, err := c.Adapter.GenerateObject(ctx, &providers.ObjectRequest{
				Request:    *buildRequest(prompt, opts, c),
				Schema:     compiled.raw,
				SchemaName: opts.SchemaName,
			})
			if err != nil {
				return nil, err
			}
			if err := compiled.validate(c.Config.ID, obj); err != nil {
				return nil, err
			}
			return obj, nil
		}))
	if err != nil {
		return nil, err
	}

	return &ObjectResult{Metadata: out.meta, Object: out.value}, nil
}

func buildRequest(prompt string, opts Options, c providers.Candidate) *providers.Request {
	return &providers.Request{
		Prompt:      prompt,
		System:      opts.System,
		ModelID:     c.Config.ModelID,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Metadata:    opts.Metadata,
	}
}

// attemptFunc performs one adapter call for candidate c
type attemptFunc[T any] func(ctx context.Context, c providers.Candidate) (T, error)

type outcome[T any] struct {
	value T
	meta  Metadata
}

type callResult[T any] struct {
	value T
	err   error
}

// race runs fn and returns its result, or ctx's error if ctx is done first.
// An adapter that ignores its context cannot hold the caller past the deadline.
func race[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	ch := make(chan callResult[T], 1)
	go func() {
		v, err := fn()
		ch <- callResult[T]{v, err}
	}()

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// boundedCall applies the provider's call timeout as a hard deadline
func boundedCall[T any](fn attemptFunc[T]) attemptFunc[T] {
	return func(ctx context.Context, c providers.Candidate) (T, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.Config.CallTimeout)
		defer cancel()
		return race(callCtx, func() (T, error) { return fn(callCtx, c) })
	}
}

// execute walks the candidates in priority order
func execute[T any](ctx context.Context, o *Orchestrator, capability Capability, opts Options, call attemptFunc[T]) (outcome[T], error) {
	var zero outcome[T]

	candidates := o.source.OrderedCandidates()
	if len(candidates) == 0 {
		o.logger.Error("no providers configured", zap.String("capability", string(capability)))
		return zero, ErrNoProvidersConfigured
	}

	requestID := opts.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger := o.logger.With(
		zap.String("request_id", requestID),
		zap.String("capability", string(capability)))

	failures := make([]ProviderFailure, 0, len(candidates))
	total := 0

	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		permit, ok := c.Breaker.Allow(o.clock.Now())
		if !ok {
			logger.Debug("provider skipped, circuit open", zap.String("provider", c.Config.ID))
			o.observe(ctx, Attempt{
				RequestID:  requestID,
				Capability: capability,
				ProviderID: c.Config.ID,
				Model:      c.Config.ModelID,
				Outcome:    OutcomeSkipped,
				Err:        circuitbreaker.ErrCircuitOpen,
				StartedAt:  o.clock.Now(),
			})
			failures = append(failures, ProviderFailure{
				ProviderID: c.Config.ID,
				Err:        circuitbreaker.ErrCircuitOpen,
				Skipped:    true,
			})
			continue
		}

		value, attempts, err := tryProvider(ctx, o, logger, requestID, capability, c, call)
		total += attempts

		if err == nil {
			c.Breaker.RecordSuccess()
			if i > 0 {
				logger.Info("request served by fallback provider",
					zap.String("provider", c.Config.ID),
					zap.Int("position", i+1),
					zap.Int("attempts", total))
			}
			return outcome[T]{
				value: value,
				meta: Metadata{
					RequestID: requestID,
					Provider:  c.Config.ID,
					Model:     c.Config.ModelID,
					Attempts:  total,
					Fallback:  i > 0,
				},
			}, nil
		}

		if ctx.Err() != nil {
			// caller went away; the provider is not to blame
			c.Breaker.ReleaseTrial(permit)
			return zero, ctx.Err()
		}

		c.Breaker.RecordFailure(o.clock.Now())
		logger.Warn("provider failed, failing over",
			zap.String("provider", c.Config.ID),
			zap.Int("attempts", attempts),
			zap.String("classification", providers.Classify(err).String()),
			zap.Error(err))

		failures = append(failures, ProviderFailure{
			ProviderID: c.Config.ID,
			Err:        err,
			Attempts:   attempts,
		})
	}

	exhausted := &ExhaustedError{Capability: capability, Failures: failures}
	logger.Error("all providers exhausted",
		zap.Int("providers", len(candidates)),
		zap.Int("attempts", total),
		zap.Error(exhausted))
	return zero, exhausted
}

// tryProvider makes up to MaxRetries+1 attempts against one provider. It
// returns the number of adapter calls made and the last error.
func tryProvider[T any](ctx context.Context, o *Orchestrator, logger *zap.Logger, requestID string, capability Capability, c providers.Candidate, call attemptFunc[T]) (T, int, error) {
	var (
		zero    T
		lastErr error
	)

	for attempt := 0; attempt <= o.policy.MaxRetries; attempt++ {
		startedAt := o.clock.Now()
		began := time.Now()
		value, err := call(ctx, c)
		latency := time.Since(began)

		record := Attempt{
			RequestID:  requestID,
			Capability: capability,
			ProviderID: c.Config.ID,
			Model:      c.Config.ModelID,
			Number:     attempt + 1,
			StartedAt:  startedAt,
			Latency:    latency,
		}

		if err == nil {
			record.Outcome = OutcomeSuccess
			o.observe(ctx, record)
			logger.Debug("provider attempt succeeded",
				zap.String("provider", c.Config.ID),
				zap.Int("attempt", attempt+1),
				zap.Duration("latency", latency))
			return value, attempt + 1, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			record.Outcome = OutcomeCancelled
			record.Err = ctx.Err()
			o.observe(ctx, record)
			return zero, attempt + 1, err
		}

		class := providers.Classify(err)
		record.Outcome = OutcomeFailure
		record.Classification = class
		record.Err = err
		o.observe(ctx, record)

		logger.Debug("provider attempt failed",
			zap.String("provider", c.Config.ID),
			zap.Int("attempt", attempt+1),
			zap.String("classification", class.String()),
			zap.Duration("latency", latency),
			zap.Error(err))

		if class == providers.Fatal || attempt == o.policy.MaxRetries {
			return zero, attempt + 1, lastErr
		}

		delay := o.policy.Delay(attempt, o.random)
		if err := o.clock.Sleep(ctx, delay); err != nil {
			return zero, attempt + 1, err
		}
	}

	return zero, o.policy.MaxRetries + 1, lastErr
}

func (o *Orchestrator) observe(ctx context.Context, attempt Attempt) {
	for _, obs := range o.observers {
		obs.ObserveAttempt(ctx, attempt)
	}
}
