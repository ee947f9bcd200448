// Package audit persists provider attempts asynchronously. Writes never sit
// on the request path and failures are only logged.
package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-failover/models"
	"github.com/upb/llm-failover/repositories"
	"github.com/upb/llm-failover/services/failover"
)

// Config holds configuration for the AttemptRecorder
type Config struct {
	BufferSize    int           // Size of the attempt buffer channel
	WorkerCount   int           // Number of concurrent workers
	BatchSize     int           // Attempts written per transaction
	FlushInterval time.Duration // Maximum time an attempt waits in a partial batch
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:    10000,
		WorkerCount:   2,
		BatchSize:     100,
		FlushInterval: time.Second,
	}
}

// AttemptRecorder writes orchestrator attempts to the attempt log
type AttemptRecorder struct {
	repo   repositories.AttemptRepository
	txMgr  repositories.TransactionManager
	logger *zap.Logger
	config Config

	attempts chan *models.ProviderAttempt
	wg       sync.WaitGroup

	// mu is held for writing only by Start and Stop; attempts are enqueued
	// under the read lock so concurrent requests do not serialise.
	mu      sync.RWMutex
	started bool
	stopped bool
	dropped atomic.Int64
}

// NewAttemptRecorder creates a new AttemptRecorder. txMgr may be nil, in
// which case batches are written without a transaction.
func NewAttemptRecorder(repo repositories.AttemptRepository, txMgr repositories.TransactionManager, logger *zap.Logger, config Config) *AttemptRecorder {
	def := DefaultConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = def.BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = def.WorkerCount
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = def.FlushInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AttemptRecorder{
		repo:     repo,
		txMgr:    txMgr,
		logger:   logger.With(zap.String("component", "attempt_recorder")),
		config:   config,
		attempts: make(chan *models.ProviderAttempt, config.BufferSize),
	}
}

// Start starts the background workers
func (r *AttemptRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("attempt recorder already started")
	}

	for i := 0; i < r.config.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	r.started = true
	r.logger.Info("started attempt recorder",
		zap.Int("worker_count", r.config.WorkerCount),
		zap.Int("buffer_size", r.config.BufferSize))

	return nil
}

// Stop stops accepting attempts and waits for pending ones to be written
func (r *AttemptRecorder) Stop(timeout time.Duration) error {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return fmt.Errorf("attempt recorder not running")
	}
	r.stopped = true
	close(r.attempts)
	r.mu.Unlock()

	r.logger.Info("stopping attempt recorder", zap.Int("pending_attempts", len(r.attempts)))

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("attempt recorder stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("attempt recorder stop timeout after %v", timeout)
	}
}

// ObserveAttempt implements failover.Observer. It never blocks; attempts are
// dropped when the buffer is full or the recorder is not running.
func (r *AttemptRecorder) ObserveAttempt(_ context.Context, a failover.Attempt) {
	row := toModel(a)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.started || r.stopped {
		r.dropped.Add(1)
		return
	}

	select {
	case r.attempts <- row:
	default:
		r.dropped.Add(1)
		r.logger.Warn("attempt buffer full, dropping attempt",
			zap.String("request_id", a.RequestID),
			zap.String("provider", a.ProviderID))
	}
}

// worker drains the channel in batches
func (r *AttemptRecorder) worker(id int) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]*models.ProviderAttempt, 0, r.config.BatchSize)
	for {
		select {
		case a, ok := <-r.attempts:
			if !ok {
				r.flush(id, batch)
				return
			}
			batch = append(batch, a)
			if len(batch) >= r.config.BatchSize {
				r.flush(id, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(id, batch)
				batch = batch[:0]
			}
		}
	}
}

// flush writes one batch in a transaction
func (r *AttemptRecorder) flush(workerID int, batch []*models.ProviderAttempt) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if r.txMgr != nil {
		err = r.txMgr.InTransaction(ctx, func(ctx context.Context, tx repositories.Transaction) error {
			return r.repo.WithTx(tx).InsertBatch(ctx, batch)
		})
	} else {
		err = r.repo.InsertBatch(ctx, batch)
	}

	if err != nil {
		r.logger.Error("failed to write provider attempts",
			zap.Int("worker_id", workerID),
			zap.Int("count", len(batch)),
			zap.Error(err))
	}
}

// GetStats returns statistics about the recorder
func (r *AttemptRecorder) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Stats{
		BufferSize:      r.config.BufferSize,
		PendingAttempts: len(r.attempts),
		WorkerCount:     r.config.WorkerCount,
		DroppedAttempts: r.dropped.Load(),
		Started:         r.started && !r.stopped,
	}
}

// Stats represents attempt recorder statistics
type Stats struct {
	BufferSize      int
	PendingAttempts int
	WorkerCount     int
	DroppedAttempts int64
	Started         bool
}

func toModel(a failover.Attempt) *models.ProviderAttempt {
	row := models.NewProviderAttempt(a.RequestID, string(a.Capability), a.ProviderID, models.AttemptOutcome(a.Outcome)).
		WithCall(a.Model, a.Number, a.StartedAt, a.Latency)
	if a.Outcome == failover.OutcomeFailure && a.Err != nil {
		row.WithError(a.Classification.String(), a.Err.Error())
	} else if a.Err != nil {
		msg := a.Err.Error()
		row.ErrorMessage = &msg
	}
	return row
}
