package postgres

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/upb/llm-failover/models"
	"github.com/upb/llm-failover/repositories"
)

const attemptColumns = `id, request_id, capability, provider, model, attempt_number,
		outcome, classification, latency_ms, error_message, started_at`

const attemptColumnCount = 11

// AttemptRepository implements repositories.AttemptRepository
type AttemptRepository struct {
	db     *DB
	tx     *Transaction
	logger *zap.Logger
}

// NewAttemptRepository creates a new attempt repository
func NewAttemptRepository(db *DB, logger *zap.Logger) *AttemptRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttemptRepository{db: db, logger: logger}
}

// WithTx returns a repository bound to tx
func (r *AttemptRepository) WithTx(tx repositories.Transaction) repositories.AttemptRepository {
	pgTx, ok := tx.(*Transaction)
	if !ok {
		return r
	}
	return &AttemptRepository{db: r.db, tx: pgTx, logger: r.logger}
}

// Insert inserts a single attempt
func (r *AttemptRepository) Insert(ctx context.Context, a *models.ProviderAttempt) error {
	return r.InsertBatch(ctx, []*models.ProviderAttempt{a})
}

// InsertBatch inserts attempts with one multi-row statement
func (r *AttemptRepository) InsertBatch(ctx context.Context, attempts []*models.ProviderAttempt) error {
	if len(attempts) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO provider_attempts (")
	sb.WriteString(attemptColumns)
	sb.WriteString(") VALUES ")

	args := make([]interface{}, 0, len(attempts)*attemptColumnCount)
	for i, a := range attempts {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j := 0; j < attemptColumnCount; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*attemptColumnCount+j+1)
		}
		sb.WriteString(")")

		args = append(args,
			a.ID,
			a.RequestID,
			a.Capability,
			a.Provider,
			a.Model,
			a.AttemptNumber,
			a.Outcome,
			a.Classification,
			a.LatencyMs,
			a.ErrorMessage,
			a.StartedAt,
		)
	}

	if _, err := executorFor(ctx, r.db, r.tx).ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to insert provider attempts: %w", err)
	}

	r.logger.Debug("provider attempts inserted", zap.Int("count", len(attempts)))
	return nil
}

// GetByRequestID returns every attempt for a request, oldest first
func (r *AttemptRepository) GetByRequestID(ctx context.Context, requestID string) ([]*models.ProviderAttempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM provider_attempts
		WHERE request_id = $1
		ORDER BY started_at ASC, attempt_number ASC
	`
	return r.query(ctx, query, requestID)
}

// ListByProvider returns a provider's most recent attempts, newest first
func (r *AttemptRepository) ListByProvider(ctx context.Context, provider string, limit int) ([]*models.ProviderAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + attemptColumns + `
		FROM provider_attempts
		WHERE provider = $1
		ORDER BY started_at DESC
		LIMIT $2
	`
	return r.query(ctx, query, provider, limit)
}

func (r *AttemptRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.ProviderAttempt, error) {
	rows, err := executorFor(ctx, r.db, r.tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query provider attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.ProviderAttempt
	for rows.Next() {
		a := &models.ProviderAttempt{}
		if err := rows.Scan(
			&a.ID,
			&a.RequestID,
			&a.Capability,
			&a.Provider,
			&a.Model,
			&a.AttemptNumber,
			&a.Outcome,
			&a.Classification,
			&a.LatencyMs,
			&a.ErrorMessage,
			&a.StartedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan provider attempt: %w", err)
		}
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating provider attempts: %w", err)
	}

	return attempts, nil
}
