package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/llm-failover/models"
	"github.com/upb/llm-failover/repositories"
)

var started = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return Wrap(sqlDB, zap.NewNop()), mock
}

func attemptRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "request_id", "capability", "provider", "model", "attempt_number",
		"outcome", "classification", "latency_ms", "error_message", "started_at",
	})
}

func TestAttemptRepository_Insert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAttemptRepository(db, zap.NewNop())

	a := models.NewProviderAttempt("req-1", "generate_text", "openai", models.AttemptOutcomeFailure).
		WithCall("gpt-4o-mini", 1, started, 250*time.Millisecond).
		WithError("transient", "503 overloaded")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO provider_attempts")).
		WithArgs(a.ID, "req-1", "generate_text", "openai", "gpt-4o-mini", 1,
			"failure", "transient", 250, "503 overloaded", started).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Insert(context.Background(), a))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptRepository_InsertBatch(t *testing.T) {
	t.Run("one statement for many rows", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAttemptRepository(db, zap.NewNop())

		batch := []*models.ProviderAttempt{
			models.NewProviderAttempt("req-1", "generate_text", "openai", models.AttemptOutcomeFailure),
			models.NewProviderAttempt("req-1", "generate_text", "anthropic", models.AttemptOutcomeSuccess),
		}

		mock.ExpectExec(regexp.QuoteMeta("($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11), ($12,")).
			WillReturnResult(sqlmock.NewResult(0, 2))

		require.NoError(t, repo.InsertBatch(context.Background(), batch))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAttemptRepository(db, zap.NewNop())

		require.NoError(t, repo.InsertBatch(context.Background(), nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error is wrapped", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAttemptRepository(db, zap.NewNop())
		boom := errors.New("connection refused")

		mock.ExpectExec("INSERT INTO provider_attempts").WillReturnError(boom)

		err := repo.Insert(context.Background(), models.NewProviderAttempt("r", "generate_text", "openai", models.AttemptOutcomeSuccess))
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "failed to insert provider attempts")
	})
}

func TestAttemptRepository_GetByRequestID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAttemptRepository(db, zap.NewNop())

	id1, id2 := uuid.New(), uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE request_id = $1")).
		WithArgs("req-1").
		WillReturnRows(attemptRows().
			AddRow(id1.String(), "req-1", "generate_text", "openai", "gpt-4o-mini", 1, "failure", "fatal", 120, "invalid api key", started).
			AddRow(id2.String(), "req-1", "generate_text", "anthropic", "claude", 1, "success", nil, 900, nil, started.Add(time.Second)))

	attempts, err := repo.GetByRequestID(context.Background(), "req-1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)

	assert.Equal(t, id1, attempts[0].ID)
	assert.Equal(t, models.AttemptOutcomeFailure, attempts[0].Outcome)
	require.NotNil(t, attempts[0].Classification)
	assert.Equal(t, "fatal", *attempts[0].Classification)

	assert.Equal(t, "anthropic", attempts[1].Provider)
	assert.Nil(t, attempts[1].ErrorMessage)
	assert.Equal(t, 900, attempts[1].LatencyMs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptRepository_ListByProvider(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAttemptRepository(db, zap.NewNop())

	mock.ExpectQuery(regexp.QuoteMeta("LIMIT $2")).
		WithArgs("openai", 50).
		WillReturnRows(attemptRows())

	attempts, err := repo.ListByProvider(context.Background(), "openai", 0)
	require.NoError(t, err)
	assert.Empty(t, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptRepository_WithTx(t *testing.T) {
	db, mock := newMockDB(t)
	tm := NewTransactionManager(db, zap.NewNop())
	repo := NewAttemptRepository(db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO provider_attempts").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := tm.InTransaction(context.Background(), func(ctx context.Context, tx repositories.Transaction) error {
		return repo.WithTx(tx).Insert(ctx, models.NewProviderAttempt("r", "generate_text", "openai", models.AttemptOutcomeSuccess))
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionManager_RollbackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	tm := NewTransactionManager(db, zap.NewNop())
	repo := NewAttemptRepository(db, zap.NewNop())
	boom := errors.New("constraint violation")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO provider_attempts").WillReturnError(boom)
	mock.ExpectRollback()

	err := tm.InTransaction(context.Background(), func(ctx context.Context, tx repositories.Transaction) error {
		// the transaction is carried by ctx, no WithTx needed
		return repo.Insert(ctx, models.NewProviderAttempt("r", "generate_text", "openai", models.AttemptOutcomeSuccess))
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionManager_RollbackOnPanic(t *testing.T) {
	db, mock := newMockDB(t)
	tm := NewTransactionManager(db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.PanicsWithValue(t, "boom", func() {
		_ = tm.InTransaction(context.Background(), func(ctx context.Context, tx repositories.Transaction) error {
			panic("boom")
		})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDB_HealthCheck(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer sqlDB.Close()
	db := Wrap(sqlDB, zap.NewNop())

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	assert.NoError(t, db.HealthCheck(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("down"))
	assert.Error(t, db.HealthCheck(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDB_InitSchema(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS provider_attempts").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, db.InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
