package repositories

import (
	"context"

	"github.com/upb/llm-failover/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// AttemptRepository stores the provider attempt log
type AttemptRepository interface {
	// Insert inserts a single attempt
	Insert(ctx context.Context, attempt *models.ProviderAttempt) error

	// InsertBatch inserts attempts in one round trip
	InsertBatch(ctx context.Context, attempts []*models.ProviderAttempt) error

	// GetByRequestID returns every attempt made for a request, oldest first
	GetByRequestID(ctx context.Context, requestID string) ([]*models.ProviderAttempt, error)

	// ListByProvider returns a provider's most recent attempts, newest first
	ListByProvider(ctx context.Context, provider string, limit int) ([]*models.ProviderAttempt, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) AttemptRepository
}
