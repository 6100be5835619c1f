// Package store defines the persistence contracts the pipeline writes through.
// Implementations live under internal/infra.
package store

import (
	"context"
	"time"

	"github.com/dvloznov/dre-pipeline/internal/domain"
)

// DimensionStore provides idempotent creation of dimension entities.
type DimensionStore interface {
	// UpsertDimension inserts the entity if its natural key is new (insert-on-conflict-do-nothing)
	// and returns its surrogate key. created is true when this call inserted the row.
	// Concurrent calls with the same natural key must return the same key.
	UpsertDimension(ctx context.Context, dim domain.DimensionValue) (key int64, created bool, err error)
}

// UpsertResult counts the outcome of a fact upsert.
type UpsertResult struct {
	Inserted int
	Updated  int
}

// FactStore persists fact rows.
type FactStore interface {
	// BulkUpsertFacts writes rows atomically, updating rows whose uniqueness tuple already exists.
	// Either every row is written or none is.
	BulkUpsertFacts(ctx context.Context, rows []domain.FactRow) (UpsertResult, error)

	// CountFacts returns the number of fact rows stored for an upload batch.
	CountFacts(ctx context.Context, batchID string) (int, error)
}

// ExecutionFilter narrows ListExecutions.
type ExecutionFilter struct {
	Status domain.ExecutionStatus
	Since  time.Time
	Limit  int
}

// ExecutionStore persists run audit records.
type ExecutionStore interface {
	// InsertExecution creates a new execution record.
	InsertExecution(ctx context.Context, rec *domain.ExecutionRecord) error

	// UpdateExecution overwrites the mutable fields of an execution record.
	UpdateExecution(ctx context.Context, rec *domain.ExecutionRecord) error

	// GetExecution returns the record or domain.ErrNotFound.
	GetExecution(ctx context.Context, executionID string) (*domain.ExecutionRecord, error)

	// ListExecutions returns records newest first.
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*domain.ExecutionRecord, error)

	// InsertExecutionLog appends a step entry to the run's audit trail.
	InsertExecutionLog(ctx context.Context, entry domain.ExecutionLog) error

	// ListExecutionLogs returns a run's step entries oldest first.
	ListExecutionLogs(ctx context.Context, executionID string) ([]domain.ExecutionLog, error)
}

// Backend is a complete persistence backend.
type Backend interface {
	DimensionStore
	FactStore
	ExecutionStore
	Close() error
}
