// Package bigquery implements store.Backend on BigQuery using parameterized DML.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/dre-pipeline/internal/domain"
	"github.com/dvloznov/dre-pipeline/internal/store"
)

// Dataset locates the tables of one deployment.
type Dataset struct {
	ProjectID string
	DatasetID string
}

// Table returns the backtick-quoted fully qualified table name.
func (d Dataset) Table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", d.ProjectID, d.DatasetID, name)
}

// BigQueryBackend is the concrete store.Backend that interacts with BigQuery.
// It holds a shared client to avoid creating a new connection for each operation.
type BigQueryBackend struct {
	client *bigquery.Client
	ds     Dataset
}

// NewBigQueryBackend creates a backend with a shared BigQuery client.
func NewBigQueryBackend(ctx context.Context, projectID, datasetID string) (*BigQueryBackend, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryBackend: creating client: %w", err)
	}
	return &BigQueryBackend{
		client: client,
		ds:     Dataset{ProjectID: projectID, DatasetID: datasetID},
	}, nil
}

// Client exposes the underlying client for migrations.
func (b *BigQueryBackend) Client() *bigquery.Client { return b.client }

// Close closes the BigQuery client connection.
func (b *BigQueryBackend) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}

// UpsertDimension delegates to UpsertDimensionWithClient with the shared client.
func (b *BigQueryBackend) UpsertDimension(ctx context.Context, dim domain.DimensionValue) (int64, bool, error) {
	return UpsertDimensionWithClient(ctx, b.client, b.ds, dim)
}

// BulkUpsertFacts delegates to BulkUpsertFactsWithClient with the shared client.
func (b *BigQueryBackend) BulkUpsertFacts(ctx context.Context, rows []domain.FactRow) (store.UpsertResult, error) {
	return BulkUpsertFactsWithClient(ctx, b.client, b.ds, rows)
}

// CountFacts delegates to CountFactsWithClient with the shared client.
func (b *BigQueryBackend) CountFacts(ctx context.Context, batchID string) (int, error) {
	return CountFactsWithClient(ctx, b.client, b.ds, batchID)
}

// InsertExecution delegates to InsertExecutionWithClient with the shared client.
func (b *BigQueryBackend) InsertExecution(ctx context.Context, rec *domain.ExecutionRecord) error {
	return InsertExecutionWithClient(ctx, b.client, b.ds, rec)
}

// UpdateExecution delegates to UpdateExecutionWithClient with the shared client.
func (b *BigQueryBackend) UpdateExecution(ctx context.Context, rec *domain.ExecutionRecord) error {
	return UpdateExecutionWithClient(ctx, b.client, b.ds, rec)
}

// GetExecution delegates to GetExecutionWithClient with the shared client.
func (b *BigQueryBackend) GetExecution(ctx context.Context, executionID string) (*domain.ExecutionRecord, error) {
	return GetExecutionWithClient(ctx, b.client, b.ds, executionID)
}

// ListExecutions delegates to ListExecutionsWithClient with the shared client.
func (b *BigQueryBackend) ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]*domain.ExecutionRecord, error) {
	return ListExecutionsWithClient(ctx, b.client, b.ds, filter)
}

// InsertExecutionLog delegates to InsertExecutionLogWithClient with the shared client.
func (b *BigQueryBackend) InsertExecutionLog(ctx context.Context, entry domain.ExecutionLog) error {
	return InsertExecutionLogWithClient(ctx, b.client, b.ds, entry)
}

// ListExecutionLogs delegates to ListExecutionLogsWithClient with the shared client.
func (b *BigQueryBackend) ListExecutionLogs(ctx context.Context, executionID string) ([]domain.ExecutionLog, error) {
	return ListExecutionLogsWithClient(ctx, b.client, b.ds, executionID)
}

var _ store.Backend = (*BigQueryBackend)(nil)
