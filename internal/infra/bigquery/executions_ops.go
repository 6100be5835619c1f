package bigquery

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/dre-pipeline/internal/domain"
	"github.com/dvloznov/dre-pipeline/internal/store"
	"google.golang.org/api/iterator"
)

const executionColumns = `execution_id, trigger_kind, status, phase, batch_id, file_name, started_at, completed_at,
	records_processed, records_imported, records_failed, records_skipped, error_message`

// InsertExecutionWithClient creates the run record with DML rather than a streaming insert,
// so the row can be updated right away.
func InsertExecutionWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, rec *domain.ExecutionRecord) error {
	q := client.Query(fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES (@execution_id, @trigger_kind, @status, @phase, @batch_id, @file_name, @started_at, @completed_at,
			@records_processed, @records_imported, @records_failed, @records_skipped, @error_message)`,
		ds.Table(store.ExecutionsTable), executionColumns))
	q.Parameters = executionParams(toExecutionRow(rec))

	if _, err := runDML(ctx, q, "InsertExecution"); err != nil {
		return err
	}
	return nil
}

// UpdateExecutionWithClient overwrites the mutable fields of a run record.
func UpdateExecutionWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, rec *domain.ExecutionRecord) error {
	q := client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
			phase = @phase,
			file_name = @file_name,
			completed_at = @completed_at,
			records_processed = @records_processed,
			records_imported = @records_imported,
			records_failed = @records_failed,
			records_skipped = @records_skipped,
			error_message = @error_message
		WHERE execution_id = @execution_id`, ds.Table(store.ExecutionsTable)))
	q.Parameters = executionParams(toExecutionRow(rec))

	stats, err := runDML(ctx, q, "UpdateExecution")
	if err != nil {
		return err
	}
	if stats != nil && stats.NumDMLAffectedRows == 0 {
		return fmt.Errorf("UpdateExecution: %s: %w", rec.ExecutionID, domain.ErrNotFound)
	}
	return nil
}

// GetExecutionWithClient returns one run record or domain.ErrNotFound.
func GetExecutionWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, executionID string) (*domain.ExecutionRecord, error) {
	q := client.Query(fmt.Sprintf(`SELECT %s FROM %s WHERE execution_id = @execution_id LIMIT 1`,
		executionColumns, ds.Table(store.ExecutionsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "execution_id", Value: executionID}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetExecution: reading query: %w", classify(err))
	}
	var row ExecutionRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, fmt.Errorf("GetExecution: %s: %w", executionID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetExecution: iterating: %w", classify(err))
	}
	return row.toDomain(), nil
}

// ListExecutionsWithClient returns run records newest first.
func ListExecutionsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, filter store.ExecutionFilter) ([]*domain.ExecutionRecord, error) {
	var where []string
	var params []bigquery.QueryParameter
	if filter.Status != "" {
		where = append(where, "status = @status")
		params = append(params, bigquery.QueryParameter{Name: "status", Value: string(filter.Status)})
	}
	if !filter.Since.IsZero() {
		where = append(where, "started_at >= @since")
		params = append(params, bigquery.QueryParameter{Name: "since", Value: filter.Since})
	}

	sql := fmt.Sprintf(`SELECT %s FROM %s`, executionColumns, ds.Table(store.ExecutionsTable))
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		sql += " LIMIT @limit"
		params = append(params, bigquery.QueryParameter{Name: "limit", Value: int64(filter.Limit)})
	}

	q := client.Query(sql)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListExecutions: reading query: %w", classify(err))
	}

	var out []*domain.ExecutionRecord
	for {
		var row ExecutionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListExecutions: iterating: %w", classify(err))
		}
		out = append(out, row.toDomain())
	}
	return out, nil
}

// InsertExecutionLogWithClient appends a step entry through the streaming inserter.
// Log rows are never updated, so the streaming buffer is not a concern here.
func InsertExecutionLogWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, entry domain.ExecutionLog) error {
	row := &ExecutionLogRow{
		ExecutionID: entry.ExecutionID,
		Step:        entry.Step,
		Status:      entry.Status,
		Message:     truncate(entry.Message),
		CreatedAt:   entry.CreatedAt.UTC(),
	}
	inserter := client.Dataset(ds.DatasetID).Table(store.ExecutionLogsTable).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return fmt.Errorf("InsertExecutionLog: %w", classify(err))
	}
	return nil
}

// ListExecutionLogsWithClient returns a run's step entries oldest first.
func ListExecutionLogsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, executionID string) ([]domain.ExecutionLog, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT execution_id, step, status, message, created_at
		FROM %s
		WHERE execution_id = @execution_id
		ORDER BY created_at`, ds.Table(store.ExecutionLogsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "execution_id", Value: executionID}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListExecutionLogs: reading query: %w", classify(err))
	}

	var out []domain.ExecutionLog
	for {
		var row ExecutionLogRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListExecutionLogs: iterating: %w", classify(err))
		}
		out = append(out, domain.ExecutionLog{
			ExecutionID: row.ExecutionID,
			Step:        row.Step,
			Status:      row.Status,
			Message:     row.Message,
			CreatedAt:   row.CreatedAt,
		})
	}
	return out, nil
}

func toExecutionRow(rec *domain.ExecutionRecord) ExecutionRow {
	row := ExecutionRow{
		ExecutionID:      rec.ExecutionID,
		TriggerKind:      string(rec.Trigger),
		Status:           string(rec.Status),
		Phase:            string(rec.Phase),
		BatchID:          rec.BatchID,
		FileName:         rec.FileName,
		StartedAt:        rec.StartedAt.UTC(),
		RecordsProcessed: int64(rec.RecordsProcessed),
		RecordsImported:  int64(rec.RecordsImported),
		RecordsFailed:    int64(rec.RecordsFailed),
		RecordsSkipped:   int64(rec.RecordsSkipped),
		ErrorMessage:     truncate(rec.ErrorMessage),
	}
	if rec.CompletedAt != nil {
		row.CompletedAt = bigquery.NullTimestamp{Timestamp: rec.CompletedAt.UTC(), Valid: true}
	}
	return row
}

func executionParams(row ExecutionRow) []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "execution_id", Value: row.ExecutionID},
		{Name: "trigger_kind", Value: row.TriggerKind},
		{Name: "status", Value: row.Status},
		{Name: "phase", Value: row.Phase},
		{Name: "batch_id", Value: row.BatchID},
		{Name: "file_name", Value: row.FileName},
		{Name: "started_at", Value: row.StartedAt},
		{Name: "completed_at", Value: row.CompletedAt},
		{Name: "records_processed", Value: row.RecordsProcessed},
		{Name: "records_imported", Value: row.RecordsImported},
		{Name: "records_failed", Value: row.RecordsFailed},
		{Name: "records_skipped", Value: row.RecordsSkipped},
		{Name: "error_message", Value: row.ErrorMessage},
	}
}

func (r ExecutionRow) toDomain() *domain.ExecutionRecord {
	rec := &domain.ExecutionRecord{
		ExecutionID:      r.ExecutionID,
		Trigger:          domain.TriggerKind(r.TriggerKind),
		Status:           domain.ExecutionStatus(r.Status),
		Phase:            domain.Phase(r.Phase),
		BatchID:          r.BatchID,
		FileName:         r.FileName,
		StartedAt:        r.StartedAt,
		RecordsProcessed: int(r.RecordsProcessed),
		RecordsImported:  int(r.RecordsImported),
		RecordsFailed:    int(r.RecordsFailed),
		RecordsSkipped:   int(r.RecordsSkipped),
		ErrorMessage:     r.ErrorMessage,
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Timestamp
		rec.CompletedAt = &t
	}
	return rec
}
