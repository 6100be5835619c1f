package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/dre-pipeline/internal/domain"
	"github.com/dvloznov/dre-pipeline/internal/store"
	"github.com/jackc/pgx/v5"
)

const executionColumns = `execution_id, trigger_kind, status, phase, batch_id, file_name, started_at, completed_at,
	records_processed, records_imported, records_failed, records_skipped, error_message`

// InsertExecution implements store.ExecutionStore.
func (b *Backend) InsertExecution(ctx context.Context, rec *domain.ExecutionRecord) error {
	_, err := b.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		store.ExecutionsTable, executionColumns),
		rec.ExecutionID, string(rec.Trigger), string(rec.Status), string(rec.Phase), rec.BatchID, rec.FileName,
		rec.StartedAt, rec.CompletedAt,
		rec.RecordsProcessed, rec.RecordsImported, rec.RecordsFailed, rec.RecordsSkipped, rec.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("InsertExecution: %w", classify(err))
	}
	return nil
}

// UpdateExecution implements store.ExecutionStore.
func (b *Backend) UpdateExecution(ctx context.Context, rec *domain.ExecutionRecord) error {
	tag, err := b.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET status = $2,
		    phase = $3,
		    file_name = $4,
		    completed_at = $5,
		    records_processed = $6,
		    records_imported = $7,
		    records_failed = $8,
		    records_skipped = $9,
		    error_message = $10
		WHERE execution_id = $1`, store.ExecutionsTable),
		rec.ExecutionID, string(rec.Status), string(rec.Phase), rec.FileName, rec.CompletedAt,
		rec.RecordsProcessed, rec.RecordsImported, rec.RecordsFailed, rec.RecordsSkipped, rec.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("UpdateExecution: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("UpdateExecution: %s: %w", rec.ExecutionID, domain.ErrNotFound)
	}
	return nil
}

// GetExecution implements store.ExecutionStore.
func (b *Backend) GetExecution(ctx context.Context, executionID string) (*domain.ExecutionRecord, error) {
	row := b.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE execution_id = $1`,
		executionColumns, store.ExecutionsTable), executionID)

	rec, err := scanExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("GetExecution: %s: %w", executionID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetExecution: %w", classify(err))
	}
	return rec, nil
}

// ListExecutions implements store.ExecutionStore.
func (b *Backend) ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]*domain.ExecutionRecord, error) {
	var where []string
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		where = append(where, fmt.Sprintf("started_at >= $%d", len(args)))
	}

	q := fmt.Sprintf(`SELECT %s FROM %s`, executionColumns, store.ExecutionsTable)
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := b.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ListExecutions: %w", classify(err))
	}
	defer rows.Close()

	var out []*domain.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("ListExecutions: scanning: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListExecutions: %w", classify(err))
	}
	return out, nil
}

func scanExecution(row pgx.Row) (*domain.ExecutionRecord, error) {
	var (
		rec                    domain.ExecutionRecord
		trigger, status, phase string
		completedAt            *time.Time
	)
	err := row.Scan(
		&rec.ExecutionID, &trigger, &status, &phase, &rec.BatchID, &rec.FileName, &rec.StartedAt, &completedAt,
		&rec.RecordsProcessed, &rec.RecordsImported, &rec.RecordsFailed, &rec.RecordsSkipped, &rec.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	rec.Trigger = domain.TriggerKind(trigger)
	rec.Status = domain.ExecutionStatus(status)
	rec.Phase = domain.Phase(phase)
	rec.CompletedAt = completedAt
	return &rec, nil
}

// InsertExecutionLog implements store.ExecutionStore.
func (b *Backend) InsertExecutionLog(ctx context.Context, entry domain.ExecutionLog) error {
	_, err := b.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (execution_id, step, status, message, created_at)
		VALUES ($1, $2, $3, $4, $5)`, store.ExecutionLogsTable),
		entry.ExecutionID, entry.Step, entry.Status, entry.Message, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("InsertExecutionLog: %w", classify(err))
	}
	return nil
}

// ListExecutionLogs implements store.ExecutionStore.
func (b *Backend) ListExecutionLogs(ctx context.Context, executionID string) ([]domain.ExecutionLog, error) {
	rows, err := b.pool.Query(ctx, fmt.Sprintf(`
		SELECT execution_id, step, status, message, created_at
		FROM %s
		WHERE execution_id = $1
		ORDER BY created_at, id`, store.ExecutionLogsTable), executionID)
	if err != nil {
		return nil, fmt.Errorf("ListExecutionLogs: %w", classify(err))
	}
	defer rows.Close()

	var out []domain.ExecutionLog
	for rows.Next() {
		var e domain.ExecutionLog
		if err := rows.Scan(&e.ExecutionID, &e.Step, &e.Status, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListExecutionLogs: scanning: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListExecutionLogs: %w", classify(err))
	}
	return out, nil
}
