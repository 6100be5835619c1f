package postgres

import (
	"context"
	"fmt"

	"github.com/dvloznov/dre-pipeline/internal/domain"
	"github.com/dvloznov/dre-pipeline/internal/store"
	"github.com/jackc/pgx/v5"
)

// xmax = 0 holds only for rows created by this statement.
var upsertFactSQL = fmt.Sprintf(`
	INSERT INTO %s (
		project_key, client_key, account_key, period_key, resource_key,
		amount, nature, upload_batch_id, source_file_name, row_hash, row_number, inserted_at
	)
	VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (upload_batch_id, project_key, account_key, period_key, resource_key)
	DO UPDATE SET
		amount = EXCLUDED.amount,
		client_key = EXCLUDED.client_key,
		nature = EXCLUDED.nature,
		source_file_name = EXCLUDED.source_file_name,
		row_hash = EXCLUDED.row_hash,
		row_number = EXCLUDED.row_number,
		updated_at = now()
	RETURNING (xmax = 0) AS inserted`, store.FactTable)

// BulkUpsertFacts writes rows in one transaction using a pipelined batch.
func (b *Backend) BulkUpsertFacts(ctx context.Context, rows []domain.FactRow) (store.UpsertResult, error) {
	var res store.UpsertResult
	if len(rows) == 0 {
		return res, nil
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("BulkUpsertFacts: begin: %w", classify(err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(upsertFactSQL,
			r.ProjectKey, r.ClientKey, r.AccountKey, r.PeriodKey, r.ResourceKey,
			r.Amount.String(), string(r.Nature), r.UploadBatchID, r.SourceFileName,
			r.RowHash, r.RowNumber, r.InsertedAt,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for i := range rows {
		var inserted bool
		if err := br.QueryRow().Scan(&inserted); err != nil {
			_ = br.Close()
			return store.UpsertResult{}, fmt.Errorf("BulkUpsertFacts: row %d: %w", rows[i].RowNumber, classify(err))
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}
	if err := br.Close(); err != nil {
		return store.UpsertResult{}, fmt.Errorf("BulkUpsertFacts: closing batch: %w", classify(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return store.UpsertResult{}, fmt.Errorf("BulkUpsertFacts: commit: %w", classify(err))
	}
	return res, nil
}

// CountFacts implements store.FactStore.
func (b *Backend) CountFacts(ctx context.Context, batchID string) (int, error) {
	var n int
	err := b.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE upload_batch_id = $1`, store.FactTable),
		batchID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("CountFacts: %w", classify(err))
	}
	return n, nil
}
