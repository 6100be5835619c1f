package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/dre-pipeline/internal/domain"
	"github.com/dvloznov/dre-pipeline/internal/store"
	"google.golang.org/api/iterator"
)

// BulkUpsertFactsWithClient merges rows into the fact table in a single atomic statement.
func BulkUpsertFactsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, rows []domain.FactRow) (store.UpsertResult, error) {
	var res store.UpsertResult
	if len(rows) == 0 {
		return res, nil
	}

	params := make([]FactParam, len(rows))
	for i, r := range rows {
		params[i] = toFactParam(r)
	}

	q := client.Query(mergeFactsSQL(ds))
	q.Parameters = []bigquery.QueryParameter{{Name: "rows", Value: params}}

	stats, err := runDML(ctx, q, "BulkUpsertFacts")
	if err != nil {
		return res, err
	}
	if stats != nil && stats.DMLStats != nil {
		res.Inserted = int(stats.DMLStats.InsertedRowCount)
		res.Updated = int(stats.DMLStats.UpdatedRowCount)
	} else {
		res.Inserted = len(rows)
	}
	return res, nil
}

func toFactParam(r domain.FactRow) FactParam {
	return FactParam{
		ProjectKey:     r.ProjectKey,
		ClientKey:      r.ClientKey,
		AccountKey:     r.AccountKey,
		PeriodKey:      r.PeriodKey,
		ResourceKey:    r.ResourceKey,
		Amount:         r.Amount.String(),
		Nature:         string(r.Nature),
		UploadBatchID:  r.UploadBatchID,
		SourceFileName: r.SourceFileName,
		RowHash:        r.RowHash,
		RowNumber:      int64(r.RowNumber),
		InsertedAt:     r.InsertedAt,
	}
}

func mergeFactsSQL(ds Dataset) string {
	return fmt.Sprintf(`
		MERGE %s T
		USING UNNEST(@rows) S
		ON T.upload_batch_id = S.upload_batch_id
			AND T.project_key = S.project_key
			AND T.account_key = S.account_key
			AND T.period_key = S.period_key
			AND T.resource_key = S.resource_key
		WHEN MATCHED THEN
			UPDATE SET
				amount = CAST(S.amount AS NUMERIC),
				client_key = S.client_key,
				nature = S.nature,
				source_file_name = S.source_file_name,
				row_hash = S.row_hash,
				row_number = S.row_number,
				updated_at = CURRENT_TIMESTAMP()
		WHEN NOT MATCHED THEN
			INSERT (
				project_key, client_key, account_key, period_key, resource_key,
				amount, nature, upload_batch_id, source_file_name, row_hash, row_number, inserted_at
			)
			VALUES (
				S.project_key, S.client_key, S.account_key, S.period_key, S.resource_key,
				CAST(S.amount AS NUMERIC), S.nature, S.upload_batch_id, S.source_file_name, S.row_hash, S.row_number, S.inserted_at
			)`, ds.Table(store.FactTable))
}

// CountFactsWithClient returns the number of fact rows of an upload batch.
func CountFactsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, batchID string) (int, error) {
	q := client.Query(fmt.Sprintf(`SELECT COUNT(*) AS n FROM %s WHERE upload_batch_id = @batch_id`, ds.Table(store.FactTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "batch_id", Value: batchID}}

	it, err := q.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("CountFacts: reading query: %w", classify(err))
	}
	var row struct {
		N int64 `bigquery:"n"`
	}
	if err := it.Next(&row); err != nil && err != iterator.Done {
		return 0, fmt.Errorf("CountFacts: iterating: %w", classify(err))
	}
	return int(row.N), nil
}
