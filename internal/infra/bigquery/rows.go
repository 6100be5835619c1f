package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
)

// FactParam is one element of the ARRAY<STRUCT> parameter fed to the fact MERGE.
// Amount travels as a decimal string and is cast to NUMERIC in SQL.
type FactParam struct {
	ProjectKey     int64     `bigquery:"project_key"`
	ClientKey      int64     `bigquery:"client_key"`
	AccountKey     int64     `bigquery:"account_key"`
	PeriodKey      int64     `bigquery:"period_key"`
	ResourceKey    int64     `bigquery:"resource_key"`
	Amount         string    `bigquery:"amount"`
	Nature         string    `bigquery:"nature"`
	UploadBatchID  string    `bigquery:"upload_batch_id"`
	SourceFileName string    `bigquery:"source_file_name"`
	RowHash        string    `bigquery:"row_hash"`
	RowNumber      int64     `bigquery:"row_number"`
	InsertedAt     time.Time `bigquery:"inserted_at"`
}

type ExecutionRow struct {
	ExecutionID string `bigquery:"execution_id"` // REQUIRED
	TriggerKind string `bigquery:"trigger_kind"` // REQUIRED
	Status      string `bigquery:"status"`       // REQUIRED
	Phase       string `bigquery:"phase"`        // REQUIRED
	BatchID     string `bigquery:"batch_id"`     // NULLABLE
	FileName    string `bigquery:"file_name"`    // NULLABLE

	StartedAt   time.Time              `bigquery:"started_at"`   // REQUIRED
	CompletedAt bigquery.NullTimestamp `bigquery:"completed_at"` // NULLABLE

	RecordsProcessed int64 `bigquery:"records_processed"`
	RecordsImported  int64 `bigquery:"records_imported"`
	RecordsFailed    int64 `bigquery:"records_failed"`
	RecordsSkipped   int64 `bigquery:"records_skipped"`

	ErrorMessage string `bigquery:"error_message"` // NULLABLE
}

type ExecutionLogRow struct {
	ExecutionID string    `bigquery:"execution_id"` // REQUIRED
	Step        string    `bigquery:"step"`         // REQUIRED
	Status      string    `bigquery:"status"`       // REQUIRED
	Message     string    `bigquery:"message"`      // NULLABLE
	CreatedAt   time.Time `bigquery:"created_at"`   // REQUIRED
}
