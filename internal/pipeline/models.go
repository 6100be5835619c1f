package pipeline

import (
	"github.com/dvloznov/dre-pipeline/internal/domain"
)

// Trigger starts a run. An empty ExecutionID gets a generated one.
type Trigger struct {
	ExecutionID string             `json:"execution_id,omitempty"`
	Kind        domain.TriggerKind `json:"kind"`
	// SourceURL overrides the download URL secret.
	SourceURL string `json:"source_url,omitempty"`
}

// Result is the outcome of one run. Success is false for FAILED runs.
type Result struct {
	Success           bool                   `json:"success"`
	ExecutionID       string                 `json:"execution_id"`
	Status            domain.ExecutionStatus `json:"status"`
	RecordsProcessed  int                    `json:"records_processed"`
	RecordsImported   int                    `json:"records_imported"`
	RecordsFailed     int                    `json:"records_failed"`
	RecordsSkipped    int                    `json:"records_skipped"`
	DimensionsCreated int                    `json:"dimensions_created"`
	FileName          string                 `json:"file_name,omitempty"`
	StagedURI         string                 `json:"staged_uri,omitempty"`
	DurationSeconds   float64                `json:"duration_seconds"`
	Error             string                 `json:"error,omitempty"`
	Errors            []string               `json:"errors,omitempty"`
}
