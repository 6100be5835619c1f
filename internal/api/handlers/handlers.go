package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dvloznov/dre-pipeline/internal/api/middleware"
	"github.com/dvloznov/dre-pipeline/internal/domain"
	"github.com/dvloznov/dre-pipeline/internal/jobs"
	"github.com/dvloznov/dre-pipeline/internal/logger"
	"github.com/dvloznov/dre-pipeline/internal/pipeline"
	"github.com/dvloznov/dre-pipeline/internal/store"
	"github.com/rs/zerolog"
)

const maxListLimit = 500

// ImportRunner runs one ingestion synchronously.
type ImportRunner interface {
	Run(ctx context.Context, trigger pipeline.Trigger) (*pipeline.Result, error)
}

// ImportsHandler handles import triggers.
type ImportsHandler struct {
	runner    ImportRunner
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewImportsHandler creates a new imports handler. publisher may be nil, which disables async imports.
func NewImportsHandler(runner ImportRunner, publisher jobs.Publisher, log zerolog.Logger) *ImportsHandler {
	return &ImportsHandler{
		runner:    runner,
		publisher: publisher,
		log:       log,
	}
}

type importRequest struct {
	ExecutionID string `json:"execution_id"`
	Kind        string `json:"kind"`
	SourceURL   string `json:"source_url"`
}

// CreateImport handles POST /api/imports[?async=true]
func (h *ImportsHandler) CreateImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	kind := domain.TriggerKind(req.Kind)
	switch kind {
	case "":
		kind = domain.TriggerManual
	case domain.TriggerManual, domain.TriggerScheduled:
	default:
		middleware.WriteError(w, http.StatusBadRequest, "kind must be manual or scheduled")
		return
	}

	async := false
	if v := r.URL.Query().Get("async"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "async must be a boolean")
			return
		}
		async = b
	}

	if async {
		h.enqueue(w, r, &jobs.ImportJob{ExecutionID: req.ExecutionID, Kind: kind, SourceURL: req.SourceURL})
		return
	}

	trigger := pipeline.Trigger{ExecutionID: req.ExecutionID, Kind: kind, SourceURL: req.SourceURL}
	result, err := h.runner.Run(r.Context(), trigger)
	if err != nil {
		h.log.Error().Err(err).Str("execution_id", req.ExecutionID).Msg("Failed to start import")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to start import")
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	middleware.WriteJSON(w, status, result)
}

func (h *ImportsHandler) enqueue(w http.ResponseWriter, r *http.Request, job *jobs.ImportJob) {
	if h.publisher == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Async imports are disabled")
		return
	}

	if err := h.publisher.PublishImport(r.Context(), job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue import")
		if errors.Is(err, jobs.ErrQueueClosed) {
			middleware.WriteError(w, http.StatusServiceUnavailable, "Job queue is closed")
			return
		}
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue import")
		return
	}

	log := logger.FromContext(r.Context())
	log.Info().
		Str("job_id", job.JobID).
		Str("execution_id", job.ExecutionID).
		Msg("Import enqueued")

	w.Header().Set("Location", "/api/jobs/"+job.JobID)
	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":       job.JobID,
		"execution_id": job.ExecutionID,
		"status":       job.Status,
	})
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.store.GetJob(r.Context(), jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		ExecutionID: query.Get("execution_id"),
		Status:      jobs.JobStatus(query.Get("status")),
		Limit:       parseLimit(query.Get("limit")),
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset > 0 {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// ExecutionsHandler serves the execution audit trail.
type ExecutionsHandler struct {
	store store.ExecutionStore
	log   zerolog.Logger
}

// NewExecutionsHandler creates a new executions handler.
func NewExecutionsHandler(store store.ExecutionStore, log zerolog.Logger) *ExecutionsHandler {
	return &ExecutionsHandler{store: store, log: log}
}

// ExecutionResponse is the JSON form of an execution record.
type ExecutionResponse struct {
	ExecutionID      string        `json:"execution_id"`
	Trigger          string        `json:"trigger"`
	Status           string        `json:"status"`
	Phase            string        `json:"phase"`
	BatchID          string        `json:"batch_id"`
	FileName         string        `json:"file_name,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
	RecordsProcessed int           `json:"records_processed"`
	RecordsImported  int           `json:"records_imported"`
	RecordsFailed    int           `json:"records_failed"`
	RecordsSkipped   int           `json:"records_skipped"`
	ErrorMessage     string        `json:"error_message,omitempty"`
	Logs             []LogResponse `json:"logs,omitempty"`
}

// LogResponse is one step entry of an execution.
type LogResponse struct {
	Step      string    `json:"step"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toExecutionResponse(rec *domain.ExecutionRecord) ExecutionResponse {
	return ExecutionResponse{
		ExecutionID:      rec.ExecutionID,
		Trigger:          string(rec.Trigger),
		Status:           string(rec.Status),
		Phase:            string(rec.Phase),
		BatchID:          rec.BatchID,
		FileName:         rec.FileName,
		StartedAt:        rec.StartedAt,
		CompletedAt:      rec.CompletedAt,
		RecordsProcessed: rec.RecordsProcessed,
		RecordsImported:  rec.RecordsImported,
		RecordsFailed:    rec.RecordsFailed,
		RecordsSkipped:   rec.RecordsSkipped,
		ErrorMessage:     rec.ErrorMessage,
	}
}

// GetExecution handles GET /api/executions/{id}
func (h *ExecutionsHandler) GetExecution(w http.ResponseWriter, r *http.Request, executionID string) {
	ctx := r.Context()

	rec, err := h.store.GetExecution(ctx, executionID)
	if errors.Is(err, domain.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Execution not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("execution_id", executionID).Msg("Failed to get execution")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get execution")
		return
	}

	resp := toExecutionResponse(rec)
	logs, err := h.store.ListExecutionLogs(ctx, executionID)
	if err != nil {
		// The record alone is still useful.
		h.log.Warn().Err(err).Str("execution_id", executionID).Msg("Failed to list execution logs")
	}
	for _, l := range logs {
		resp.Logs = append(resp.Logs, LogResponse{Step: l.Step, Status: l.Status, Message: l.Message, CreatedAt: l.CreatedAt})
	}

	middleware.WriteJSON(w, http.StatusOK, resp)
}

// ListExecutions handles GET /api/executions
func (h *ExecutionsHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.ExecutionFilter{
		Status: domain.ExecutionStatus(query.Get("status")),
		Limit:  parseLimit(query.Get("limit")),
	}
	if filter.Limit == 0 {
		filter.Limit = 50
	}
	if since := query.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		filter.Since = t
	}

	recs, err := h.store.ListExecutions(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list executions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list executions")
		return
	}

	out := make([]ExecutionResponse, len(recs))
	for i, rec := range recs {
		out[i] = toExecutionResponse(rec)
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"executions": out,
		"count":      len(out),
	})
}

func parseLimit(s string) int {
	limit, err := strconv.Atoi(s)
	if err != nil || limit < 0 {
		return 0
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
