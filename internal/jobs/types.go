package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/dre-pipeline/internal/domain"
	"github.com/dvloznov/dre-pipeline/internal/pipeline"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeImport represents one DRE ingestion run.
	JobTypeImport JobType = "import"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the run finished as SUCCEEDED or PARTIAL.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the run finished as FAILED or could not start.
	JobStatusFailed JobStatus = "failed"
)

// ErrJobNotFound is returned by JobStore lookups for unknown ids.
var ErrJobNotFound = errors.New("job not found")

// ErrQueueClosed is returned when publishing to or starting a stopped queue.
var ErrQueueClosed = errors.New("queue is closed")

// ImportJob represents a queued ingestion run.
type ImportJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// ExecutionID is the id the run is recorded under. Generated when empty.
	ExecutionID string `json:"execution_id"`

	// Kind is how the run was triggered.
	Kind domain.TriggerKind `json:"kind"`

	// SourceURL overrides the configured download URL. May be a gs:// URI of a staged artifact.
	SourceURL string `json:"source_url,omitempty"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// Result is the run outcome once the job has finished.
	Result *pipeline.Result `json:"result,omitempty"`
}

// Trigger converts the job into a pipeline trigger.
func (j *ImportJob) Trigger() pipeline.Trigger {
	return pipeline.Trigger{ExecutionID: j.ExecutionID, Kind: j.Kind, SourceURL: j.SourceURL}
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *ImportJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *ImportJob) GetType() JobType {
	return JobTypeImport
}

// GetStatus implements the Job interface.
func (j *ImportJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishImport enqueues an ingestion run.
	PublishImport(ctx context.Context, job *ImportJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. A returned error marks the job failed.
// Handlers may set fields on the job (such as Result) before returning; they are persisted.
// Jobs are not retried: every run already records its own FAILED execution.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *ImportJob) error

	// GetJob retrieves a job by ID or ErrJobNotFound.
	GetJob(ctx context.Context, jobID string) (*ImportJob, error)

	// ListJobs retrieves jobs newest first with optional filtering.
	ListJobs(ctx context.Context, filter JobFilter) ([]*ImportJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// ExecutionID filters jobs by execution id.
	ExecutionID string

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
