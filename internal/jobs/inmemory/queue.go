package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/dre-pipeline/internal/jobs"
	"github.com/dvloznov/dre-pipeline/internal/logger"
	"github.com/google/uuid"
)

// DefaultWorkers is the worker count used when NewQueue gets a non-positive value.
const DefaultWorkers = 2

// Queue is an in-memory implementation of job publisher and consumer.
// It uses Go channels for job distribution and is safe for concurrent use.
// Each job is an independent run, so workers never share pipeline state.
type Queue struct {
	jobChan   chan *jobs.ImportJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	workers   int
	closed    bool
	started   bool

	now func() time.Time
}

// NewQueue creates a new in-memory job queue.
// bufferSize determines how many jobs can be queued before PublishImport blocks.
func NewQueue(bufferSize, workers int, store jobs.JobStore) *Queue {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Queue{
		jobChan:   make(chan *jobs.ImportJob, bufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		workers:   workers,
		now:       time.Now,
	}
}

// PublishImport implements the Publisher interface.
// The caller keeps ownership of job; the queue works on its own copy.
func (q *Queue) PublishImport(ctx context.Context, job *jobs.ImportJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return jobs.ErrQueueClosed
	}

	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	// The execution id is fixed at enqueue time so callers can poll it right away.
	if job.ExecutionID == "" {
		job.ExecutionID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = q.now()
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("PublishImport: saving job: %w", err)
		}
	}

	queued := *job
	select {
	case q.jobChan <- &queued:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return jobs.ErrQueueClosed
	}
}

// Start implements the Consumer interface.
// It starts the worker goroutines and returns immediately.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return jobs.ErrQueueClosed
	}
	if q.started {
		return fmt.Errorf("queue already started")
	}
	q.started = true

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}
			q.processJob(ctx, job, handler)
		}
	}
}

// processJob executes a single job and records its outcome.
func (q *Queue) processJob(ctx context.Context, job *jobs.ImportJob, handler jobs.JobHandler) {
	log := logger.FromContext(ctx).With().
		Str("job_id", job.JobID).
		Str("execution_id", job.ExecutionID).
		Logger()
	saveCtx := context.WithoutCancel(ctx)

	job.Status = jobs.JobStatusRunning
	startedAt := q.now()
	job.StartedAt = &startedAt
	q.save(saveCtx, job)

	log.Info().Str("kind", string(job.Kind)).Msg("Processing import job")
	err := q.run(logger.WithContext(ctx, log), job, handler)

	completedAt := q.now()
	job.CompletedAt = &completedAt
	if err != nil {
		job.Status = jobs.JobStatusFailed
		job.Error = err.Error()
		log.Error().Err(err).Msg("Import job failed")
	} else {
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
		log.Info().Dur("duration", completedAt.Sub(startedAt)).Msg("Import job completed")
	}
	q.save(saveCtx, job)
}

// run invokes the handler, turning a panic into a job failure so one bad run cannot kill a worker.
func (q *Queue) run(ctx context.Context, job *jobs.ImportJob, handler jobs.JobHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (q *Queue) save(ctx context.Context, job *jobs.ImportJob) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveJob(ctx, job); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to save job state")
	}
}

// Stop implements the Consumer interface.
// It stops the queue and waits for all in-flight jobs to complete.
// Jobs still buffered stay pending in the store.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
