// Package tracker maintains the audit record of a pipeline run.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/dre-pipeline/internal/domain"
	"github.com/dvloznov/dre-pipeline/internal/logger"
	"github.com/dvloznov/dre-pipeline/internal/metrics"
	"github.com/dvloznov/dre-pipeline/internal/store"
)

const maxErrorLen = 2000

// Summary is the final tally of a run.
type Summary struct {
	Processed int
	Imported  int
	Failed    int
	Skipped   int
}

// Classify derives the terminal status of a finished load.
// Any failure with some imports is PARTIAL; failures with no imports are FAILED.
func Classify(imported, failed int) domain.ExecutionStatus {
	switch {
	case failed > 0 && imported > 0:
		return domain.StatusPartial
	case failed > 0:
		return domain.StatusFailed
	default:
		return domain.StatusSucceeded
	}
}

// Tracker owns one ExecutionRecord. Methods are safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	store   store.ExecutionStore
	metrics *metrics.Metrics
	rec     *domain.ExecutionRecord
	now     func() time.Time
}

// New creates a tracker. m may be nil.
func New(s store.ExecutionStore, m *metrics.Metrics) *Tracker {
	return &Tracker{store: s, metrics: m, now: time.Now}
}

// Start inserts the record in RUNNING status at phase INIT.
func (t *Tracker) Start(ctx context.Context, executionID string, trigger domain.TriggerKind, batchID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rec != nil {
		return fmt.Errorf("Start: execution %s already started", t.rec.ExecutionID)
	}
	rec := &domain.ExecutionRecord{
		ExecutionID: executionID,
		Trigger:     trigger,
		Status:      domain.StatusRunning,
		Phase:       domain.PhaseInit,
		BatchID:     batchID,
		StartedAt:   t.now().UTC(),
	}
	if err := t.store.InsertExecution(ctx, rec); err != nil {
		return fmt.Errorf("Start: inserting execution: %w", err)
	}
	t.rec = rec
	return nil
}

// Phase advances the run's phase. Backward moves are rejected.
func (t *Tracker) Phase(ctx context.Context, phase domain.Phase) error {
	return t.mutate(ctx, "Phase", func(rec *domain.ExecutionRecord) error {
		if !rec.Phase.CanAdvance(phase) {
			return fmt.Errorf("illegal transition %s -> %s", rec.Phase, phase)
		}
		rec.Phase = phase
		return nil
	})
}

// SetFileName records the staged artifact name.
func (t *Tracker) SetFileName(ctx context.Context, name string) error {
	return t.mutate(ctx, "SetFileName", func(rec *domain.ExecutionRecord) error {
		rec.FileName = name
		return nil
	})
}

// Counters overwrites the running tallies.
func (t *Tracker) Counters(ctx context.Context, processed, imported, failed, skipped int) error {
	return t.mutate(ctx, "Counters", func(rec *domain.ExecutionRecord) error {
		setCounters(rec, Summary{Processed: processed, Imported: imported, Failed: failed, Skipped: skipped})
		return nil
	})
}

// Finish classifies the run and moves it to DONE. The write survives ctx cancellation.
func (t *Tracker) Finish(ctx context.Context, sum Summary, errMsg string) (domain.ExecutionStatus, error) {
	status := Classify(sum.Imported, sum.Failed)
	err := t.mutate(context.WithoutCancel(ctx), "Finish", func(rec *domain.ExecutionRecord) error {
		setCounters(rec, sum)
		rec.Status = status
		if status == domain.StatusFailed {
			rec.Phase = domain.PhaseFailed
		} else {
			rec.Phase = domain.PhaseDone
		}
		rec.ErrorMessage = truncate(errMsg)
		completed := t.now().UTC()
		rec.CompletedAt = &completed
		return nil
	})
	if err != nil {
		return "", err
	}
	t.observe(ctx)
	return status, nil
}

// Fail marks the run FAILED with the error message. The write survives ctx cancellation.
func (t *Tracker) Fail(ctx context.Context, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	err := t.mutate(context.WithoutCancel(ctx), "Fail", func(rec *domain.ExecutionRecord) error {
		rec.Status = domain.StatusFailed
		rec.Phase = domain.PhaseFailed
		rec.ErrorMessage = truncate(msg)
		completed := t.now().UTC()
		rec.CompletedAt = &completed
		return nil
	})
	if err != nil {
		return err
	}
	t.observe(ctx)
	return nil
}

// Log appends a step entry to the run's audit trail. Failures are logged, not returned,
// so that audit problems never fail the run.
func (t *Tracker) Log(ctx context.Context, step, status, message string) {
	t.mu.Lock()
	if t.rec == nil {
		t.mu.Unlock()
		return
	}
	entry := domain.ExecutionLog{
		ExecutionID: t.rec.ExecutionID,
		Step:        step,
		Status:      status,
		Message:     truncate(message),
		CreatedAt:   t.now().UTC(),
	}
	t.mu.Unlock()

	if err := t.store.InsertExecutionLog(context.WithoutCancel(ctx), entry); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().
			Err(err).
			Str("execution_id", entry.ExecutionID).
			Str("step", step).
			Msg("Failed to write execution log")
	}
}

// Record returns a copy of the current record, or nil before Start.
func (t *Tracker) Record() *domain.ExecutionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rec == nil {
		return nil
	}
	c := *t.rec
	return &c
}

func (t *Tracker) mutate(ctx context.Context, op string, fn func(rec *domain.ExecutionRecord) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rec == nil {
		return fmt.Errorf("%s: execution not started", op)
	}
	if t.rec.Status.Terminal() {
		return fmt.Errorf("%s: %s: %w", op, t.rec.ExecutionID, domain.ErrExecutionTerminal)
	}

	next := *t.rec
	if err := fn(&next); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := t.store.UpdateExecution(ctx, &next); err != nil {
		return fmt.Errorf("%s: updating execution: %w", op, err)
	}
	t.rec = &next
	return nil
}

func (t *Tracker) observe(ctx context.Context) {
	rec := t.Record()
	elapsed := rec.CompletedAt.Sub(rec.StartedAt)
	t.metrics.RecordExecution(string(rec.Status), elapsed)
	log := logger.FromContext(ctx)
	log.Info().
		Str("execution_id", rec.ExecutionID).
		Str("status", string(rec.Status)).
		Int("processed", rec.RecordsProcessed).
		Int("imported", rec.RecordsImported).
		Int("failed", rec.RecordsFailed).
		Int("skipped", rec.RecordsSkipped).
		Dur("elapsed", elapsed).
		Msg("Execution finished")
}

func setCounters(rec *domain.ExecutionRecord, sum Summary) {
	rec.RecordsProcessed = sum.Processed
	rec.RecordsImported = sum.Imported
	rec.RecordsFailed = sum.Failed
	rec.RecordsSkipped = sum.Skipped
}

func truncate(s string) string {
	if len(s) > maxErrorLen {
		return s[:maxErrorLen]
	}
	return s
}
