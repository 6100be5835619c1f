// Package memory is an in-process store.Backend used by tests, dry runs and
// single-instance deployments. Data is lost on restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/dre-pipeline/internal/domain"
	"github.com/dvloznov/dre-pipeline/internal/store"
)

type dimKey struct {
	Type       domain.DimensionType
	NaturalKey string
}

// Backend is safe for concurrent use.
type Backend struct {
	mu         sync.RWMutex
	nextKey    map[domain.DimensionType]int64
	dimensions map[dimKey]int64
	dimAttrs   map[dimKey]map[string]any
	facts      map[domain.FactKey]domain.FactRow
	executions map[string]*domain.ExecutionRecord
	logs       map[string][]domain.ExecutionLog

	// FactHook, when set, is called before every BulkUpsertFacts.
	// A non-nil error aborts the call without writing anything.
	FactHook func(rows []domain.FactRow) error

	// DimensionHook, when set, is called before every UpsertDimension.
	DimensionHook func(dim domain.DimensionValue) error
}

// NewBackend creates an empty in-memory backend.
func NewBackend() *Backend {
	return &Backend{
		nextKey:    make(map[domain.DimensionType]int64),
		dimensions: make(map[dimKey]int64),
		dimAttrs:   make(map[dimKey]map[string]any),
		facts:      make(map[domain.FactKey]domain.FactRow),
		executions: make(map[string]*domain.ExecutionRecord),
		logs:       make(map[string][]domain.ExecutionLog),
	}
}

// UpsertDimension implements store.DimensionStore.
func (b *Backend) UpsertDimension(ctx context.Context, dim domain.DimensionValue) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	if dim.NaturalKey == "" {
		return 0, false, fmt.Errorf("UpsertDimension: empty natural key for %s", dim.Type)
	}
	if b.DimensionHook != nil {
		if err := b.DimensionHook(dim); err != nil {
			return 0, false, err
		}
	}

	k := dimKey{Type: dim.Type, NaturalKey: dim.NaturalKey}

	b.mu.Lock()
	defer b.mu.Unlock()

	if key, ok := b.dimensions[k]; ok {
		return key, false, nil
	}
	b.nextKey[dim.Type]++
	key := b.nextKey[dim.Type]
	b.dimensions[k] = key
	attrs := make(map[string]any, len(dim.Attrs))
	for name, v := range dim.Attrs {
		attrs[name] = v
	}
	b.dimAttrs[k] = attrs
	return key, true, nil
}

// DimensionCount returns how many entities of a type exist.
func (b *Backend) DimensionCount(t domain.DimensionType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for k := range b.dimensions {
		if k.Type == t {
			n++
		}
	}
	return n
}

// DimensionAttrs returns a copy of the stored attributes of an entity.
func (b *Backend) DimensionAttrs(t domain.DimensionType, naturalKey string) (map[string]any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	attrs, ok := b.dimAttrs[dimKey{Type: t, NaturalKey: naturalKey}]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out, true
}

// BulkUpsertFacts implements store.FactStore. Rows are validated before any is written.
func (b *Backend) BulkUpsertFacts(ctx context.Context, rows []domain.FactRow) (store.UpsertResult, error) {
	var res store.UpsertResult
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if b.FactHook != nil {
		if err := b.FactHook(rows); err != nil {
			return res, err
		}
	}
	for i, r := range rows {
		if err := validateFact(r); err != nil {
			return res, fmt.Errorf("BulkUpsertFacts: row %d: %w", i, err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, r := range rows {
		k := r.Key()
		if _, ok := b.facts[k]; ok {
			res.Updated++
		} else {
			res.Inserted++
		}
		b.facts[k] = r
	}
	return res, nil
}

func validateFact(r domain.FactRow) error {
	switch {
	case r.UploadBatchID == "":
		return fmt.Errorf("upload_batch_id is required")
	case r.ProjectKey <= 0, r.AccountKey <= 0, r.PeriodKey <= 0, r.ResourceKey <= 0, r.ClientKey <= 0:
		return fmt.Errorf("dimension keys must be positive")
	}
	return nil
}

// CountFacts implements store.FactStore.
func (b *Backend) CountFacts(ctx context.Context, batchID string) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for k := range b.facts {
		if k.UploadBatchID == batchID {
			n++
		}
	}
	return n, nil
}

// Facts returns the stored rows of a batch ordered by source row number.
func (b *Backend) Facts(batchID string) []domain.FactRow {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []domain.FactRow
	for k, r := range b.facts {
		if k.UploadBatchID == batchID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowNumber < out[j].RowNumber })
	return out
}

// InsertExecution implements store.ExecutionStore.
func (b *Backend) InsertExecution(ctx context.Context, rec *domain.ExecutionRecord) error {
	if rec.ExecutionID == "" {
		return fmt.Errorf("execution ID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.executions[rec.ExecutionID]; exists {
		return fmt.Errorf("execution already exists: %s", rec.ExecutionID)
	}
	b.executions[rec.ExecutionID] = copyRecord(rec)
	return nil
}

// UpdateExecution implements store.ExecutionStore.
func (b *Backend) UpdateExecution(ctx context.Context, rec *domain.ExecutionRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.executions[rec.ExecutionID]; !exists {
		return fmt.Errorf("execution %s: %w", rec.ExecutionID, domain.ErrNotFound)
	}
	b.executions[rec.ExecutionID] = copyRecord(rec)
	return nil
}

// GetExecution implements store.ExecutionStore.
func (b *Backend) GetExecution(ctx context.Context, executionID string) (*domain.ExecutionRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, exists := b.executions[executionID]
	if !exists {
		return nil, fmt.Errorf("execution %s: %w", executionID, domain.ErrNotFound)
	}
	return copyRecord(rec), nil
}

// ListExecutions implements store.ExecutionStore.
func (b *Backend) ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]*domain.ExecutionRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []*domain.ExecutionRecord
	for _, rec := range b.executions {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && rec.StartedAt.Before(filter.Since) {
			continue
		}
		result = append(result, copyRecord(rec))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartedAt.After(result[j].StartedAt) })

	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// InsertExecutionLog implements store.ExecutionStore.
func (b *Backend) InsertExecutionLog(ctx context.Context, entry domain.ExecutionLog) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.logs[entry.ExecutionID] = append(b.logs[entry.ExecutionID], entry)
	return nil
}

// ListExecutionLogs implements store.ExecutionStore.
func (b *Backend) ListExecutionLogs(ctx context.Context, executionID string) ([]domain.ExecutionLog, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]domain.ExecutionLog, len(b.logs[executionID]))
	copy(out, b.logs[executionID])
	return out, nil
}

// Close implements store.Backend.
func (b *Backend) Close() error { return nil }

func copyRecord(rec *domain.ExecutionRecord) *domain.ExecutionRecord {
	c := *rec
	if rec.CompletedAt != nil {
		t := *rec.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

var _ store.Backend = (*Backend)(nil)
