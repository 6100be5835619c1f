// Package loader writes mapped records to the fact table in chunks.
package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/dre-pipeline/internal/domain"
	"github.com/dvloznov/dre-pipeline/internal/logger"
	"github.com/dvloznov/dre-pipeline/internal/metrics"
	"github.com/dvloznov/dre-pipeline/internal/retry"
	"github.com/dvloznov/dre-pipeline/internal/store"
)

const (
	DefaultChunkSize  = 500
	DefaultMaxErrors  = 50
	DefaultMaxRetries = 2
)

// KeyResolver resolves the dimension keys of a record.
type KeyResolver interface {
	ResolveRecord(ctx context.Context, rec *domain.FinancialRecord) (domain.DimensionKeys, error)
}

// RecordError describes one record that could not be loaded.
type RecordError struct {
	RowNumber int    `json:"row_number"`
	Message   string `json:"message"`
}

func (e RecordError) String() string {
	return fmt.Sprintf("row %d: %s", e.RowNumber, e.Message)
}

// BatchResult summarizes a load. Inserted and Updated count fact rows written;
// Merged counts records folded into another record of the batch.
type BatchResult struct {
	Inserted int
	Updated  int
	Merged   int
	Failed   int
	Errors   []RecordError // first MaxErrors only
}

// Imported returns the number of source records that reached the fact table.
func (r BatchResult) Imported() int {
	return r.Inserted + r.Updated + r.Merged
}

// Options configures a Loader. ChunkSize counts fact rows after merging.
// Zero values take defaults; a Retry without BaseDelay becomes the default
// policy with DefaultMaxRetries.
type Options struct {
	ChunkSize int
	MaxErrors int
	Retry     retry.Policy
}

// Loader is created per run.
type Loader struct {
	facts    store.FactStore
	resolver KeyResolver
	metrics  *metrics.Metrics
	opts     Options
	now      func() time.Time
}

// NewLoader creates a loader. m may be nil.
func NewLoader(facts store.FactStore, resolver KeyResolver, m *metrics.Metrics, opts Options) *Loader {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = DefaultMaxErrors
	}
	if opts.Retry.BaseDelay == 0 {
		p := retry.DefaultPolicy()
		p.MaxRetries = DefaultMaxRetries
		p.Retryable = opts.Retry.Retryable
		p.Sleep = opts.Retry.Sleep
		opts.Retry = p
	}
	return &Loader{
		facts:    facts,
		resolver: resolver,
		metrics:  m,
		opts:     opts,
		now:      time.Now,
	}
}

// pending is a fact row plus the source records folded into it.
type pending struct {
	row  domain.FactRow
	rows []int
}

// LoadBatch loads records in chunks tagged with batchID. Record-level failures are
// collected in the result; only context cancellation is returned as an error.
func (l *Loader) LoadBatch(ctx context.Context, records []*domain.FinancialRecord, batchID, fileName string) (BatchResult, error) {
	log := logger.FromContext(ctx)
	var res BatchResult

	facts, err := l.prepare(ctx, records, batchID, fileName, &res)
	if err != nil {
		return res, err
	}

	for start := 0; start < len(facts); start += l.opts.ChunkSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		end := start + l.opts.ChunkSize
		if end > len(facts) {
			end = len(facts)
		}

		if err := l.writeChunk(ctx, facts[start:end], &res); err != nil {
			return res, err
		}

		log.Debug().
			Int("chunk_start", start).
			Int("chunk_end", end).
			Int("inserted", res.Inserted).
			Int("failed", res.Failed).
			Msg("Chunk loaded")
	}

	l.metrics.RecordFacts("inserted", res.Inserted)
	l.metrics.RecordFacts("updated", res.Updated)
	l.metrics.RecordFacts("failed", res.Failed)
	return res, nil
}

// prepare resolves dimensions and merges records sharing a uniqueness tuple
// anywhere in the batch, so each fact key is written exactly once. Facts keep
// the row order of their first record.
func (l *Loader) prepare(ctx context.Context, records []*domain.FinancialRecord, batchID, fileName string, res *BatchResult) ([]*pending, error) {
	var out []*pending
	byKey := make(map[domain.FactKey]*pending)
	now := l.now().UTC()

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := rec.Validate(); err != nil {
			l.fail(res, &domain.RecordLoadError{RowNumber: rec.RowNumber, Err: err})
			continue
		}
		keys, err := l.resolver.ResolveRecord(ctx, rec)
		if err != nil {
			l.fail(res, &domain.RecordLoadError{RowNumber: rec.RowNumber, Err: err})
			continue
		}

		row := domain.FactRow{
			ProjectKey:     keys.ProjectKey,
			ClientKey:      keys.ClientKey,
			AccountKey:     keys.AccountKey,
			PeriodKey:      keys.PeriodKey,
			ResourceKey:    keys.ResourceKey,
			Amount:         rec.Amount,
			Nature:         rec.Nature,
			UploadBatchID:  batchID,
			SourceFileName: fileName,
			RowHash:        domain.RowHash(rec),
			RowNumber:      rec.RowNumber,
			InsertedAt:     now,
		}

		if p, ok := byKey[row.Key()]; ok {
			p.row.Amount = p.row.Amount.Add(row.Amount)
			p.rows = append(p.rows, rec.RowNumber)
			continue
		}
		p := &pending{row: row, rows: []int{rec.RowNumber}}
		byKey[row.Key()] = p
		out = append(out, p)
	}
	return out, nil
}

func (l *Loader) writeChunk(ctx context.Context, chunk []*pending, res *BatchResult) error {
	if len(chunk) == 0 {
		return nil
	}
	log := logger.FromContext(ctx)

	rows := make([]domain.FactRow, len(chunk))
	for i, p := range chunk {
		rows[i] = p.row
	}

	start := time.Now()
	up, err := l.upsert(ctx, rows)
	l.metrics.RecordChunk("bulk", time.Since(start))
	if err == nil {
		l.credit(res, up, chunk)
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	log.Warn().Err(err).Int("rows", len(rows)).Msg("Bulk upsert failed, falling back to per-record inserts")

	start = time.Now()
	defer func() { l.metrics.RecordChunk("per_record", time.Since(start)) }()

	for _, p := range chunk {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		up, err := l.upsert(ctx, []domain.FactRow{p.row})
		if err != nil {
			for _, rn := range p.rows {
				l.fail(res, &domain.RecordLoadError{RowNumber: rn, Err: err})
			}
			continue
		}
		l.credit(res, up, []*pending{p})
	}
	return nil
}

func (l *Loader) upsert(ctx context.Context, rows []domain.FactRow) (store.UpsertResult, error) {
	var up store.UpsertResult
	_, err := l.opts.Retry.Execute(ctx, "bulk upsert facts", func(ctx context.Context, attempt int) error {
		var err error
		up, err = l.facts.BulkUpsertFacts(ctx, rows)
		return err
	})
	return up, err
}

func (l *Loader) credit(res *BatchResult, up store.UpsertResult, chunk []*pending) {
	res.Inserted += up.Inserted
	res.Updated += up.Updated
	for _, p := range chunk {
		res.Merged += len(p.rows) - 1
	}
}

func (l *Loader) fail(res *BatchResult, err *domain.RecordLoadError) {
	res.Failed++
	if len(res.Errors) < l.opts.MaxErrors {
		res.Errors = append(res.Errors, RecordError{RowNumber: err.RowNumber, Message: err.Err.Error()})
	}
}
