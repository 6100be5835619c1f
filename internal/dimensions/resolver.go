// Package dimensions maps natural keys to surrogate keys, creating dimension
// entities on first sight.
package dimensions

import (
	"context"

	"github.com/dvloznov/dre-pipeline/internal/domain"
	"github.com/dvloznov/dre-pipeline/internal/logger"
	"github.com/dvloznov/dre-pipeline/internal/metrics"
	"github.com/dvloznov/dre-pipeline/internal/store"
)

type cacheKey struct {
	Type       domain.DimensionType
	NaturalKey string
}

// Counts tracks resolver activity for one dimension type.
type Counts struct {
	Resolved int // cache misses answered by the store
	Created  int // entities inserted by this run
	Hits     int
}

// Resolver caches keys for the lifetime of one run. It is not safe for concurrent use.
type Resolver struct {
	store   store.DimensionStore
	metrics *metrics.Metrics
	cache   map[cacheKey]int64
	counts  map[domain.DimensionType]*Counts
}

// NewResolver creates a resolver with an empty cache. m may be nil.
func NewResolver(s store.DimensionStore, m *metrics.Metrics) *Resolver {
	r := &Resolver{
		store:   s,
		metrics: m,
		cache:   make(map[cacheKey]int64),
		counts:  make(map[domain.DimensionType]*Counts),
	}
	for _, t := range domain.AllDimensions {
		r.counts[t] = &Counts{}
	}
	return r
}

// Resolve returns the surrogate key for (dimType, naturalKey), creating the entity if needed.
func (r *Resolver) Resolve(ctx context.Context, dimType domain.DimensionType, naturalKey string, attrs map[string]any) (int64, error) {
	return r.resolve(ctx, domain.DimensionValue{Type: dimType, NaturalKey: naturalKey, Attrs: attrs})
}

func (r *Resolver) resolve(ctx context.Context, dim domain.DimensionValue) (int64, error) {
	k := cacheKey{Type: dim.Type, NaturalKey: dim.NaturalKey}
	c := r.countsFor(dim.Type)
	if key, ok := r.cache[k]; ok {
		c.Hits++
		return key, nil
	}

	key, created, err := r.store.UpsertDimension(ctx, dim)
	if err != nil {
		return 0, &domain.DimensionResolutionError{Dimension: dim.Type, NaturalKey: dim.NaturalKey, Err: err}
	}

	r.cache[k] = key
	c.Resolved++
	if created {
		c.Created++
		r.metrics.RecordDimensionCreated(string(dim.Type))
		log := logger.FromContext(ctx)
		log.Debug().
			Str("dimension", string(dim.Type)).
			Str("natural_key", dim.NaturalKey).
			Int64("key", key).
			Msg("Dimension created")
	}
	return key, nil
}

// ResolveRecord resolves all five dimensions of a mapped record.
func (r *Resolver) ResolveRecord(ctx context.Context, rec *domain.FinancialRecord) (domain.DimensionKeys, error) {
	var keys domain.DimensionKeys
	var err error

	project := domain.Project{
		Code:         rec.ProjectCode,
		Name:         rec.ProjectName,
		BusinessType: rec.ClientType,
		BusinessLine: rec.BusinessLine,
	}
	if keys.ProjectKey, err = r.resolve(ctx, project.Value()); err != nil {
		return keys, err
	}

	client := domain.Client{Name: rec.ClientName, ClientType: rec.ClientType}
	if client.ClientType == "" {
		client.ClientType = domain.DefaultClientType
	}
	if keys.ClientKey, err = r.resolve(ctx, client.Value()); err != nil {
		return keys, err
	}

	account := domain.Account{
		Code:        rec.AccountCode,
		Description: rec.AccountDescription,
		Grouping:    rec.AccountGrouping,
		Nature:      rec.Nature,
	}
	if keys.AccountKey, err = r.resolve(ctx, account.Value()); err != nil {
		return keys, err
	}

	if keys.PeriodKey, err = r.resolve(ctx, rec.Period().Value()); err != nil {
		return keys, err
	}

	resource := domain.ResourceFor(rec.ResourceID, rec.ResourceName)
	if keys.ResourceKey, err = r.resolve(ctx, resource.Value()); err != nil {
		return keys, err
	}

	return keys, nil
}

// Stats returns a snapshot of per-type counts.
func (r *Resolver) Stats() map[domain.DimensionType]Counts {
	out := make(map[domain.DimensionType]Counts, len(r.counts))
	for t, c := range r.counts {
		out[t] = *c
	}
	return out
}

// Created returns the total number of entities this run inserted.
func (r *Resolver) Created() int {
	n := 0
	for _, c := range r.counts {
		n += c.Created
	}
	return n
}

func (r *Resolver) countsFor(t domain.DimensionType) *Counts {
	c, ok := r.counts[t]
	if !ok {
		c = &Counts{}
		r.counts[t] = c
	}
	return c
}
