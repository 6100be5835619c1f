// Package infra opens the persistence backend selected by configuration.
package infra

import (
	"context"
	"fmt"

	"github.com/dvloznov/dre-pipeline/internal/config"
	"github.com/dvloznov/dre-pipeline/internal/infra/bigquery"
	"github.com/dvloznov/dre-pipeline/internal/infra/memory"
	"github.com/dvloznov/dre-pipeline/internal/infra/postgres"
	"github.com/dvloznov/dre-pipeline/internal/store"
)

// Open connects to the configured backend. The caller closes it.
func Open(ctx context.Context, cfg config.BackendConfig) (store.Backend, error) {
	switch cfg.Type {
	case config.BackendPostgres:
		b, err := postgres.New(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("infra.Open: %w", err)
		}
		return b, nil
	case config.BackendBigQuery:
		b, err := bigquery.NewBigQueryBackend(ctx, cfg.BigQuery.ProjectID, cfg.BigQuery.DatasetID)
		if err != nil {
			return nil, fmt.Errorf("infra.Open: %w", err)
		}
		return b, nil
	case config.BackendMemory:
		return memory.NewBackend(), nil
	default:
		return nil, fmt.Errorf("infra.Open: unknown backend type %q", cfg.Type)
	}
}
