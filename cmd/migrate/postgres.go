package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresMigrator struct {
	pool *pgxpool.Pool
}

func newPostgresMigrator(ctx context.Context, dsn string) (*postgresMigrator, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &postgresMigrator{pool: pool}, nil
}

func (p *postgresMigrator) EnsureTable(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			checksum   TEXT,
			applied_by TEXT
		)`)
	return err
}

func (p *postgresMigrator) Applied(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT version, name, applied_at, COALESCE(checksum, ''), COALESCE(applied_by, '')
		FROM schema_migrations
		ORDER BY version ASC`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (AppliedMigration, error) {
		var am AppliedMigration
		err := row.Scan(&am.Version, &am.Name, &am.AppliedAt, &am.Checksum, &am.AppliedBy)
		return am, err
	})
}

// Apply runs the migration and its bookkeeping row in one transaction.
func (p *postgresMigrator) Apply(ctx context.Context, m Migration, appliedBy string) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		// No arguments: pgx uses the simple protocol, which accepts multiple statements.
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("executing: %w", err)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO schema_migrations (version, name, checksum, applied_by)
			VALUES ($1, $2, $3, $4)`,
			m.Version, m.Name, m.Checksum, appliedBy)
		if err != nil {
			return fmt.Errorf("recording: %w", err)
		}
		return nil
	})
}

func (p *postgresMigrator) Close() error {
	p.pool.Close()
	return nil
}
