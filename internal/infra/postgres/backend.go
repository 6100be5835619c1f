// Package postgres implements store.Backend on PostgreSQL with a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/dvloznov/dre-pipeline/internal/domain"
	"github.com/dvloznov/dre-pipeline/internal/store"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Backend is safe for concurrent use.
type Backend struct {
	pool *pgxpool.Pool
}

// New connects to dsn and verifies the connection. maxConns <= 0 keeps the pgx default.
func New(ctx context.Context, dsn string, maxConns int32) (*Backend, error) {
	pgConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parsing DSN: %w", err)
	}
	if maxConns > 0 {
		pgConfig.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", classify(err))
	}
	return &Backend{pool: pool}, nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool *pgxpool.Pool) *Backend {
	return &Backend{pool: pool}
}

// Pool exposes the underlying pool for migrations.
func (b *Backend) Pool() *pgxpool.Pool { return b.pool }

// Close implements store.Backend.
func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}

// classify marks connection-level and serialization failures as transient so the
// shared retry policy picks them up.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return &domain.TransientNetworkError{Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case len(pgErr.Code) == 5 && pgErr.Code[:2] == "08", // connection exception
			pgErr.Code == "40001", // serialization_failure
			pgErr.Code == "40P01", // deadlock_detected
			pgErr.Code == "57P03": // cannot_connect_now
			return &domain.TransientNetworkError{Err: err}
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &domain.TransientNetworkError{Err: err}
	}
	return err
}

var _ store.Backend = (*Backend)(nil)
