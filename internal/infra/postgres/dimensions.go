package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/dre-pipeline/internal/domain"
	"github.com/dvloznov/dre-pipeline/internal/store"
	"github.com/jackc/pgx/v5"
)

// UpsertDimension inserts the entity with ON CONFLICT DO NOTHING and falls back to a
// select when another writer got there first.
func (b *Backend) UpsertDimension(ctx context.Context, dim domain.DimensionValue) (int64, bool, error) {
	tbl, ok := store.DimensionTables[dim.Type]
	if !ok {
		return 0, false, fmt.Errorf("UpsertDimension: unknown dimension %q", dim.Type)
	}

	insertSQL, selectSQL := dimensionSQL(tbl)
	args := []any{dim.NaturalKey}
	for _, v := range tbl.AttrValues(dim) {
		args = append(args, pgValue(v))
	}

	var key int64
	err := b.pool.QueryRow(ctx, insertSQL, args...).Scan(&key)
	if err == nil {
		return key, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("UpsertDimension: inserting %s: %w", tbl.Name, classify(err))
	}

	if err := b.pool.QueryRow(ctx, selectSQL, dim.NaturalKey).Scan(&key); err != nil {
		return 0, false, fmt.Errorf("UpsertDimension: selecting %s: %w", tbl.Name, classify(err))
	}
	return key, false, nil
}

func dimensionSQL(tbl store.DimensionTable) (insertSQL, selectSQL string) {
	cols := append([]string{tbl.NaturalKey}, tbl.Attrs...)
	params := make([]string, len(cols))
	for i := range cols {
		params[i] = fmt.Sprintf("$%d", i+1)
	}

	insertSQL = fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES (%s)
		ON CONFLICT (%s) DO NOTHING
		RETURNING %s`,
		tbl.Name, strings.Join(cols, ", "), strings.Join(params, ", "), tbl.NaturalKey, tbl.KeyColumn)

	selectSQL = fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1`, tbl.KeyColumn, tbl.Name, tbl.NaturalKey)
	return insertSQL, selectSQL
}

// pgValue converts attribute values pgx cannot encode directly.
func pgValue(v any) any {
	if d, ok := v.(civil.Date); ok {
		return d.In(time.UTC)
	}
	return v
}
