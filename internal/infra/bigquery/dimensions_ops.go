package bigquery

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/dre-pipeline/internal/domain"
	"github.com/dvloznov/dre-pipeline/internal/store"
	"google.golang.org/api/iterator"
)

// UpsertDimensionWithClient inserts the entity with a MERGE ... WHEN NOT MATCHED, then
// reads back its key. Surrogate keys are ABS(FARM_FINGERPRINT(natural key)) so concurrent
// writers agree on the key without a sequence.
func UpsertDimensionWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, dim domain.DimensionValue) (int64, bool, error) {
	tbl, ok := store.DimensionTables[dim.Type]
	if !ok {
		return 0, false, fmt.Errorf("UpsertDimension: unknown dimension %q", dim.Type)
	}

	q := client.Query(mergeDimensionSQL(ds, tbl))
	q.Parameters = dimensionParams(tbl, dim)

	stats, err := runDML(ctx, q, "UpsertDimension")
	if err != nil {
		return 0, false, err
	}
	created := false
	if stats != nil {
		if stats.DMLStats != nil {
			created = stats.DMLStats.InsertedRowCount > 0
		} else {
			created = stats.NumDMLAffectedRows > 0
		}
	}

	sel := client.Query(fmt.Sprintf(`SELECT %s AS surrogate_key FROM %s WHERE %s = @natural_key LIMIT 1`,
		tbl.KeyColumn, ds.Table(tbl.Name), tbl.NaturalKey))
	sel.Parameters = []bigquery.QueryParameter{{Name: "natural_key", Value: dim.NaturalKey}}

	it, err := sel.Read(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("UpsertDimension: reading key: %w", classify(err))
	}
	var row struct {
		SurrogateKey int64 `bigquery:"surrogate_key"`
	}
	err = it.Next(&row)
	if err == iterator.Done {
		return 0, false, fmt.Errorf("UpsertDimension: %s %q not found after merge", tbl.Name, dim.NaturalKey)
	}
	if err != nil {
		return 0, false, fmt.Errorf("UpsertDimension: iterating: %w", classify(err))
	}
	return row.SurrogateKey, created, nil
}

func mergeDimensionSQL(ds Dataset, tbl store.DimensionTable) string {
	cols := append([]string{tbl.NaturalKey}, tbl.Attrs...)
	source := make([]string, len(cols))
	values := make([]string, len(cols))
	source[0] = fmt.Sprintf("@natural_key AS %s", tbl.NaturalKey)
	values[0] = "S." + tbl.NaturalKey
	for i, a := range tbl.Attrs {
		source[i+1] = fmt.Sprintf("@%s AS %s", a, a)
		values[i+1] = "S." + a
	}

	return fmt.Sprintf(`
		MERGE %s T
		USING (SELECT %s) S
		ON T.%s = S.%s
		WHEN NOT MATCHED THEN
			INSERT (%s, %s)
			VALUES (ABS(FARM_FINGERPRINT(S.%s)), %s)`,
		ds.Table(tbl.Name),
		strings.Join(source, ", "),
		tbl.NaturalKey, tbl.NaturalKey,
		tbl.KeyColumn, strings.Join(cols, ", "),
		tbl.NaturalKey, strings.Join(values, ", "))
}

func dimensionParams(tbl store.DimensionTable, dim domain.DimensionValue) []bigquery.QueryParameter {
	params := []bigquery.QueryParameter{{Name: "natural_key", Value: dim.NaturalKey}}
	for i, v := range tbl.AttrValues(dim) {
		params = append(params, bigquery.QueryParameter{Name: tbl.Attrs[i], Value: v})
	}
	return params
}
