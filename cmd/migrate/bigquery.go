package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

type bigQueryMigrator struct {
	client  *bigquery.Client
	project string
	dataset string
}

func newBigQueryMigrator(ctx context.Context, projectID, datasetID string) (*bigQueryMigrator, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating BigQuery client: %w", err)
	}
	return &bigQueryMigrator{client: client, project: projectID, dataset: datasetID}, nil
}

func (b *bigQueryMigrator) table() string {
	return fmt.Sprintf("`%s.%s.schema_migrations`", b.project, b.dataset)
}

func (b *bigQueryMigrator) EnsureTable(ctx context.Context) error {
	return b.exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)`, b.table()), nil)
}

func (b *bigQueryMigrator) Applied(ctx context.Context) ([]AppliedMigration, error) {
	q := b.client.Query(fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM %s
		ORDER BY version ASC`, b.table()))
	it, err := q.Read(ctx)
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64
			Name      string
			AppliedAt time.Time
			Checksum  bigquery.NullString
			AppliedBy bigquery.NullString
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating results: %w", err)
		}
		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

// Apply runs the script, then records it. BigQuery DDL cannot join a
// transaction, so a failure between the two leaves an unrecorded migration;
// the CREATE ... IF NOT EXISTS style keeps a rerun safe.
func (b *bigQueryMigrator) Apply(ctx context.Context, m Migration, appliedBy string) error {
	if err := b.exec(ctx, m.SQL, nil); err != nil {
		return fmt.Errorf("executing: %w", err)
	}
	err := b.exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)`, b.table()),
		[]bigquery.QueryParameter{
			{Name: "version", Value: m.Version},
			{Name: "name", Value: m.Name},
			{Name: "checksum", Value: m.Checksum},
			{Name: "applied_by", Value: appliedBy},
		})
	if err != nil {
		return fmt.Errorf("recording: %w", err)
	}
	return nil
}

func (b *bigQueryMigrator) exec(ctx context.Context, sql string, params []bigquery.QueryParameter) error {
	q := b.client.Query(sql)
	q.Parameters = params
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

func (b *bigQueryMigrator) Close() error {
	return b.client.Close()
}
