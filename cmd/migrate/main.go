// Command migrate applies the versioned SQL files under migrations/<driver>
// and records each one in a schema_migrations table.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/dre-pipeline/internal/config"
	"github.com/dvloznov/dre-pipeline/internal/logger"
	"github.com/rs/zerolog"
)

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// migrator is one database's view of schema_migrations.
type migrator interface {
	EnsureTable(ctx context.Context) error
	Applied(ctx context.Context) ([]AppliedMigration, error)
	// Apply runs the migration and records it; implementations make both
	// steps atomic where the database allows it.
	Apply(ctx context.Context, m Migration, appliedBy string) error
	Close() error
}

func main() {
	var (
		configPath    = flag.String("config", os.Getenv("DRE_CONFIG"), "Path to YAML config (or set DRE_CONFIG env)")
		driver        = flag.String("driver", "", "postgres or bigquery (default: backend.type from config)")
		dsn           = flag.String("dsn", "", "PostgreSQL DSN (default: backend.postgres.dsn / DATABASE_URL)")
		projectID     = flag.String("project", "", "GCP project ID (default: backend.bigquery.project_id / BQ_PROJECT)")
		datasetID     = flag.String("dataset", "", "BigQuery dataset ID (default: backend.bigquery.dataset_id)")
		appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
		migrationsDir = flag.String("migrations", "", "Path to migrations directory (default: migrations/<driver>)")
		dryRun        = flag.Bool("dry-run", false, "List pending migrations without applying them")
	)
	flag.Parse()

	log := logger.New()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	backend := config.Default().Backend
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load config")
		}
		backend = cfg.Backend
	}
	// Flags win over the environment, which wins over the file.
	overrideString(&backend.Type, os.Getenv("DRE_BACKEND"))
	overrideString(&backend.Postgres.DSN, os.Getenv("DATABASE_URL"))
	overrideString(&backend.BigQuery.ProjectID, os.Getenv("BQ_PROJECT"))
	overrideString(&backend.Type, *driver)
	overrideString(&backend.Postgres.DSN, *dsn)
	overrideString(&backend.BigQuery.ProjectID, *projectID)
	overrideString(&backend.BigQuery.DatasetID, *datasetID)

	dir := *migrationsDir
	if dir == "" {
		dir = "migrations/" + backend.Type
	}

	m, replacer, err := openMigrator(ctx, backend)
	if err != nil {
		log.Fatal().Err(err).Str("driver", backend.Type).Msg("Failed to connect")
	}
	defer m.Close()

	migrations, err := readMigrations(dir, replacer)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read migrations")
	}
	log.Info().Str("driver", backend.Type).Str("dir", dir).Int("files", len(migrations)).Msg("Found migration files")

	n, err := run(ctx, m, migrations, *appliedBy, *dryRun, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
	if n == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	} else if *dryRun {
		log.Info().Int("pending", n).Msg("Dry run complete")
	} else {
		log.Info().Int("applied", n).Msg("Migrations applied")
	}
}

func overrideString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func openMigrator(ctx context.Context, backend config.BackendConfig) (migrator, map[string]string, error) {
	switch backend.Type {
	case config.BackendPostgres:
		if backend.Postgres.DSN == "" {
			return nil, nil, fmt.Errorf("-dsn (or DATABASE_URL) is required for postgres")
		}
		m, err := newPostgresMigrator(ctx, backend.Postgres.DSN)
		return m, nil, err
	case config.BackendBigQuery:
		if backend.BigQuery.ProjectID == "" {
			return nil, nil, fmt.Errorf("-project (or BQ_PROJECT) is required for bigquery")
		}
		m, err := newBigQueryMigrator(ctx, backend.BigQuery.ProjectID, backend.BigQuery.DatasetID)
		return m, map[string]string{
			"{{PROJECT_ID}}": backend.BigQuery.ProjectID,
			"{{DATASET_ID}}": backend.BigQuery.DatasetID,
		}, err
	default:
		return nil, nil, fmt.Errorf("unsupported driver %q (want postgres or bigquery)", backend.Type)
	}
}

// run applies every migration whose version is not yet recorded, in order.
// It returns how many were applied, or would be when dryRun is set.
func run(ctx context.Context, m migrator, migrations []Migration, appliedBy string, dryRun bool, log zerolog.Logger) (int, error) {
	if err := m.EnsureTable(ctx); err != nil {
		return 0, fmt.Errorf("ensuring schema_migrations: %w", err)
	}

	applied, err := m.Applied(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading applied migrations: %w", err)
	}
	log.Info().Int("applied", len(applied)).Msg("Found already applied migrations")

	byVersion := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		byVersion[am.Version] = am
	}

	count := 0
	for _, mig := range migrations {
		if am, ok := byVersion[mig.Version]; ok {
			if am.Checksum != "" && am.Checksum != mig.Checksum {
				log.Warn().Str("migration", mig.Filename).Msg("Checksum differs from the applied version; edit a new migration instead")
			}
			log.Debug().Str("migration", mig.Filename).Msg("Already applied")
			continue
		}

		if dryRun {
			log.Info().Str("migration", mig.Filename).Msg("Pending")
			count++
			continue
		}

		log.Info().Str("migration", mig.Filename).Msg("Applying")
		if err := m.Apply(ctx, mig, appliedBy); err != nil {
			return count, fmt.Errorf("applying %s: %w", mig.Filename, err)
		}
		count++
	}
	return count, nil
}
