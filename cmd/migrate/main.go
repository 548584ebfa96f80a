package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/subscription-tracker/internal/config"
	"github.com/dvloznov/subscription-tracker/internal/logger"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
)

// Migration is one parsed migration file.
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// migrationPattern matches 0001_name.sql.
var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	projectID := flag.String("project", cfg.ProjectID, "GCP project ID (or set GCP_PROJECT_ID env)")
	datasetID := flag.String("dataset", cfg.DatasetID, "BigQuery dataset ID (or set BQ_DATASET env)")
	appliedBy := flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	migrationsDir := flag.String("migrations", "migrations/bigquery", "Path to migrations directory")
	dryRun := flag.Bool("dry-run", false, "List pending migrations without applying them")
	flag.Parse()

	log := logger.NewWithLevel(cfg.LogLevel)
	if *projectID == "" {
		log.Fatal().Msg("Error: --project is required")
	}

	ctx := logger.WithContext(context.Background(), log)

	client, err := bigquery.NewClient(ctx, *projectID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer client.Close()

	target := datasetRef{project: *projectID, dataset: *datasetID}
	log.Info().Str("project", target.project).Str("dataset", target.dataset).Msg("Connected to BigQuery")

	if err := runQuery(ctx, client, target.ensureLedgerSQL(), nil); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure schema_migrations table")
	}

	dir, err := findMigrationsDir(*migrationsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to locate migrations")
	}
	migrations, err := loadMigrations(dir, target, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read migrations")
	}

	applied, err := getAppliedMigrations(ctx, client, target)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get applied migrations")
	}
	log.Info().Int("files", len(migrations)).Int("applied", len(applied)).Msg("Loaded migrations")

	for _, m := range changedSinceApplied(migrations, applied) {
		log.Warn().Int("version", m.Version).Str("name", m.Name).Msg("Applied migration file has changed since it was applied")
	}

	todo := pendingMigrations(migrations, applied)
	if len(todo) == 0 {
		log.Info().Msg("No new migrations to apply. Dataset is up to date.")
		return
	}

	for _, m := range todo {
		if *dryRun {
			log.Info().Msgf("  [PENDING] %04d_%s", m.Version, m.Name)
			continue
		}

		log.Info().Msgf("  [RUN]  %04d_%s", m.Version, m.Name)
		if err := runQuery(ctx, client, m.SQL, nil); err != nil {
			log.Fatal().Err(err).Msgf("Failed to execute migration %04d_%s", m.Version, m.Name)
		}
		params := []bigquery.QueryParameter{
			{Name: "version", Value: m.Version},
			{Name: "name", Value: m.Name},
			{Name: "checksum", Value: m.Checksum},
			{Name: "applied_by", Value: *appliedBy},
		}
		if err := runQuery(ctx, client, target.recordSQL(), params); err != nil {
			log.Fatal().Err(err).Msgf("Failed to record migration %04d_%s", m.Version, m.Name)
		}
		log.Info().Msgf("  [OK]   %04d_%s", m.Version, m.Name)
	}

	if !*dryRun {
		log.Info().Int("applied", len(todo)).Msg("Migrations applied")
	}
}

type datasetRef struct {
	project string
	dataset string
}

func (d datasetRef) ledger() string {
	return fmt.Sprintf("`%s.%s.schema_migrations`", d.project, d.dataset)
}

func (d datasetRef) ensureLedgerSQL() string {
	return `CREATE TABLE IF NOT EXISTS ` + d.ledger() + ` (
	version    INT64 NOT NULL,
	name       STRING NOT NULL,
	applied_at TIMESTAMP NOT NULL,
	checksum   STRING,
	applied_by STRING
)`
}

func (d datasetRef) recordSQL() string {
	return `INSERT INTO ` + d.ledger() + ` (version, name, applied_at, checksum, applied_by)
VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)`
}

// render substitutes the {{PROJECT_ID}} and {{DATASET_ID}} placeholders.
func (d datasetRef) render(sql string) string {
	sql = strings.ReplaceAll(sql, "{{PROJECT_ID}}", d.project)
	return strings.ReplaceAll(sql, "{{DATASET_ID}}", d.dataset)
}

// parseMigrationName extracts version and name from 0001_name.sql.
func parseMigrationName(filename string) (int, string, bool) {
	m := migrationPattern.FindStringSubmatch(filename)
	if m == nil {
		return 0, "", false
	}
	version, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	return version, m[2], true
}

// findMigrationsDir also tries the path relative to the repository root when
// run from cmd/migrate.
func findMigrationsDir(dir string) (string, error) {
	if _, err := os.Stat(dir); err == nil {
		return dir, nil
	}
	alt := filepath.Join("..", "..", dir)
	if _, err := os.Stat(alt); err == nil {
		return alt, nil
	}
	return "", fmt.Errorf("migrations directory not found: %s", dir)
}

// loadMigrations reads every migration in dir ordered by version. The
// checksum covers the file before placeholder substitution, so the same file
// applied to two datasets has one checksum.
func loadMigrations(dir string, target datasetRef, log zerolog.Logger) ([]Migration, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	seen := make(map[int]string)
	var migrations []Migration
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		version, name, ok := parseMigrationName(file.Name())
		if !ok {
			log.Warn().Str("file", file.Name()).Msg("Skipping file with invalid name")
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %04d: %s and %s", version, prev, file.Name())
		}
		seen[version] = file.Name()

		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading file %s: %w", file.Name(), err)
		}

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     name,
			Filename: file.Name(),
			SQL:      target.render(string(content)),
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// pendingMigrations returns the migrations whose version is not applied.
func pendingMigrations(all []Migration, applied []AppliedMigration) []Migration {
	done := make(map[int]bool, len(applied))
	for _, a := range applied {
		done[a.Version] = true
	}
	var out []Migration
	for _, m := range all {
		if !done[m.Version] {
			out = append(out, m)
		}
	}
	return out
}

// changedSinceApplied returns applied migrations whose file checksum differs
// from the recorded one.
func changedSinceApplied(all []Migration, applied []AppliedMigration) []Migration {
	recorded := make(map[int]string, len(applied))
	for _, a := range applied {
		recorded[a.Version] = a.Checksum
	}
	var out []Migration
	for _, m := range all {
		if sum, ok := recorded[m.Version]; ok && sum != "" && sum != m.Checksum {
			out = append(out, m)
		}
	}
	return out
}

func getAppliedMigrations(ctx context.Context, client *bigquery.Client, target datasetRef) ([]AppliedMigration, error) {
	q := client.Query(`SELECT version, name, applied_at, checksum, applied_by FROM ` + target.ledger() + ` ORDER BY version ASC`)
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
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

func runQuery(ctx context.Context, client *bigquery.Client, sql string, params []bigquery.QueryParameter) error {
	q := client.Query(sql)
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
