package main

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/lib/pq"
)

var controlTables = []string{
	"ingestion_runs",
	"ingestion_audit",
	"ingestion_rejects",
}

var curatedTables = []string{
	"sipsa_ciudad",
	"sipsa_parcial",
	"sipsa_mayoristas_semanal",
	"sipsa_mayoristas_mensual",
	"sipsa_abastecimientos_mensual",
}

// setupEmptyDatabase starts a Postgres container without applying any
// migrations; the runner under test applies them itself.
func setupEmptyDatabase(ctx context.Context, t *testing.T) (string, *sql.DB) {
	t.Helper()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("sipsa_migrate_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(120*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(pgContainer)
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return connStr, db
}

func tableExists(ctx context.Context, t *testing.T, db *sql.DB, table string) bool {
	t.Helper()

	var exists bool

	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)`, table).Scan(&exists)
	if err != nil {
		t.Fatalf("failed to check table %s: %v", table, err)
	}

	return exists
}

func appliedVersion(ctx context.Context, t *testing.T, db *sql.DB) (int, bool) {
	t.Helper()

	var (
		version int
		dirty   bool
	)

	err := db.QueryRowContext(ctx, "SELECT version, dirty FROM schema_migrations").Scan(&version, &dirty)
	if err != nil {
		t.Fatalf("failed to read schema_migrations: %v", err)
	}

	return version, dirty
}

func TestMigrationRunner_UpDownCycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	connStr, db := setupEmptyDatabase(ctx, t)

	runner, err := NewMigrationRunner(&Config{
		DatabaseURL:    connStr,
		MigrationTable: "schema_migrations",
	})
	if err != nil {
		t.Fatalf("failed to create runner: %v", err)
	}

	t.Cleanup(func() {
		_ = runner.Close()
	})

	if err := runner.Up(); err != nil {
		t.Fatalf("up failed: %v", err)
	}

	for _, table := range append(append([]string{}, controlTables...), curatedTables...) {
		if !tableExists(ctx, t, db, table) {
			t.Errorf("table %s missing after up", table)
		}
	}

	version, dirty := appliedVersion(ctx, t, db)
	if version != 2 || dirty {
		t.Errorf("schema_migrations = (%d, %v), want (2, false)", version, dirty)
	}

	if err := runner.Status(); err != nil {
		t.Errorf("status failed: %v", err)
	}

	if err := runner.Version(); err != nil {
		t.Errorf("version failed: %v", err)
	}

	// Rolling back one step removes only the curated tables.
	if err := runner.Down(); err != nil {
		t.Fatalf("down failed: %v", err)
	}

	for _, table := range curatedTables {
		if tableExists(ctx, t, db, table) {
			t.Errorf("curated table %s still present after down", table)
		}
	}

	for _, table := range controlTables {
		if !tableExists(ctx, t, db, table) {
			t.Errorf("control table %s missing after a single down step", table)
		}
	}

	if version, _ := appliedVersion(ctx, t, db); version != 1 {
		t.Errorf("version after down = %d, want 1", version)
	}

	if err := runner.Up(); err != nil {
		t.Fatalf("re-up failed: %v", err)
	}

	if !tableExists(ctx, t, db, "sipsa_ciudad") {
		t.Error("curated tables missing after re-up")
	}
}

func TestMigrationRunner_UpIsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	connStr, db := setupEmptyDatabase(ctx, t)

	runner, err := NewMigrationRunner(&Config{
		DatabaseURL:    connStr,
		MigrationTable: "schema_migrations",
	})
	if err != nil {
		t.Fatalf("failed to create runner: %v", err)
	}

	t.Cleanup(func() {
		_ = runner.Close()
	})

	if err := runner.Up(); err != nil {
		t.Fatalf("up failed: %v", err)
	}

	// A second up on a current schema is a no-op, not an error.
	if err := runner.Up(); err != nil {
		t.Fatalf("second up failed: %v", err)
	}

	if version, dirty := appliedVersion(ctx, t, db); version != 2 || dirty {
		t.Errorf("schema_migrations = (%d, %v), want (2, false)", version, dirty)
	}
}

func TestMigrationRunner_Drop(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	connStr, db := setupEmptyDatabase(ctx, t)

	runner, err := NewMigrationRunner(&Config{
		DatabaseURL:    connStr,
		MigrationTable: "schema_migrations",
	})
	if err != nil {
		t.Fatalf("failed to create runner: %v", err)
	}

	t.Cleanup(func() {
		_ = runner.Close()
	})

	if err := runner.Up(); err != nil {
		t.Fatalf("up failed: %v", err)
	}

	if err := runner.Drop(); err != nil {
		t.Fatalf("drop failed: %v", err)
	}

	for _, table := range append(append([]string{}, controlTables...), curatedTables...) {
		if tableExists(ctx, t, db, table) {
			t.Errorf("table %s survived drop", table)
		}
	}
}
