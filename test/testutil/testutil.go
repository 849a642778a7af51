// Package testutil provides shared test utilities for pgquery integration tests.
package testutil

import (
	"context"
	"crypto/rand"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pthm/pgquery/pkg/migrator"
	"github.com/pthm/pgquery/pkg/schema"
)

//go:embed testdata/schema.yaml
var schemaYAML string

// Singleton container state
var (
	singletonOnce sync.Once
	singletonDSN  string
	singletonErr  error

	templateOnce sync.Once
	templateName string
	templateErr  error
)

// ensureSingleton lazily initializes the singleton PostgreSQL container, or
// returns the configured external database.
func ensureSingleton() (string, error) {
	singletonOnce.Do(func() {
		if cfg := GetDatabaseConfig(); cfg.URL != "" {
			singletonDSN = cfg.URL
			return
		}

		ctx := context.Background()
		container, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("postgres"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			singletonErr = fmt.Errorf("failed to start PostgreSQL container: %w", err)
			return
		}

		dsn, err := container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			_ = container.Terminate(ctx)
			singletonErr = fmt.Errorf("failed to get PostgreSQL connection string: %w", err)
			return
		}

		singletonDSN = dsn
		// Container is not stored - ryuk will handle cleanup automatically
	})

	return singletonDSN, singletonErr
}

// ensureTemplate creates the template database with the test schema migrated.
func ensureTemplate(adminDSN string) (string, error) {
	templateOnce.Do(func() {
		templateName = uniqueDBName("pgquery_template")

		if err := createDatabase(adminDSN, templateName, ""); err != nil {
			templateErr = fmt.Errorf("failed to create template database: %w", err)
			return
		}

		if err := applyMigrations(replaceDBName(adminDSN, templateName)); err != nil {
			templateErr = fmt.Errorf("failed to apply migrations: %w", err)
			return
		}

		// Non-fatal if this fails: copying still works without template flag
		_ = markAsTemplate(adminDSN, templateName)
	})

	return templateName, templateErr
}

// skipUnlessIntegration skips tb in -short mode or when no database can be
// started.
func skipUnlessIntegration(tb testing.TB) string {
	tb.Helper()
	if testing.Short() {
		tb.Skip("skipping integration test in short mode")
	}
	adminDSN, err := ensureSingleton()
	if err != nil {
		tb.Skipf("PostgreSQL unavailable (is Docker running?): %v", err)
	}
	return adminDSN
}

// DSN returns the connection string of a new, migrated database.
// The database is dropped when the test completes.
func DSN(tb testing.TB) string {
	tb.Helper()
	adminDSN := skipUnlessIntegration(tb)

	tmpl, err := ensureTemplate(adminDSN)
	require.NoError(tb, err, "failed to create template database")

	name := uniqueDBName("test")
	require.NoError(tb, createDatabase(adminDSN, name, tmpl), "failed to create test database from template")
	registerCleanup(tb, adminDSN, name)
	return replaceDBName(adminDSN, name)
}

// DB returns a migrated database opened with the pgx database/sql driver.
// Each call creates a new isolated database copied from the template.
// Works with both *testing.T and *testing.B.
func DB(tb testing.TB) *sql.DB {
	tb.Helper()
	return Open(tb, DSN(tb))
}

// EmptyDB returns a connection to a new empty database.
func EmptyDB(tb testing.TB) *sql.DB {
	tb.Helper()
	adminDSN := skipUnlessIntegration(tb)

	name := uniqueDBName("empty")
	require.NoError(tb, createDatabase(adminDSN, name, ""), "failed to create empty database")
	registerCleanup(tb, adminDSN, name)
	return Open(tb, replaceDBName(adminDSN, name))
}

// Open connects to dsn with the pgx database/sql driver and closes the
// connection when the test completes.
func Open(tb testing.TB, dsn string) *sql.DB {
	tb.Helper()
	db, err := sql.Open("pgx", dsn)
	require.NoError(tb, err, "failed to connect to test database")
	require.NoError(tb, db.Ping(), "failed to ping test database")
	tb.Cleanup(func() { _ = db.Close() })
	return db
}

// Registry returns the registry of the embedded test schema.
func Registry(tb testing.TB) *schema.Registry {
	tb.Helper()
	reg, err := schema.Parse([]byte(schemaYAML))
	require.NoError(tb, err)
	return reg
}

// SchemaYAML returns the embedded schema used for tests.
func SchemaYAML() string {
	return schemaYAML
}

// registerCleanup drops the database when the test completes. Cleanups run
// in reverse order, so connections opened afterwards are closed first.
func registerCleanup(tb testing.TB, adminDSN, name string) {
	tb.Cleanup(func() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = dropDatabase(ctx, adminDSN, name)
		}()
	})
}

// uniqueDBName generates a unique database name with the given prefix.
func uniqueDBName(prefix string) string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(b))
}

// createDatabase creates a database, copied from template when it is set.
func createDatabase(adminDSN, name, template string) error {
	db, err := sql.Open("pgx", adminDSN)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if template == "" {
		_, err = db.Exec(fmt.Sprintf("CREATE DATABASE %s", name))
		return err
	}

	// Copying fails while anyone is connected to the template.
	terminateConnections(context.Background(), db, template)
	_, err = db.Exec(fmt.Sprintf("CREATE DATABASE %s WITH TEMPLATE %s", name, template))
	return err
}

// markAsTemplate marks a database as a template for faster copying.
func markAsTemplate(adminDSN, name string) error {
	db, err := sql.Open("pgx", adminDSN)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	terminateConnections(context.Background(), db, name)
	_, err = db.Exec(fmt.Sprintf("ALTER DATABASE %s WITH is_template = true", name))
	return err
}

// dropDatabase drops a database.
func dropDatabase(ctx context.Context, adminDSN, name string) error {
	db, err := sql.Open("pgx", adminDSN)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	terminateConnections(ctx, db, name)
	_, err = db.ExecContext(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s", name))
	return err
}

func terminateConnections(ctx context.Context, db *sql.DB, name string) {
	_, _ = db.ExecContext(ctx, `
		SELECT pg_terminate_backend(pid)
		FROM pg_stat_activity
		WHERE datname = $1 AND pid <> pg_backend_pid()
	`, name)
}

// applyMigrations creates the test schema tables in the database.
func applyMigrations(dsn string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := migrator.MigrateFromString(ctx, db, schemaYAML, migrator.Options{}); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

// replaceDBName replaces the database name in a PostgreSQL URL.
func replaceDBName(dsn, newDB string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	u.Path = "/" + newDB
	return u.String()
}
