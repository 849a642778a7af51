package migrator

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/pthm/pgquery/pkg/schema"
)

// DDLVersion is incremented when the DDL rendering in pkg/schema changes.
// Migrations re-run when it differs from the recorded version even if the
// schema checksum matches.
const DDLVersion = "1"

// Execer is the minimal interface needed for migration. Implemented by
// *sql.DB, *sql.Tx, and *sql.Conn.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Options controls migration behavior.
type Options struct {
	// DryRun writes the migration SQL to the writer instead of applying it.
	// The database is not touched.
	DryRun io.Writer

	// Force re-runs the migration even if the schema is unchanged.
	Force bool
}

// MigrationRecord is a row of the pgquery_migrations table.
type MigrationRecord struct {
	SchemaChecksum string
	DDLVersion     string
	TableNames     []string
	AppliedAt      time.Time
}

// Migrator creates the tables of a schema registry.
// Migration is idempotent and safe to run on every application startup:
// every statement is CREATE ... IF NOT EXISTS, and an unchanged schema is
// skipped entirely.
//
//	reg, _ := schema.Load("schema.yaml")
//	skipped, err := migrator.New(db, reg).Migrate(ctx, migrator.Options{})
type Migrator struct {
	db  Execer
	reg *schema.Registry
}

// New creates a migrator for reg. The Execer is typically *sql.DB; when it
// supports BeginTx the migration is applied in a single transaction.
func New(db Execer, reg *schema.Registry) *Migrator {
	return &Migrator{db: db, reg: reg}
}

// Statements returns the DDL the migration applies, in order.
func (m *Migrator) Statements() []string {
	return m.reg.DDL()
}

// ComputeSchemaChecksum returns a SHA256 hash of the DDL statements.
func ComputeSchemaChecksum(stmts []string) string {
	h := sha256.Sum256([]byte(strings.Join(stmts, ";\n")))
	return hex.EncodeToString(h[:])
}

// Migrate applies the registry's DDL. It reports skipped when the last
// recorded migration has the same checksum and DDL version.
func (m *Migrator) Migrate(ctx context.Context, opts Options) (skipped bool, err error) {
	stmts := m.Statements()
	checksum := ComputeSchemaChecksum(stmts)
	tables := m.tableNames()

	if opts.DryRun != nil {
		m.outputDryRun(opts.DryRun, checksum, stmts, tables)
		return false, nil
	}

	if !opts.Force {
		last, err := m.getLastMigration(ctx, m.db)
		if err != nil {
			return false, fmt.Errorf("checking last migration: %w", err)
		}
		if shouldSkipMigration(last, checksum) {
			return true, nil
		}
	}

	if txer, ok := m.db.(interface {
		BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	}); ok {
		tx, err := txer.BeginTx(ctx, nil)
		if err != nil {
			return false, fmt.Errorf("starting transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := m.apply(ctx, tx, checksum, stmts, tables); err != nil {
			return false, err
		}
		return false, tx.Commit()
	}

	// Fall back to non-transactional (for *sql.Conn)
	return false, m.apply(ctx, m.db, checksum, stmts, tables)
}

func (m *Migrator) apply(ctx context.Context, db Execer, checksum string, stmts, tables []string) error {
	if _, err := db.ExecContext(ctx, migrationsDDL); err != nil {
		return fmt.Errorf("applying migrations DDL: %w", err)
	}
	for i, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying statement %d: %w", i, err)
		}
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO pgquery_migrations (schema_checksum, ddl_version, table_names)
		VALUES ($1, $2, $3)
	`, checksum, DDLVersion, pq.Array(tables))
	if err != nil {
		return fmt.Errorf("inserting migration record: %w", err)
	}
	return nil
}

func (m *Migrator) tableNames() []string {
	tables := m.reg.Tables()
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Name()
	}
	return names
}

// LastMigration returns the most recent migration record, or nil if none exists.
func (m *Migrator) LastMigration(ctx context.Context) (*MigrationRecord, error) {
	return m.getLastMigration(ctx, m.db)
}

func (m *Migrator) getLastMigration(ctx context.Context, db Execer) (*MigrationRecord, error) {
	var tableExists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_class c
			JOIN pg_namespace n ON n.oid = c.relnamespace
			WHERE c.relname = 'pgquery_migrations'
			AND n.nspname = current_schema()
		)
	`).Scan(&tableExists)
	if err != nil {
		return nil, fmt.Errorf("checking pgquery_migrations table: %w", err)
	}
	if !tableExists {
		return nil, nil
	}

	var rec MigrationRecord
	err = db.QueryRowContext(ctx, `
		SELECT schema_checksum, ddl_version, table_names, applied_at
		FROM pgquery_migrations
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&rec.SchemaChecksum, &rec.DDLVersion, pq.Array(&rec.TableNames), &rec.AppliedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying last migration: %w", err)
	}
	return &rec, nil
}

func shouldSkipMigration(last *MigrationRecord, checksum string) bool {
	if last == nil {
		return false
	}
	return last.SchemaChecksum == checksum && last.DDLVersion == DDLVersion
}

// TableStatus reports whether one registered table exists.
type TableStatus struct {
	Name   string `json:"name"`
	Exists bool   `json:"exists"`
}

// Status is the current migration state.
type Status struct {
	// Last is the most recent migration, nil if none was recorded.
	Last *MigrationRecord `json:"last,omitempty"`
	// Current is true when Last matches the registry's DDL.
	Current bool          `json:"current"`
	Tables  []TableStatus `json:"tables"`
}

// Status compares the database against the registry.
func (m *Migrator) Status(ctx context.Context) (*Status, error) {
	last, err := m.getLastMigration(ctx, m.db)
	if err != nil {
		return nil, err
	}
	status := &Status{
		Last:    last,
		Current: shouldSkipMigration(last, ComputeSchemaChecksum(m.Statements())),
	}

	names := m.tableNames()
	rows, err := m.db.QueryContext(ctx, `
		SELECT c.relname
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relname = ANY($1)
		AND n.nspname = current_schema()
		AND c.relkind IN ('r', 'p')
	`, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("querying pg_class: %w", err)
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]bool, len(names))
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		found[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, name := range names {
		status.Tables = append(status.Tables, TableStatus{Name: name, Exists: found[name]})
	}
	return status, nil
}

func (m *Migrator) outputDryRun(w io.Writer, checksum string, stmts, tables []string) {
	_, _ = fmt.Fprintf(w, "-- pgquery migration (dry-run)\n")
	_, _ = fmt.Fprintf(w, "-- Schema checksum: %s\n", checksum)
	_, _ = fmt.Fprintf(w, "-- DDL version: %s\n", DDLVersion)
	_, _ = fmt.Fprintf(w, "\n")

	_, _ = fmt.Fprintf(w, "-- ============================================================\n")
	_, _ = fmt.Fprintf(w, "-- DDL: Migration Tracking Table\n")
	_, _ = fmt.Fprintf(w, "-- ============================================================\n\n")
	_, _ = fmt.Fprintf(w, "%s\n", migrationsDDL)

	_, _ = fmt.Fprintf(w, "-- ============================================================\n")
	_, _ = fmt.Fprintf(w, "-- Tables (%d tables, %d statements)\n", len(tables), len(stmts))
	_, _ = fmt.Fprintf(w, "-- ============================================================\n\n")
	for _, stmt := range stmts {
		_, _ = fmt.Fprintf(w, "%s;\n\n", stmt)
	}

	_, _ = fmt.Fprintf(w, "-- ============================================================\n")
	_, _ = fmt.Fprintf(w, "-- Migration Record\n")
	_, _ = fmt.Fprintf(w, "-- ============================================================\n\n")
	quoted := make([]string, len(tables))
	for i, t := range tables {
		quoted[i] = fmt.Sprintf("'%s'", t)
	}
	_, _ = fmt.Fprintf(w, "INSERT INTO pgquery_migrations (schema_checksum, ddl_version, table_names)\n")
	_, _ = fmt.Fprintf(w, "VALUES ('%s', '%s', ARRAY[%s]::text[]);\n", checksum, DDLVersion, strings.Join(quoted, ", "))
}
