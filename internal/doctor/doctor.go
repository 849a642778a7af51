// Package doctor provides health checks for a pgquery schema and database.
//
// The doctor command validates that the schema file parses, that it has been
// migrated, that every registered table and column exists, and that the
// compiler's output runs against each table.
//
// Example usage:
//
//	d := doctor.New(db, "schema.yaml")
//	report, err := d.Run(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	report.Print(os.Stdout, true) // verbose=true
package doctor

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pthm/pgquery/pkg/executor"
	"github.com/pthm/pgquery/pkg/migrator"
	"github.com/pthm/pgquery/pkg/query"
	"github.com/pthm/pgquery/pkg/schema"
)

// Status represents the result of a health check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical issue.
	StatusWarn
	// StatusFail indicates a critical issue that will cause failures.
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Symbol returns a status indicator symbol for terminal output.
func (s Status) Symbol() string {
	switch s {
	case StatusPass:
		return "✓"
	case StatusWarn:
		return "⚠"
	case StatusFail:
		return "✗"
	default:
		return "?"
	}
}

// CheckResult represents the outcome of a single health check.
type CheckResult struct {
	// Category groups related checks (e.g., "Schema File", "Tables").
	Category string

	// Name is a short identifier for the check.
	Name string

	Status  Status
	Message string

	// Details provides additional information for verbose output.
	Details string

	// FixHint suggests how to resolve issues.
	FixHint string
}

// Report contains all health check results.
type Report struct {
	Checks []CheckResult

	Passed   int
	Warnings int
	Errors   int
}

// AddCheck adds a check result and updates summary counts.
func (r *Report) AddCheck(check CheckResult) {
	r.Checks = append(r.Checks, check)
	switch check.Status {
	case StatusPass:
		r.Passed++
	case StatusWarn:
		r.Warnings++
	case StatusFail:
		r.Errors++
	}
}

// Print writes the report to the given writer, grouped by category.
func (r *Report) Print(w io.Writer, verbose bool) {
	categories := make(map[string][]CheckResult)
	var categoryOrder []string
	for _, check := range r.Checks {
		if _, exists := categories[check.Category]; !exists {
			categoryOrder = append(categoryOrder, check.Category)
		}
		categories[check.Category] = append(categories[check.Category], check)
	}

	for _, cat := range categoryOrder {
		_, _ = fmt.Fprintf(w, "\n%s\n", cat)
		for _, check := range categories[cat] {
			_, _ = fmt.Fprintf(w, "  %s %s\n", check.Status.Symbol(), check.Message)
			if verbose && check.Details != "" {
				for _, line := range strings.Split(check.Details, "\n") {
					_, _ = fmt.Fprintf(w, "      %s\n", line)
				}
			}
			if check.Status != StatusPass && check.FixHint != "" {
				_, _ = fmt.Fprintf(w, "      Fix: %s\n", check.FixHint)
			}
		}
	}

	_, _ = fmt.Fprintf(w, "\nSummary: %d passed, %d warnings, %d errors\n",
		r.Passed, r.Warnings, r.Errors)
}

// HasErrors returns true if any check failed.
func (r *Report) HasErrors() bool {
	return r.Errors > 0
}

// Doctor performs health checks against one schema file and database.
type Doctor struct {
	db         *sql.DB
	schemaPath string

	// Populated during Run.
	reg     *schema.Registry
	present map[string]bool
}

// New creates a new Doctor instance.
func New(db *sql.DB, schemaPath string) *Doctor {
	return &Doctor{
		db:         db,
		schemaPath: schemaPath,
	}
}

// Run executes all health checks and returns a report. Database checks are
// skipped when the schema file cannot be loaded.
func (d *Doctor) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	d.checkSchemaFile(report)
	if d.reg == nil {
		return report, nil
	}
	if err := d.checkMigrationState(ctx, report); err != nil {
		return nil, fmt.Errorf("checking migration state: %w", err)
	}
	if err := d.checkTables(ctx, report); err != nil {
		return nil, fmt.Errorf("checking tables: %w", err)
	}
	d.checkQueries(ctx, report)

	return report, nil
}

// checkSchemaFile validates the schema file exists and is valid.
func (d *Doctor) checkSchemaFile(report *Report) {
	reg, err := schema.Load(d.schemaPath)
	if err != nil {
		report.AddCheck(CheckResult{
			Category: "Schema File",
			Name:     "valid",
			Status:   StatusFail,
			Message:  fmt.Sprintf("Schema file %s could not be loaded", d.schemaPath),
			Details:  err.Error(),
			FixHint:  "Check the path and the table definitions in the schema file",
		})
		return
	}
	d.reg = reg

	columns := 0
	for _, t := range reg.Tables() {
		columns += len(t.Columns())
	}
	report.AddCheck(CheckResult{
		Category: "Schema File",
		Name:     "valid",
		Status:   StatusPass,
		Message:  fmt.Sprintf("Schema is valid (%d tables, %d columns)", len(reg.Tables()), columns),
	})
}

// checkMigrationState validates the migration tracking table and state.
func (d *Doctor) checkMigrationState(ctx context.Context, report *Report) error {
	m := migrator.New(d.db, d.reg)

	last, err := m.LastMigration(ctx)
	if err != nil {
		return err
	}
	if last == nil {
		report.AddCheck(CheckResult{
			Category: "Migration State",
			Name:     "migrated",
			Status:   StatusWarn,
			Message:  "No migration records found",
			Details:  "The pgquery_migrations table is missing or empty",
			FixHint:  "Run 'pgquery migrate' to apply the schema",
		})
		return nil
	}

	report.AddCheck(CheckResult{
		Category: "Migration State",
		Name:     "migrated",
		Status:   StatusPass,
		Message:  fmt.Sprintf("Schema migrated (%d tables tracked)", len(last.TableNames)),
	})

	checksum := migrator.ComputeSchemaChecksum(m.Statements())
	switch {
	case checksum != last.SchemaChecksum:
		report.AddCheck(CheckResult{
			Category: "Migration State",
			Name:     "schema_sync",
			Status:   StatusWarn,
			Message:  "Schema file has changed since last migration",
			Details:  fmt.Sprintf("File checksum: %.16s...\nDB checksum:   %.16s...", checksum, last.SchemaChecksum),
			FixHint:  "Run 'pgquery migrate' to apply changes",
		})
	case last.DDLVersion != migrator.DDLVersion:
		report.AddCheck(CheckResult{
			Category: "Migration State",
			Name:     "schema_sync",
			Status:   StatusWarn,
			Message:  "DDL version has changed",
			Details:  fmt.Sprintf("Current: %s, DB: %s", migrator.DDLVersion, last.DDLVersion),
			FixHint:  "Run 'pgquery migrate' to regenerate the schema",
		})
	default:
		report.AddCheck(CheckResult{
			Category: "Migration State",
			Name:     "schema_sync",
			Status:   StatusPass,
			Message:  "Schema is in sync with database",
		})
	}
	return nil
}

// checkTables compares the registered tables and columns with the catalog.
func (d *Doctor) checkTables(ctx context.Context, report *Report) error {
	d.present = make(map[string]bool)
	for _, t := range d.reg.Tables() {
		cols, err := d.getColumns(ctx, t.Name())
		if err != nil {
			return err
		}
		if len(cols) == 0 {
			report.AddCheck(CheckResult{
				Category: "Tables",
				Name:     t.Name(),
				Status:   StatusFail,
				Message:  fmt.Sprintf("Table %s does not exist", t.Name()),
				FixHint:  "Run 'pgquery migrate' to create it",
			})
			continue
		}
		d.present[t.Name()] = true

		missing, extra := diffColumns(t.Columns(), cols)
		switch {
		case len(missing) > 0:
			report.AddCheck(CheckResult{
				Category: "Tables",
				Name:     t.Name(),
				Status:   StatusFail,
				Message:  fmt.Sprintf("Table %s is missing %d columns", t.Name(), len(missing)),
				Details:  "Missing: " + strings.Join(missing, ", "),
				FixHint:  "Add the columns or remove them from the schema file",
			})
		case len(extra) > 0:
			report.AddCheck(CheckResult{
				Category: "Tables",
				Name:     t.Name(),
				Status:   StatusWarn,
				Message:  fmt.Sprintf("Table %s has %d columns not in the schema", t.Name(), len(extra)),
				Details:  "Not queryable: " + strings.Join(extra, ", "),
				FixHint:  "Declare the columns in the schema file to make them queryable",
			})
		default:
			report.AddCheck(CheckResult{
				Category: "Tables",
				Name:     t.Name(),
				Status:   StatusPass,
				Message:  fmt.Sprintf("Table %s matches the schema (%d columns)", t.Name(), len(cols)),
			})
		}
	}
	return nil
}

// checkQueries compiles and runs a one-row select against every present
// table.
func (d *Doctor) checkQueries(ctx context.Context, report *Report) {
	exec := executor.New(d.db)

	var failures []string
	checked := 0
	for _, t := range d.reg.Tables() {
		if !d.present[t.Name()] {
			continue
		}
		checked++
		stmt, err := query.Compile(&query.Select{Table: t, Limit: 1})
		if err == nil {
			_, err = exec.Execute(ctx, stmt)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", t.Name(), err))
		}
	}

	if len(failures) > 0 {
		report.AddCheck(CheckResult{
			Category: "Queries",
			Name:     "select",
			Status:   StatusFail,
			Message:  fmt.Sprintf("%d of %d tables could not be queried", len(failures), checked),
			Details:  strings.Join(failures, "\n"),
		})
		return
	}
	report.AddCheck(CheckResult{
		Category: "Queries",
		Name:     "select",
		Status:   StatusPass,
		Message:  fmt.Sprintf("Compiled queries run against %d tables", checked),
	})
}

func (d *Doctor) getColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT a.attname
		FROM pg_attribute a
		JOIN pg_class c ON a.attrelid = c.oid
		JOIN pg_namespace n ON c.relnamespace = n.oid
		WHERE c.relname = $1
		AND n.nspname = current_schema()
		AND c.relkind IN ('r', 'p', 'v', 'm')
		AND a.attnum > 0
		AND NOT a.attisdropped
	`, table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var columns []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, err
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

// diffColumns returns the declared columns missing from actual and the
// actual columns that are not declared, both sorted.
func diffColumns(declared, actual []string) (missing, extra []string) {
	have := make(map[string]bool, len(actual))
	for _, c := range actual {
		have[c] = true
	}
	want := make(map[string]bool, len(declared))
	for _, c := range declared {
		want[c] = true
		if !have[c] {
			missing = append(missing, c)
		}
	}
	for _, c := range actual {
		if !want[c] {
			extra = append(extra, c)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return missing, extra
}
