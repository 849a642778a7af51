// Command pgquery compiles structured query specifications into
// parameterized PostgreSQL statements.
//
// The CLI supports:
//   - compile: Compile a YAML or JSON query document and print SQL and values
//   - run: Compile a query document and execute it
//   - migrate: Create the tables of a schema file
//   - status: Compare the database against a schema file
//   - config show: Print the effective configuration
//
// Usage:
//
//	pgquery [flags] <command>
//
// Commands that require database access (run, migrate, status) read the
// connection from --db, the database section of pgquery.yaml, or
// PGQUERY_DATABASE_URL.
package main

func main() {
	Execute()
}
