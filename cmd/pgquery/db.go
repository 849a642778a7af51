package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "github.com/lib/pq"              // registers the "postgres" database/sql driver

	"github.com/pthm/pgquery/internal/cli"
	"github.com/pthm/pgquery/pkg/schema"
)

// resolveDSN gets the database DSN from flag or config.
func resolveDSN(flagDSN string) (string, error) {
	if flagDSN != "" {
		return flagDSN, nil
	}

	dsn, err := cfg.DSN()
	if err != nil {
		return "", cli.ConfigError("database configuration", err)
	}
	if dsn == "" {
		return "", cli.ConfigError("database URL is required (use --db or set in config)", nil)
	}
	return dsn, nil
}

// openDB opens a database/sql handle with the configured driver and checks
// the connection.
func openDB(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, cli.DBConnectError("connecting to database", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, cli.DBConnectError(fmt.Sprintf("connecting to database (driver %s)", driver), err)
	}
	return db, nil
}

// loadSchema loads the schema registry from path.
func loadSchema(path string) (*schema.Registry, error) {
	if path == "" {
		return nil, cli.ConfigError("schema file is required (use --schema or set schema in config)", nil)
	}
	reg, err := schema.Load(path)
	if err != nil {
		return nil, cli.SchemaParseError("loading schema "+path, err)
	}
	return reg, nil
}
