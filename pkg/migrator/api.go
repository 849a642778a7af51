package migrator

import (
	"context"

	"github.com/pthm/pgquery/pkg/schema"
)

// MigrateFile loads a YAML schema file and applies it in one operation.
// Safe to call on every application startup.
//
//	if _, err := migrator.MigrateFile(ctx, db, "schema.yaml", migrator.Options{}); err != nil {
//	    log.Fatalf("migration failed: %v", err)
//	}
func MigrateFile(ctx context.Context, db Execer, path string, opts Options) (skipped bool, err error) {
	reg, err := schema.Load(path)
	if err != nil {
		return false, err
	}
	return New(db, reg).Migrate(ctx, opts)
}

// MigrateFromString parses schema content and applies it. Useful when the
// schema is embedded in the application binary.
func MigrateFromString(ctx context.Context, db Execer, content string, opts Options) (skipped bool, err error) {
	reg, err := schema.Parse([]byte(content))
	if err != nil {
		return false, err
	}
	return New(db, reg).Migrate(ctx, opts)
}
