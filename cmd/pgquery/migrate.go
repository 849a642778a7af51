package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pthm/pgquery/internal/cli"
	"github.com/pthm/pgquery/pkg/migrator"
)

var (
	migrateDB     string
	migrateSchema string
	migrateDryRun bool
	migrateForce  bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create schema tables in the database",
	Long:  `Create the enum types and tables declared in the schema file.`,
	Example: `  # Apply schema to database
  pgquery migrate --db postgres://localhost/mydb

  # Preview migration without applying
  pgquery migrate --dry-run

  # Force re-apply even if schema unchanged
  pgquery migrate --db postgres://localhost/mydb --force`,
	RunE: func(cmd *cobra.Command, args []string) error {
		schemaPath := resolveString(migrateSchema, cfg.ResolvedSchema())
		dryRun := resolveBool(migrateDryRun, cfg.Migrate.DryRun)
		force := resolveBool(migrateForce, cfg.Migrate.Force)

		return runMigrate(cmd.Context(), schemaPath, dryRun, force)
	},
}

func init() {
	f := migrateCmd.Flags()
	f.StringVar(&migrateDB, "db", "", "database URL")
	f.StringVar(&migrateSchema, "schema", "", "path to schema file")
	f.BoolVar(&migrateDryRun, "dry-run", false, "output migration SQL without applying")
	f.BoolVar(&migrateForce, "force", false, "force migration even if schema unchanged")
}

func runMigrate(ctx context.Context, schemaPath string, dryRun, force bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	reg, err := loadSchema(schemaPath)
	if err != nil {
		return err
	}

	opts := migrator.Options{Force: force}

	if dryRun {
		// A dry run needs no connection.
		opts.DryRun = os.Stdout
		if !quiet {
			fmt.Fprintln(os.Stderr, "-- Dry-run mode: SQL will be output but not applied")
			fmt.Fprintln(os.Stderr, "")
		}
		_, err := migrator.New(nil, reg).Migrate(ctx, opts)
		return err
	}

	dsn, err := resolveDSN(migrateDB)
	if err != nil {
		return err
	}
	db, err := openDB(ctx, cfg.Run.Driver, dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if !quiet {
		fmt.Printf("Applying schema %s...\n", schemaPath)
	}

	skipped, err := migrator.New(db, reg).Migrate(ctx, opts)
	if err != nil {
		return cli.GeneralError("migration failed", err)
	}

	if !quiet {
		if skipped {
			fmt.Println("Schema unchanged, migration skipped.")
			fmt.Println("Use --force to re-apply.")
		} else {
			fmt.Printf("Schema applied successfully (%d tables).\n", len(reg.Tables()))
		}
	}
	return nil
}
