package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pthm/pgquery/internal/cli"
	"github.com/pthm/pgquery/pkg/migrator"
)

var (
	statusDB     string
	statusSchema string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current schema status",
	Long:  `Show the last recorded migration and which schema tables exist.`,
	Example: `  # Check status
  pgquery status --db postgres://localhost/mydb`,
	RunE: func(cmd *cobra.Command, args []string) error {
		schemaPath := resolveString(statusSchema, cfg.ResolvedSchema())

		dsn, err := resolveDSN(statusDB)
		if err != nil {
			return err
		}

		return runStatus(cmd.Context(), dsn, schemaPath)
	},
}

func init() {
	f := statusCmd.Flags()
	f.StringVar(&statusDB, "db", "", "database URL")
	f.StringVar(&statusSchema, "schema", "", "path to schema file")
}

func runStatus(ctx context.Context, dsn, schemaPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	reg, err := loadSchema(schemaPath)
	if err != nil {
		return err
	}
	db, err := openDB(ctx, cfg.Run.Driver, dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	s, err := migrator.New(db, reg).Status(ctx)
	if err != nil {
		return cli.GeneralError("getting status", err)
	}

	if s.Last == nil {
		fmt.Println("Last migration:  none")
	} else {
		fmt.Printf("Last migration:  %s (checksum %.12s)\n", s.Last.AppliedAt.Format("2006-01-02 15:04:05 MST"), s.Last.SchemaChecksum)
	}
	if s.Current {
		fmt.Println("Schema:          up to date")
	} else {
		fmt.Println("Schema:          changed since last migration")
	}

	fmt.Println()
	missing := 0
	for _, t := range s.Tables {
		state := "present"
		if !t.Exists {
			state = "missing"
			missing++
		}
		fmt.Printf("  %-24s %s\n", t.Name, state)
	}

	if missing > 0 || !s.Current {
		fmt.Printf("\nRun 'pgquery migrate --schema %s' to apply the schema.\n", schemaPath)
	}
	return nil
}
