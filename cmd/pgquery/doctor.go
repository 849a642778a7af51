package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pthm/pgquery/internal/cli"
	"github.com/pthm/pgquery/internal/doctor"
)

var (
	doctorDB      string
	doctorSchema  string
	doctorVerbose bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks",
	Long:  `Check that the schema file loads, is migrated, matches the database and can be queried.`,
	Example: `  # Run health checks
  pgquery doctor --db postgres://localhost/mydb

  # Show check details
  pgquery doctor --db postgres://localhost/mydb --details`,
	RunE: func(cmd *cobra.Command, args []string) error {
		schemaPath := resolveString(doctorSchema, cfg.ResolvedSchema())

		dsn, err := resolveDSN(doctorDB)
		if err != nil {
			return err
		}

		return runDoctor(cmd.Context(), dsn, schemaPath, doctorVerbose)
	},
}

func init() {
	f := doctorCmd.Flags()
	f.StringVar(&doctorDB, "db", "", "database URL")
	f.StringVar(&doctorSchema, "schema", "", "path to schema file")
	f.BoolVar(&doctorVerbose, "details", false, "show check details")
}

func runDoctor(ctx context.Context, dsn, schemaPath string, verboseFlag bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := openDB(ctx, cfg.Run.Driver, dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if !quiet {
		fmt.Println("pgquery doctor - Health Check")
	}

	report, err := doctor.New(db, schemaPath).Run(ctx)
	if err != nil {
		return cli.GeneralError("running doctor", err)
	}

	report.Print(os.Stdout, verboseFlag)

	if report.HasErrors() {
		return cli.GeneralError("health checks failed", nil)
	}
	return nil
}
