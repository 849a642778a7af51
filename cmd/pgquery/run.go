package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"sigs.k8s.io/yaml"

	"github.com/pthm/pgquery/internal/cli"
	"github.com/pthm/pgquery/pkg/executor"
	"github.com/pthm/pgquery/pkg/query"
)

var (
	runDB     string
	runDriver string
)

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Compile and execute a query document",
	Long: `Compile a YAML or JSON query document and execute it, printing the
returned rows. The pgx driver uses a native connection pool; the postgres
driver uses lib/pq through database/sql.`,
	Example: `  # Run a query file
  pgquery run queries/active_users.yaml --db postgres://localhost/mydb

  # Run through lib/pq with statement logging
  pgquery run queries/insert_user.yaml --driver postgres -vv`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadSchema(resolveString(compileSchema, cfg.Schema))
		if err != nil {
			return err
		}
		doc, err := readDocument(args)
		if err != nil {
			return err
		}
		stmt, err := compileDocument(reg, doc)
		if err != nil {
			return err
		}
		dsn, err := resolveDSN(runDB)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if cfg.Run.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.Run.Timeout)
			defer cancel()
		}

		res, err := runStatement(ctx, resolveString(runDriver, cfg.Run.Driver), dsn, stmt)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), res)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runDB, "db", "", "database URL")
	f.StringVar(&runDriver, "driver", "", "database driver: pgx or postgres")
	f.StringVar(&compileSchema, "schema", "", "path to schema file")
	f.BoolVar(&compileNumericStrings, "numeric-strings", false, "bind numeric-looking strings as numbers")
	f.BoolVar(&compileTrace, "trace", false, "log compiler trace events (requires -vv)")
}

func runStatement(ctx context.Context, driver, dsn string, stmt query.Statement) (*executor.Result, error) {
	opts := []executor.Option{executor.WithLogger(logger.Named("executor"))}

	var exec executor.Executor
	switch driver {
	case cli.DriverPgx:
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, cli.DBConnectError("connecting to database", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return nil, cli.DBConnectError("connecting to database", err)
		}
		exec = executor.NewPgx(pool, opts...)
	case cli.DriverPostgres:
		db, err := openDB(ctx, driver, dsn)
		if err != nil {
			return nil, err
		}
		defer func() { _ = db.Close() }()
		exec = executor.New(db, opts...)
	default:
		return nil, cli.ConfigError(fmt.Sprintf("unknown driver %q", driver), nil)
	}

	logger.Info("executing statement", zap.String("driver", driver), zap.Int("values", len(stmt.Values)))
	res, err := exec.Execute(ctx, stmt)
	if err != nil {
		return nil, cli.ExecutionError("executing statement", err)
	}
	return res, nil
}

type resultOutput struct {
	Columns  []string         `json:"columns,omitempty"`
	Rows     []map[string]any `json:"rows"`
	RowCount int64            `json:"row_count"`
}

func printResult(w io.Writer, res *executor.Result) error {
	out := resultOutput{Columns: res.Columns, Rows: res.Rows, RowCount: res.RowCount}
	if out.Rows == nil {
		out.Rows = []map[string]any{}
	}
	data, err := yaml.Marshal(out)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
