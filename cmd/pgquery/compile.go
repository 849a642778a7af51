package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/pthm/pgquery/internal/cli"
	"github.com/pthm/pgquery/pkg/expr"
	"github.com/pthm/pgquery/pkg/query"
	"github.com/pthm/pgquery/pkg/schema"
)

var (
	compileSchema         string
	compileFormat         string
	compileNumericStrings bool
	compileTrace          bool
)

var compileCmd = &cobra.Command{
	Use:   "compile [file]",
	Short: "Compile a query document",
	Long: `Compile a YAML or JSON query document into SQL and its bound values.
The document is read from the file argument, or from stdin when the argument
is "-" or omitted.`,
	Example: `  # Compile a query file
  pgquery compile queries/active_users.yaml

  # Compile from stdin as JSON output
  echo '{table: users, where: {active: true}}' | pgquery compile --format json`,
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
		return printStatement(cmd.OutOrStdout(), stmt, compileFormat)
	},
}

func init() {
	f := compileCmd.Flags()
	f.StringVar(&compileSchema, "schema", "", "path to schema file")
	f.StringVarP(&compileFormat, "format", "o", "yaml", "output format: yaml, json, or sql")
	f.BoolVar(&compileNumericStrings, "numeric-strings", false, "bind numeric-looking strings as numbers")
	f.BoolVar(&compileTrace, "trace", false, "log compiler trace events (requires -vv)")
}

func readDocument(args []string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return nil, cli.GeneralError("reading query document", err)
	}
	return data, nil
}

// compilerOptions resolves compiler options from flags (shared by compile
// and run) and config.
func compilerOptions() []query.Option {
	var opts []query.Option
	if resolveBool(compileNumericStrings, cfg.Compile.NumericStrings) {
		opts = append(opts, query.WithNumericStrings())
	}
	if resolveBool(compileTrace, cfg.Compile.Trace) {
		opts = append(opts, query.WithTrace(cli.TraceLogger(logger)))
	}
	return opts
}

func compileDocument(reg *schema.Registry, doc []byte) (query.Statement, error) {
	dec := &query.Decoder{Tables: reg, Functions: expr.Standard()}
	stmt, err := dec.CompileDocument(query.New(compilerOptions()...), doc)
	if err != nil {
		if query.IsValidationErr(err) {
			return query.Statement{}, cli.ValidationError("invalid query", err)
		}
		return query.Statement{}, cli.GeneralError("compiling query", err)
	}
	return stmt, nil
}

type statementOutput struct {
	SQL    string `json:"sql"`
	Values []any  `json:"values"`
}

func printStatement(w io.Writer, stmt query.Statement, format string) error {
	out := statementOutput{SQL: stmt.SQL, Values: stmt.Values}
	if out.Values == nil {
		out.Values = []any{}
	}
	switch format {
	case "yaml":
		data, err := yaml.Marshal(out)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "sql":
		_, _ = fmt.Fprintln(w, stmt.SQL+";")
		for i, v := range stmt.Values {
			_, _ = fmt.Fprintf(w, "-- $%d = %#v\n", i+1, v)
		}
		return nil
	}
	return cli.ConfigError(fmt.Sprintf("unknown output format %q", format), nil)
}
