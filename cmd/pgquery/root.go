package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pthm/pgquery/internal/cli"
)

var (
	// Global state set during PersistentPreRunE
	cfg        *cli.Config
	configPath string
	logger     = zap.NewNop()

	// Persistent flags
	cfgFile string
	verbose int
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "pgquery",
	Short: "Structured queries for PostgreSQL",
	Long: `pgquery - Structured queries for PostgreSQL

pgquery compiles query specifications written as YAML or JSON into
parameterized SQL, validating every identifier against a registered schema.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "version" {
			return nil
		}

		var err error
		logger, err = cli.NewLogger(verbose, quiet)
		if err != nil {
			return cli.GeneralError("creating logger", err)
		}

		cfg, configPath, err = cli.LoadConfig(cfgFile)
		if err != nil {
			return cli.ConfigError("loading configuration", err)
		}
		if configPath != "" {
			logger.Info("loaded configuration", zap.String("path", configPath))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
	SilenceUsage:  true, // Don't show usage on errors
	SilenceErrors: true, // We handle errors ourselves
}

// Command group IDs
const (
	groupQuery   = "query"
	groupSchema  = "schema"
	groupUtility = "utility"
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: auto-discover pgquery.yaml)")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "increase verbosity (can be repeated)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupQuery, Title: "Query:"},
		&cobra.Group{ID: groupSchema, Title: "Schema:"},
		&cobra.Group{ID: groupUtility, Title: "Utility:"},
	)

	compileCmd.GroupID = groupQuery
	runCmd.GroupID = groupQuery
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(runCmd)

	migrateCmd.GroupID = groupSchema
	statusCmd.GroupID = groupSchema
	doctorCmd.GroupID = groupSchema
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(doctorCmd)

	configCmd.GroupID = groupUtility
	versionCmd.GroupID = groupUtility
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		cli.ExitWithError(err)
	}
}

// resolveString returns the first non-empty string from the provided values.
// Used to implement precedence: flag > config > default.
func resolveString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// resolveBool returns true if any of the provided values is true.
// Used for boolean flags where any true value should win.
func resolveBool(values ...bool) bool {
	for _, v := range values {
		if v {
			return true
		}
	}
	return false
}
