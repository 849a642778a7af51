package cli

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	maxWalkDepth = 25
)

// Supported values of run.driver.
const (
	DriverPgx      = "pgx"
	DriverPostgres = "postgres"
)

// Config represents the pgquery configuration from pgquery.yaml.
type Config struct {
	// Schema is the path of the YAML schema file.
	Schema string `mapstructure:"schema" json:"schema"`

	Database DatabaseConfig `mapstructure:"database" json:"database"`

	// Per-command configuration
	Compile CompileConfig `mapstructure:"compile" json:"compile"`
	Run     RunConfig     `mapstructure:"run" json:"run"`
	Migrate MigrateConfig `mapstructure:"migrate" json:"migrate"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	URL      string `mapstructure:"url" json:"url,omitempty"`
	Host     string `mapstructure:"host" json:"host,omitempty"`
	Port     int    `mapstructure:"port" json:"port"`
	Name     string `mapstructure:"name" json:"name,omitempty"`
	User     string `mapstructure:"user" json:"user,omitempty"`
	Password string `mapstructure:"password" json:"password,omitempty"`
	SSLMode  string `mapstructure:"sslmode" json:"sslmode,omitempty"`
}

// CompileConfig holds compiler settings shared by compile and run.
type CompileConfig struct {
	NumericStrings bool `mapstructure:"numeric_strings" json:"numeric_strings"`
	Trace          bool `mapstructure:"trace" json:"trace"`
}

// RunConfig holds statement execution settings.
type RunConfig struct {
	Driver  string        `mapstructure:"driver" json:"driver"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// MigrateConfig holds migration settings.
type MigrateConfig struct {
	Schema string `mapstructure:"schema" json:"schema,omitempty"`
	DryRun bool   `mapstructure:"dry_run" json:"dry_run"`
	Force  bool   `mapstructure:"force" json:"force"`
}

// LoadConfig discovers and loads configuration with proper precedence:
// flags > env > config file > defaults.
//
// Returns the loaded config, the path to the config file (empty if none found),
// and any error encountered.
func LoadConfig(explicitConfigPath string) (*Config, string, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PGQUERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath, err := findConfigFile(explicitConfigPath)
	if err != nil {
		return nil, "", err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, configPath, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, configPath, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, configPath, err
	}

	return &cfg, configPath, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("schema", "schema.yaml")

	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "prefer")

	v.SetDefault("compile.numeric_strings", false)
	v.SetDefault("compile.trace", false)

	v.SetDefault("run.driver", DriverPgx)
	v.SetDefault("run.timeout", 30*time.Second)

	v.SetDefault("migrate.schema", "")
	v.SetDefault("migrate.dry_run", false)
	v.SetDefault("migrate.force", false)
}

func (c *Config) validate() error {
	switch c.Run.Driver {
	case DriverPgx, DriverPostgres:
	default:
		return fmt.Errorf("run.driver must be %q or %q, got %q", DriverPgx, DriverPostgres, c.Run.Driver)
	}
	if c.Run.Timeout < 0 {
		return fmt.Errorf("run.timeout must not be negative")
	}
	return nil
}

// findConfigFile finds the config file to use.
// If explicitPath is provided, it validates the file exists.
// Otherwise, it walks up from cwd looking for pgquery.yaml or pgquery.yml,
// stopping at a .git directory or after maxWalkDepth levels.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}

	dir := cwd
	for i := 0; i < maxWalkDepth; i++ {
		for _, name := range []string{"pgquery.yaml", "pgquery.yml"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}

		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break // repo root
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// DSN returns the database connection string.
// If database.url is set, it's returned directly.
// Otherwise, builds a DSN from discrete fields.
func (c *Config) DSN() (string, error) {
	db := c.Database

	if db.URL != "" {
		return db.URL, nil
	}

	if db.Host == "" {
		return "", fmt.Errorf("database.host is required when database.url is not set")
	}
	if db.Name == "" {
		return "", fmt.Errorf("database.name is required when database.url is not set")
	}
	if db.User == "" {
		return "", fmt.Errorf("database.user is required when database.url is not set")
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   "/" + db.Name,
	}

	if db.Password != "" {
		u.User = url.UserPassword(db.User, db.Password)
	} else {
		u.User = url.User(db.User)
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// ResolvedSchema returns the effective schema path for migrate,
// with migrate.schema taking precedence over top-level schema.
func (c *Config) ResolvedSchema() string {
	if c.Migrate.Schema != "" {
		return c.Migrate.Schema
	}
	return c.Schema
}

// Redacted returns a copy of the config with the database password and any
// password in database.url masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Database.Password != "" {
		out.Database.Password = "********"
	}
	if u, err := url.Parse(out.Database.URL); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "********")
			out.Database.URL = u.String()
		}
	}
	return &out
}
