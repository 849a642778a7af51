package testutil

import (
	"fmt"
	"os"
)

// DatabaseConfig holds configuration for connecting to an existing database
// instead of starting a container.
type DatabaseConfig struct {
	URL string
}

// GetDatabaseConfig reads database configuration from environment variables.
// If DATABASE_URL is set, it returns configuration for a remote database.
// Otherwise, returns an empty config which signals to use testcontainers.
// The remote role must be allowed to create databases.
func GetDatabaseConfig() DatabaseConfig {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return DatabaseConfig{URL: url}
	}

	host := os.Getenv("DATABASE_HOST")
	if host != "" {
		return DatabaseConfig{
			URL: buildDatabaseURL(
				getEnv("DATABASE_USER", "postgres"),
				getEnv("DATABASE_PASSWORD", ""),
				host,
				getEnv("DATABASE_PORT", "5432"),
				getEnv("DATABASE_NAME", "postgres"),
				getEnv("DATABASE_SSLMODE", "prefer"),
			),
		}
	}

	return DatabaseConfig{}
}

// buildDatabaseURL constructs a PostgreSQL connection string.
func buildDatabaseURL(user, password, host, port, dbname, sslmode string) string {
	if password != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			user, password, host, port, dbname, sslmode)
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s",
		user, host, port, dbname, sslmode)
}

// getEnv gets an environment variable with a fallback default value.
func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
