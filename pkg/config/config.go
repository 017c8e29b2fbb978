// Package config holds process configuration for journal tooling.
package config

import (
	"os"
	"strconv"
)

// Config holds journal process configuration.
type Config struct {
	// DatabaseURL is the DSN of the backing store. For the sqlite
	// backend this is a file path or file: URI.
	DatabaseURL string `yaml:"database_url"`
	// Backend selects the store implementation: "postgres" or "sqlite".
	Backend string `yaml:"backend"`
	// FetchSize is the number of rows scan cursors pull per round-trip.
	FetchSize int `yaml:"fetch_size"`
	// LogLevel is the slog level name (DEBUG, INFO, WARN, ERROR).
	LogLevel string `yaml:"log_level"`
	// OTLPEndpoint enables telemetry export when non-empty.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	dbURL := os.Getenv("JOURNAL_DATABASE_URL")
	if dbURL == "" {
		dbURL = "postgres://journal@localhost:5432/journal?sslmode=disable"
	}

	backend := os.Getenv("JOURNAL_BACKEND")
	if backend == "" {
		backend = "postgres"
	}

	fetchSize := 1024
	if raw := os.Getenv("JOURNAL_FETCH_SIZE"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			fetchSize = n
		}
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	return &Config{
		DatabaseURL:  dbURL,
		Backend:      backend,
		FetchSize:    fetchSize,
		LogLevel:     logLevel,
		OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
	}
}
