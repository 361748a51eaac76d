// Package cli provides common initialization for the coffer binaries.
// It consolidates the startup sequence shared by cmd/cofferd,
// cmd/coffer-worker and cmd/coffer-verify.
package cli

import (
	"os"

	"github.com/joho/godotenv"

	"coffer/internal/config"
	"coffer/internal/log"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger initializes structured logging for the named component at
// the given level and sets it as the process default.
func SetupLogger(component, level string) *log.Logger {
	logger := log.New(log.Config{
		Level:     log.ParseLevel(level),
		Component: component,
	})
	log.SetDefault(logger)
	return logger
}

// Bootstrap runs the startup sequence shared by the binaries: load the
// optional .env file, read configuration, set up the process logger at
// the configured level, then validate. Invalid configuration exits the
// process.
func Bootstrap(component string) (*config.Config, *log.Logger) {
	LoadEnvFile()

	cfg := config.Load()
	logger := SetupLogger(component, cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	return cfg, logger
}
