package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port string

	// Ledger bounds, immutable for the life of the instance
	CapacityLimit int64
	WithdrawLimit int64
	Owner         string

	// Journal
	JournalBackend string
	SQLiteDBPath   string

	// AMQP
	AMQPURL         string
	AMQPExchange    string
	AMQPQueue       string
	AMQPPayoutQueue string

	// Settlement
	SettlementMode string

	// Export
	ExportBackend       string
	ExportSpreadsheetID string
	ExportSheetName     string

	// Worker
	SyncBatchSize   int
	SyncInterval    time.Duration
	SyncMaxAttempts int

	// HTTP hardening
	RateLimitRPS   float64
	RateLimitBurst int
	TrustedProxies string

	// Logging
	LogLevel string
}

func Load() *Config {
	cfg := &Config{
		Port: getEnv("PORT", "8080"),

		CapacityLimit: getEnvInt64("COFFER_CAPACITY_LIMIT", 0),
		WithdrawLimit: getEnvInt64("COFFER_WITHDRAW_LIMIT", 0),
		Owner:         getEnv("COFFER_OWNER", ""),

		JournalBackend: getEnv("JOURNAL_BACKEND", "sqlite"),
		SQLiteDBPath:   getEnv("SQLITE_DB_PATH", "./data/coffer.db"),

		AMQPURL:         getEnv("AMQP_URL", ""),
		AMQPExchange:    getEnv("AMQP_EXCHANGE", "coffer"),
		AMQPQueue:       getEnv("AMQP_QUEUE", "coffer.operations"),
		AMQPPayoutQueue: getEnv("AMQP_PAYOUT_QUEUE", "coffer.payouts"),

		SettlementMode: getEnv("SETTLEMENT_MODE", "log"),

		ExportBackend:       getEnv("EXPORT_BACKEND", "memory"),
		ExportSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),
		ExportSheetName:     getEnv("GOOGLE_SHEET_NAME", "Operations"),

		SyncBatchSize:   getEnvInt("SYNC_BATCH_SIZE", 50),
		SyncInterval:    getEnvDuration("SYNC_INTERVAL", 30*time.Second),
		SyncMaxAttempts: getEnvInt("SYNC_MAX_ATTEMPTS", 5),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 20),
		TrustedProxies: getEnv("TRUSTED_PROXIES", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate ledger bounds
	if c.CapacityLimit <= 0 {
		errors = append(errors, fmt.Sprintf("invalid capacity limit %d: COFFER_CAPACITY_LIMIT must be a positive integer", c.CapacityLimit))
	}
	if c.WithdrawLimit <= 0 {
		errors = append(errors, fmt.Sprintf("invalid withdraw limit %d: COFFER_WITHDRAW_LIMIT must be a positive integer", c.WithdrawLimit))
	}
	if c.CapacityLimit > 0 && c.WithdrawLimit > 0 && c.WithdrawLimit >= c.CapacityLimit {
		errors = append(errors, fmt.Sprintf("invalid withdraw limit %d: must be strictly below capacity limit %d", c.WithdrawLimit, c.CapacityLimit))
	}

	// Validate journal backend
	validJournals := []string{"memory", "sqlite"}
	if !contains(validJournals, c.JournalBackend) {
		errors = append(errors, fmt.Sprintf("invalid journal backend '%s': must be one of %v", c.JournalBackend, validJournals))
	}

	// Validate SQLite configuration if backend is sqlite
	if c.JournalBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite journal")
		} else {
			// Check if directory exists or can be created
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPPayoutQueue == "" {
			errors = append(errors, "AMQP payout queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate settlement mode
	validSettlements := []string{"log", "amqp"}
	if !contains(validSettlements, c.SettlementMode) {
		errors = append(errors, fmt.Sprintf("invalid settlement mode '%s': must be one of %v", c.SettlementMode, validSettlements))
	}
	if c.SettlementMode == "amqp" && c.AMQPURL == "" {
		errors = append(errors, "AMQP_URL is required when settlement mode is amqp")
	}

	// Validate export backend
	validExports := []string{"memory", "gsheet"}
	if !contains(validExports, c.ExportBackend) {
		errors = append(errors, fmt.Sprintf("invalid export backend '%s': must be one of %v", c.ExportBackend, validExports))
	}
	if c.ExportBackend == "gsheet" {
		if c.ExportSpreadsheetID == "" {
			errors = append(errors, "GOOGLE_SPREADSHEET_ID is required when using the gsheet export backend")
		}
		if c.ExportSheetName == "" {
			errors = append(errors, "GOOGLE_SHEET_NAME cannot be empty when using the gsheet export backend")
		}
	}

	// Validate worker configuration
	if c.SyncBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid sync batch size %d: must be at least 1", c.SyncBatchSize))
	} else if c.SyncBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid sync batch size %d: must be at most 1000", c.SyncBatchSize))
	}

	if c.SyncInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at least 1 second", c.SyncInterval))
	} else if c.SyncInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at most 24 hours", c.SyncInterval))
	}

	if c.SyncMaxAttempts < 1 || c.SyncMaxAttempts > 100 {
		errors = append(errors, fmt.Sprintf("invalid sync max attempts %d: must be between 1 and 100", c.SyncMaxAttempts))
	}

	// Validate rate limiting
	if c.RateLimitRPS <= 0 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %v: RATE_LIMIT_RPS must be positive", c.RateLimitRPS))
	}
	if c.RateLimitBurst < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit burst %d: must be at least 1", c.RateLimitBurst))
	}

	// Validate log level
	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, strings.ToLower(c.LogLevel)) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of %v", c.LogLevel, validLevels))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
