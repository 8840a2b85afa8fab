// Package config loads this service's runtime settings from the
// environment, optionally seeded from a .env file.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds every environment-driven setting the indexer needs at
// startup.
type Config struct {
	DatabasePath string
	NATSURL      string
	JWKSURL      string
	LogLevel     string
	HTTPAddr     string

	InitialBackfillDays      int
	BackfillPageSize         int
	BackfillFetchConcurrency int

	GmailClientID     string
	GmailClientSecret string
	OutlookClientID   string
	OutlookTenantID   string

	DatabaseEncryptionKey string
}

// Load reads .env (if present, ignored if absent) then the process
// environment into a Config, applying defaults for anything unset.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		DatabasePath: getEnvString("DATABASE_PATH", "data/mailindex.db"),
		NATSURL:      getEnvString("NATS_URL", "nats://localhost:4222"),
		JWKSURL:      getEnvString("JWKS_URL", ""),
		LogLevel:     getEnvString("LOG_LEVEL", "info"),
		HTTPAddr:     getEnvString("HTTP_ADDR", ":8080"),

		InitialBackfillDays:      getEnvInt("INITIAL_BACKFILL_DAYS", 28),
		BackfillPageSize:         getEnvInt("BACKFILL_PAGE_SIZE", 500),
		BackfillFetchConcurrency: getEnvInt("BACKFILL_FETCH_CONCURRENCY", 5),

		GmailClientID:     getEnvString("GMAIL_CLIENT_ID", ""),
		GmailClientSecret: getEnvString("GMAIL_CLIENT_SECRET", ""),
		OutlookClientID:   getEnvString("OUTLOOK_CLIENT_ID", ""),
		OutlookTenantID:   getEnvString("OUTLOOK_TENANT_ID", ""),

		DatabaseEncryptionKey: getEnvString("DATABASE_ENCRYPTION_KEY", ""),
	}
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}
