package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadAppliesDefaultsWhenUnset(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "data/mailindex.db", cfg.DatabasePath)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 28, cfg.InitialBackfillDays)
	assert.Equal(t, 500, cfg.BackfillPageSize)
	assert.Equal(t, 5, cfg.BackfillFetchConcurrency)
}

func TestLoadReadsOverridesFromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_PATH", "/tmp/custom.db")
	t.Setenv("BACKFILL_PAGE_SIZE", "250")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()

	assert.Equal(t, "/tmp/custom.db", cfg.DatabasePath)
	assert.Equal(t, 250, cfg.BackfillPageSize)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadIgnoresBlankOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", "   ")

	cfg := Load()

	assert.Equal(t, ":8080", cfg.HTTPAddr)
}

func TestLoadIgnoresUnparseableInt(t *testing.T) {
	t.Setenv("BACKFILL_FETCH_CONCURRENCY", "not-a-number")

	cfg := Load()

	assert.Equal(t, 5, cfg.BackfillFetchConcurrency)
}
