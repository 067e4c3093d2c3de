package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gaigenticai/Regulens-sub006/pkg/config"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
// Invariant: System must boot with safe defaults in dev mode.
func TestLoad_Defaults(t *testing.T) {
	// Ensure clean env
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("DATABASE_MODE", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SQLITE_PATH", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("MONITOR_LOOP_INTERVAL", "")
	t.Setenv("BUS_WORKER_THREADS", "")
	t.Setenv("BUS_MAX_QUEUE_SIZE", "")

	cfg := config.Load()

	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "lite", cfg.DatabaseMode)
	assert.Contains(t, cfg.DatabaseURL, "localhost") // Default is local
	assert.Equal(t, "regulens.db", cfg.SQLitePath)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, 30*time.Second, cfg.LoopInterval)
	assert.Equal(t, 4, cfg.WorkerThreads)
	assert.Equal(t, 10000, cfg.MaxQueueSize)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
// Invariant: Ops can control config via standard 12-factor env vars.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DATABASE_MODE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://production:5432/db")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("MONITOR_LOOP_INTERVAL", "5s")
	t.Setenv("BUS_WORKER_THREADS", "8")
	t.Setenv("ARCHIVE_BUCKET", "regulens-snapshots")

	cfg := config.Load()

	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.DatabaseMode)
	assert.Equal(t, "postgres://production:5432/db", cfg.DatabaseURL)
	assert.Equal(t, "redis://cache:6379/0", cfg.RedisURL)
	assert.Equal(t, 5*time.Second, cfg.LoopInterval)
	assert.Equal(t, 8, cfg.WorkerThreads)
	assert.Equal(t, "regulens-snapshots", cfg.ArchiveBucket)
}

// TestLoad_InvalidNumbersFallBack verifies malformed numeric env values
// never crash startup.
func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	t.Setenv("BUS_WORKER_THREADS", "not-a-number")
	t.Setenv("MONITOR_LOOP_INTERVAL", "-3s")

	cfg := config.Load()

	assert.Equal(t, 4, cfg.WorkerThreads)
	assert.Equal(t, 30*time.Second, cfg.LoopInterval)
}
