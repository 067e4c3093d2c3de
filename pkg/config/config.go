package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds daemon configuration.
type Config struct {
	LogLevel      string
	DatabaseMode  string // "lite" (sqlite) or "postgres"
	DatabaseURL   string
	SQLitePath    string
	RedisURL      string // optional; enables the redis cursor store
	SnapshotPath  string
	ProfilesDir   string
	LoopInterval  time.Duration
	WorkerThreads int
	MaxQueueSize  int
	ArchiveBucket string // optional; enables S3 snapshot archiving
}

// Load loads configuration from environment variables.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	mode := os.Getenv("DATABASE_MODE")
	if mode != "postgres" {
		mode = "lite"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		// Default to local generic postgres
		dbURL = "postgres://regulens@localhost:5432/regulens?sslmode=disable"
	}

	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "regulens.db"
	}

	snapshotPath := os.Getenv("SNAPSHOT_PATH")
	if snapshotPath == "" {
		snapshotPath = "regulatory_knowledge_base.json"
	}

	profilesDir := os.Getenv("PROFILES_DIR")
	if profilesDir == "" {
		profilesDir = "profiles"
	}

	return &Config{
		LogLevel:      logLevel,
		DatabaseMode:  mode,
		DatabaseURL:   dbURL,
		SQLitePath:    sqlitePath,
		RedisURL:      os.Getenv("REDIS_URL"),
		SnapshotPath:  snapshotPath,
		ProfilesDir:   profilesDir,
		LoopInterval:  envDuration("MONITOR_LOOP_INTERVAL", 30*time.Second),
		WorkerThreads: envInt("BUS_WORKER_THREADS", 4),
		MaxQueueSize:  envInt("BUS_MAX_QUEUE_SIZE", 10000),
		ArchiveBucket: os.Getenv("ARCHIVE_BUCKET"),
	}
}

func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
