// Command regulens runs the regulatory change monitoring daemon: it polls
// the configured sources, stores detected changes in the knowledge base and
// publishes them on the event bus.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"github.com/gaigenticai/Regulens-sub006/pkg/config"
	"github.com/gaigenticai/Regulens-sub006/pkg/detector"
	"github.com/gaigenticai/Regulens-sub006/pkg/eventbus"
	"github.com/gaigenticai/Regulens-sub006/pkg/httpx"
	"github.com/gaigenticai/Regulens-sub006/pkg/kb"
	"github.com/gaigenticai/Regulens-sub006/pkg/model"
	"github.com/gaigenticai/Regulens-sub006/pkg/monitor"
	"github.com/gaigenticai/Regulens-sub006/pkg/observability"
	"github.com/gaigenticai/Regulens-sub006/pkg/source"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver (lite mode)
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	cmd := "serve"
	if len(args) > 1 {
		cmd = args[1]
	}
	switch cmd {
	case "serve":
		return runServer(stderr, false)
	case "check":
		// One polling cycle over every source, then exit. Useful for cron
		// driven deployments and smoke tests.
		return runServer(stderr, true)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", cmd)
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: regulens [command]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve   Run the monitoring daemon (default)")
	fmt.Fprintln(w, "  check   Run one polling cycle over every source and exit")
	fmt.Fprintln(w, "  help    Show this help")
}

func runServer(stderr io.Writer, once bool) int {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := openDatabase(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "database: %v\n", err)
		return 1
	}
	defer db.Close()

	eventStore, changeStore, stateStore, err := buildStores(ctx, cfg, db, logger)
	if err != nil {
		fmt.Fprintf(stderr, "stores: %v\n", err)
		return 1
	}

	knowledge := kb.New(kb.Config{}, changeStore, logger)
	if err := knowledge.LoadSnapshot(ctx, cfg.SnapshotPath); err != nil {
		logger.Warn("snapshot load failed", "path", cfg.SnapshotPath, "error", err)
	}

	bus := eventbus.New(eventbus.Config{
		MaxQueueSize:  cfg.MaxQueueSize,
		WorkerThreads: cfg.WorkerThreads,
	}, eventStore, logger)
	if !bus.Initialize() {
		fmt.Fprintln(stderr, "event bus failed to initialize")
		return 1
	}
	defer bus.Shutdown()

	mon := monitor.New(monitor.Config{LoopInterval: cfg.LoopInterval}, knowledge, bus, logger)

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		obsCfg := observability.DefaultConfig()
		obsCfg.Enabled = true
		obsCfg.OTLPEndpoint = endpoint
		obsCfg.Insecure = os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true"
		provider, err := observability.New(ctx, obsCfg)
		if err != nil {
			logger.Warn("observability init failed", "error", err)
		} else {
			mon.SetObservability(provider)
			defer provider.Shutdown(context.Background())
		}
	}

	if err := registerSources(ctx, cfg, mon, stateStore, logger); err != nil {
		fmt.Fprintf(stderr, "sources: %v\n", err)
		return 1
	}
	if len(mon.Sources()) == 0 {
		logger.Warn("no active sources configured", "profiles_dir", cfg.ProfilesDir)
	}

	if once {
		mon.CheckAll(ctx)
	} else {
		mon.Start()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig.String())
		mon.Stop()
	}

	if err := knowledge.SaveSnapshot(cfg.SnapshotPath); err != nil {
		logger.Error("snapshot save failed", "path", cfg.SnapshotPath, "error", err)
	} else if cfg.ArchiveBucket != "" {
		archiveSnapshot(ctx, cfg, knowledge, logger)
	}

	stats := mon.Stats()
	logger.Info("monitor summary",
		"sources_checked", stats.SourcesChecked,
		"changes_detected", stats.ChangesDetected,
		"errors", stats.ErrorsEncountered)
	return 0
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func openDatabase(cfg *config.Config) (*sql.DB, error) {
	if cfg.DatabaseMode == "postgres" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return db, nil
	}
	db, err := sql.Open("sqlite", cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent store access.
	db.SetMaxOpenConns(1)
	return db, nil
}

func buildStores(ctx context.Context, cfg *config.Config, db *sql.DB, logger *slog.Logger) (eventbus.EventStore, kb.ChangeStore, source.StateStore, error) {
	var (
		events  eventbus.EventStore
		changes kb.ChangeStore
		state   source.StateStore
		err     error
	)
	if cfg.DatabaseMode == "postgres" {
		if events, err = eventbus.NewPostgresEventStore(db); err != nil {
			return nil, nil, nil, err
		}
		if changes, err = kb.NewPostgresChangeStore(db); err != nil {
			return nil, nil, nil, err
		}
		if state, err = source.NewPostgresStateStore(db); err != nil {
			return nil, nil, nil, err
		}
	} else {
		if events, err = eventbus.NewSQLiteEventStore(db); err != nil {
			return nil, nil, nil, err
		}
		if changes, err = kb.NewSQLiteChangeStore(db); err != nil {
			return nil, nil, nil, err
		}
		if state, err = source.NewSQLiteStateStore(db); err != nil {
			return nil, nil, nil, err
		}
	}

	// Redis, when configured, takes over cursor storage; change and event
	// persistence stay on SQL.
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		redisState, err := source.NewRedisStateStore(ctx, redis.NewClient(opts))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("using redis cursor store")
		state = redisState
	}

	return events, changes, state, nil
}

func registerSources(ctx context.Context, cfg *config.Config, mon *monitor.Monitor, state source.StateStore, logger *slog.Logger) error {
	profiles, err := config.LoadAllProfiles(cfg.ProfilesDir)
	if err != nil {
		return err
	}

	client := httpx.NewClient(httpx.DefaultConfig())
	ids := model.NewIDGenerator()
	det := detector.New(detector.Config{}, ids, logger)

	for _, profile := range profiles {
		if !profile.Active {
			logger.Info("skipping inactive source", "source_id", profile.SourceID)
			continue
		}
		src, err := buildSource(profile, client, state, ids, det, logger)
		if err != nil {
			return fmt.Errorf("profile %s: %w", profile.SourceID, err)
		}

		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = src.Initialize(initCtx)
		cancel()
		if err != nil {
			// A dead upstream at boot should not block the daemon; the
			// monitor keeps polling and the source recovers on its own.
			logger.Warn("source initialize failed", "source_id", profile.SourceID, "error", err)
		}
		mon.AddSource(src)
	}
	return nil
}

func buildSource(p *config.SourceProfile, client *httpx.Client, state source.StateStore, ids *model.IDGenerator, det *detector.Detector, logger *slog.Logger) (source.RegulatorySource, error) {
	switch p.Kind {
	case "sec_edgar":
		src := source.NewSECEdgarSource(source.SECEdgarConfig{BaseURL: p.BaseURL, APIKey: p.APIKey}, client, state, ids, logger)
		src.SetCheckInterval(p.CheckInterval())
		return src, nil
	case "fca":
		src := source.NewFCASource(source.FCAConfig{BaseURL: p.BaseURL, APIKey: p.APIKey}, client, state, ids, logger)
		src.SetCheckInterval(p.CheckInterval())
		return src, nil
	case "ecb":
		src := source.NewECBSource(source.ECBConfig{FeedURL: p.FeedURL}, client, state, ids, logger)
		src.SetCheckInterval(p.CheckInterval())
		return src, nil
	case "custom_feed":
		return source.NewCustomFeedSource(source.CustomFeedConfig{
			SourceID:          p.SourceID,
			SourceName:        p.SourceName,
			FeedType:          p.FeedType,
			FeedURL:           p.FeedURL,
			ItemsJSONPath:     p.ItemsJSONPath,
			DefaultChangeType: p.DefaultChangeType,
			DefaultSeverity:   p.DefaultSeverity,
			CheckInterval:     p.CheckInterval(),
		}, client, state, ids, logger)
	case "web_scraping":
		src, err := source.NewWebScrapingSource(source.WebScrapingConfig{
			SourceID:        p.SourceID,
			SourceName:      p.SourceName,
			TargetURL:       p.TargetURL,
			TitleSelector:   p.TitleSelector,
			ContentSelector: p.ContentSelector,
			CheckInterval:   p.CheckInterval(),
		}, client, state, ids, logger)
		if err != nil {
			return nil, err
		}
		src.SetDetector(det)
		return src, nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", p.Kind)
	}
}

// archiveSnapshot uploads the canonical snapshot to the configured S3
// bucket, content-addressed by digest.
func archiveSnapshot(ctx context.Context, cfg *config.Config, knowledge *kb.KnowledgeBase, logger *slog.Logger) {
	data, err := knowledge.ExportJSON()
	if err != nil {
		logger.Error("snapshot export failed", "error", err)
		return
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("aws config load failed", "error", err)
		return
	}
	archiver := kb.NewS3Archiver(s3.NewFromConfig(awsCfg), cfg.ArchiveBucket)
	key, err := archiver.ArchiveSnapshot(ctx, data)
	if err != nil {
		logger.Error("snapshot archive failed", "bucket", cfg.ArchiveBucket, "error", err)
		return
	}
	logger.Info("snapshot archived", "bucket", cfg.ArchiveBucket, "key", key)
}
