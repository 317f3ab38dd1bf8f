// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

// Command api is the entry point for the Tramo reporting API server.
//
// # Startup Sequence
//
//  1. Initialize structured logger.
//  2. Load configuration from environment variables.
//  3. Connect to the catalog PostgreSQL (pgxpool).
//  4. Connect to Redis.
//  5. Run catalog migrations (idempotent).
//  6. Connect every provincial shard.
//  7. Wire the engine and HTTP handlers.
//  8. Start HTTP server with graceful shutdown.
//
// No business logic lives here. All wiring is explicit constructor injection.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tramoapp/tramo/internal/api"
	"github.com/tramoapp/tramo/internal/core/analyzer"
	"github.com/tramoapp/tramo/internal/core/batch"
	"github.com/tramoapp/tramo/internal/core/catalog"
	"github.com/tramoapp/tramo/internal/core/report"
	"github.com/tramoapp/tramo/internal/core/shard"
	"github.com/tramoapp/tramo/internal/core/task"
	"github.com/tramoapp/tramo/internal/platform/config"
	"github.com/tramoapp/tramo/internal/platform/constants"
	"github.com/tramoapp/tramo/internal/platform/migration"
	pgstore "github.com/tramoapp/tramo/internal/platform/postgres"
	redisstore "github.com/tramoapp/tramo/internal/platform/redis"
)

func main() {
	// ── 1. Logger ──────────────────────────────────────────────────────────
	// Initialize first so that subsequent startup errors are structured JSON.
	rawLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Add global context to all log entries.
	log := rawLog.With(slog.String("app", "tramo"))
	slog.SetDefault(log)

	log.Info("[Tramo] service_initializing")

	// ── 2. Configuration ──────────────────────────────────────────────────
	cfg, err := config.Load()
	must(log, err, "load configuration")

	if cfg.Debug {
		debugLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		log = debugLog.With(slog.String("app", "tramo"))
		slog.SetDefault(log)
		log.Debug("debug_logging_enabled")
	}

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
	)

	// Root context for startup. Use a 30s deadline so misconfiguration is
	// caught quickly rather than hanging indefinitely.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// ── 3. Catalog PostgreSQL ─────────────────────────────────────────────
	catalogPool, err := pgstore.NewPool(startupCtx, cfg.CatalogURL, 0, log)
	must(log, err, "connect to catalog postgres")
	defer func() {
		log.Info("closing catalog pool")
		catalogPool.Close()
	}()

	// ── 4. Redis ──────────────────────────────────────────────────────────
	rdb, err := redisstore.NewClient(startupCtx, cfg.RedisURL, log)
	must(log, err, "connect to redis")
	defer func() {
		log.Info("closing redis client")
		if cerr := rdb.Close(); cerr != nil {
			log.Error("redis close error", slog.Any("error", cerr))
		}
	}()

	// ── 5. Migrations ─────────────────────────────────────────────────────
	must(log, migration.RunUp(cfg.CatalogURL, cfg.MigrationPath, log), "run catalog migrations")

	// ── 6. Provincial Shards ──────────────────────────────────────────────
	shardDSNs, err := cfg.Shards()
	must(log, err, "parse shard configuration")

	registry, err := shard.NewRegistry(startupCtx, shardDSNs, log)
	must(log, err, "connect provincial shards")
	defer func() {
		log.Info("closing shard pools")
		registry.Close()
	}()

	// ── 7. Health handlers (wired with real dependency checkers) ──────────
	liveness, readiness := api.NewHealthHandlers(api.HealthDependencies{
		CheckCatalog: func() error {
			return pgstore.Ping(context.Background(), catalogPool)
		},
		CheckShards: func() error {
			shards := registry.All()
			if len(shards) == 0 {
				return errors.New("no shards configured")
			}
			// One reachable shard is enough to call the fan-out layer ready.
			return pgstore.Ping(context.Background(), shards[0].Pool)
		},
		CheckCache: func() error {
			return redisstore.Ping(context.Background(), rdb)
		},
	}, log)

	// ── 8. Engine & Domain Wiring ─────────────────────────────────────────
	catalogRepository := catalog.NewPostgresRepository(catalogPool)
	catalogService := catalog.NewService(catalogRepository, log)
	catalogHandler := catalog.NewHandler(catalogService)

	queryAnalyzer := analyzer.New(nil, analyzer.Thresholds{
		Aggregation: cfg.Engine.AggregationThreshold,
		HighVolume:  cfg.Engine.HighVolumeThreshold,
	})
	processor := batch.New(cfg.Engine, nil, nil, log)
	targets := report.NewRegistryTargets(registry, cfg.Engine.QueryTimeout, log)

	reportService := report.NewService(catalogService, targets, queryAnalyzer, processor, cfg.Engine, log)
	reportHandler := report.NewHandler(reportService)

	taskStore := task.NewRedisStore(rdb, cfg.Engine.TaskResultTTL)
	taskManager := task.NewManager(taskStore, cfg.Engine.TaskTimeout, log)
	taskHandler := task.NewHandler(taskManager, reportService.RunnerFactory())

	// ── 9. HTTP Server ────────────────────────────────────────────────────
	handlers := api.Handlers{
		Liveness:  liveness,
		Readiness: readiness,
		Catalog:   catalogHandler,
		Report:    reportHandler,
		Task:      taskHandler,
	}

	server := api.NewServer(context.Background(), cfg, log, handlers)

	// ── 10. Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until OS signal or server error.
	select {
	case sig := <-quit:
		log.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server startup error", slog.Any("error", err))
	}

	// Give in-flight requests enough time to complete.
	shutdownTimeout := constants.ShutdownTimeout
	log.Info("shutting down server", slog.Duration("timeout", shutdownTimeout))

	if err := server.Shutdown(shutdownTimeout); err != nil {
		log.Error("shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	// Cancel live report tasks before the stores they write to close.
	taskCtx, taskCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer taskCancel()
	if err := taskManager.Shutdown(taskCtx); err != nil {
		log.Error("task shutdown error", slog.Any("error", err))
	}

	log.Info("server stopped cleanly")
}

// must logs a structured fatal error and terminates the process if err is non-nil.
//
// It is intentionally limited to startup wiring. After startup, all errors
// must be returned and handled explicitly (never panic).
func must(log *slog.Logger, err error, context string) {
	if err != nil {
		log.Error("startup failure",
			slog.String("context", context),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}
