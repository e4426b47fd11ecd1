// Package main is the entrypoint for the Veridesk server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/veridesk/veridesk/internal/api"
	"github.com/veridesk/veridesk/internal/config"
	"github.com/veridesk/veridesk/internal/db"
	"github.com/veridesk/veridesk/internal/events"
	"github.com/veridesk/veridesk/internal/export"
	"github.com/veridesk/veridesk/internal/integrations/licensor"
	"github.com/veridesk/veridesk/internal/scheduler"
	syncengine "github.com/veridesk/veridesk/internal/sync"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENV") != string(config.EnvProduction) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting Veridesk server")

	serverCfg := config.LoadServerConfig()

	syncCfg, err := config.LoadSyncConfig(os.Getenv("SYNC_CONFIG"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load sync configuration")
		return 1
	}

	databaseURL := syncCfg.DatabaseURL
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL environment variable is required")
		return 1
	}

	database, err := db.New(ctx, db.DefaultConfig(databaseURL), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
		return 1
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run database migrations")
		return 1
	}

	catalog, err := licensor.NewClient(licensor.ClientConfig{
		BaseURL:     syncCfg.RemoteURL,
		APIKey:      syncCfg.RemoteAPIKey,
		ProxyConfig: syncCfg.Proxy,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create license catalog client")
		return 1
	}

	engine, err := syncengine.NewEngine(database, catalog, database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create sync engine")
		return 1
	}

	// One gate serializes manual and scheduled syncs against the dataset.
	gate := &syncengine.Gate{}

	feed := events.NewFeed(events.DefaultConfig(), logger)
	feed.Start()
	defer feed.Stop()

	exporter := export.NewExporter(database, logger)

	var uploader *export.S3Uploader
	if syncCfg.Export.Bucket != "" {
		uploader, err = export.NewS3Uploader(syncCfg.Export, logger)
		if err != nil {
			logger.Error().Err(err).Msg("Object storage misconfigured; export upload disabled")
			uploader = nil
		}
	}

	routerCfg := api.Config{
		Server:    serverCfg,
		Sync:      syncCfg,
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	}
	deps := api.Deps{
		DB:       database,
		Runner:   engine,
		Catalog:  catalog,
		Feed:     feed,
		Exporter: exporter,
		Gate:     gate,
	}
	if uploader != nil {
		deps.Uploader = uploader
	}

	router, err := api.NewRouter(routerCfg, deps, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize router")
		return 1
	}

	srv := &http.Server{
		Addr:              serverCfg.ListenAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", serverCfg.ListenAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Scheduled syncs are optional; an empty cron spec disables them.
	if syncCfg.Schedule != "" {
		opts := syncengine.Options{
			Comprehensive:    true,
			DetectDuplicates: syncCfg.DetectDuplicates,
			BatchSize:        syncCfg.BatchSize,
			Limit:            syncCfg.Limit,
			MaxPages:         syncCfg.MaxPages,
		}
		sched, err := scheduler.New(engine, feed, gate, syncCfg.Schedule, opts, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create sync scheduler")
			return 1
		}
		if err := sched.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start sync scheduler")
			return 1
		}
		defer sched.Stop()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info().Str("signal", sig.String()).Msg("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
		return 1
	}

	logger.Info().Msg("Server stopped gracefully")
	return 0
}
