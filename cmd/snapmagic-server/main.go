package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/snapmagictest/snapmagic/internal/clients/gemini"
	"github.com/snapmagictest/snapmagic/internal/common"
	"github.com/snapmagictest/snapmagic/internal/pipeline/intake"
	"github.com/snapmagictest/snapmagic/internal/pipeline/reconcile"
	"github.com/snapmagictest/snapmagic/internal/pipeline/status"
	"github.com/snapmagictest/snapmagic/internal/pipeline/worker"
	"github.com/snapmagictest/snapmagic/internal/server"
	"github.com/snapmagictest/snapmagic/internal/storage/surrealdb"
)

// reconcileInterval is how often the orphan sweep runs.
const reconcileInterval = 2 * time.Minute

func main() {
	configPath := os.Getenv("SNAPMAGIC_CONFIG")

	config, err := common.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := common.NewLogger(config.Logging.Level)
	common.PrintBanner(config, logger)

	if missing := config.ValidateRequired(); len(missing) > 0 && config.IsProduction() {
		logger.Fatal().Str("missing", strings.Join(missing, ", ")).Msg("missing required configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr, err := surrealdb.NewManager(ctx, logger, config)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage manager")
	}
	defer mgr.Close()

	backend, err := gemini.NewClient(ctx, config.Clients.Gemini.APIKey,
		gemini.WithImageModel(config.Clients.Gemini.ImageModel),
		gemini.WithVideoModel(config.Clients.Gemini.VideoModel),
		gemini.WithLogger(logger),
		gemini.WithRateLimit(config.Clients.Gemini.RateLimitPerSecond, config.Clients.Gemini.MaxConcurrency),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize generation backend client")
	}

	wsHub := server.NewAdminWSHub(logger)
	go wsHub.Run()
	defer wsHub.Stop()

	intakeSvc := intake.NewService(mgr.JobStore(), mgr.Queue(), mgr.QuotaLedger(), config.Pipeline.Prompt, config.Pipeline.Quota, logger)
	intakeSvc.Notify = wsHub.Broadcast

	statusSvc := status.NewService(mgr.JobStore(), mgr.BlobStore(), config.Pipeline.Artifact.ShortTTL(), config.Pipeline.Artifact.GalleryTTL(), logger)

	pool := worker.New(mgr.JobStore(), mgr.Queue(), mgr.BlobStore(), mgr.QuotaLedger(), backend, worker.Config{
		Concurrency:       config.Pipeline.Backend.MaxConcurrency,
		VisibilitySeconds: config.Pipeline.Queue.VisibilitySeconds,
		MaxRedeliveries:   config.Pipeline.Queue.MaxRedeliveries,
	}, logger)
	pool.Notify = wsHub.Broadcast
	pool.Start(ctx)

	// stuckThreshold is how long a job may sit in StateProcessing before the
	// reconciliation loop marks it failed(dead_lettered): the queue's full
	// redelivery budget, visibility_seconds * (max_redeliveries + 1).
	stuckThreshold := time.Duration(config.Pipeline.Queue.VisibilitySeconds*(config.Pipeline.Queue.MaxRedeliveries+1)) * time.Second
	reconciler := reconcile.NewService(mgr.JobStore(), mgr.Queue(), stuckThreshold, logger)
	go reconciler.StartPeriodic(ctx, reconcileInterval)

	srv := server.NewServer(config, logger, intakeSvc, statusSvc, mgr.Queue(), mgr.QuotaLedger(), mgr.BlobStore(), wsHub)

	shutdownChan := make(chan struct{}, 1)
	srv.SetShutdownChannel(shutdownChan)

	go func() {
		logger.Info().Int("port", config.Server.Port).Msg("server ready")
		if err := srv.Start(); err != nil && err.Error() != "http: Server closed" {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info().Msg("shutdown signal received")
	case <-shutdownChan:
		logger.Info().Msg("shutdown requested via HTTP endpoint")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	pool.Stop()
	logger.Info().Msg("server stopped")
}
