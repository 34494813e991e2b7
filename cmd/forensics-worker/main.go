package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tendant/simple-content/pkg/simplecontent/presets"

	"github.com/tendant/simple-image-forensics/internal/app"
	"github.com/tendant/simple-image-forensics/internal/config"
	"github.com/tendant/simple-image-forensics/internal/dbosruntime"
	"github.com/tendant/simple-image-forensics/internal/handlers"
	"github.com/tendant/simple-image-forensics/internal/logging"
	"github.com/tendant/simple-image-forensics/internal/storage"
	"github.com/tendant/simple-image-forensics/internal/workflows"
	"github.com/tendant/simple-image-forensics/pkg/pipeline"
)

type contentBackend interface {
	workflows.ContentReader
	workflows.DerivedWriter
}

// Durable worker: /v1/process enqueues ingests on DBOS and the queue
// workers execute them.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.DBOS.DatabaseURL == "" {
		log.Fatal().Msg("DBOS_SYSTEM_DATABASE_URL is required")
	}

	logger, closer, err := logging.Setup(cfg.Log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logging")
	}
	defer closer.Close()

	if logger.GetLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()
	components, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build pipeline")
	}
	defer components.Close()

	var (
		content contentBackend
		cleanup = func() {}
	)
	if cfg.ContentAPIURL != "" {
		logger.Info().Str("url", cfg.ContentAPIURL).Msg("Using simple-content HTTP API")
		content = storage.NewHTTPContentService(cfg.ContentAPIURL)
	} else {
		logger.Info().Str("storage_dir", cfg.StorageDir).Msg("Using embedded simple-content service")
		svc, cleanupFn, err := presets.NewDevelopment(presets.WithDevStorage(cfg.StorageDir))
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize simple-content service")
		}
		content = storage.NewContentService(svc)
		cleanup = cleanupFn
	}
	defer cleanup()

	objects, err := storage.NewFilesystemStorage(cfg.StorageDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open object storage")
	}

	dbosRuntime, err := dbosruntime.NewRuntime(ctx, dbosruntime.FromConfig(cfg.DBOS), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize DBOS")
	}

	// Workflows must be registered before Launch.
	runner := workflows.NewWorkflowRunner(dbosRuntime, logger)
	runner.Register(pipeline.JobIngest, workflows.NewIngestWorkflow(
		content, content, components.Orchestrator, components.Store, logger,
		workflows.WithObjectReader(objects),
		workflows.WithDedupeTracker(components.Tracker),
		workflows.WithObserver(components.Metrics),
		workflows.WithMaxSourceBytes(cfg.MaxUploadBytes),
	))

	if err := dbosRuntime.Launch(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to launch DBOS")
	}
	defer dbosRuntime.Shutdown(10 * time.Second)

	router := handlers.NewRouter(handlers.Options{
		Process:     handlers.NewProcessHandler(runner, components.Tracker, true, logger),
		Metrics:     components.Metrics.Handler(),
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
		HealthInfo:  map[string]string{"mode": "worker"},
	})

	server := &http.Server{
		Addr:              cfg.WorkerHTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.WorkerHTTPAddr).Msg("Forensics worker listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	logger.Info().Msg("Worker stopped")
}
