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
	"github.com/tendant/simple-image-forensics/internal/handlers"
	"github.com/tendant/simple-image-forensics/internal/logging"
	"github.com/tendant/simple-image-forensics/internal/storage"
	"github.com/tendant/simple-image-forensics/internal/workflows"
	"github.com/tendant/simple-image-forensics/pkg/pipeline"
)

// Standalone API server: uploads are ingested inline, and /v1/process runs
// ingests against an embedded simple-content service without DBOS.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
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

	svc, cleanup, err := presets.NewDevelopment(presets.WithDevStorage(cfg.StorageDir))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize simple-content service")
	}
	defer cleanup()

	objects, err := storage.NewFilesystemStorage(cfg.StorageDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open object storage")
	}

	content := storage.NewContentService(svc)
	runner := workflows.NewWorkflowRunner(nil, logger)
	runner.Register(pipeline.JobIngest, workflows.NewIngestWorkflow(
		content, content, components.Orchestrator, components.Store, logger,
		workflows.WithObjectReader(objects),
		workflows.WithDedupeTracker(components.Tracker),
		workflows.WithObserver(components.Metrics),
		workflows.WithMaxSourceBytes(cfg.MaxUploadBytes),
	))

	images := handlers.NewImageHandler(
		components.Orchestrator,
		components.Store,
		components.Tracker,
		components.Metrics,
		handlers.ImageHandlerConfig{
			PublicBaseURL:  cfg.PublicBaseURL,
			MaxUploadBytes: cfg.MaxUploadBytes,
		},
		logger,
	)

	router := handlers.NewRouter(handlers.Options{
		Images:      images,
		Process:     handlers.NewProcessHandler(runner, components.Tracker, false, logger),
		Metrics:     components.Metrics.Handler(),
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
		HealthInfo:  map[string]string{"mode": "standalone"},
	})

	serve(logger, cfg.HTTPAddr, router)
}

func serve(logger zerolog.Logger, addr string, handler http.Handler) {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("Forensics server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	logger.Info().Msg("Server stopped")
}
