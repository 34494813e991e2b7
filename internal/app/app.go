// Package app assembles the pipeline components shared by the server, the
// worker and the runner library.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tendant/simple-image-forensics/internal/caption"
	"github.com/tendant/simple-image-forensics/internal/codec"
	"github.com/tendant/simple-image-forensics/internal/config"
	"github.com/tendant/simple-image-forensics/internal/dedupe"
	"github.com/tendant/simple-image-forensics/internal/ingest"
	"github.com/tendant/simple-image-forensics/internal/metrics"
	"github.com/tendant/simple-image-forensics/internal/records"
	"github.com/tendant/simple-image-forensics/internal/thumbnail"
)

// Components are the long-lived pieces of one process.
type Components struct {
	Config       config.Config
	Logger       zerolog.Logger
	Metrics      *metrics.Metrics
	Orchestrator *ingest.Orchestrator
	Store        *records.Store
	Tracker      dedupe.Tracker
}

// Build opens the record store and dedupe backend and wires the
// orchestrator. Close releases what Build opened.
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Components, error) {
	m := metrics.New()

	captioner, err := NewCaptioner(cfg.Caption, logger)
	if err != nil {
		return nil, err
	}

	generator := thumbnail.NewGenerator(
		codec.NewEncoder(cfg.JPEGQuality),
		logger,
		thumbnail.WithFallbackHook(m.ObserveFallback),
	)

	store, err := records.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open records store: %w", err)
	}

	tracker, err := dedupe.New(ctx, cfg.Dedupe, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init dedupe tracker: %w", err)
	}

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("dedupe_backend", cfg.Dedupe.Backend).
		Msg("Pipeline components ready")

	return &Components{
		Config:       cfg,
		Logger:       logger,
		Metrics:      m,
		Orchestrator: ingest.New(generator, captioner, logger),
		Store:        store,
		Tracker:      tracker,
	}, nil
}

// NewCaptioner returns the OpenAI captioner when a key is configured and
// the static caption otherwise.
func NewCaptioner(cfg config.CaptionConfig, logger zerolog.Logger) (caption.Captioner, error) {
	if cfg.APIKey == "" {
		logger.Info().Msg("No caption API key configured, using static caption")
		return caption.Static(cfg.Static), nil
	}
	return caption.NewOpenAI(caption.Config{
		APIKey:    cfg.APIKey,
		BaseURL:   cfg.BaseURL,
		Model:     cfg.Model,
		Prompt:    cfg.Prompt,
		MaxTokens: cfg.MaxTokens,
		Timeout:   cfg.Timeout,
	}, logger)
}

func (c *Components) Close() error {
	return errors.Join(c.Tracker.Close(), c.Store.Close())
}
