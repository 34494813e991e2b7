// Package ingest turns one uploaded buffer into an IngestionResult.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tendant/simple-image-forensics/internal/caption"
	"github.com/tendant/simple-image-forensics/internal/codec"
	apperrors "github.com/tendant/simple-image-forensics/internal/errors"
	"github.com/tendant/simple-image-forensics/internal/exifnorm"
	"github.com/tendant/simple-image-forensics/internal/hasher"
	"github.com/tendant/simple-image-forensics/internal/metadata"
	"github.com/tendant/simple-image-forensics/internal/thumbnail"
	"github.com/tendant/simple-image-forensics/pkg/exiftree"
	"github.com/tendant/simple-image-forensics/pkg/pipeline"
)

// State is a step of one ingestion run.
type State string

const (
	StateReceived     State = "received"
	StateDecoding     State = "decoding"
	StateDecodeFailed State = "decode_failed"
	StateDecoded      State = "decoded"
	StateEnriching    State = "enriching"
	StateEnrichFailed State = "enrich_failed"
	StateEnriched     State = "enriched"
)

// Orchestrator runs the pipeline. It keeps no per-call state and is safe
// for concurrent use.
type Orchestrator struct {
	thumbnails *thumbnail.Generator
	captioner  caption.Captioner
	logger     zerolog.Logger
}

// New wires an orchestrator. A nil captioner yields the no-caption literal.
func New(thumbnails *thumbnail.Generator, captioner caption.Captioner, logger zerolog.Logger) *Orchestrator {
	if captioner == nil {
		captioner = caption.Static("")
	}
	return &Orchestrator{
		thumbnails: thumbnails,
		captioner:  captioner,
		logger:     logger.With().Str("component", "ingest").Logger(),
	}
}

// Ingest decodes raw once and derives every field of the result
// concurrently. The first failing stage cancels the others and is returned
// as a tagged error; no partial result is ever returned.
func (o *Orchestrator) Ingest(ctx context.Context, raw pipeline.RawImage) (*pipeline.IngestionResult, error) {
	return o.IngestWithRunID(ctx, uuid.NewString(), raw)
}

// IngestWithRunID is Ingest with a caller-chosen run id for log correlation.
func (o *Orchestrator) IngestWithRunID(ctx context.Context, runID string, raw pipeline.RawImage) (*pipeline.IngestionResult, error) {
	start := time.Now()
	log := o.logger.With().Str("run_id", runID).Str("filename", raw.Filename).Logger()

	transition(log, StateReceived)
	if err := ctx.Err(); err != nil {
		return nil, stageError("receive", apperrors.KindTransport, err)
	}

	transition(log, StateDecoding)
	decoded, err := codec.Decode(raw.Bytes)
	if err != nil {
		transition(log, StateDecodeFailed)
		log.Warn().Err(err).Int("size_bytes", len(raw.Bytes)).Msg("Image decode failed")
		return nil, stageError("decode", apperrors.KindDecode, err)
	}
	transition(log, StateDecoded)

	transition(log, StateEnriching)
	var (
		hash   string
		md     pipeline.ImageMetadata
		exif   exiftree.Tree
		thumbs pipeline.ThumbnailSet
		text   string
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hash = hasher.Sum(raw.Bytes)
		return nil
	})

	g.Go(func() error {
		m, err := metadata.FromDecoded(decoded, raw.Bytes)
		if err != nil {
			return stageError("metadata", apperrors.KindMetadata, err)
		}
		md = m
		return nil
	})

	g.Go(func() error {
		exif = exifnorm.Normalize(raw.Bytes)
		return nil
	})

	g.Go(func() error {
		set, err := o.thumbnails.GenerateFromDecoded(decoded)
		if err != nil {
			return stageError("thumbnail", apperrors.KindThumbnail, err)
		}
		thumbs = set
		return nil
	})

	g.Go(func() error {
		c, err := o.captioner.Caption(gctx, decoded)
		if err != nil {
			return stageError("caption", apperrors.KindCaption, err)
		}
		text = strings.TrimSpace(c)
		return nil
	})

	if err := g.Wait(); err != nil {
		transition(log, StateEnrichFailed)
		log.Error().Err(err).Str("op", apperrors.OpOf(err)).Msg("Ingest failed")
		return nil, err
	}

	if text == "" {
		text = pipeline.NoCaption
	}

	result := &pipeline.IngestionResult{
		IdentityHash: hash,
		Metadata:     md,
		Exif:         exif,
		Caption:      text,
		Thumbnails:   thumbs,
	}

	transition(log, StateEnriched)
	log.Info().
		Str("identity_hash", hash).
		Str("format", md.Format).
		Uint32("width", md.Width).
		Uint32("height", md.Height).
		Bool("exif", !exif.IsAbsent()).
		Dur("elapsed", time.Since(start)).
		Msg("Ingest completed")

	return result, nil
}

func transition(log zerolog.Logger, s State) {
	log.Debug().Str("state", string(s)).Msg("Ingest state")
}

// stageError re-tags err with the stage that failed. The kind already on
// err wins over fallback.
func stageError(stage string, fallback apperrors.Kind, err error) error {
	kind := apperrors.KindOf(err)
	if kind == apperrors.KindUnknown {
		kind = fallback
	}
	return &apperrors.Error{
		Kind:    kind,
		Op:      "ingest." + stage,
		Message: fmt.Sprintf("%s stage failed", stage),
		Cause:   err,
	}
}
