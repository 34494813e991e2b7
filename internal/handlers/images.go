package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tendant/simple-image-forensics/internal/dedupe"
	"github.com/tendant/simple-image-forensics/internal/metrics"
	"github.com/tendant/simple-image-forensics/internal/records"
	"github.com/tendant/simple-image-forensics/pkg/exiftree"
	"github.com/tendant/simple-image-forensics/pkg/pipeline"
)

// Ingester runs the pipeline on one buffer.
type Ingester interface {
	Ingest(ctx context.Context, raw pipeline.RawImage) (*pipeline.IngestionResult, error)
}

// RecordStore is the subset of records.Store the API needs.
type RecordStore interface {
	Save(ctx context.Context, result *pipeline.IngestionResult, filename string, processedAt time.Time) (string, error)
	Get(ctx context.Context, id string) (*records.ImageRecord, error)
	Exists(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]records.Summary, error)
	Thumbnail(ctx context.Context, id string, tier pipeline.Tier) (records.Thumbnail, bool, error)
}

type ImageHandler struct {
	ingester       Ingester
	store          RecordStore
	tracker        dedupe.Tracker
	metrics        *metrics.Metrics
	publicBaseURL  string
	maxUploadBytes int64
	now            func() time.Time
	logger         zerolog.Logger
}

type ImageHandlerConfig struct {
	PublicBaseURL  string
	MaxUploadBytes int64
}

// NewImageHandler wires the image API. tracker may be nil.
func NewImageHandler(ingester Ingester, store RecordStore, tracker dedupe.Tracker, m *metrics.Metrics, cfg ImageHandlerConfig, logger zerolog.Logger) *ImageHandler {
	if m == nil {
		m = metrics.New()
	}
	return &ImageHandler{
		ingester:       ingester,
		store:          store,
		tracker:        tracker,
		metrics:        m,
		publicBaseURL:  strings.TrimRight(cfg.PublicBaseURL, "/"),
		maxUploadBytes: cfg.MaxUploadBytes,
		now:            time.Now,
		logger:         logger.With().Str("component", "api").Logger(),
	}
}

type analysis struct {
	Caption string `json:"caption"`
}

type thumbnailLinks struct {
	Small  string `json:"small"`
	Medium string `json:"medium"`
}

type imageData struct {
	ImageID         string                 `json:"image_id"`
	OriginalName    string                 `json:"original_name"`
	Status          string                 `json:"status"`
	ProcessedAt     string                 `json:"processed_at"`
	Metadata        pipeline.ImageMetadata `json:"metadata"`
	ExifData        exiftree.Tree          `json:"exif_data"`
	Analysis        analysis               `json:"analysis"`
	Thumbnails      thumbnailLinks         `json:"thumbnails"`
	IdentityHash    string                 `json:"identity_hash"`
	DedupeSeenCount *int                   `json:"dedupe_seen_count,omitempty"`
}

func (h *ImageHandler) links(id string) thumbnailLinks {
	return thumbnailLinks{
		Small:  fmt.Sprintf("%s/api/images/%s/thumbnails/%s", h.publicBaseURL, id, pipeline.TierSmall),
		Medium: fmt.Sprintf("%s/api/images/%s/thumbnails/%s", h.publicBaseURL, id, pipeline.TierMedium),
	}
}

// Upload handles POST /api/images/upload with a multipart "image" field.
func (h *ImageHandler) Upload(c *gin.Context) {
	start := h.now()
	ctx := c.Request.Context()

	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	data, filename, err := readUpload(c)
	if err != nil {
		code := http.StatusBadRequest
		if statusFor(err) == http.StatusRequestEntityTooLarge {
			code = http.StatusRequestEntityTooLarge
		}
		h.metrics.ObserveIngest(metrics.OutcomeFailure, h.now().Sub(start))
		h.logger.Warn().Err(err).Msg("Rejected upload")
		fail(c, code, err.Error())
		return
	}

	log := h.logger.With().Str("filename", filename).Int("size_bytes", len(data)).Logger()
	log.Info().Msg("Processing upload")

	result, err := h.ingester.Ingest(ctx, pipeline.RawImage{Bytes: data, Filename: filename})
	if err != nil {
		h.metrics.ObserveIngest(metrics.OutcomeFailure, h.now().Sub(start))
		log.Error().Err(err).Msg("Error processing upload")
		fail(c, statusFor(err), err.Error())
		return
	}

	processedAt := h.now()
	id, err := h.store.Save(ctx, result, filename, processedAt)
	if err != nil {
		h.metrics.ObserveIngest(metrics.OutcomeFailure, h.now().Sub(start))
		log.Error().Err(err).Msg("Failed to save image record")
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	var seen *int
	if h.tracker != nil {
		n, err := h.tracker.Record(ctx, result.IdentityHash, pipeline.PipelineName, pipeline.PipelineVersion)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to record dedupe entry")
		} else {
			seen = &n
		}
	}

	elapsed := h.now().Sub(start)
	h.metrics.ObserveIngest(metrics.OutcomeSuccess, elapsed)
	log.Info().Str("image_id", id).Dur("elapsed", elapsed).Msg("Successfully processed image")

	ok(c, imageData{
		ImageID:         id,
		OriginalName:    filename,
		Status:          records.StatusProcessed,
		ProcessedAt:     records.FormatTime(processedAt),
		Metadata:        result.Metadata,
		ExifData:        result.Exif,
		Analysis:        analysis{Caption: result.Caption},
		Thumbnails:      h.links(id),
		IdentityHash:    result.IdentityHash,
		DedupeSeenCount: seen,
	})
}

func readUpload(c *gin.Context) ([]byte, string, error) {
	fh, err := c.FormFile("image")
	if err != nil {
		return nil, "", fmt.Errorf("missing image file: %w", err)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	return data, fh.Filename, nil
}

// List handles GET /api/images.
func (h *ImageHandler) List(c *gin.Context) {
	items, err := h.store.List(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list images")
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger.Debug().Int("count", len(items)).Msg("Listing images")
	ok(c, items)
}

// Get handles GET /api/images/:id.
func (h *ImageHandler) Get(c *gin.Context) {
	id := c.Param("id")

	rec, err := h.store.Get(c.Request.Context(), id)
	if errors.Is(err, records.ErrNotFound) {
		fail(c, http.StatusNotFound, "Image not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("image_id", id).Msg("Failed to load image")
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	exif, err := rec.ExifTree()
	if err != nil {
		h.logger.Error().Err(err).Str("image_id", id).Msg("Stored EXIF is not valid JSON")
		fail(c, http.StatusInternalServerError, "corrupt EXIF record")
		return
	}

	ok(c, imageData{
		ImageID:      rec.ImageID,
		OriginalName: rec.OriginalName,
		Status:       rec.Status,
		ProcessedAt:  rec.ProcessedAt,
		Metadata:     rec.Metadata(),
		ExifData:     exif,
		Analysis:     analysis{Caption: rec.Caption},
		Thumbnails:   h.links(rec.ImageID),
		IdentityHash: rec.IdentityHash,
	})
}

// Thumbnail handles GET /api/images/:id/thumbnails/:size. An unknown image
// is reported before an invalid size.
func (h *ImageHandler) Thumbnail(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	tier, tierErr := pipeline.ParseTier(c.Param("size"))
	if tierErr != nil {
		exists, err := h.store.Exists(ctx, id)
		if err != nil {
			fail(c, http.StatusInternalServerError, err.Error())
			return
		}
		if !exists {
			fail(c, http.StatusNotFound, "Image not found")
			return
		}
		fail(c, http.StatusBadRequest, "Invalid thumbnail size")
		return
	}

	thumb, found, err := h.store.Thumbnail(ctx, id, tier)
	if errors.Is(err, records.ErrNotFound) {
		fail(c, http.StatusNotFound, "Image not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		fail(c, http.StatusNotFound, "Thumbnail not available")
		return
	}

	format := thumb.Format
	if format == "" || format == pipeline.FormatUnknown {
		format = "jpeg"
	}
	c.Data(http.StatusOK, "image/"+format, thumb.Bytes)
}

// Stats handles GET /api/stats.
func (h *ImageHandler) Stats(c *gin.Context) {
	ok(c, h.metrics.Snapshot())
}
