package workflows

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/tendant/simple-image-forensics/internal/dedupe"
	"github.com/tendant/simple-image-forensics/internal/hasher"
	"github.com/tendant/simple-image-forensics/internal/ingest"
	"github.com/tendant/simple-image-forensics/internal/storage"
	"github.com/tendant/simple-image-forensics/pkg/pipeline"
)

// DefaultMaxSourceBytes caps how much of a source object is read.
const DefaultMaxSourceBytes = 64 << 20

// ContentReader interface for reading content
type ContentReader interface {
	GetReaderByContentID(ctx context.Context, contentID string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// DerivedWriter interface for writing derived content
type DerivedWriter interface {
	HasDerived(ctx context.Context, contentID string, derivedType string, derivedVersion int) (bool, error)
	PutDerived(ctx context.Context, contentID string, derivedType string, derivedVersion int, r io.Reader, meta map[string]string) (string, error)
}

// RecordSaver persists an ingestion result and returns the image id.
type RecordSaver interface {
	Save(ctx context.Context, result *pipeline.IngestionResult, filename string, processedAt time.Time) (string, error)
}

// IngestObserver receives the outcome and duration of each run.
type IngestObserver interface {
	ObserveIngest(outcome string, d time.Duration)
}

// IngestWorkflow pulls a stored image, runs the forensics pipeline on it,
// records the result and writes both thumbnails back as derived content.
type IngestWorkflow struct {
	contentReader ContentReader
	derivedWriter DerivedWriter
	orchestrator  *ingest.Orchestrator
	records       RecordSaver
	tracker       dedupe.Tracker
	objects       storage.Reader
	observer      IngestObserver
	maxBytes      int64
	now           func() time.Time
	logger        zerolog.Logger
}

type IngestOption func(*IngestWorkflow)

// WithObjectReader serves requests that carry an object_key.
func WithObjectReader(r storage.Reader) IngestOption {
	return func(w *IngestWorkflow) { w.objects = r }
}

func WithDedupeTracker(t dedupe.Tracker) IngestOption {
	return func(w *IngestWorkflow) { w.tracker = t }
}

func WithObserver(o IngestObserver) IngestOption {
	return func(w *IngestWorkflow) { w.observer = o }
}

func WithMaxSourceBytes(n int64) IngestOption {
	return func(w *IngestWorkflow) {
		if n > 0 {
			w.maxBytes = n
		}
	}
}

func NewIngestWorkflow(
	contentReader ContentReader,
	derivedWriter DerivedWriter,
	orchestrator *ingest.Orchestrator,
	records RecordSaver,
	logger zerolog.Logger,
	opts ...IngestOption,
) *IngestWorkflow {
	w := &IngestWorkflow{
		contentReader: contentReader,
		derivedWriter: derivedWriter,
		orchestrator:  orchestrator,
		records:       records,
		maxBytes:      DefaultMaxSourceBytes,
		now:           time.Now,
		logger:        logger.With().Str("workflow", "IngestWorkflow").Logger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *IngestWorkflow) Name() string {
	return "IngestWorkflow"
}

func (w *IngestWorkflow) Execute(wctx *WorkflowContext) (*WorkflowResult, error) {
	start := w.now()
	result, err := w.execute(wctx)

	outcome := "success"
	if err != nil || result == nil || !result.Success {
		outcome = "failure"
	}
	if w.observer != nil {
		w.observer.ObserveIngest(outcome, w.now().Sub(start))
	}
	return result, err
}

func (w *IngestWorkflow) execute(wctx *WorkflowContext) (*WorkflowResult, error) {
	ctx := wctx.Ctx
	req := wctx.Request
	log := w.logger.With().Str("run_id", wctx.RunID).Str("content_id", req.ContentID).Logger()

	log.Info().Str("object_key", req.ObjectKey).Msg("Starting ingest workflow")

	versions, err := w.validateRequest(&req)
	if err != nil {
		log.Warn().Err(err).Msg("Validation failed")
		return failed(err), err
	}

	// Skip when every derived output at these versions already exists.
	pending := make([]pipeline.Tier, 0, len(pipeline.Tiers))
	if req.ContentID != "" {
		for _, tier := range pipeline.Tiers {
			has, err := w.derivedWriter.HasDerived(ctx, req.ContentID, tier.DerivedType(), versions[tier])
			if err != nil {
				log.Warn().Err(err).Str("tier", string(tier)).Msg("Failed to check derived content")
			}
			if err != nil || !has {
				pending = append(pending, tier)
			}
		}
		if len(pending) == 0 {
			log.Info().Msg("Derived content already exists, skipping")
			return &WorkflowResult{
				Success: true,
				Outputs: map[string]string{
					"content_id": req.ContentID,
					"skipped":    "true",
				},
			}, nil
		}
	}

	data, found, err := w.download(ctx, &req)
	if err != nil {
		log.Error().Err(err).Msg("Failed to download source content")
		return failed(err), err
	}
	if !found {
		err := fmt.Errorf("source content not found: %s", sourceName(&req))
		log.Warn().Msg("Source content not found")
		return failed(err), nil
	}
	log.Debug().Int("size_bytes", len(data)).Msg("Source content downloaded")

	if req.ContentHash != nil && *req.ContentHash != "" {
		if got := hasher.Sum(data); got != *req.ContentHash {
			err := fmt.Errorf("%w: content hash mismatch (expected %s, got %s)", ErrInvalidRequest, *req.ContentHash, got)
			log.Warn().Err(err).Msg("Content hash mismatch")
			return failed(err), err
		}
	}

	filename := req.Metadata["file_name"]
	if filename == "" {
		filename = sourceName(&req)
	}

	res, err := w.orchestrator.IngestWithRunID(ctx, wctx.RunID, pipeline.RawImage{Bytes: data, Filename: filename})
	if err != nil {
		return failed(err), err
	}

	outputs := map[string]string{
		"content_id":    req.ContentID,
		"identity_hash": res.IdentityHash,
		"caption":       res.Caption,
	}

	// Derived outputs go first; the record and dedupe entry are only
	// written once nothing else can fail, so a failed run leaves neither.
	if req.ContentID != "" {
		for _, tier := range pending {
			derivedID, err := w.putThumbnail(ctx, req.ContentID, tier, versions[tier], res.Thumbnails.Get(tier))
			if err != nil {
				log.Error().Err(err).Str("tier", string(tier)).Msg("Failed to write derived content")
				return failed(err), err
			}
			outputs[tier.DerivedType()+"_id"] = derivedID
			log.Info().Str("tier", string(tier)).Str("derived_id", derivedID).Msg("Derived content written")
		}
	}

	imageID, err := w.records.Save(ctx, res, filename, w.now())
	if err != nil {
		log.Error().Err(err).Msg("Failed to save image record")
		return failed(err), err
	}
	log = log.With().Str("image_id", imageID).Logger()
	outputs["image_id"] = imageID

	if w.tracker != nil {
		seen, err := w.tracker.Record(ctx, res.IdentityHash, pipeline.PipelineName, pipeline.PipelineVersion)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to record dedupe entry")
		} else {
			outputs["dedupe_seen_count"] = strconv.Itoa(seen)
		}
	}

	log.Info().Msg("Ingest workflow completed")
	return &WorkflowResult{Success: true, Outputs: outputs}, nil
}

// validateRequest checks the source fields and resolves per-tier versions.
// Missing versions default to the pipeline version.
func (w *IngestWorkflow) validateRequest(req *pipeline.ProcessRequest) (map[pipeline.Tier]int, error) {
	if req.ContentID == "" && req.ObjectKey == "" {
		return nil, fmt.Errorf("%w: content_id or object_key is required", ErrInvalidRequest)
	}
	if req.ContentID == "" && w.objects == nil {
		return nil, fmt.Errorf("%w: object_key given but no object storage configured", ErrInvalidRequest)
	}

	versions := make(map[pipeline.Tier]int, len(pipeline.Tiers))
	for _, tier := range pipeline.Tiers {
		v, ok := req.Versions[tier.DerivedType()]
		if !ok {
			v = pipeline.PipelineVersion
		}
		if v < 1 {
			return nil, fmt.Errorf("%w: invalid %s version: %d", ErrInvalidRequest, tier.DerivedType(), v)
		}
		versions[tier] = v
	}
	return versions, nil
}

// download reads the source from object storage when an object key is
// given, and from the content service otherwise.
func (w *IngestWorkflow) download(ctx context.Context, req *pipeline.ProcessRequest) ([]byte, bool, error) {
	var (
		exists bool
		err    error
		open   func() (io.ReadCloser, error)
	)
	if req.ObjectKey != "" && w.objects != nil {
		exists, err = w.objects.Exists(ctx, req.ObjectKey)
		open = func() (io.ReadCloser, error) { return w.objects.GetReader(ctx, req.ObjectKey) }
	} else {
		exists, err = w.contentReader.Exists(ctx, req.ContentID)
		open = func() (io.ReadCloser, error) { return w.contentReader.GetReaderByContentID(ctx, req.ContentID) }
	}
	if err != nil {
		return nil, false, fmt.Errorf("content check failed: %w", err)
	}
	if !exists {
		return nil, false, nil
	}

	rc, err := open()
	if err != nil {
		return nil, false, fmt.Errorf("download failed: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, w.maxBytes+1))
	if err != nil {
		return nil, false, fmt.Errorf("read failed: %w", err)
	}
	if int64(len(data)) > w.maxBytes {
		return nil, false, fmt.Errorf("%w: source exceeds %d bytes", ErrInvalidRequest, w.maxBytes)
	}
	return data, true, nil
}

func (w *IngestWorkflow) putThumbnail(ctx context.Context, contentID string, tier pipeline.Tier, version int, r pipeline.Rendition) (string, error) {
	meta := map[string]string{
		"file_name": fmt.Sprintf("%s_v%d.%s", tier.DerivedType(), version, r.Format),
		"width":     strconv.Itoa(r.Width),
		"height":    strconv.Itoa(r.Height),
		"mime_type": "image/" + r.Format,
	}
	return w.derivedWriter.PutDerived(ctx, contentID, tier.DerivedType(), version, bytes.NewReader(r.Bytes), meta)
}

func sourceName(req *pipeline.ProcessRequest) string {
	if req.ObjectKey != "" {
		return req.ObjectKey
	}
	return req.ContentID
}
