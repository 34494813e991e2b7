// Package metadata reports dimensions, format and size of an image buffer.
package metadata

import (
	"github.com/tendant/simple-image-forensics/internal/codec"
	apperrors "github.com/tendant/simple-image-forensics/internal/errors"
	"github.com/tendant/simple-image-forensics/pkg/pipeline"
)

// Extract inspects only the container header. SizeBytes is len(b).
func Extract(b []byte) (pipeline.ImageMetadata, error) {
	cfg, format, err := codec.DecodeConfig(b)
	if err != nil {
		return pipeline.ImageMetadata{}, apperrors.Wrap(apperrors.KindDecode, "metadata.extract", "header inspection failed", err)
	}
	return build(cfg.Width, cfg.Height, format, len(b))
}

// FromDecoded derives the same record from an image that was already
// decoded from b.
func FromDecoded(d codec.Decoded, b []byte) (pipeline.ImageMetadata, error) {
	return build(d.Width, d.Height, d.Format, len(b))
}

func build(width, height int, format string, size int) (pipeline.ImageMetadata, error) {
	if width <= 0 || height <= 0 {
		return pipeline.ImageMetadata{}, apperrors.New(apperrors.KindMetadata, "metadata.extract", "non-positive dimensions")
	}
	if format == "" {
		format = pipeline.FormatUnknown
	}
	return pipeline.ImageMetadata{
		Width:     uint32(width),
		Height:    uint32(height),
		Format:    format,
		SizeBytes: uint64(size),
	}, nil
}
