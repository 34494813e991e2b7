// Package thumbnail renders the small and medium renditions of an upload.
package thumbnail

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"github.com/tendant/simple-image-forensics/internal/codec"
	apperrors "github.com/tendant/simple-image-forensics/internal/errors"
	"github.com/tendant/simple-image-forensics/pkg/pipeline"
)

// FallbackFunc observes a rendition that was encoded in a substitute format.
type FallbackFunc func(tier pipeline.Tier, sourceFormat, usedFormat string)

// Generator produces a ThumbnailSet from image bytes.
type Generator struct {
	encoder    *codec.Encoder
	logger     zerolog.Logger
	onFallback FallbackFunc
}

// Option configures a Generator.
type Option func(*Generator)

// WithFallbackHook registers fn to be called for every fallback rendition.
func WithFallbackHook(fn FallbackFunc) Option {
	return func(g *Generator) { g.onFallback = fn }
}

// NewGenerator creates a generator. A nil encoder selects the default JPEG
// quality.
func NewGenerator(encoder *codec.Encoder, logger zerolog.Logger, opts ...Option) *Generator {
	if encoder == nil {
		encoder = codec.NewEncoder(codec.DefaultJPEGQuality)
	}
	g := &Generator{
		encoder: encoder,
		logger:  logger.With().Str("component", "thumbnail").Logger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Fit returns the output dimensions for a width x height source under
// ceiling. The source is never upscaled and each side is at least 1.
func Fit(width, height, ceiling int) (int, int) {
	longest := max(width, height)
	scale := 1.0
	if longest > ceiling {
		scale = float64(ceiling) / float64(longest)
	}
	w := int(math.Round(float64(width) * scale))
	h := int(math.Round(float64(height) * scale))
	return max(w, 1), max(h, 1)
}

// Generate decodes b and renders both tiers.
func (g *Generator) Generate(b []byte) (pipeline.ThumbnailSet, error) {
	d, err := codec.Decode(b)
	if err != nil {
		return pipeline.ThumbnailSet{}, err
	}
	return g.GenerateFromDecoded(d)
}

// GenerateFromDecoded renders both tiers from an already decoded image.
func (g *Generator) GenerateFromDecoded(d codec.Decoded) (pipeline.ThumbnailSet, error) {
	if d.Image == nil {
		return pipeline.ThumbnailSet{}, apperrors.New(apperrors.KindDecode, "thumbnail.generate", "no decoded image")
	}

	var set pipeline.ThumbnailSet
	for _, tier := range pipeline.Tiers {
		r, err := g.render(d, tier)
		if err != nil {
			return pipeline.ThumbnailSet{}, err
		}
		if tier == pipeline.TierSmall {
			set.Small = r
		} else {
			set.Medium = r
		}
	}
	return set, nil
}

func (g *Generator) render(d codec.Decoded, tier pipeline.Tier) (pipeline.Rendition, error) {
	w, h := Fit(d.Width, d.Height, tier.Ceiling())

	var img *image.NRGBA
	if w == d.Width && h == d.Height {
		img = imaging.Clone(d.Image)
	} else {
		img = imaging.Resize(d.Image, w, h, imaging.Lanczos)
	}

	data, used, fallback, err := g.encoder.Encode(img, d.Format)
	if err != nil {
		return pipeline.Rendition{}, apperrors.Wrap(apperrors.KindThumbnail, "thumbnail.encode", string(tier)+" rendition", err)
	}

	if fallback {
		g.logger.Warn().
			Str("tier", string(tier)).
			Str("source_format", d.Format).
			Str("used_format", used).
			Msg("Encoding fallback applied")
		if g.onFallback != nil {
			g.onFallback(tier, d.Format, used)
		}
	}

	return pipeline.Rendition{
		Bytes:    data,
		Width:    w,
		Height:   h,
		Format:   used,
		Fallback: fallback,
	}, nil
}
