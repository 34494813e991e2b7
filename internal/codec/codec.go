// Package codec decodes uploaded image bytes and re-encodes renditions.
package codec

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/tiff" // Register TIFF decoder
	_ "golang.org/x/image/webp" // Register WebP decoder

	apperrors "github.com/tendant/simple-image-forensics/internal/errors"
	"github.com/tendant/simple-image-forensics/pkg/pipeline"
)

// MaxPixels bounds width*height accepted by Decode.
const MaxPixels = 100_000_000

// FallbackFormat is used for sources whose format has no encoder.
const FallbackFormat = "png"

const DefaultJPEGQuality = 90

// Decoded is a fully decoded image plus what the decoder reported about it.
type Decoded struct {
	Image  image.Image
	Width  int
	Height int
	Format string
}

var encoders = map[string]imaging.Format{
	"jpeg": imaging.JPEG,
	"png":  imaging.PNG,
	"gif":  imaging.GIF,
	"tiff": imaging.TIFF,
	"bmp":  imaging.BMP,
}

// CanEncode reports whether format has an encoder.
func CanEncode(format string) bool {
	_, ok := encoders[normalizeFormat(format)]
	return ok
}

// DecodeConfig reads only the container header.
func DecodeConfig(b []byte) (image.Config, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return image.Config{}, "", apperrors.Wrap(apperrors.KindDecode, "codec.decode_config", "unrecognised image container", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return image.Config{}, "", apperrors.New(apperrors.KindDecode, "codec.decode_config",
			fmt.Sprintf("invalid dimensions %dx%d", cfg.Width, cfg.Height))
	}
	return cfg, normalizeFormat(format), nil
}

// Decode fully decodes b. The header is checked first so oversized images
// are rejected before pixel buffers are allocated.
func Decode(b []byte) (Decoded, error) {
	cfg, _, err := DecodeConfig(b)
	if err != nil {
		return Decoded{}, err
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return Decoded{}, apperrors.New(apperrors.KindDecode, "codec.decode",
			fmt.Sprintf("image too large: %dx%d", cfg.Width, cfg.Height))
	}

	img, format, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return Decoded{}, apperrors.Wrap(apperrors.KindDecode, "codec.decode", "image decode failed", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return Decoded{}, apperrors.New(apperrors.KindDecode, "codec.decode", "decoded image is empty")
	}

	return Decoded{
		Image:  img,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Format: normalizeFormat(format),
	}, nil
}

// Encoder serializes images into a container format.
type Encoder struct {
	JPEGQuality int
}

// NewEncoder returns an Encoder with the given JPEG quality. Values outside
// 1..100 select DefaultJPEGQuality.
func NewEncoder(jpegQuality int) *Encoder {
	if jpegQuality < 1 || jpegQuality > 100 {
		jpegQuality = DefaultJPEGQuality
	}
	return &Encoder{JPEGQuality: jpegQuality}
}

// Encode writes img in format. When format has no encoder the image is
// written as FallbackFormat and fallback is true.
func (e *Encoder) Encode(img image.Image, format string) (data []byte, usedFormat string, fallback bool, err error) {
	usedFormat = normalizeFormat(format)
	target, ok := encoders[usedFormat]
	if !ok {
		usedFormat = FallbackFormat
		target = encoders[FallbackFormat]
		fallback = true
	}

	quality := e.JPEGQuality
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, target, imaging.JPEGQuality(quality)); err != nil {
		return nil, "", false, apperrors.Wrap(apperrors.KindThumbnail, "codec.encode",
			fmt.Sprintf("encode %s failed", usedFormat), err)
	}
	return buf.Bytes(), usedFormat, fallback, nil
}

// Encode uses an Encoder with DefaultJPEGQuality.
func Encode(img image.Image, format string) ([]byte, string, bool, error) {
	return NewEncoder(DefaultJPEGQuality).Encode(img, format)
}

func normalizeFormat(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case "":
		return pipeline.FormatUnknown
	case "jpg":
		return "jpeg"
	case "tif":
		return "tiff"
	}
	return format
}
