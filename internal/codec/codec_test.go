package codec

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tendant/simple-image-forensics/internal/errors"
)

func solid(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 40, B: 90, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestDecode(t *testing.T) {
	d, err := Decode(encodePNG(t, solid(30, 20)))
	require.NoError(t, err)
	assert.Equal(t, 30, d.Width)
	assert.Equal(t, 20, d.Height)
	assert.Equal(t, "png", d.Format)

	d, err = Decode(encodeJPEG(t, solid(10, 10)))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", d.Format)
}

func TestDecode_Rejects(t *testing.T) {
	full := encodePNG(t, solid(16, 16))

	tests := []struct {
		name  string
		input []byte
	}{
		{"empty", nil},
		{"text", []byte("this is definitely not an image")},
		{"truncated", full[:len(full)/2]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.input)
			require.Error(t, err)
			assert.True(t, apperrors.IsKind(err, apperrors.KindDecode), "got %v", err)
		})
	}
}

func TestDecodeConfig(t *testing.T) {
	cfg, format, err := DecodeConfig(encodeJPEG(t, solid(7, 3)))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Width)
	assert.Equal(t, 3, cfg.Height)
	assert.Equal(t, "jpeg", format)
}

func TestEncode_RoundTrip(t *testing.T) {
	for _, format := range []string{"jpeg", "png", "gif", "tiff", "bmp"} {
		t.Run(format, func(t *testing.T) {
			data, used, fallback, err := Encode(solid(12, 5), format)
			require.NoError(t, err)
			assert.Equal(t, format, used)
			assert.False(t, fallback)

			d, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, format, d.Format)
			assert.Equal(t, 12, d.Width)
			assert.Equal(t, 5, d.Height)
		})
	}
}

func TestEncode_Fallback(t *testing.T) {
	data, used, fallback, err := Encode(solid(4, 4), "webp")
	require.NoError(t, err)
	assert.Equal(t, FallbackFormat, used)
	assert.True(t, fallback)

	d, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "png", d.Format)
}

func TestCanEncode(t *testing.T) {
	assert.True(t, CanEncode("JPEG"))
	assert.True(t, CanEncode("jpg"))
	assert.False(t, CanEncode("webp"))
	assert.False(t, CanEncode(""))
}

func TestNewEncoder_QualityBounds(t *testing.T) {
	assert.Equal(t, DefaultJPEGQuality, NewEncoder(0).JPEGQuality)
	assert.Equal(t, DefaultJPEGQuality, NewEncoder(101).JPEGQuality)
	assert.Equal(t, 75, NewEncoder(75).JPEGQuality)
}
