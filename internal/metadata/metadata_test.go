package metadata

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-image-forensics/internal/codec"
	apperrors "github.com/tendant/simple-image-forensics/internal/errors"
)

func TestExtract(t *testing.T) {
	var jpg bytes.Buffer
	require.NoError(t, jpeg.Encode(&jpg, image.NewRGBA(image.Rect(0, 0, 10, 10)), nil))

	var pngBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, image.NewNRGBA(image.Rect(0, 0, 1000, 500))))

	tests := []struct {
		name   string
		input  []byte
		width  uint32
		height uint32
		format string
	}{
		{"jpeg", jpg.Bytes(), 10, 10, "jpeg"},
		{"png", pngBuf.Bytes(), 1000, 500, "png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md, err := Extract(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.width, md.Width)
			assert.Equal(t, tt.height, md.Height)
			assert.Equal(t, tt.format, md.Format)
			assert.Equal(t, uint64(len(tt.input)), md.SizeBytes)
		})
	}
}

func TestExtract_NotAnImage(t *testing.T) {
	_, err := Extract([]byte("plain text, no magic bytes"))
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindDecode))
}

func TestFromDecoded_MatchesExtract(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 33, 17))))

	d, err := codec.Decode(buf.Bytes())
	require.NoError(t, err)

	fromDecoded, err := FromDecoded(d, buf.Bytes())
	require.NoError(t, err)
	fromHeader, err := Extract(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, fromHeader, fromDecoded)
}

func TestFromDecoded_RejectsEmpty(t *testing.T) {
	_, err := FromDecoded(codec.Decoded{Format: "png"}, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindMetadata))
}
