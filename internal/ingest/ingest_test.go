package ingest

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-image-forensics/internal/caption"
	"github.com/tendant/simple-image-forensics/internal/codec"
	apperrors "github.com/tendant/simple-image-forensics/internal/errors"
	"github.com/tendant/simple-image-forensics/internal/hasher"
	"github.com/tendant/simple-image-forensics/internal/thumbnail"
	"github.com/tendant/simple-image-forensics/pkg/pipeline"
)

func newOrchestrator(c caption.Captioner) *Orchestrator {
	return New(thumbnail.NewGenerator(nil, zerolog.Nop()), c, zerolog.Nop())
}

func solidJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 220, 30, 30, 255
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func widePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 60, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestIngest_SmallJPEGWithoutExif(t *testing.T) {
	b := solidJPEG(t, 10, 10)

	res, err := newOrchestrator(caption.Static("a red square")).Ingest(context.Background(), pipeline.RawImage{Bytes: b, Filename: "red.jpg"})
	require.NoError(t, err)

	assert.Equal(t, pipeline.ImageMetadata{Width: 10, Height: 10, Format: "jpeg", SizeBytes: uint64(len(b))}, res.Metadata)
	assert.True(t, res.Exif.IsAbsent())
	assert.Equal(t, hasher.Sum(b), res.IdentityHash)
	assert.Equal(t, "a red square", res.Caption)

	for _, r := range []pipeline.Rendition{res.Thumbnails.Small, res.Thumbnails.Medium} {
		assert.Equal(t, 10, r.Width)
		assert.Equal(t, 10, r.Height)
		assert.Equal(t, "jpeg", r.Format)
	}
}

func TestIngest_WidePNG(t *testing.T) {
	res, err := newOrchestrator(nil).Ingest(context.Background(), pipeline.RawImage{Bytes: widePNG(t, 1000, 500)})
	require.NoError(t, err)

	small, err := codec.Decode(res.Thumbnails.Small.Bytes)
	require.NoError(t, err)
	assert.Equal(t, [3]any{128, 64, "png"}, [3]any{small.Width, small.Height, small.Format})

	medium, err := codec.Decode(res.Thumbnails.Medium.Bytes)
	require.NoError(t, err)
	assert.Equal(t, [3]any{400, 200, "png"}, [3]any{medium.Width, medium.Height, medium.Format})

	assert.Equal(t, pipeline.NoCaption, res.Caption)
}

func TestIngest_NotAnImage(t *testing.T) {
	called := false
	c := caption.Func(func(ctx context.Context, img codec.Decoded) (string, error) {
		called = true
		return "unused", nil
	})

	res, err := newOrchestrator(c).Ingest(context.Background(), pipeline.RawImage{Bytes: []byte("just some text\n")})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, apperrors.IsKind(err, apperrors.KindDecode))
	assert.Equal(t, "ingest.decode", apperrors.OpOf(err))
	assert.False(t, called)
}

func TestIngest_CaptionFailure(t *testing.T) {
	boom := errors.New("model unavailable")
	c := caption.Func(func(ctx context.Context, img codec.Decoded) (string, error) {
		return "", boom
	})

	res, err := newOrchestrator(c).Ingest(context.Background(), pipeline.RawImage{Bytes: solidJPEG(t, 20, 20)})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, apperrors.IsKind(err, apperrors.KindCaption))
	assert.Equal(t, "ingest.caption", apperrors.OpOf(err))
	assert.ErrorIs(t, err, boom)
}

func TestIngest_BlankCaptionUsesFallback(t *testing.T) {
	res, err := newOrchestrator(caption.Static("   ")).Ingest(context.Background(), pipeline.RawImage{Bytes: solidJPEG(t, 8, 8)})
	require.NoError(t, err)
	assert.Equal(t, pipeline.NoCaption, res.Caption)
}

func TestIngest_CancellationReachesCaption(t *testing.T) {
	started := make(chan struct{})
	c := caption.Func(func(ctx context.Context, img codec.Decoded) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := newOrchestrator(c).Ingest(ctx, pipeline.RawImage{Bytes: solidJPEG(t, 16, 16)})
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.True(t, apperrors.IsKind(err, apperrors.KindCaption))
	case <-time.After(5 * time.Second):
		t.Fatal("ingest did not return after cancellation")
	}
}

func TestIngest_ConcurrentCallsAreIndependent(t *testing.T) {
	o := newOrchestrator(caption.Static("ok"))
	inputs := [][]byte{solidJPEG(t, 12, 9), widePNG(t, 300, 150), solidJPEG(t, 640, 480), widePNG(t, 50, 500)}

	var wg sync.WaitGroup
	results := make([]*pipeline.IngestionResult, len(inputs))
	errs := make([]error, len(inputs))
	for i, b := range inputs {
		wg.Add(1)
		go func(i int, b []byte) {
			defer wg.Done()
			results[i], errs[i] = o.Ingest(context.Background(), pipeline.RawImage{Bytes: b})
		}(i, b)
	}
	wg.Wait()

	for i, b := range inputs {
		require.NoError(t, errs[i])
		assert.Equal(t, hasher.Sum(b), results[i].IdentityHash)
		assert.Equal(t, uint64(len(b)), results[i].Metadata.SizeBytes)
	}
}
