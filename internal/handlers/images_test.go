package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-image-forensics/internal/caption"
	"github.com/tendant/simple-image-forensics/internal/dedupe"
	apperrors "github.com/tendant/simple-image-forensics/internal/errors"
	"github.com/tendant/simple-image-forensics/internal/ingest"
	"github.com/tendant/simple-image-forensics/internal/metrics"
	"github.com/tendant/simple-image-forensics/internal/records"
	"github.com/tendant/simple-image-forensics/internal/thumbnail"
	"github.com/tendant/simple-image-forensics/pkg/pipeline"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testAPI struct {
	router  *gin.Engine
	store   *records.Store
	metrics *metrics.Metrics
}

func newTestAPI(t *testing.T, ing Ingester, maxUpload int64) *testAPI {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers-%d?mode=memory&cache=shared", time.Now().UnixNano())
	store, err := records.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	if ing == nil {
		ing = ingest.New(thumbnail.NewGenerator(nil, zerolog.Nop()), caption.Static("a gradient"), zerolog.Nop())
	}
	m := metrics.New()
	images := NewImageHandler(ing, store, dedupe.NewMemoryTracker(), m, ImageHandlerConfig{
		PublicBaseURL:  "http://localhost:8080/",
		MaxUploadBytes: maxUpload,
	}, zerolog.Nop())

	router := NewRouter(Options{
		Images:      images,
		Metrics:     m.Handler(),
		CORSOrigins: []string{"*"},
		Logger:      zerolog.Nop(),
	})
	return &testAPI{router: router, store: store, metrics: m}
}

func (a *testAPI) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, field, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/images/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func gradientPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type uploadBody struct {
	Status string  `json:"status"`
	Error  *string `json:"error"`
	Data   struct {
		ImageID      string `json:"image_id"`
		OriginalName string `json:"original_name"`
		ProcessedAt  string `json:"processed_at"`
		Metadata     struct {
			Width     int    `json:"width"`
			Height    int    `json:"height"`
			Format    string `json:"format"`
			SizeBytes int    `json:"size_bytes"`
		} `json:"metadata"`
		ExifData json.RawMessage `json:"exif_data"`
		Analysis struct {
			Caption string `json:"caption"`
		} `json:"analysis"`
		Thumbnails struct {
			Small  string `json:"small"`
			Medium string `json:"medium"`
		} `json:"thumbnails"`
		DedupeSeenCount int `json:"dedupe_seen_count"`
	} `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestUpload_PNGRoundTrip(t *testing.T) {
	api := newTestAPI(t, nil, 0)
	src := gradientPNG(t, 1000, 500)

	rec := api.do(uploadRequest(t, "image", "wide.png", src))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body uploadBody
	decode(t, rec, &body)
	assert.Equal(t, "success", body.Status)
	assert.Nil(t, body.Error)
	assert.Regexp(t, `^img_[0-9a-f]{8}$`, body.Data.ImageID)
	assert.Equal(t, "wide.png", body.Data.OriginalName)
	assert.Regexp(t, `Z$`, body.Data.ProcessedAt)
	assert.Equal(t, 1000, body.Data.Metadata.Width)
	assert.Equal(t, 500, body.Data.Metadata.Height)
	assert.Equal(t, "png", body.Data.Metadata.Format)
	assert.Equal(t, len(src), body.Data.Metadata.SizeBytes)
	assert.JSONEq(t, "null", string(body.Data.ExifData))
	assert.Equal(t, "a gradient", body.Data.Analysis.Caption)
	assert.Equal(t, 1, body.Data.DedupeSeenCount)
	assert.Equal(t, "http://localhost:8080/api/images/"+body.Data.ImageID+"/thumbnails/small", body.Data.Thumbnails.Small)

	thumb := api.do(httptest.NewRequest(http.MethodGet, "/api/images/"+body.Data.ImageID+"/thumbnails/medium", nil))
	require.Equal(t, http.StatusOK, thumb.Code)
	assert.Equal(t, "image/png", thumb.Header().Get("Content-Type"))
	cfg, err := png.DecodeConfig(bytes.NewReader(thumb.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 400, cfg.Width)
	assert.Equal(t, 200, cfg.Height)

	again := api.do(uploadRequest(t, "image", "wide-again.png", src))
	require.Equal(t, http.StatusOK, again.Code)
	var second uploadBody
	decode(t, again, &second)
	assert.Equal(t, 2, second.Data.DedupeSeenCount)
	assert.NotEqual(t, body.Data.ImageID, second.Data.ImageID)
}

func TestUpload_NotAnImage(t *testing.T) {
	api := newTestAPI(t, nil, 0)

	rec := api.do(uploadRequest(t, "image", "notes.txt", []byte("definitely not pixels")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var env Envelope
	decode(t, rec, &env)
	assert.Equal(t, "failure", env.Status)
	require.NotNil(t, env.Error)
	assert.Nil(t, env.Data)

	list := api.do(httptest.NewRequest(http.MethodGet, "/api/images", nil))
	assert.JSONEq(t, `{"status":"success","data":[],"error":null}`, list.Body.String())

	stats := api.metrics.Snapshot()
	assert.Equal(t, int64(1), stats.FailureCount)
	assert.Equal(t, int64(0), stats.SuccessCount)
}

type failingIngester struct{ err error }

func (f failingIngester) Ingest(context.Context, pipeline.RawImage) (*pipeline.IngestionResult, error) {
	return nil, f.err
}

func TestUpload_CaptionFailureIsServerError(t *testing.T) {
	err := apperrors.New(apperrors.KindCaption, "ingest.caption", "provider unavailable")
	api := newTestAPI(t, failingIngester{err: err}, 0)

	rec := api.do(uploadRequest(t, "image", "x.png", gradientPNG(t, 4, 4)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUpload_MissingField(t *testing.T) {
	api := newTestAPI(t, nil, 0)
	rec := api.do(uploadRequest(t, "file", "x.png", gradientPNG(t, 4, 4)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	stats := api.metrics.Snapshot()
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.FailureCount)
}

func TestUpload_TooLarge(t *testing.T) {
	api := newTestAPI(t, nil, 1024)
	rec := api.do(uploadRequest(t, "image", "big.png", bytes.Repeat([]byte{0xAB}, 8192)))
	assert.NotEqual(t, http.StatusOK, rec.Code)

	var env Envelope
	decode(t, rec, &env)
	assert.Equal(t, "failure", env.Status)

	stats := api.metrics.Snapshot()
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.FailureCount)
}

func TestGetImage(t *testing.T) {
	api := newTestAPI(t, nil, 0)

	up := api.do(uploadRequest(t, "image", "wide.png", gradientPNG(t, 300, 100)))
	require.Equal(t, http.StatusOK, up.Code)
	var body uploadBody
	decode(t, up, &body)

	rec := api.do(httptest.NewRequest(http.MethodGet, "/api/images/"+body.Data.ImageID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var details struct {
		Status string `json:"status"`
		Data   struct {
			ImageID  string `json:"image_id"`
			Status   string `json:"status"`
			Metadata struct {
				Width int `json:"width"`
			} `json:"metadata"`
			Analysis struct {
				Caption string `json:"caption"`
			} `json:"analysis"`
		} `json:"data"`
	}
	decode(t, rec, &details)
	assert.Equal(t, "success", details.Status)
	assert.Equal(t, body.Data.ImageID, details.Data.ImageID)
	assert.Equal(t, "processed", details.Data.Status)
	assert.Equal(t, 300, details.Data.Metadata.Width)
	assert.Equal(t, "a gradient", details.Data.Analysis.Caption)

	missing := api.do(httptest.NewRequest(http.MethodGet, "/api/images/img_00000000", nil))
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestThumbnailErrors(t *testing.T) {
	api := newTestAPI(t, nil, 0)

	up := api.do(uploadRequest(t, "image", "sq.png", gradientPNG(t, 50, 50)))
	require.Equal(t, http.StatusOK, up.Code)
	var body uploadBody
	decode(t, up, &body)

	tests := []struct {
		name string
		path string
		code int
	}{
		{"unknown image", "/api/images/img_deadbeef/thumbnails/small", http.StatusNotFound},
		{"unknown image and bad size", "/api/images/img_deadbeef/thumbnails/huge", http.StatusNotFound},
		{"bad size", "/api/images/" + body.Data.ImageID + "/thumbnails/huge", http.StatusBadRequest},
		{"small", "/api/images/" + body.Data.ImageID + "/thumbnails/small", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestStatsHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t, nil, 0)
	require.Equal(t, http.StatusOK, api.do(uploadRequest(t, "image", "a.png", gradientPNG(t, 10, 10))).Code)

	rec := api.do(httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		Status string        `json:"status"`
		Data   metrics.Stats `json:"data"`
	}
	decode(t, rec, &stats)
	assert.Equal(t, int64(1), stats.Data.TotalRequests)
	assert.Equal(t, int64(1), stats.Data.SuccessCount)
	assert.Greater(t, stats.Data.AverageProcessingTime, 0.0)

	health := api.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.JSONEq(t, `{"status":"healthy"}`, health.Body.String())

	prom := api.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, prom.Code)
	assert.Contains(t, prom.Body.String(), `ingest_requests_total{outcome="success"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	api := newTestAPI(t, nil, 0)
	req := httptest.NewRequest(http.MethodOptions, "/api/images", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")

	rec := api.do(req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
