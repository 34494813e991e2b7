// Package client is an HTTP client for the forensics API and the
// workflow endpoints.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/tendant/simple-image-forensics/pkg/pipeline"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return NewWithHTTPClient(baseURL, &http.Client{Timeout: 60 * time.Second})
}

func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
}

type envelope[T any] struct {
	Status string  `json:"status"`
	Data   T       `json:"data"`
	Error  *string `json:"error"`
}

// Image is the upload and detail payload.
type Image struct {
	ImageID      string                 `json:"image_id"`
	OriginalName string                 `json:"original_name"`
	Status       string                 `json:"status"`
	ProcessedAt  string                 `json:"processed_at"`
	Metadata     pipeline.ImageMetadata `json:"metadata"`
	ExifData     json.RawMessage        `json:"exif_data"`
	Analysis     struct {
		Caption string `json:"caption"`
	} `json:"analysis"`
	Thumbnails struct {
		Small  string `json:"small"`
		Medium string `json:"medium"`
	} `json:"thumbnails"`
	IdentityHash    string `json:"identity_hash"`
	DedupeSeenCount *int   `json:"dedupe_seen_count,omitempty"`
}

type ImageSummary struct {
	ImageID      string `json:"image_id"`
	OriginalName string `json:"original_name"`
	Status       string `json:"status"`
	ProcessedAt  string `json:"processed_at"`
	IdentityHash string `json:"identity_hash"`
}

type Stats struct {
	TotalRequests         int64   `json:"total_requests"`
	SuccessCount          int64   `json:"success_count"`
	FailureCount          int64   `json:"failure_count"`
	AverageProcessingTime float64 `json:"average_processing_time"`
}

// RunStatus mirrors GET /v1/runs/:id.
type RunStatus struct {
	RunID      string     `json:"run_id"`
	Name       string     `json:"name"`
	State      string     `json:"state"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Result     *struct {
		Success bool              `json:"success"`
		Error   string            `json:"error"`
		Outputs map[string]string `json:"outputs"`
	} `json:"result"`
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// errorMessage pulls "error" out of an envelope or plain error body.
func errorMessage(body []byte) string {
	var parsed struct {
		Error *string `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != nil {
		return *parsed.Error
	}
	return strings.TrimSpace(string(body))
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

// Upload sends one image to POST /api/images/upload.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (*Image, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, fmt.Errorf("failed to copy image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/images/upload", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var env envelope[Image]
	if err := c.do(req, &env); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

func (c *Client) List(ctx context.Context) ([]ImageSummary, error) {
	var env envelope[[]ImageSummary]
	if err := c.getJSON(ctx, "/api/images", &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

func (c *Client) Get(ctx context.Context, imageID string) (*Image, error) {
	var env envelope[Image]
	if err := c.getJSON(ctx, "/api/images/"+imageID, &env); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

// Thumbnail downloads one rendition and returns its bytes and content type.
func (c *Client) Thumbnail(ctx context.Context, imageID string, tier pipeline.Tier) ([]byte, string, error) {
	url := fmt.Sprintf("%s/api/images/%s/thumbnails/%s", c.baseURL, imageID, tier)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read thumbnail: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var env envelope[Stats]
	if err := c.getJSON(ctx, "/api/stats", &env); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

// Process triggers an ingest of stored content via POST /v1/process.
func (c *Client) Process(ctx context.Context, req pipeline.ProcessRequest) (*pipeline.ProcessResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/process", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp pipeline.ProcessResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) RunStatus(ctx context.Context, runID string) (*RunStatus, error) {
	var st RunStatus
	if err := c.getJSON(ctx, "/v1/runs/"+runID, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
