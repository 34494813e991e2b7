package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPContentService talks to a remote simple-content server.
type HTTPContentService struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPContentService(baseURL string) *HTTPContentService {
	return &HTTPContentService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *HTTPContentService) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.httpClient.Do(req)
}

func (c *HTTPContentService) GetReaderByContentID(ctx context.Context, contentID string) (io.ReadCloser, error) {
	resp, err := c.get(ctx, "/api/v1/contents/"+contentID+"/download")
	if err != nil {
		return nil, fmt.Errorf("failed to download content: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, contentID)
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}
}

func (c *HTTPContentService) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	return c.GetReaderByContentID(ctx, key)
}

func (c *HTTPContentService) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := c.get(ctx, "/api/v1/contents/"+key)
	if err != nil {
		return false, fmt.Errorf("failed to check content: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
}

type derivedListItem struct {
	DerivationType string `json:"derivation_type"`
	Variant        string `json:"variant"`
}

func (c *HTTPContentService) HasDerived(ctx context.Context, contentID string, derivedType string, derivedVersion int) (bool, error) {
	resp, err := c.get(ctx, "/api/v1/contents/"+contentID+"/derived")
	if err != nil {
		return false, fmt.Errorf("failed to list derived content: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("list derived failed with status %d", resp.StatusCode)
	}

	var items []derivedListItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return false, fmt.Errorf("failed to decode derived list: %w", err)
	}

	variant := DerivedVariant(derivedType, derivedVersion)
	for _, d := range items {
		if d.DerivationType == derivedType && d.Variant == variant {
			return true, nil
		}
	}
	return false, nil
}

type putDerivedRequest struct {
	ParentID        string   `json:"parent_id"`
	DerivationType  string   `json:"derivation_type"`
	Variant         string   `json:"variant"`
	FileName        string   `json:"file_name"`
	MimeType        string   `json:"mime_type,omitempty"`
	Tags            []string `json:"tags"`
	ContentData     string   `json:"content_data"`
	ContentEncoding string   `json:"content_encoding"`
}

// PutDerived posts the output base64-encoded so binary thumbnails survive
// the JSON body.
func (c *HTTPContentService) PutDerived(ctx context.Context, contentID string, derivedType string, derivedVersion int, r io.Reader, meta map[string]string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read content: %w", err)
	}

	variant := DerivedVariant(derivedType, derivedVersion)
	body, err := json.Marshal(putDerivedRequest{
		ParentID:        contentID,
		DerivationType:  derivedType,
		Variant:         variant,
		FileName:        derivedFileName(derivedType, meta),
		MimeType:        meta["mime_type"],
		Tags:            []string{derivedType, variant},
		ContentData:     base64.StdEncoding.EncodeToString(data),
		ContentEncoding: "base64",
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/api/v1/contents/" + contentID + "/derived"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to create derived content: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("create derived failed with status %d: %s", resp.StatusCode, string(msg))
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("no ID in response")
	}
	return created.ID, nil
}
