package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/tendant/simple-content/pkg/simplecontent"
)

// ContentService reads source images from, and writes thumbnails back to,
// an embedded simple-content service.
type ContentService struct {
	service simplecontent.Service
}

func NewContentService(service simplecontent.Service) *ContentService {
	return &ContentService{service: service}
}

func parseContentID(contentID string) (uuid.UUID, error) {
	id, err := uuid.Parse(contentID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid content ID %q: %w", contentID, err)
	}
	return id, nil
}

func (c *ContentService) GetReaderByContentID(ctx context.Context, contentID string) (io.ReadCloser, error) {
	id, err := parseContentID(contentID)
	if err != nil {
		return nil, err
	}

	reader, err := c.service.DownloadContent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to download content: %w", err)
	}
	return reader, nil
}

// GetReader implements Reader with the key taken as a content id.
func (c *ContentService) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	return c.GetReaderByContentID(ctx, key)
}

// Exists reports false for any lookup failure; the service does not
// distinguish not-found from other errors.
func (c *ContentService) Exists(ctx context.Context, key string) (bool, error) {
	id, err := parseContentID(key)
	if err != nil {
		return false, err
	}
	if _, err := c.service.GetContent(ctx, id); err != nil {
		return false, nil
	}
	return true, nil
}

func (c *ContentService) GetMetadata(ctx context.Context, key string) (*Metadata, error) {
	id, err := parseContentID(key)
	if err != nil {
		return nil, err
	}

	details, err := c.service.GetContentDetails(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get content details: %w", err)
	}
	return &Metadata{
		Size:        details.FileSize,
		ContentType: details.MimeType,
	}, nil
}

// HasDerived reports whether the parent already has an output of this
// type and version.
func (c *ContentService) HasDerived(ctx context.Context, contentID string, derivedType string, derivedVersion int) (bool, error) {
	parentID, err := parseContentID(contentID)
	if err != nil {
		return false, err
	}

	derived, err := c.service.ListDerivedContent(ctx,
		simplecontent.WithParentID(parentID),
		simplecontent.WithDerivationType(derivedType),
	)
	if err != nil {
		return false, fmt.Errorf("failed to list derived content: %w", err)
	}

	variant := DerivedVariant(derivedType, derivedVersion)
	for _, d := range derived {
		if d.DerivationType == derivedType && d.Variant == variant {
			return true, nil
		}
	}
	return false, nil
}

func (c *ContentService) PutDerived(ctx context.Context, contentID string, derivedType string, derivedVersion int, r io.Reader, meta map[string]string) (string, error) {
	parentID, err := parseContentID(contentID)
	if err != nil {
		return "", err
	}

	variant := DerivedVariant(derivedType, derivedVersion)
	content, err := c.service.UploadDerivedContent(ctx, simplecontent.UploadDerivedContentRequest{
		ParentID:       parentID,
		DerivationType: derivedType,
		Variant:        variant,
		Reader:         r,
		FileName:       derivedFileName(derivedType, meta),
		Tags:           []string{derivedType, variant},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload derived content: %w", err)
	}
	return content.ID.String(), nil
}
