// Package storage adapts content sources and sinks used by the ingest workflow.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotFound is returned when a key or content id has no content behind it.
var ErrNotFound = errors.New("content not found")

// Reader provides read access to stored objects by key.
type Reader interface {
	GetReader(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Metadata describes a stored object.
type Metadata struct {
	Size        int64
	ContentType string
	ETag        string
}

// ReaderWithMetadata is a Reader that can also stat objects.
type ReaderWithMetadata interface {
	Reader
	GetMetadata(ctx context.Context, key string) (*Metadata, error)
}

// DerivedVariant names the variant a derived output is stored under,
// e.g. "thumbnail_small_v1".
func DerivedVariant(derivedType string, derivedVersion int) string {
	return fmt.Sprintf("%s_v%d", derivedType, derivedVersion)
}

func derivedFileName(derivedType string, meta map[string]string) string {
	if name := meta["file_name"]; name != "" {
		return name
	}
	return fmt.Sprintf("derived_%s.dat", derivedType)
}
