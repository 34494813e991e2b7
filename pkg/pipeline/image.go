package pipeline

import (
	"fmt"

	"github.com/tendant/simple-image-forensics/pkg/exiftree"
)

// FormatUnknown is reported when the decoder cannot name the container.
const FormatUnknown = "unknown"

// NoCaption is stored when the caption provider returns nothing.
const NoCaption = "No caption generated"

// Tier is a thumbnail size class.
type Tier string

const (
	TierSmall  Tier = "small"
	TierMedium Tier = "medium"
)

// Tiers lists every tier in ascending size.
var Tiers = []Tier{TierSmall, TierMedium}

// Ceiling returns the maximum edge length in pixels for the tier.
func (t Tier) Ceiling() int {
	switch t {
	case TierSmall:
		return 128
	case TierMedium:
		return 400
	}
	return 0
}

// DerivedType maps the tier to its simple-content derivation type.
func (t Tier) DerivedType() string {
	if t == TierSmall {
		return DerivedTypeThumbnailSmall
	}
	return DerivedTypeThumbnailMedium
}

// ParseTier accepts exactly "small" or "medium".
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierSmall, TierMedium:
		return Tier(s), nil
	}
	return "", fmt.Errorf("invalid thumbnail size: %q", s)
}

// RawImage is an uploaded buffer. It is never modified by the pipeline.
type RawImage struct {
	Bytes    []byte
	Filename string
}

// ImageMetadata describes the decoded container.
type ImageMetadata struct {
	Width     uint32 `json:"width"`
	Height    uint32 `json:"height"`
	Format    string `json:"format"`
	SizeBytes uint64 `json:"size_bytes"`
}

// Rendition is one encoded thumbnail.
type Rendition struct {
	Bytes  []byte `json:"-"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
	// Fallback is set when the source format could not be re-encoded and
	// Format holds the substitute.
	Fallback bool `json:"fallback,omitempty"`
}

// ThumbnailSet holds both tiers.
type ThumbnailSet struct {
	Small  Rendition `json:"small"`
	Medium Rendition `json:"medium"`
}

// Get returns the rendition for tier.
func (s ThumbnailSet) Get(t Tier) Rendition {
	if t == TierSmall {
		return s.Small
	}
	return s.Medium
}

// IngestionResult is the output of one successful ingestion.
type IngestionResult struct {
	IdentityHash string        `json:"identity_hash"`
	Metadata     ImageMetadata `json:"metadata"`
	Exif         exiftree.Tree `json:"exif_data"`
	Caption      string        `json:"caption"`
	Thumbnails   ThumbnailSet  `json:"thumbnails"`
}
