package records

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/tendant/simple-image-forensics/pkg/exiftree"
	"github.com/tendant/simple-image-forensics/pkg/pipeline"
)

// StatusProcessed is the only status a stored record can have.
const StatusProcessed = "processed"

// ImageRecord is one row of the images table.
type ImageRecord struct {
	ID           uint   `gorm:"primaryKey"`
	ImageID      string `gorm:"uniqueIndex;size:32;not null"`
	Status       string `gorm:"size:32"`
	OriginalName string
	ProcessedAt  string `gorm:"size:32"` // RFC3339, UTC
	Width        uint32
	Height       uint32
	Format       string `gorm:"size:16"`
	SizeBytes    uint64
	IdentityHash string `gorm:"index;size:64"`
	Caption      string `gorm:"type:text"`
	// NULL when the image carried no EXIF.
	Exif datatypes.JSON

	ThumbSmall        []byte
	ThumbSmallFormat  string `gorm:"size:16"`
	ThumbMedium       []byte
	ThumbMediumFormat string `gorm:"size:16"`

	CreatedAt time.Time
}

func (ImageRecord) TableName() string { return "images" }

// Metadata returns the stored image metadata.
func (r *ImageRecord) Metadata() pipeline.ImageMetadata {
	return pipeline.ImageMetadata{
		Width:     r.Width,
		Height:    r.Height,
		Format:    r.Format,
		SizeBytes: r.SizeBytes,
	}
}

// ExifTree decodes the stored EXIF column.
func (r *ImageRecord) ExifTree() (exiftree.Tree, error) {
	if len(r.Exif) == 0 {
		return exiftree.Absent(), nil
	}
	var tree exiftree.Tree
	if err := json.Unmarshal(r.Exif, &tree); err != nil {
		return exiftree.Absent(), err
	}
	return tree, nil
}

// Summary is the listing projection of a record.
type Summary struct {
	ImageID      string `json:"image_id"`
	OriginalName string `json:"original_name"`
	Status       string `json:"status"`
	ProcessedAt  string `json:"processed_at"`
	IdentityHash string `json:"identity_hash"`
}

// Thumbnail is a stored rendition.
type Thumbnail struct {
	Bytes  []byte
	Format string
}
