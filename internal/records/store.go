// Package records persists ingestion results in SQLite through gorm.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tendant/simple-image-forensics/pkg/pipeline"
)

// ErrNotFound is returned for unknown image ids.
var ErrNotFound = errors.New("image not found")

const idAttempts = 5

// Store reads and writes image records.
type Store struct {
	db    *gorm.DB
	newID func() string
}

// Open opens (or creates) the SQLite database at dsn and migrates it.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return New(db)
}

// New wraps an existing handle and migrates the images table.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("records store requires database handle")
	}
	if err := db.AutoMigrate(&ImageRecord{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &Store{db: db, newID: NewImageID}, nil
}

// NewImageID returns "img_" followed by 8 hex characters.
func NewImageID() string {
	return "img_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// FormatTime renders processedAt the way records store it.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Save persists result and returns the new image id.
func (s *Store) Save(ctx context.Context, result *pipeline.IngestionResult, filename string, processedAt time.Time) (string, error) {
	if result == nil {
		return "", fmt.Errorf("nil ingestion result")
	}

	var exifJSON []byte
	if !result.Exif.IsAbsent() {
		b, err := json.Marshal(result.Exif)
		if err != nil {
			return "", fmt.Errorf("marshal exif: %w", err)
		}
		exifJSON = b
	}

	record := ImageRecord{
		Status:            StatusProcessed,
		OriginalName:      filename,
		ProcessedAt:       FormatTime(processedAt),
		Width:             result.Metadata.Width,
		Height:            result.Metadata.Height,
		Format:            result.Metadata.Format,
		SizeBytes:         result.Metadata.SizeBytes,
		IdentityHash:      result.IdentityHash,
		Caption:           result.Caption,
		Exif:              exifJSON,
		ThumbSmall:        result.Thumbnails.Small.Bytes,
		ThumbSmallFormat:  result.Thumbnails.Small.Format,
		ThumbMedium:       result.Thumbnails.Medium.Bytes,
		ThumbMediumFormat: result.Thumbnails.Medium.Format,
	}

	for attempt := 0; attempt < idAttempts; attempt++ {
		record.ID = 0
		record.ImageID = s.newID()
		err := s.db.WithContext(ctx).Create(&record).Error
		if err == nil {
			return record.ImageID, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return "", fmt.Errorf("insert image record: %w", err)
		}
	}
	return "", fmt.Errorf("insert image record: no free id after %d attempts", idAttempts)
}

// Get returns the full record for id.
func (s *Store) Get(ctx context.Context, id string) (*ImageRecord, error) {
	var record ImageRecord
	err := s.db.WithContext(ctx).Where("image_id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get image record: %w", err)
	}
	return &record, nil
}

// Exists reports whether a record with id is stored.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&ImageRecord{}).Where("image_id = ?", id).Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("count image records: %w", err)
	}
	return n > 0, nil
}

// List returns every record in insertion order.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	return s.summaries(s.db.WithContext(ctx))
}

// FindByHash returns records whose identity hash equals hash.
func (s *Store) FindByHash(ctx context.Context, hash string) ([]Summary, error) {
	return s.summaries(s.db.WithContext(ctx).Where("identity_hash = ?", hash))
}

func (s *Store) summaries(q *gorm.DB) ([]Summary, error) {
	var rows []ImageRecord
	err := q.Select("image_id", "original_name", "status", "processed_at", "identity_hash").
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list image records: %w", err)
	}

	out := make([]Summary, 0, len(rows))
	for _, r := range rows {
		out = append(out, Summary{
			ImageID:      r.ImageID,
			OriginalName: r.OriginalName,
			Status:       r.Status,
			ProcessedAt:  r.ProcessedAt,
			IdentityHash: r.IdentityHash,
		})
	}
	return out, nil
}

// Thumbnail returns the stored rendition for tier. ok is false when the
// record exists but the tier was never populated.
func (s *Store) Thumbnail(ctx context.Context, id string, tier pipeline.Tier) (Thumbnail, bool, error) {
	bytesCol, formatCol := "thumb_small", "thumb_small_format"
	if tier == pipeline.TierMedium {
		bytesCol, formatCol = "thumb_medium", "thumb_medium_format"
	}

	var record ImageRecord
	err := s.db.WithContext(ctx).
		Select("image_id", "format", bytesCol, formatCol).
		Where("image_id = ?", id).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Thumbnail{}, false, ErrNotFound
	}
	if err != nil {
		return Thumbnail{}, false, fmt.Errorf("get thumbnail: %w", err)
	}

	thumb := Thumbnail{Bytes: record.ThumbSmall, Format: record.ThumbSmallFormat}
	if tier == pipeline.TierMedium {
		thumb = Thumbnail{Bytes: record.ThumbMedium, Format: record.ThumbMediumFormat}
	}
	if len(thumb.Bytes) == 0 {
		return Thumbnail{}, false, nil
	}
	if thumb.Format == "" {
		thumb.Format = record.Format
	}
	return thumb, true, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
