package pipeline

// ProcessRequest represents a request to ingest stored content
type ProcessRequest struct {
	ContentID   string            `json:"content_id"`
	ObjectKey   string            `json:"object_key"`
	ContentHash *string           `json:"content_hash,omitempty"`
	Job         string            `json:"job"` // ingest
	Versions    map[string]int    `json:"versions"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ProcessResponse represents the response from triggering processing
type ProcessResponse struct {
	RunID           string `json:"run_id"`
	DedupeSeenCount int    `json:"dedupe_seen_count"`
}

// JobType constants
const (
	JobIngest = "ingest"
)

// Pipeline name and version recorded in the dedupe ledger
const (
	PipelineName    = "image_forensics"
	PipelineVersion = 1
)

// DerivedType constants (match simple-content conventions)
const (
	DerivedTypeThumbnailSmall  = "thumbnail_small"
	DerivedTypeThumbnailMedium = "thumbnail_medium"
)
