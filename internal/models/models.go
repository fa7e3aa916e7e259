package models

import (
	"time"
)

// Status is the processing state of a document. The lifecycle manager is the
// only writer of this field.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Document source types.
const (
	SourceText = "text"
	SourceURL  = "url"
	SourceFile = "file"
)

// Document represents one ingested document.
//
// FilePath is either a local filesystem path or an object-storage key,
// depending on IsRemote; it is empty for inline-text documents.
// Content holds the extracted plain text and stays empty until extraction
// succeeds.
type Document struct {
	ID          string         `db:"id" json:"id"`
	OwnerID     string         `db:"owner_id" json:"owner_id"`
	Title       string         `db:"title" json:"title"`
	SourceType  string         `db:"source_type" json:"source_type"` // "text" | "url" | "file"
	FilePath    string         `db:"file_path" json:"file_path,omitempty"`
	IsRemote    bool           `db:"is_remote" json:"is_remote"`
	ContentType string         `db:"content_type" json:"content_type,omitempty"`
	FileSize    int64          `db:"file_size" json:"file_size,omitempty"`
	SourceURL   string         `db:"source_url" json:"source_url,omitempty"`
	Content     string         `db:"content" json:"content,omitempty"`
	Status      Status         `db:"status" json:"status"`
	Metadata    map[string]any `db:"metadata" json:"metadata"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// DocumentUpdate is a partial update of a document row. Nil fields are left
// untouched; Metadata is merged into the existing map key by key, never
// replaced wholesale, so caller-supplied custom fields survive processing.
type DocumentUpdate struct {
	Content  *string
	Status   *Status
	Metadata map[string]any
}

// Chunk is one bounded slice of extracted text, produced per processing run
// and handed to the indexing collaborator. It is not persisted on its own by
// the lifecycle manager.
//
// Metadata carries the caller-supplied base fields plus "chunk_index"
// (zero-based, gap-free), "source" (human-readable provenance) and
// "token_count".
type Chunk struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// IndexedChunk is a chunk paired with its embedding, ready for the vector
// store.
type IndexedChunk struct {
	Index      int
	Content    string
	Metadata   map[string]any
	Embedding  []float32
	TokenCount int
}
