package core

import (
	"context"
	"errors"

	"github.com/beaconkb/beacon/internal/models"
)

var (
	// ErrDocumentNotFound is returned when a document ID resolves to no row.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrAlreadyProcessing is returned when a claim loses the status
	// compare-and-swap because another run holds the document.
	ErrAlreadyProcessing = errors.New("document is already processing")
)

// DocumentStore defines the persistence operations the ingestion core needs.
// It abstracts Postgres so the lifecycle manager never depends on a specific
// storage engine.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	GetDocumentsByStatus(ctx context.Context, status models.Status) ([]models.Document, error)

	// UpdateDocument applies a partial update; metadata keys are merged into
	// the stored map in a single row update.
	UpdateDocument(ctx context.Context, id string, upd models.DocumentUpdate) error

	// ClaimStatus atomically moves the document to "processing" when its
	// current status is one of from. It reports false when the document is
	// in none of those states, which callers treat as a lost race.
	ClaimStatus(ctx context.Context, id string, from []models.Status) (bool, error)

	DeleteDocument(ctx context.Context, id string) error

	Close() error
}

// ChunkWriter persists the indexed chunks of one document, replacing any
// chunks from a previous run.
type ChunkWriter interface {
	ReplaceChunks(ctx context.Context, documentID string, chunks []models.IndexedChunk) error
}

// EmbeddingProvider turns texts into vectors (Gemini, OpenAI, etc).
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkIndexer receives the finished chunk list of a completed document.
// The ingestion core knows nothing about vector dimensionality or index
// naming; a failing indexer fails that document's processing run.
type ChunkIndexer interface {
	IndexChunks(ctx context.Context, documentID string, chunks []models.Chunk) error
}

// FetchedPage is the result of fetching a url-sourced document.
type FetchedPage struct {
	Title string
	Text  string
}

// WebFetcher retrieves a web page's readable text. Fetch failures degrade to
// a placeholder at the extraction layer, never to a failed document.
type WebFetcher interface {
	Fetch(ctx context.Context, pageURL string) (*FetchedPage, error)
}
