// Package lifecycle owns the processing status of documents. It drives
// extraction and chunking, persists results, and decides completed vs failed.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/phuslu/log"

	"github.com/beaconkb/beacon/internal/core"
	"github.com/beaconkb/beacon/internal/core/chunker"
	"github.com/beaconkb/beacon/internal/core/extract"
	"github.com/beaconkb/beacon/internal/models"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultRecoveryDelay = 2 * time.Second
	defaultWorkers       = 4

	// statusWriteTimeout bounds the failed/completed writes, which must land
	// even when the processing context has already expired.
	statusWriteTimeout = 10 * time.Second
)

// Result is the route-facing outcome of one processing run.
type Result struct {
	Success         bool   `json:"success"`
	Content         string `json:"content,omitempty"`
	ExtractedLength int    `json:"extractedLength,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Extractor is the extraction stage as the manager sees it.
type Extractor interface {
	Extract(ctx context.Context, doc *models.Document) (*extract.Result, error)
}

// Manager runs the per-document pipeline: claim status, extract, chunk,
// index, persist. It is the sole writer of the status field.
type Manager struct {
	store     core.DocumentStore
	extractor Extractor
	chunker   *chunker.Chunker
	indexer   core.ChunkIndexer // nil disables indexing

	timeout       time.Duration
	recoveryDelay time.Duration
	pool          *ants.PoolWithFunc
}

// Option configures a Manager.
type Option func(*Manager)

func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithRecoveryDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.recoveryDelay = d
		}
	}
}

// NewManager builds a manager with a worker pool of the given size for
// background jobs.
func NewManager(store core.DocumentStore, ex Extractor, ch *chunker.Chunker, indexer core.ChunkIndexer, workers int, opts ...Option) (*Manager, error) {
	if workers <= 0 {
		workers = defaultWorkers
	}
	m := &Manager{
		store:         store,
		extractor:     ex,
		chunker:       ch,
		indexer:       indexer,
		timeout:       defaultTimeout,
		recoveryDelay: defaultRecoveryDelay,
	}
	for _, opt := range opts {
		opt(m)
	}

	pool, err := ants.NewPoolWithFunc(workers, func(arg interface{}) {
		id, ok := arg.(string)
		if !ok {
			return
		}
		if _, err := m.Process(context.Background(), id); err != nil {
			log.Warn().Err(err).Str("doc_id", id).Msg("background processing failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	m.pool = pool
	return m, nil
}

// Close releases the worker pool.
func (m *Manager) Close() {
	if m.pool != nil {
		m.pool.Release()
	}
}

// Enqueue schedules a document for background processing.
func (m *Manager) Enqueue(id string) error {
	return m.pool.Invoke(id)
}

// Process begins processing a pending document. A document already claimed
// by another run yields ErrAlreadyProcessing and no state change.
func (m *Manager) Process(ctx context.Context, id string) (*Result, error) {
	return m.claimAndRun(ctx, id, []models.Status{models.StatusPending}, nil)
}

// Reprocess re-enters the pipeline from the top for a failed or completed
// document, recording when reprocessing started.
func (m *Manager) Reprocess(ctx context.Context, id string) (*Result, error) {
	extra := map[string]any{"reprocessingStartedAt": time.Now().UTC().Format(time.RFC3339)}
	return m.claimAndRun(ctx, id, []models.Status{models.StatusFailed, models.StatusCompleted}, extra)
}

func (m *Manager) claimAndRun(ctx context.Context, id string, from []models.Status, extraMeta map[string]any) (*Result, error) {
	claimed, err := m.store.ClaimStatus(ctx, id, from)
	if err != nil {
		return nil, err
	}
	if !claimed {
		doc, err := m.store.GetDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, core.ErrDocumentNotFound
		}
		return nil, core.ErrAlreadyProcessing
	}

	if len(extraMeta) > 0 {
		if err := m.store.UpdateDocument(ctx, id, models.DocumentUpdate{Metadata: extraMeta}); err != nil {
			log.Warn().Err(err).Str("doc_id", id).Msg("could not record reprocessing metadata")
		}
	}

	// Read the record only after winning the claim so the pipeline never runs
	// on a pre-claim snapshot.
	doc, err := m.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, core.ErrDocumentNotFound
	}
	return m.run(ctx, doc)
}

// run executes extraction, chunking and indexing for a claimed document and
// commits exactly one terminal transition.
func (m *Manager) run(ctx context.Context, doc *models.Document) (*Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	log.Info().Str("doc_id", doc.ID).Str("source_type", doc.SourceType).Msg("processing document")

	res, err := m.extractor.Extract(runCtx, doc)
	if err != nil {
		return m.fail(doc.ID, err)
	}

	chunks := m.chunker.Split(res.Text, baseMetadata(doc), sourceLabel(doc.Title, res.Method))

	if m.indexer != nil && len(chunks) > 0 {
		if err := m.indexer.IndexChunks(runCtx, doc.ID, chunks); err != nil {
			return m.fail(doc.ID, fmt.Errorf("index chunks: %w", err))
		}
	}

	upd := models.DocumentUpdate{
		Content: &res.Text,
		Status:  statusPtr(models.StatusCompleted),
		Metadata: map[string]any{
			"processedAt":      time.Now().UTC().Format(time.RFC3339),
			"contentLength":    len(res.Text),
			"processingMethod": res.Method,
			"chunkCount":       len(chunks),
		},
	}
	if err := m.commit(doc.ID, upd); err != nil {
		return m.fail(doc.ID, fmt.Errorf("persist results: %w", err))
	}

	log.Info().Str("doc_id", doc.ID).Str("method", res.Method).Int("chunks", len(chunks)).Msg("document completed")
	return &Result{Success: true, Content: res.Text, ExtractedLength: len(res.Text)}, nil
}

// fail records the error and timestamp in metadata and moves the document to
// failed. Content is left untouched: partial results are never committed.
func (m *Manager) fail(id string, cause error) (*Result, error) {
	upd := models.DocumentUpdate{
		Status: statusPtr(models.StatusFailed),
		Metadata: map[string]any{
			"error":    cause.Error(),
			"failedAt": time.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := m.commit(id, upd); err != nil {
		log.Error().Err(err).Str("doc_id", id).Msg("could not record processing failure")
	}
	log.Warn().Err(cause).Str("doc_id", id).Msg("document failed")
	return &Result{Success: false, Error: cause.Error()}, nil
}

// commit writes a terminal transition with its own deadline, independent of
// the (possibly expired) processing context.
func (m *Manager) commit(id string, upd models.DocumentUpdate) error {
	ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer cancel()
	return m.store.UpdateDocument(ctx, id, upd)
}

// lifecycleMetaKeys are the bookkeeping fields this package writes into
// document metadata; they never belong in chunk provenance.
var lifecycleMetaKeys = map[string]struct{}{
	"processedAt":           {},
	"contentLength":         {},
	"processingMethod":      {},
	"chunkCount":            {},
	"error":                 {},
	"failedAt":              {},
	"reprocessingStartedAt": {},
}

// baseMetadata is the caller-facing provenance every chunk inherits.
func baseMetadata(doc *models.Document) map[string]any {
	base := map[string]any{
		"document_id": doc.ID,
		"title":       doc.Title,
	}
	for k, v := range doc.Metadata {
		if _, owned := lifecycleMetaKeys[k]; owned {
			continue
		}
		base[k] = v
	}
	return base
}

// sourceLabel builds the human-readable provenance string, e.g. "Q3 Report (PDF)".
func sourceLabel(title, method string) string {
	return fmt.Sprintf("%s (%s)", title, formatTag(method))
}

func formatTag(method string) string {
	switch method {
	case extract.MethodPDFExtraction, extract.MethodPDFPlaceholder:
		return "PDF"
	case extract.MethodTextExtraction:
		return "TXT"
	case extract.MethodInlineText:
		return "Text"
	case extract.MethodWebFetch, extract.MethodURLPlaceholder:
		return "Web"
	case extract.MethodWordPlaceholder:
		return "Word"
	default:
		return "File"
	}
}

func statusPtr(s models.Status) *models.Status {
	return &s
}
