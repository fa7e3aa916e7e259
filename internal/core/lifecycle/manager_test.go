package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconkb/beacon/internal/core"
	"github.com/beaconkb/beacon/internal/core/chunker"
	"github.com/beaconkb/beacon/internal/core/extract"
	"github.com/beaconkb/beacon/internal/models"
)

// memStore is an in-memory DocumentStore with merge-on-update metadata,
// mirroring the jsonb concat the real adapter performs.
type memStore struct {
	mu      sync.Mutex
	docs    map[string]*models.Document
	onClaim func() // runs after a successful claim, outside the lock
}

func newMemStore(docs ...*models.Document) *memStore {
	s := &memStore{docs: map[string]*models.Document{}}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

func (s *memStore) CreateDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
	return nil
}

func (s *memStore) GetDocument(_ context.Context, id string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	cp := *doc
	return &cp, nil
}

func (s *memStore) GetDocumentsByStatus(_ context.Context, status models.Status) ([]models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Document
	for _, d := range s.docs {
		if d.Status == status {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *memStore) UpdateDocument(_ context.Context, id string, upd models.DocumentUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return core.ErrDocumentNotFound
	}
	if upd.Content != nil {
		doc.Content = *upd.Content
	}
	if upd.Status != nil {
		doc.Status = *upd.Status
	}
	if len(upd.Metadata) > 0 {
		if doc.Metadata == nil {
			doc.Metadata = map[string]any{}
		}
		for k, v := range upd.Metadata {
			doc.Metadata[k] = v
		}
	}
	return nil
}

// ClaimStatus mirrors the SQL adapter: a missing row and a wrong status both
// report an unclaimed (false, nil) result.
func (s *memStore) ClaimStatus(_ context.Context, id string, from []models.Status) (bool, error) {
	s.mu.Lock()
	doc, ok := s.docs[id]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	for _, st := range from {
		if doc.Status == st {
			doc.Status = models.StatusProcessing
			s.mu.Unlock()
			if s.onClaim != nil {
				s.onClaim()
			}
			return true, nil
		}
	}
	s.mu.Unlock()
	return false, nil
}

func (s *memStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}

func (s *memStore) Close() error { return nil }

type stubExtractor struct {
	result *extract.Result
	err    error
	calls  []string
}

func (s *stubExtractor) Extract(_ context.Context, doc *models.Document) (*extract.Result, error) {
	s.calls = append(s.calls, doc.ID)
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type recordingIndexer struct {
	chunks map[string][]models.Chunk
	err    error
}

func (r *recordingIndexer) IndexChunks(_ context.Context, docID string, chunks []models.Chunk) error {
	if r.err != nil {
		return r.err
	}
	if r.chunks == nil {
		r.chunks = map[string][]models.Chunk{}
	}
	r.chunks[docID] = chunks
	return nil
}

func newTestManager(t *testing.T, store core.DocumentStore, ex Extractor, indexer core.ChunkIndexer) *Manager {
	t.Helper()
	m, err := NewManager(store, ex, chunker.New(1000, nil), indexer, 1, WithRecoveryDelay(time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func pendingDoc(id string) *models.Document {
	return &models.Document{
		ID:         id,
		Title:      "notes.txt",
		SourceType: models.SourceText,
		Status:     models.StatusPending,
		Metadata:   map[string]any{"custom": "kept"},
	}
}

func TestProcessCompletesDocument(t *testing.T) {
	store := newMemStore(pendingDoc("d1"))
	ex := &stubExtractor{result: &extract.Result{Text: "hello world", Method: extract.MethodInlineText}}
	m := newTestManager(t, store, ex, nil)

	res, err := m.Process(context.Background(), "d1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "hello world", res.Content)
	assert.Equal(t, 11, res.ExtractedLength)

	doc, _ := store.GetDocument(context.Background(), "d1")
	assert.Equal(t, models.StatusCompleted, doc.Status)
	assert.Equal(t, "hello world", doc.Content)
	assert.Equal(t, 11, doc.Metadata["contentLength"])
	assert.Equal(t, extract.MethodInlineText, doc.Metadata["processingMethod"])
	assert.NotEmpty(t, doc.Metadata["processedAt"])
	assert.Equal(t, "kept", doc.Metadata["custom"], "caller metadata must survive the merge")
}

func TestProcessFailureKeepsContent(t *testing.T) {
	doc := pendingDoc("d1")
	doc.Content = "previous extraction"
	store := newMemStore(doc)
	ex := &stubExtractor{err: extract.ErrFileNotFound}
	m := newTestManager(t, store, ex, nil)

	res, err := m.Process(context.Background(), "d1")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "File not found on disk", res.Error)

	got, _ := store.GetDocument(context.Background(), "d1")
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "File not found on disk", got.Metadata["error"])
	assert.NotEmpty(t, got.Metadata["failedAt"])
	assert.Equal(t, "previous extraction", got.Content, "prior content must be untouched")
}

func TestProcessUnknownDocument(t *testing.T) {
	m := newTestManager(t, newMemStore(), &stubExtractor{}, nil)
	_, err := m.Process(context.Background(), "nope")
	assert.ErrorIs(t, err, core.ErrDocumentNotFound)
}

func TestProcessRejectsConcurrentClaim(t *testing.T) {
	doc := pendingDoc("d1")
	doc.Status = models.StatusProcessing
	store := newMemStore(doc)
	m := newTestManager(t, store, &stubExtractor{}, nil)

	_, err := m.Process(context.Background(), "d1")
	assert.ErrorIs(t, err, core.ErrAlreadyProcessing)
}

func TestProcessDoesNotClaimFailedDocs(t *testing.T) {
	doc := pendingDoc("d1")
	doc.Status = models.StatusFailed
	store := newMemStore(doc)
	m := newTestManager(t, store, &stubExtractor{}, nil)

	_, err := m.Process(context.Background(), "d1")
	assert.ErrorIs(t, err, core.ErrAlreadyProcessing, "failed documents re-enter only via Reprocess")
}

func TestReprocessFromFailed(t *testing.T) {
	doc := pendingDoc("d1")
	doc.Status = models.StatusFailed
	store := newMemStore(doc)
	ex := &stubExtractor{result: &extract.Result{Text: "take two", Method: extract.MethodTextExtraction}}
	m := newTestManager(t, store, ex, nil)

	res, err := m.Reprocess(context.Background(), "d1")
	require.NoError(t, err)
	assert.True(t, res.Success)

	got, _ := store.GetDocument(context.Background(), "d1")
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.NotEmpty(t, got.Metadata["reprocessingStartedAt"])
}

func TestProcessReadsPostClaimRecord(t *testing.T) {
	store := newMemStore(pendingDoc("d1"))
	store.onClaim = func() {
		content := "fresh content"
		_ = store.UpdateDocument(context.Background(), "d1", models.DocumentUpdate{Content: &content})
	}
	m := newTestManager(t, store, echoExtractor{}, nil)

	res, err := m.Process(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "fresh content", res.Content, "pipeline must run on the claimed record, not an earlier read")
}

func TestReprocessChunksOmitBookkeepingMetadata(t *testing.T) {
	doc := pendingDoc("d1")
	doc.Status = models.StatusFailed
	doc.Metadata = map[string]any{
		"custom":           "kept",
		"error":            "boom",
		"failedAt":         "2026-01-01T00:00:00Z",
		"processingMethod": "text_extraction",
	}
	store := newMemStore(doc)
	ex := &stubExtractor{result: &extract.Result{Text: "take two", Method: extract.MethodTextExtraction}}
	indexer := &recordingIndexer{}
	m := newTestManager(t, store, ex, indexer)

	_, err := m.Reprocess(context.Background(), "d1")
	require.NoError(t, err)

	chunks := indexer.chunks["d1"]
	require.Len(t, chunks, 1)
	meta := chunks[0].Metadata
	assert.Equal(t, "kept", meta["custom"])
	for _, k := range []string{"error", "failedAt", "processingMethod", "reprocessingStartedAt", "processedAt", "chunkCount", "contentLength"} {
		assert.NotContains(t, meta, k)
	}
}

func TestProcessEmptyTextCompletesWithZeroChunks(t *testing.T) {
	store := newMemStore(pendingDoc("d1"))
	ex := &stubExtractor{result: &extract.Result{Text: "", Method: extract.MethodInlineText}}
	indexer := &recordingIndexer{}
	m := newTestManager(t, store, ex, indexer)

	res, err := m.Process(context.Background(), "d1")
	require.NoError(t, err)
	assert.True(t, res.Success)

	got, _ := store.GetDocument(context.Background(), "d1")
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 0, got.Metadata["chunkCount"])
	assert.Empty(t, indexer.chunks, "no chunks should reach the indexer")
}

func TestProcessHandsChunksToIndexer(t *testing.T) {
	store := newMemStore(pendingDoc("d1"))
	ex := &stubExtractor{result: &extract.Result{Text: "hello world", Method: extract.MethodInlineText}}
	indexer := &recordingIndexer{}
	m := newTestManager(t, store, ex, indexer)

	_, err := m.Process(context.Background(), "d1")
	require.NoError(t, err)

	chunks := indexer.chunks["d1"]
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world", chunks[0].Content)
	assert.Equal(t, 0, chunks[0].Metadata["chunk_index"])
	assert.Equal(t, "notes.txt (Text)", chunks[0].Metadata["source"])
	assert.Equal(t, "d1", chunks[0].Metadata["document_id"])
}

func TestProcessIndexerErrorFailsDocument(t *testing.T) {
	store := newMemStore(pendingDoc("d1"))
	ex := &stubExtractor{result: &extract.Result{Text: "hello", Method: extract.MethodInlineText}}
	m := newTestManager(t, store, ex, &recordingIndexer{err: errors.New("vector store down")})

	res, err := m.Process(context.Background(), "d1")
	require.NoError(t, err)
	assert.False(t, res.Success)

	got, _ := store.GetDocument(context.Background(), "d1")
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.Metadata["error"], "vector store down")
}

func TestRecoverStuckProcessesAllSequentially(t *testing.T) {
	a := pendingDoc("a")
	a.Status = models.StatusProcessing
	b := pendingDoc("b")
	b.Status = models.StatusProcessing
	b.SourceType = models.SourceFile
	b.FilePath = "/missing.txt"
	store := newMemStore(a, b)

	// "a" extracts fine; "b" hits a hard error. Both must be driven to a
	// terminal state and the sweep must survive the failure.
	ex := &perDocExtractor{
		results: map[string]*extract.Result{"a": {Text: "recovered", Method: extract.MethodInlineText}},
		errs:    map[string]error{"b": extract.ErrFileNotFound},
	}
	m := newTestManager(t, store, ex, nil)

	m.RecoverStuck(context.Background())

	gotA, _ := store.GetDocument(context.Background(), "a")
	gotB, _ := store.GetDocument(context.Background(), "b")
	assert.Equal(t, models.StatusCompleted, gotA.Status)
	assert.Equal(t, models.StatusFailed, gotB.Status)
	assert.Len(t, ex.calls, 2)
}

func TestRecoverStuckNoStuckDocuments(t *testing.T) {
	store := newMemStore(pendingDoc("d1"))
	ex := &stubExtractor{}
	m := newTestManager(t, store, ex, nil)

	m.RecoverStuck(context.Background())
	assert.Empty(t, ex.calls)
}

func TestEnqueueProcessesInBackground(t *testing.T) {
	store := newMemStore(pendingDoc("d1"))
	ex := &stubExtractor{result: &extract.Result{Text: "bg", Method: extract.MethodInlineText}}
	m := newTestManager(t, store, ex, nil)

	require.NoError(t, m.Enqueue("d1"))

	require.Eventually(t, func() bool {
		doc, _ := store.GetDocument(context.Background(), "d1")
		return doc.Status == models.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

// echoExtractor returns the document's current content, exposing which
// snapshot of the record the pipeline ran on.
type echoExtractor struct{}

func (echoExtractor) Extract(_ context.Context, doc *models.Document) (*extract.Result, error) {
	return &extract.Result{Text: doc.Content, Method: extract.MethodInlineText}, nil
}

// perDocExtractor routes results and errors by document ID.
type perDocExtractor struct {
	results map[string]*extract.Result
	errs    map[string]error
	calls   []string
}

func (p *perDocExtractor) Extract(_ context.Context, doc *models.Document) (*extract.Result, error) {
	p.calls = append(p.calls, doc.ID)
	if err := p.errs[doc.ID]; err != nil {
		return nil, err
	}
	return p.results[doc.ID], nil
}
