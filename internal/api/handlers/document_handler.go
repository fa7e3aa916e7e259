package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phuslu/log"

	"github.com/beaconkb/beacon/internal/config"
	"github.com/beaconkb/beacon/internal/core"
	"github.com/beaconkb/beacon/internal/core/blobstore"
	"github.com/beaconkb/beacon/internal/core/lifecycle"
	"github.com/beaconkb/beacon/internal/models"
)

const maxUploadBytes = 52 << 20 // 52 MB

type DocumentHandler struct {
	store   core.DocumentStore
	blobs   *blobstore.Store
	manager *lifecycle.Manager
	cfg     *config.Config
}

func NewDocumentHandler(store core.DocumentStore, blobs *blobstore.Store, manager *lifecycle.Manager, cfg *config.Config) *DocumentHandler {
	return &DocumentHandler{store: store, blobs: blobs, manager: manager, cfg: cfg}
}

// UploadDocument accepts a multipart file, persists its bytes through the
// blob store, creates the pending record and queues background processing.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid file")
		return
	}
	defer file.Close()

	ownerID := r.FormValue("owner_id")
	if ownerID == "" {
		ownerID = "anonymous"
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	metadata, err := parseMetadataField(r.FormValue("metadata"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "metadata must be a JSON object")
		return
	}

	filename := filepath.Base(header.Filename)
	key := blobstore.ObjectKey("documents", ownerID, filename)

	localPath, size, err := h.saveUpload(file, key)
	if err != nil {
		log.Error().Err(err).Str("filename", filename).Msg("could not stage upload")
		writeError(w, http.StatusInternalServerError, "could not store file")
		return
	}

	storedKey, backend := h.blobs.Put(r.Context(), localPath, key, contentType)

	doc := &models.Document{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Title:       filename,
		SourceType:  models.SourceFile,
		FilePath:    storedKey,
		IsRemote:    backend == blobstore.BackendRemote,
		ContentType: contentType,
		FileSize:    size,
		Status:      models.StatusPending,
		Metadata:    metadata,
	}
	if err := h.store.CreateDocument(r.Context(), doc); err != nil {
		log.Error().Err(err).Str("doc_id", doc.ID).Msg("document insert failed")
		writeError(w, http.StatusInternalServerError, "failed to store document")
		return
	}

	if err := h.manager.Enqueue(doc.ID); err != nil {
		log.Warn().Err(err).Str("doc_id", doc.ID).Msg("could not enqueue document")
	}

	writeJSON(w, http.StatusCreated, doc)
}

// saveUpload stages the multipart stream into the upload dir under the
// blob key's base name; this local file becomes the blob when remote
// storage is not configured.
func (h *DocumentHandler) saveUpload(src io.Reader, key string) (string, int64, error) {
	if err := os.MkdirAll(h.cfg.UploadDir, 0o755); err != nil {
		return "", 0, err
	}
	path := filepath.Join(h.cfg.UploadDir, filepath.Base(key))
	dst, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}
	defer dst.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		os.Remove(path)
		return "", 0, err
	}
	return path, n, nil
}

type createDocumentRequest struct {
	Title      string         `json:"title"`
	SourceType string         `json:"source_type"`
	Content    string         `json:"content"`
	URL        string         `json:"url"`
	OwnerID    string         `json:"owner_id"`
	Metadata   map[string]any `json:"metadata"`
}

// CreateDocument creates a text or url document in pending status and queues
// background processing.
func (h *DocumentHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch req.SourceType {
	case models.SourceText:
		if req.Content == "" && req.Title == "" {
			writeError(w, http.StatusBadRequest, "title or content required")
			return
		}
	case models.SourceURL:
		if req.URL == "" {
			writeError(w, http.StatusBadRequest, "url required")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported source_type %q", req.SourceType))
		return
	}

	if req.OwnerID == "" {
		req.OwnerID = "anonymous"
	}
	title := req.Title
	if title == "" {
		title = req.URL
	}

	doc := &models.Document{
		ID:         uuid.NewString(),
		OwnerID:    req.OwnerID,
		Title:      title,
		SourceType: req.SourceType,
		SourceURL:  req.URL,
		Content:    req.Content,
		Status:     models.StatusPending,
		Metadata:   req.Metadata,
	}
	if err := h.store.CreateDocument(r.Context(), doc); err != nil {
		log.Error().Err(err).Str("doc_id", doc.ID).Msg("document insert failed")
		writeError(w, http.StatusInternalServerError, "failed to store document")
		return
	}

	if err := h.manager.Enqueue(doc.ID); err != nil {
		log.Warn().Err(err).Str("doc_id", doc.ID).Msg("could not enqueue document")
	}

	writeJSON(w, http.StatusCreated, doc)
}

// ProcessDocument runs the pipeline synchronously and returns the outcome.
func (h *DocumentHandler) ProcessDocument(w http.ResponseWriter, r *http.Request) {
	res, err := h.manager.Process(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeProcessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ReprocessDocument re-enters the pipeline for a failed or completed document.
func (h *DocumentHandler) ReprocessDocument(w http.ResponseWriter, r *http.Request) {
	res, err := h.manager.Reprocess(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeProcessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.store.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if doc == nil {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	status := models.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = models.StatusCompleted
	}
	docs, err := h.store.GetDocumentsByStatus(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if docs == nil {
		docs = []models.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

// DeleteDocument removes the blob first, then the row. Blob deletion is
// idempotent, so retrying after a partial failure is safe.
func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := h.store.GetDocument(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if doc == nil {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}

	if doc.FilePath != "" {
		backend := blobstore.BackendLocal
		if doc.IsRemote {
			backend = blobstore.BackendRemote
		}
		if err := h.blobs.Delete(r.Context(), doc.FilePath, backend); err != nil {
			log.Warn().Err(err).Str("doc_id", id).Msg("could not delete blob")
		}
	}

	if err := h.store.DeleteDocument(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseMetadataField(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func writeProcessError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, "document not found")
	case errors.Is(err, core.ErrAlreadyProcessing):
		writeError(w, http.StatusConflict, "document is already processing")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "processing timed out")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("could not encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
