// Package extract derives plain text from a document's bytes or inline
// content. Format-level parse errors degrade to descriptive placeholders so
// every document can still finish ingestion; only an inaccessible byte
// source is a hard error.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"code.sajari.com/docconv"
	"github.com/phuslu/log"

	"github.com/beaconkb/beacon/internal/core"
	"github.com/beaconkb/beacon/internal/core/blobstore"
	"github.com/beaconkb/beacon/internal/models"
)

// ErrFileNotFound is surfaced verbatim in document metadata when the
// referenced local file is gone.
var ErrFileNotFound = errors.New("File not found on disk")

// Processing method tags recorded in document metadata for audit/debugging.
const (
	MethodInlineText         = "inline_text"
	MethodWebFetch           = "web_fetch"
	MethodURLPlaceholder     = "url_placeholder"
	MethodTextExtraction     = "text_extraction"
	MethodPDFExtraction      = "pdf_extraction"
	MethodPDFPlaceholder     = "pdf_placeholder"
	MethodWordPlaceholder    = "word_placeholder"
	MethodGenericPlaceholder = "generic_placeholder"
)

// Result is the outcome of one extraction: the text plus the tag naming the
// code path that produced it.
type Result struct {
	Text   string
	Method string
}

// blobSource is the slice of blobstore behavior extraction needs; satisfied
// by *blobstore.Store.
type blobSource interface {
	Get(ctx context.Context, key string, backend blobstore.Backend) (string, error)
	Delete(ctx context.Context, key string, backend blobstore.Backend) error
}

// Extractor dispatches on a document's source type and file format.
// The web fetcher is optional; without one, url documents get a placeholder.
type Extractor struct {
	blobs blobSource
	web   core.WebFetcher
}

func New(blobs blobSource, web core.WebFetcher) *Extractor {
	return &Extractor{blobs: blobs, web: web}
}

// Extract produces the plain text for doc. It returns an error only when the
// byte source itself is inaccessible; unsupported or malformed content
// degrades to a placeholder instead.
func (e *Extractor) Extract(ctx context.Context, doc *models.Document) (*Result, error) {
	switch doc.SourceType {
	case models.SourceText:
		return &Result{Text: doc.Content, Method: MethodInlineText}, nil

	case models.SourceURL:
		return e.extractURL(ctx, doc), nil

	case models.SourceFile:
		return e.extractFile(ctx, doc)

	default:
		return nil, fmt.Errorf("unknown source type %q", doc.SourceType)
	}
}

func (e *Extractor) extractURL(ctx context.Context, doc *models.Document) *Result {
	if e.web == nil || doc.SourceURL == "" {
		return &Result{Text: urlPlaceholder(doc), Method: MethodURLPlaceholder}
	}
	page, err := e.web.Fetch(ctx, doc.SourceURL)
	if err != nil || page == nil || strings.TrimSpace(page.Text) == "" {
		log.Warn().Err(err).Str("doc_id", doc.ID).Str("url", doc.SourceURL).Msg("web fetch failed, using placeholder")
		return &Result{Text: urlPlaceholder(doc), Method: MethodURLPlaceholder}
	}
	return &Result{Text: page.Text, Method: MethodWebFetch}
}

func (e *Extractor) extractFile(ctx context.Context, doc *models.Document) (*Result, error) {
	if doc.FilePath == "" {
		return nil, errors.New("document has no file path recorded")
	}

	backend := blobstore.BackendLocal
	if doc.IsRemote {
		backend = blobstore.BackendRemote
	}

	localPath, err := e.blobs.Get(ctx, doc.FilePath, backend)
	if err != nil {
		return nil, fmt.Errorf("fetch blob: %w", err)
	}
	if doc.IsRemote {
		// Temporary mirror of the remote blob; gone on every exit path.
		defer func() {
			if err := e.blobs.Delete(context.WithoutCancel(ctx), localPath, blobstore.BackendLocal); err != nil {
				log.Warn().Err(err).Str("path", localPath).Msg("could not remove temp blob copy")
			}
		}()
	}

	info, err := os.Stat(localPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}

	ext := normalizedExt(doc, localPath)
	switch {
	case ext == ".txt" || strings.HasPrefix(doc.ContentType, "text/plain"):
		b, err := os.ReadFile(localPath)
		if err != nil {
			return nil, err
		}
		return &Result{Text: string(b), Method: MethodTextExtraction}, nil

	case ext == ".pdf" || doc.ContentType == "application/pdf":
		return e.extractPDF(doc, localPath), nil

	case ext == ".doc" || ext == ".docx" || isWordMIME(doc.ContentType):
		// Known gap: no Word parser wired yet, kept as a named variant so a
		// real one can slot in without touching the dispatch.
		return &Result{Text: wordPlaceholder(doc), Method: MethodWordPlaceholder}, nil

	default:
		return &Result{Text: genericPlaceholder(doc, ext, info.Size()), Method: MethodGenericPlaceholder}, nil
	}
}

// extractPDF runs the PDF text extraction and falls back to a placeholder on
// any parse failure, so a corrupt PDF still yields a retrievable artifact.
func (e *Extractor) extractPDF(doc *models.Document, localPath string) *Result {
	f, err := os.Open(localPath)
	if err != nil {
		return &Result{Text: pdfPlaceholder(doc), Method: MethodPDFPlaceholder}
	}
	defer f.Close()

	res, err := docconv.Convert(f, "application/pdf", false)
	if err != nil || strings.TrimSpace(res.Body) == "" {
		log.Warn().Err(err).Str("doc_id", doc.ID).Msg("pdf extraction failed, using placeholder")
		return &Result{Text: pdfPlaceholder(doc), Method: MethodPDFPlaceholder}
	}
	return &Result{Text: res.Body, Method: MethodPDFExtraction}
}

func normalizedExt(doc *models.Document, localPath string) string {
	ext := strings.ToLower(filepath.Ext(doc.Title))
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(localPath))
	}
	return ext
}

func isWordMIME(contentType string) bool {
	return contentType == "application/msword" ||
		contentType == "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
}
