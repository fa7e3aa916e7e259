// Package database implements the document store on Postgres through the
// pgx stdlib driver. Metadata updates use jsonb concatenation so merges are
// a single atomic row update.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"
	"github.com/phuslu/log"

	"github.com/beaconkb/beacon/internal/config"
	"github.com/beaconkb/beacon/internal/core"
	"github.com/beaconkb/beacon/internal/models"
)

type DocumentStore struct {
	db *sql.DB
}

var _ core.DocumentStore = (*DocumentStore)(nil)
var _ core.ChunkWriter = (*DocumentStore)(nil)

func NewDocumentStore(ctx context.Context, cfg *config.Config) (*DocumentStore, error) {
	if cfg == nil || cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	log.Info().Msg("database initialized and ready")
	return &DocumentStore{db: db}, nil
}

func (s *DocumentStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

const documentColumns = `id, owner_id, title, source_type, file_path, is_remote, content_type,
		file_size, source_url, content, status, metadata, created_at, updated_at`

func (s *DocumentStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	meta, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO documents
			(id, owner_id, title, source_type, file_path, is_remote, content_type,
			 file_size, source_url, content, status, metadata)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.db.ExecContext(ctx, q,
		doc.ID, doc.OwnerID, doc.Title, doc.SourceType, doc.FilePath, doc.IsRemote,
		doc.ContentType, doc.FileSize, doc.SourceURL, doc.Content, doc.Status, meta)
	return err
}

func (s *DocumentStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	doc, err := scanDocument(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *DocumentStore) GetDocumentsByStatus(ctx context.Context, status models.Status) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE status = $1 ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, q, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

// UpdateDocument applies the partial update in one statement. The metadata
// map is merged with jsonb concatenation, never replaced, so untouched keys
// survive.
func (s *DocumentStore) UpdateDocument(ctx context.Context, id string, upd models.DocumentUpdate) error {
	set := []string{"updated_at = now()"}
	args := []any{id}

	if upd.Content != nil {
		args = append(args, *upd.Content)
		set = append(set, fmt.Sprintf("content = $%d", len(args)))
	}
	if upd.Status != nil {
		args = append(args, string(*upd.Status))
		set = append(set, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(upd.Metadata) > 0 {
		meta, err := marshalMetadata(upd.Metadata)
		if err != nil {
			return err
		}
		args = append(args, meta)
		set = append(set, fmt.Sprintf("metadata = COALESCE(metadata, '{}'::jsonb) || $%d::jsonb", len(args)))
	}

	q := fmt.Sprintf("UPDATE documents SET %s WHERE id = $1", strings.Join(set, ", "))
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrDocumentNotFound
	}
	return nil
}

// ClaimStatus is the compare-and-swap guard on the state machine: the row
// moves to "processing" only when its current status is one of from, so a
// concurrent claim observes zero affected rows instead of racing the write.
func (s *DocumentStore) ClaimStatus(ctx context.Context, id string, from []models.Status) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("no statuses to claim from")
	}
	args := []any{id}
	ph := make([]string, 0, len(from))
	for _, st := range from {
		args = append(args, string(st))
		ph = append(ph, fmt.Sprintf("$%d", len(args)))
	}

	q := fmt.Sprintf(
		"UPDATE documents SET status = 'processing', updated_at = now() WHERE id = $1 AND status IN (%s)",
		strings.Join(ph, ", "))
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *DocumentStore) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	return err
}

// ReplaceChunks swaps a document's chunk rows in one transaction: a
// reprocessed document never keeps chunks from an earlier run.
func (s *DocumentStore) ReplaceChunks(ctx context.Context, documentID string, chunks []models.IndexedChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		_ = tx.Rollback()
		return err
	}

	const q = `
		INSERT INTO document_chunks
			(id, document_id, chunk_index, content, metadata, embedding, token_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		meta, err := marshalMetadata(ch.Metadata)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		var vec any
		if len(ch.Embedding) > 0 {
			vec = pgvector.NewVector(ch.Embedding)
		}
		if _, err := stmt.ExecContext(ctx,
			newChunkID(), documentID, ch.Index, ch.Content, meta, vec, ch.TokenCount,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func newChunkID() string {
	return uuid.NewString()
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return b, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		d        models.Document
		filePath sql.NullString
		meta     []byte
	)
	if err := row.Scan(
		&d.ID, &d.OwnerID, &d.Title, &d.SourceType, &filePath, &d.IsRemote, &d.ContentType,
		&d.FileSize, &d.SourceURL, &d.Content, &d.Status, &meta, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.FilePath = filePath.String
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &d.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &d, nil
}
