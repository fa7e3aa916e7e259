// Package index embeds finished chunks and persists them to the vector
// store. It is the default ChunkIndexer handed the chunk list when a
// document completes.
package index

import (
	"context"
	"fmt"

	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"

	"github.com/beaconkb/beacon/internal/core"
	"github.com/beaconkb/beacon/internal/models"
)

const (
	defaultBatchSize = 16
	embedParallelism = 4
)

type Indexer struct {
	writer    core.ChunkWriter
	embedder  core.EmbeddingProvider
	batchSize int
}

var _ core.ChunkIndexer = (*Indexer)(nil)

func New(writer core.ChunkWriter, embedder core.EmbeddingProvider) *Indexer {
	return &Indexer{writer: writer, embedder: embedder, batchSize: defaultBatchSize}
}

// IndexChunks embeds the chunks in bounded-parallel batches and replaces the
// document's chunk rows in one transaction, so a reprocess never leaves
// stale chunks behind.
func (ix *Indexer) IndexChunks(ctx context.Context, documentID string, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	rows := make([]models.IndexedChunk, len(chunks))
	for i, ch := range chunks {
		rows[i] = models.IndexedChunk{
			Index:      i,
			Content:    ch.Content,
			Metadata:   ch.Metadata,
			TokenCount: intFromMeta(ch.Metadata, "token_count"),
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedParallelism)

	for start := 0; start < len(rows); start += ix.batchSize {
		end := start + ix.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i := range batch {
				texts[i] = batch[i].Content
			}
			vecs, err := ix.embedder.EmbedTexts(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed batch: %w", err)
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("embed size mismatch: got %d want %d", len(vecs), len(batch))
			}
			for i := range batch {
				batch[i].Embedding = vecs[i]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := ix.writer.ReplaceChunks(ctx, documentID, rows); err != nil {
		return fmt.Errorf("persist chunks: %w", err)
	}

	log.Info().Str("doc_id", documentID).Int("chunks", len(rows)).Msg("chunks embedded and indexed")
	return nil
}

func intFromMeta(meta map[string]any, key string) int {
	if v, ok := meta[key].(int); ok {
		return v
	}
	return 0
}
