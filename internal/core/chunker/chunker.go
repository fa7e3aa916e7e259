// Package chunker slices extracted text into bounded, ordered,
// metadata-tagged segments sized for independent embedding and retrieval.
package chunker

import (
	"github.com/beaconkb/beacon/internal/models"
)

// DefaultChunkSize is the fixed character window applied to every document.
const DefaultChunkSize = 1000

// Chunker performs fixed-size character-window slicing with no overlap.
// Chunk i covers runes [i*size, min((i+1)*size, len)); concatenating all
// chunks in index order reconstructs the input exactly.
type Chunker struct {
	size   int
	tokens *TokenCounter
}

func New(size int, tokens *TokenCounter) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &Chunker{size: size, tokens: tokens}
}

// Split cuts text into chunks. Each chunk's metadata is an independent copy
// of base plus "chunk_index" (zero-based, gap-free), "source" and
// "token_count". Empty text yields no chunks; that is a valid outcome, not
// an error.
func (c *Chunker) Split(text string, base map[string]any, source string) []models.Chunk {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	n := (len(runes) + c.size - 1) / c.size

	chunks := make([]models.Chunk, 0, n)
	for i := 0; i < n; i++ {
		start := i * c.size
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		content := string(runes[start:end])

		meta := make(map[string]any, len(base)+3)
		for k, v := range base {
			meta[k] = v
		}
		meta["chunk_index"] = i
		meta["source"] = source
		meta["token_count"] = c.tokens.Count(content)

		chunks = append(chunks, models.Chunk{Content: content, Metadata: meta})
	}
	return chunks
}
