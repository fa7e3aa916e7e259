package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitReconstruction(t *testing.T) {
	tests := []struct {
		name string
		text string
		size int
	}{
		{"short text one chunk", "hello world", 1000},
		{"exact multiple", strings.Repeat("a", 2000), 1000},
		{"remainder tail", strings.Repeat("b", 2500), 1000},
		{"tiny window", "abcdefghij", 3},
		{"multibyte runes", strings.Repeat("héllo wörld ", 100), 37},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.size, nil)
			chunks := c.Split(tt.text, nil, "t")

			var sb strings.Builder
			for i, ch := range chunks {
				assert.Equal(t, i, ch.Metadata["chunk_index"], "indices must be contiguous")
				sb.WriteString(ch.Content)
			}
			assert.Equal(t, tt.text, sb.String(), "concatenation must reconstruct the input")
		})
	}
}

func TestSplitChunkCount(t *testing.T) {
	c := New(1000, nil)

	chunks := c.Split(strings.Repeat("x", 2500), nil, "t")
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0].Content, 1000)
	assert.Len(t, chunks[1].Content, 1000)
	assert.Len(t, chunks[2].Content, 500)
	assert.Equal(t, 0, chunks[0].Metadata["chunk_index"])
	assert.Equal(t, 1, chunks[1].Metadata["chunk_index"])
	assert.Equal(t, 2, chunks[2].Metadata["chunk_index"])
}

func TestSplitEmptyTextYieldsNoChunks(t *testing.T) {
	c := New(1000, nil)
	assert.Empty(t, c.Split("", map[string]any{"k": "v"}, "t"))
}

func TestSplitSingleChunkEqualsInput(t *testing.T) {
	c := New(1000, nil)
	chunks := c.Split("hello world", nil, "t")
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world", chunks[0].Content)
}

func TestSplitMetadataCopiedPerChunk(t *testing.T) {
	c := New(5, nil)
	base := map[string]any{"document_id": "d1", "custom": "kept"}

	chunks := c.Split("aaaaabbbbb", base, "title (TXT)")
	require.Len(t, chunks, 2)

	for _, ch := range chunks {
		assert.Equal(t, "d1", ch.Metadata["document_id"])
		assert.Equal(t, "kept", ch.Metadata["custom"])
		assert.Equal(t, "title (TXT)", ch.Metadata["source"])
	}

	// Mutating one chunk's metadata must not leak into the others or the base.
	chunks[0].Metadata["custom"] = "mutated"
	assert.Equal(t, "kept", chunks[1].Metadata["custom"])
	assert.Equal(t, "kept", base["custom"])
}

func TestSplitDefaultSize(t *testing.T) {
	c := New(0, nil)
	chunks := c.Split(strings.Repeat("y", DefaultChunkSize+1), nil, "t")
	assert.Len(t, chunks, 2)
}

func TestTokenCounterFallbackEstimate(t *testing.T) {
	var tc *TokenCounter // nil counter uses the character estimate

	assert.Equal(t, 0, tc.Count(""))
	assert.Equal(t, 1, tc.Count("abc"))
	assert.Equal(t, 2, tc.Count("abcdefgh"))
	assert.Equal(t, 2, tc.Count("héllö wö")) // 8 runes, not bytes
}

func TestSplitRecordsTokenCounts(t *testing.T) {
	c := New(4, &TokenCounter{})
	chunks := c.Split("abcdefgh", nil, "t")
	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].Metadata["token_count"])
	assert.Equal(t, 1, chunks[1].Metadata["token_count"])
}
