package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/raglab/ragserver/internal/types"
)

func TestExpand_AddsSynonymsPreservesOriginal(t *testing.T) {
	out := expand("what document should I read")
	assert.Contains(t, out, "what document should I read")
	assert.NotEqual(t, "what document should I read", out)
}

func TestExpand_NoMatchReturnsOriginal(t *testing.T) {
	out := expand("zzz qqq")
	assert.Equal(t, "zzz qqq", out)
}

func TestDedupeByChunkID(t *testing.T) {
	chunks := []types.ScoredChunk{
		{Chunk: types.Chunk{DocID: "a", ChunkIndex: 1}, Score: 0.9},
		{Chunk: types.Chunk{DocID: "a", ChunkIndex: 1}, Score: 0.5},
		{Chunk: types.Chunk{DocID: "b", ChunkIndex: 2}, Score: 0.7},
	}
	out := dedupeByChunkID(chunks)
	assert.Len(t, out, 2)
}

func TestMMR_RespectsPerDocumentCap(t *testing.T) {
	chunks := []types.ScoredChunk{
		{Chunk: types.Chunk{DocID: "a", ChunkIndex: 1}, Score: 0.95},
		{Chunk: types.Chunk{DocID: "a", ChunkIndex: 2}, Score: 0.9},
		{Chunk: types.Chunk{DocID: "a", ChunkIndex: 3}, Score: 0.85},
		{Chunk: types.Chunk{DocID: "b", ChunkIndex: 1}, Score: 0.5},
		{Chunk: types.Chunk{DocID: "c", ChunkIndex: 1}, Score: 0.4},
	}
	out := mmr(chunks, nil, 4, 0.5)
	assert.Len(t, out, 4)
	fromA := 0
	for _, c := range out {
		if c.DocID == "a" {
			fromA++
		}
	}
	assert.LessOrEqual(t, fromA, 2)
}

func TestMMR_EqualScoresStillSpreadsAcrossAllDocuments(t *testing.T) {
	docs := []string{"a", "b", "c", "d"}
	var chunks []types.ScoredChunk
	for _, doc := range docs {
		for i := 0; i < 5; i++ {
			chunks = append(chunks, types.ScoredChunk{Chunk: types.Chunk{DocID: doc, ChunkIndex: i}, Score: 0.7})
		}
	}
	out := mmr(chunks, nil, 8, 0.5)
	assert.Len(t, out, 8)

	seen := make(map[string]bool)
	for _, c := range out {
		seen[c.DocID] = true
	}
	for _, doc := range docs {
		assert.True(t, seen[doc], "expected at least one chunk from document %q", doc)
	}
}

func TestMMR_ReturnsAllWhenUnderK(t *testing.T) {
	chunks := []types.ScoredChunk{{Chunk: types.Chunk{DocID: "a", ChunkIndex: 1}, Score: 0.5}}
	out := mmr(chunks, nil, 5, 0.5)
	assert.Len(t, out, 1)
}

func TestTokenCount(t *testing.T) {
	assert.Equal(t, 3, tokenCount("one two three"))
}
