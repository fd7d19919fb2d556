package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/raglab/ragserver/internal/types"
)

func TestBuildContext_OrdersMemoriesBeforeChunksAndRespectsBudget(t *testing.T) {
	memories := []types.ScoredMemory{
		{Memory: types.Memory{Content: "low importance memory"}, Score: 0.1},
	}
	memories[0].Importance = 0.2
	chunks := []types.ScoredChunk{
		{Chunk: types.Chunk{DocID: "doc-1", FileName: "report.pdf", Text: "chunk text one"}, Score: 0.9},
	}

	text, sourceDocs, sourceMems := buildContext(chunks, memories, 1000)
	assert.Contains(t, text, "Memory: low importance memory")
	assert.Contains(t, text, "Document excerpt: chunk text one")
	assert.Equal(t, []string{"report.pdf"}, sourceDocs)
	assert.Len(t, sourceMems, 1)
}

func TestBuildContext_TruncatesOnceBudgetExhausted(t *testing.T) {
	var chunks []types.ScoredChunk
	for i := 0; i < 50; i++ {
		chunks = append(chunks, types.ScoredChunk{
			Chunk: types.Chunk{DocID: "doc-1", FileName: "report.pdf", Text: "some moderately long chunk of text repeated many times over"},
			Score: 1.0,
		})
	}
	text, _, _ := buildContext(chunks, nil, 10)
	assert.Less(t, len(text), 60)
}

func TestBuildContext_DedupesSourceDocuments(t *testing.T) {
	chunks := []types.ScoredChunk{
		{Chunk: types.Chunk{DocID: "doc-1", FileName: "a.pdf", Text: "one"}, Score: 0.9},
		{Chunk: types.Chunk{DocID: "doc-1", FileName: "a.pdf", Text: "two"}, Score: 0.8},
	}
	_, sourceDocs, _ := buildContext(chunks, nil, 1000)
	assert.Equal(t, []string{"a.pdf"}, sourceDocs)
}

func TestBuildPromptMessages_IncludesContextWhenPresent(t *testing.T) {
	msgs := buildPromptMessages("what is the refund policy?", "Document excerpt: refunds within 30 days\n")
	assert.Equal(t, "system", msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "refunds within 30 days")
	assert.Equal(t, "user", msgs[1].Role)
	assert.Equal(t, "what is the refund policy?", msgs[1].Content)
}

func TestBuildPromptMessages_OmitsContextSectionWhenEmpty(t *testing.T) {
	msgs := buildPromptMessages("hello", "")
	assert.NotContains(t, msgs[0].Content, "Context:")
}

func TestTruncate_ShortStringUnchanged(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
}

func TestTruncate_LongStringGetsEllipsis(t *testing.T) {
	out := truncate("abcdefghij", 4)
	assert.Equal(t, "abcd...", out)
}

func TestElapsed_ReportsNonNegativeTotal(t *testing.T) {
	start := time.Now()
	timing := elapsed(start)
	assert.GreaterOrEqual(t, timing.TotalMS, int64(0))
}
