package rerank

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/raglab/ragserver/internal/types"
)

type stubEncoder struct {
	scores []float64
}

func (s *stubEncoder) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	return s.scores[:len(passages)], nil
}

func candidates(n int) []types.ScoredChunk {
	out := make([]types.ScoredChunk, n)
	for i := range out {
		out[i] = types.ScoredChunk{Chunk: types.Chunk{Text: "passage"}, Score: float64(n-i) / float64(n)}
	}
	return out
}

func TestRerank_SkipsWhenCandidatesNearTopK(t *testing.T) {
	r := &Reranker{encoder: &stubEncoder{}}
	in := candidates(10)
	out := r.Rerank(context.Background(), "q", in, 8)
	assert.Equal(t, in[:8], out)
}

func TestRerank_SkipsWhenOverHundred(t *testing.T) {
	r := &Reranker{encoder: &stubEncoder{}}
	in := candidates(120)
	out := r.Rerank(context.Background(), "q", in, 5)
	assert.Equal(t, in[:5], out)
}

func TestRerank_FallsBackWithoutEncoder(t *testing.T) {
	r := &Reranker{}
	in := candidates(40)
	out := r.Rerank(context.Background(), "q", in, 10)
	assert.Equal(t, in[:10], out)
}

func TestRerank_BlendsAndResorts(t *testing.T) {
	scores := make([]float64, 40)
	for i := range scores {
		scores[i] = float64(i) / 40.0 // reverses the original ordering
	}
	r := &Reranker{encoder: &stubEncoder{scores: scores}}
	in := candidates(40)
	out := r.Rerank(context.Background(), "q", in, 10)
	assert.Len(t, out, 10)
	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i-1].Score, out[i].Score)
	}
}
