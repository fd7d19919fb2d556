package store

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/raglab/ragserver/internal/logger"
	"github.com/raglab/ragserver/internal/types"
)

// rrfK is the reciprocal-rank-fusion constant: score = sum(1/(k+rank)).
const rrfK = 60

// Facade is the dual-backed C1 implementation: a preferred vector+lexical
// backend, an optional second vector+lexical backend that serves as the
// specific-document retrieval fallback, and a graph backend that is the
// relationship authority. The graph backend is never searched for chunks.
type Facade struct {
	Preferred Backend
	Fallback  Backend // may be nil
	Graph     GraphBackend
	Memory    MemoryBackend

	SemanticWeight float64
	LexicalWeight  float64
}

// New constructs a Facade. semanticWeight+lexicalWeight need not sum to 1;
// they're applied as a blend over normalized scores.
func New(preferred, fallback Backend, graph GraphBackend, mem MemoryBackend) *Facade {
	return &Facade{
		Preferred:      preferred,
		Fallback:       fallback,
		Graph:          graph,
		Memory:         mem,
		SemanticWeight: 0.6,
		LexicalWeight:  0.4,
	}
}

// VectorSearch delegates to the preferred backend; on a specific-document
// query that comes back empty, it retries on the fallback before reporting
// empty, repairing the failure mode where a chunk indexed in one backend
// is missing in the other.
func (f *Facade) VectorSearch(ctx context.Context, queryVec []float32, k int, filters SearchFilters) []types.ScoredChunk {
	results, err := withRetry(ctx, func() ([]types.ScoredChunk, error) {
		return f.Preferred.VectorSearch(ctx, queryVec, k, filters)
	})
	if err != nil {
		logger.Warn(ctx, "vector search degraded to empty", "backend", f.Preferred.Name(), "error", err.Error())
		results = nil
	}

	if len(results) == 0 && filters.DocID != "" && f.Fallback != nil {
		fallbackResults, err := withRetry(ctx, func() ([]types.ScoredChunk, error) {
			return f.Fallback.VectorSearch(ctx, queryVec, k, filters)
		})
		if err == nil {
			return fallbackResults
		}
		logger.Warn(ctx, "fallback vector search degraded to empty", "error", err.Error())
	}
	return results
}

// LexicalSearch mirrors VectorSearch's degrade-and-retry-on-fallback policy.
func (f *Facade) LexicalSearch(ctx context.Context, queryText string, k int, filters SearchFilters) []types.ScoredChunk {
	results, err := withRetry(ctx, func() ([]types.ScoredChunk, error) {
		return f.Preferred.LexicalSearch(ctx, queryText, k, filters)
	})
	if err != nil {
		logger.Warn(ctx, "lexical search degraded to empty", "backend", f.Preferred.Name(), "error", err.Error())
		results = nil
	}
	if len(results) == 0 && filters.DocID != "" && f.Fallback != nil {
		fallbackResults, err := withRetry(ctx, func() ([]types.ScoredChunk, error) {
			return f.Fallback.LexicalSearch(ctx, queryText, k, filters)
		})
		if err == nil {
			return fallbackResults
		}
	}
	return results
}

// HybridSearch merges vector and lexical result lists by reciprocal-rank
// fusion, blended with normalized-score weighting. When the preferred
// backend carries its own RRF primitive this still runs in-process,
// because the facade doesn't assume a licensed RRF is wired in for every
// deployment.
func (f *Facade) HybridSearch(ctx context.Context, queryText string, queryVec []float32, k int, filters SearchFilters) []types.ScoredChunk {
	vec := f.VectorSearch(ctx, queryVec, k*2, filters)
	lex := f.LexicalSearch(ctx, queryText, k*2, filters)
	return fuse(vec, lex, f.SemanticWeight, f.LexicalWeight, k)
}

// fuse implements score = Σ 1/(rrfK + rank_i) per ranked list, plus a
// weighted blend of min-max normalized native scores. Deduplicates by
// chunk id, keeping the best combined score.
func fuse(a, b []types.ScoredChunk, weightA, weightB float64, k int) []types.ScoredChunk {
	normA := normalize(a)
	normB := normalize(b)

	combined := make(map[string]*types.ScoredChunk)
	rrf := make(map[string]float64)

	for rank, c := range a {
		id := c.ChunkID()
		rrf[id] += 1.0 / float64(rrfK+rank+1)
		cp := c
		cp.Score = weightA * normA[id]
		combined[id] = &cp
	}
	for rank, c := range b {
		id := c.ChunkID()
		rrf[id] += 1.0 / float64(rrfK+rank+1)
		if existing, ok := combined[id]; ok {
			existing.Score += weightB * normB[id]
		} else {
			cp := c
			cp.Score = weightB * normB[id]
			combined[id] = &cp
		}
	}

	out := make([]types.ScoredChunk, 0, len(combined))
	for id, c := range combined {
		c.Score = c.Score + rrf[id]
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func normalize(chunks []types.ScoredChunk) map[string]float64 {
	out := make(map[string]float64, len(chunks))
	if len(chunks) == 0 {
		return out
	}
	min, max := chunks[0].Score, chunks[0].Score
	for _, c := range chunks {
		if c.Score < min {
			min = c.Score
		}
		if c.Score > max {
			max = c.Score
		}
	}
	span := max - min
	for _, c := range chunks {
		if span == 0 {
			out[c.ChunkID()] = 1
		} else {
			out[c.ChunkID()] = (c.Score - min) / span
		}
	}
	return out
}

// GetAllDocuments, GetChunks, DeleteDocument delegate to the preferred
// backend; delete is idempotent (deleting twice both report success).
func (f *Facade) GetAllDocuments(ctx context.Context) []types.Document {
	docs, err := withRetry(ctx, func() ([]types.Document, error) { return f.Preferred.GetAllDocuments(ctx) })
	if err != nil {
		logger.Warn(ctx, "get_all_documents degraded to empty", "error", err.Error())
		return nil
	}
	return docs
}

func (f *Facade) GetChunks(ctx context.Context, docID string) []types.Chunk {
	chunks, err := withRetry(ctx, func() ([]types.Chunk, error) { return f.Preferred.GetChunks(ctx, docID) })
	if err != nil {
		logger.Warn(ctx, "get_chunks degraded to empty", "error", err.Error())
		return nil
	}
	return chunks
}

func (f *Facade) DeleteDocument(ctx context.Context, docID string) error {
	// Delete is idempotent: a not-found on the backend is not an error here.
	_ = f.Preferred.DeleteDocument(ctx, docID)
	if f.Fallback != nil {
		_ = f.Fallback.DeleteDocument(ctx, docID)
	}
	return nil
}

// withRetry retries a transient failure once with jitter; persistent
// failures are returned to the caller, which degrades to empty rather
// than raising.
func withRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	v, err := fn()
	if err == nil {
		return v, nil
	}
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-time.After(time.Duration(20+rand.Intn(60)) * time.Millisecond):
	}
	return fn()
}
