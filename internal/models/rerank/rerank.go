// Package rerank implements C7: a cross-encoder re-ranker with an
// order-preserving fallback, using the {query, documents} ->
// {results: [{index, relevance_score}]} HTTP shape of Jina/Zhipu-style
// rerank APIs.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/raglab/ragserver/internal/config"
	"github.com/raglab/ragserver/internal/types"
)

const (
	maxCandidates  = 50
	batchSize      = 32
	passageRunes   = 400
	rerankWeight   = 0.7
	originalWeight = 0.3
)

// CrossEncoder scores (query, passage) pairs jointly.
type CrossEncoder interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// Reranker is C7's entry point.
type Reranker struct {
	encoder CrossEncoder
}

// New builds a Reranker from cfg.Rerank; a nil encoder makes Rerank
// always take the order-preserving fallback path.
func New(cfg *config.Config) *Reranker {
	if cfg.Rerank.Model == "" {
		return &Reranker{}
	}
	return &Reranker{encoder: newHTTPCrossEncoder(cfg)}
}

// Rerank scores candidates against query and returns them sorted by
// blended score, truncated to topK. Skips scoring (and returns the
// original order's first topK) when reranking would not pay for
// itself, or when the cross-encoder is unavailable.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []types.ScoredChunk, topK int) []types.ScoredChunk {
	if len(candidates) == 0 {
		return candidates
	}
	if float64(len(candidates)) <= 1.5*float64(topK) || len(candidates) > 100 {
		return capped(candidates, topK)
	}
	if r.encoder == nil {
		return capped(candidates, topK)
	}

	pool := candidates
	if len(pool) > maxCandidates {
		pool = pool[:maxCandidates]
	}

	passages := make([]string, len(pool))
	for i, c := range pool {
		passages[i] = truncateRunes(c.Text, passageRunes)
	}

	scores := make([]float64, len(pool))
	for start := 0; start < len(pool); start += batchSize {
		end := start + batchSize
		if end > len(pool) {
			end = len(pool)
		}
		batchScores, err := r.encoder.Score(ctx, query, passages[start:end])
		if err != nil {
			// Cross-encoder failure degrades to the original ranking.
			return capped(candidates, topK)
		}
		copy(scores[start:end], batchScores)
	}

	blended := make([]types.ScoredChunk, len(pool))
	for i, c := range pool {
		c.Score = rerankWeight*scores[i] + originalWeight*c.Score
		blended[i] = c
	}
	sort.SliceStable(blended, func(i, j int) bool { return blended[i].Score > blended[j].Score })
	return capped(blended, topK)
}

func capped(chunks []types.ScoredChunk, topK int) []types.ScoredChunk {
	if topK > 0 && len(chunks) > topK {
		return chunks[:topK]
	}
	return chunks
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// httpCrossEncoder speaks a generic {query, documents} -> {results:
// [{index, relevance_score}]} rerank API, the shape shared by Jina and
// Zhipu's rerank endpoints.
type httpCrossEncoder struct {
	modelName string
	apiKey    string
	baseURL   string
	client    *http.Client
}

func newHTTPCrossEncoder(cfg *config.Config) *httpCrossEncoder {
	baseURL := cfg.Rerank.BaseURL
	if baseURL == "" {
		baseURL = "https://api.jina.ai/v1"
	}
	return &httpCrossEncoder{
		modelName: cfg.Rerank.Model,
		apiKey:    cfg.Rerank.APIKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type rerankResponse struct {
	Results []rerankResult `json:"results"`
}

func (e *httpCrossEncoder) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	body, err := json.Marshal(rerankRequest{Model: e.modelName, Query: query, Documents: passages})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrBackendUnavailable, "rerank request failed").WithError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, types.NewError(types.ErrBackendUnavailable, fmt.Sprintf("rerank error status %d: %s", resp.StatusCode, string(raw)))
	}

	var parsed rerankResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, types.NewError(types.ErrParseFailure, "rerank response decode").WithError(err)
	}

	out := make([]float64, len(passages))
	for _, r := range parsed.Results {
		if r.Index >= 0 && r.Index < len(out) {
			out[r.Index] = r.RelevanceScore
		}
	}
	return out, nil
}
