// Package selector implements C8, the Document Selector: a cheap
// search-or-not short-circuit ladder, followed by multi-signal scoring
// of which documents a retrieval call should be scoped to.
package selector

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/raglab/ragserver/internal/models/embedding"
	"github.com/raglab/ragserver/internal/pipeline/analyzer"
	"github.com/raglab/ragserver/internal/store"
	"github.com/raglab/ragserver/internal/types"
)

const (
	rescoreCandidateCap = 2000
	recentUploadWindow  = 24 * time.Hour
	weekUploadWindow    = 7 * 24 * time.Hour
)

var (
	stateQueryRe = regexp.MustCompile(`(?i)\bhow (much|many)\b.*\b(do i have|gold|coins?|items?)\b|\bwhat.*\bin my inventory\b`)
	actionRe     = regexp.MustCompile(`(?i)\b(give|send|transfer|trade)\b.*\b(to|from)\b`)
	docWordsRe   = regexp.MustCompile(`(?i)\b(document|file|pdf|report|according to|in the (attached|uploaded))\b`)
)

// Selector is C8's entry point.
type Selector struct {
	facade   *store.Facade
	graph    store.GraphBackend
	embedder embedding.Embedder
	maxDocs  int
}

func New(facade *store.Facade, graph store.GraphBackend, embedder embedding.Embedder, maxDocs int) *Selector {
	if maxDocs <= 0 {
		maxDocs = 5
	}
	return &Selector{facade: facade, graph: graph, embedder: embedder, maxDocs: maxDocs}
}

// ShouldSearch runs the short-circuit ladder: casual chat never
// searches, an explicit document filter always does, otherwise state
// queries and action utterances skip search and anything else defaults
// to searching.
func ShouldSearch(utterance string, a *analyzer.Analysis, explicitDocFilter string) bool {
	if explicitDocFilter != "" {
		return true
	}
	if a != nil && a.IsCasual {
		return false
	}
	if docWordsRe.MatchString(utterance) {
		return true
	}
	if stateQueryRe.MatchString(utterance) {
		return false
	}
	if actionRe.MatchString(utterance) {
		return false
	}
	return true
}

// Select scores every document in the store against the query on
// filename overlap, upload recency, per-user history, and topic
// overlap, cheaply ranks the top candidates, re-scores the top
// rescoreCandidateCap by embedding cosine similarity, and returns at
// most maxDocs winners.
func (s *Selector) Select(ctx context.Context, userID, query string) ([]types.Document, error) {
	docs := s.facade.GetAllDocuments(ctx)
	if len(docs) == 0 {
		return nil, nil
	}

	history := map[string]int{}
	if s.graph != nil {
		if h, err := s.graph.UserDocumentHistory(ctx, userID); err == nil {
			history = h
		}
	}

	type scored struct {
		doc   types.Document
		score float64
	}
	now := time.Now()
	queryTokens := tokenSet(query)

	candidates := make([]scored, 0, len(docs))
	for _, d := range docs {
		sc := 0.0
		sc += filenameOverlap(queryTokens, d.FileName) * 2.0
		age := now.Sub(d.UploadedAt)
		switch {
		case age <= recentUploadWindow:
			sc += 0.3
		case age <= weekUploadWindow:
			sc += 0.1
		}
		if n, ok := history[d.DocID]; ok && n > 0 {
			sc += minFloat(float64(n)*0.05, 0.3)
		}
		if s.graph != nil {
			if topics, err := s.graph.DocumentTopics(ctx, d.DocID); err == nil {
				sc += topicOverlap(queryTokens, topics) * 0.5
			}
		}
		candidates = append(candidates, scored{doc: d, score: sc})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > rescoreCandidateCap {
		candidates = candidates[:rescoreCandidateCap]
	}

	if s.embedder != nil {
		if qvec, err := s.embedder.Embed(ctx, query); err == nil {
			for i := range candidates {
				if best := s.bestChunkSimilarity(ctx, candidates[i].doc.DocID, qvec); best > 0 {
					candidates[i].score += best
				}
			}
			sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
		}
	}

	if len(candidates) > s.maxDocs {
		candidates = candidates[:s.maxDocs]
	}
	out := make([]types.Document, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.doc)
	}
	return out, nil
}

func (s *Selector) bestChunkSimilarity(ctx context.Context, docID string, qvec []float32) float64 {
	chunks := s.facade.GetChunks(ctx, docID)
	best := 0.0
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		if sim := cosine(qvec, c.Embedding); sim > best {
			best = sim
		}
	}
	return best
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func tokenSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.Trim(f, ".,!?;:\"'()")
		if f != "" {
			out[f] = true
		}
	}
	return out
}

func filenameOverlap(queryTokens map[string]bool, filename string) float64 {
	base := strings.ToLower(filename)
	base = strings.TrimSuffix(base, filenameExt(base))
	nameTokens := tokenSet(strings.NewReplacer("_", " ", "-", " ").Replace(base))
	if len(nameTokens) == 0 {
		return 0
	}
	hits := 0
	for t := range nameTokens {
		if queryTokens[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(nameTokens))
}

func filenameExt(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i:]
	}
	return ""
}

func topicOverlap(queryTokens map[string]bool, topics []string) float64 {
	if len(topics) == 0 {
		return 0
	}
	hits := 0
	for _, topic := range topics {
		if queryTokens[strings.ToLower(topic)] {
			hits++
		}
	}
	return float64(hits) / float64(len(topics))
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
