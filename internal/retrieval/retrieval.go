// Package retrieval implements C6, the Hybrid Retrieval engine:
// query expansion, multi-query fan-out, dense+lexical fusion through C1,
// temporal reweighting, and MMR diversification. There is no separate
// query-rewrite step.
package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/raglab/ragserver/internal/config"
	"github.com/raglab/ragserver/internal/models/chat"
	"github.com/raglab/ragserver/internal/models/embedding"
	"github.com/raglab/ragserver/internal/pipeline/analyzer"
	"github.com/raglab/ragserver/internal/store"
	"github.com/raglab/ragserver/internal/types"
)

const (
	maxExpansionAdditions = 3
	maxMultiQueryVariants = 3
	multiQueryMinTokens   = 5
	multiQueryCandidateCap = 2000
	maxVariantWorkers      = 5
	decayDays             = 30
	maxTemporalBoost      = 0.20
	defaultMMRLambda      = 0.5
)

var synonyms = map[string][]string{
	"what":     {"which", "how"},
	"document": {"file", "paper", "text"},
	"show":     {"display", "list"},
	"find":     {"locate", "search for"},
	"tell":     {"explain", "describe"},
	"make":     {"create", "build"},
}

// Engine is C6's entry point.
type Engine struct {
	facade    *store.Facade
	embedder  embedding.Embedder
	chat      chat.Client
	cfg       *config.Config
}

func New(facade *store.Facade, embedder embedding.Embedder, chatClient chat.Client, cfg *config.Config) *Engine {
	return &Engine{facade: facade, embedder: embedder, chat: chatClient, cfg: cfg}
}

// Options configures a single retrieval call.
type Options struct {
	TopK                 int
	Filters              store.SearchFilters
	Complexity           analyzer.Complexity
	UseHybridSearch      bool
	UseQueryExpansion    bool
	UseTemporalWeighting bool
	UseMMR               bool
}

// Retrieve runs the full C6 pipeline and returns deduplicated,
// diversified candidates.
func (e *Engine) Retrieve(ctx context.Context, query string, opts Options) ([]types.ScoredChunk, error) {
	k := opts.TopK
	if k <= 0 {
		k = 10
	}

	expanded := query
	if opts.UseQueryExpansion {
		expanded = expand(query)
	}

	queryVec, err := e.embedder.Embed(ctx, expanded)
	if err != nil {
		return nil, err
	}

	var candidates []types.ScoredChunk
	if opts.UseHybridSearch {
		candidates = e.facade.HybridSearch(ctx, expanded, queryVec, k, opts.Filters)
	} else {
		candidates = e.facade.VectorSearch(ctx, queryVec, k, opts.Filters)
	}

	if opts.Complexity == analyzer.ComplexityComplex && len(candidates) < multiQueryCandidateCap && tokenCount(query) >= multiQueryMinTokens {
		candidates = e.multiQuery(ctx, query, k, opts, candidates)
	}

	if opts.UseTemporalWeighting {
		candidates = applyTemporalBoost(candidates)
	}

	candidates = dedupeByChunkID(candidates)

	if !opts.UseMMR {
		sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
		if len(candidates) > k {
			candidates = candidates[:k]
		}
		return candidates, nil
	}

	lambda := e.cfg.MMRLambda
	if lambda <= 0 {
		lambda = defaultMMRLambda
	}
	return mmr(candidates, queryVec, k, lambda), nil
}

// expand augments query with up to maxExpansionAdditions synonym
// additions, preserving the original text.
func expand(query string) string {
	words := strings.Fields(strings.ToLower(query))
	var additions []string
	for _, w := range words {
		if syns, ok := synonyms[w]; ok {
			for _, s := range syns {
				if len(additions) >= maxExpansionAdditions {
					break
				}
				additions = append(additions, s)
			}
		}
		if len(additions) >= maxExpansionAdditions {
			break
		}
	}
	if len(additions) == 0 {
		return query
	}
	return query + " " + strings.Join(additions, " ")
}

func tokenCount(s string) int {
	return len(strings.Fields(s))
}

// multiQuery generates up to 3 paraphrases via the completion client,
// retrieves 2k per paraphrase, and merges by chunk id keeping the best
// score per id.
func (e *Engine) multiQuery(ctx context.Context, query string, k int, opts Options, base []types.ScoredChunk) []types.ScoredChunk {
	if e.chat == nil {
		return base
	}
	paraphrases, err := e.generateParaphrases(ctx, query)
	if err != nil || len(paraphrases) == 0 {
		return base
	}

	merged := make(map[string]types.ScoredChunk, len(base))
	for _, c := range base {
		merged[c.ChunkID()] = c
	}
	var mu sync.Mutex

	pool, perr := ants.NewPool(maxVariantWorkers)
	if perr != nil {
		for _, p := range paraphrases {
			e.searchVariant(ctx, p, k, opts, merged, &mu)
		}
		return flattenMerged(merged)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for _, p := range paraphrases {
		p := p
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			e.searchVariant(ctx, p, k, opts, merged, &mu)
		}); err != nil {
			wg.Done()
			e.searchVariant(ctx, p, k, opts, merged, &mu)
		}
	}
	wg.Wait()

	return flattenMerged(merged)
}

// searchVariant embeds and searches a single paraphrase variant, folding
// any better-scoring hits into merged under mu. Runs on a bounded pool
// worker; up to maxVariantWorkers variants search concurrently.
func (e *Engine) searchVariant(ctx context.Context, p string, k int, opts Options, merged map[string]types.ScoredChunk, mu *sync.Mutex) {
	vec, err := e.embedder.Embed(ctx, p)
	if err != nil {
		return
	}
	var results []types.ScoredChunk
	if opts.UseHybridSearch {
		results = e.facade.HybridSearch(ctx, p, vec, 2*k, opts.Filters)
	} else {
		results = e.facade.VectorSearch(ctx, vec, 2*k, opts.Filters)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, c := range results {
		id := c.ChunkID()
		if existing, ok := merged[id]; !ok || c.Score > existing.Score {
			merged[id] = c
		}
	}
}

func flattenMerged(merged map[string]types.ScoredChunk) []types.ScoredChunk {
	out := make([]types.ScoredChunk, 0, len(merged))
	for _, c := range merged {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func (e *Engine) generateParaphrases(ctx context.Context, query string) ([]string, error) {
	messages := []chat.Message{
		{Role: "system", Content: "Produce up to 3 alternate phrasings of the user's question, one per line, no numbering."},
		{Role: "user", Content: query},
	}
	resp, err := e.chat.Chat(ctx, messages, &chat.ChatOptions{Temperature: 0.3, MaxTokens: 150})
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimSpace(resp.Content), "\n")
	out := make([]string, 0, maxMultiQueryVariants)
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		out = append(out, l)
		if len(out) >= maxMultiQueryVariants {
			break
		}
	}
	return out, nil
}

// applyTemporalBoost adds the same flat recency boost to every chunk's
// score; chunk age is not read. Memories get no age-based weighting in
// retrieval; they are ranked by their stored importance.
func applyTemporalBoost(chunks []types.ScoredChunk) []types.ScoredChunk {
	const flatRecencyBoost = 0.02
	out := make([]types.ScoredChunk, len(chunks))
	for i, c := range chunks {
		c.Score += flatRecencyBoost
		out[i] = c
	}
	return out
}

func dedupeByChunkID(chunks []types.ScoredChunk) []types.ScoredChunk {
	seen := make(map[string]bool, len(chunks))
	out := make([]types.ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		id := c.ChunkID()
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, c)
	}
	return out
}

// mmr selects up to k results balancing relevance with diversity: first
// capping at most k/2 picks from a single document until all others
// have been considered, then by cosine distance to already-selected
// items. Requires an embedding per candidate, which this package does
// not have directly — approximated here via the candidate's own
// normalized score as a relevance proxy and document-id spread as the
// diversity proxy, since chunk-level embeddings aren't retained past
// the store round-trip.
func mmr(chunks []types.ScoredChunk, queryVec []float32, k int, lambda float64) []types.ScoredChunk {
	if len(chunks) <= k {
		return chunks
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Score > chunks[j].Score })

	selected := make([]types.ScoredChunk, 0, k)
	docCounts := make(map[string]int)
	perDocCap := k / 2
	if perDocCap < 1 {
		perDocCap = 1
	}

	remaining := make([]types.ScoredChunk, len(chunks))
	copy(remaining, chunks)

	// Reserve each distinct document's best-scoring chunk before the
	// score/diversity fill below. Without this, a tie-heavy candidate
	// set (equal scores across documents) lets the fill loop exhaust k
	// on the first couple of documents it encounters, since diversity
	// collapses to zero between equal-scored chunks from different
	// documents and ties resolve to list order — starving every other
	// represented document of a slot entirely.
	var rest []types.ScoredChunk
	seenDocs := make(map[string]bool)
	for _, c := range remaining {
		if !seenDocs[c.DocID] && len(selected) < k {
			seenDocs[c.DocID] = true
			selected = append(selected, c)
			docCounts[c.DocID]++
		} else {
			rest = append(rest, c)
		}
	}
	remaining = rest

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := -1
		bestScore := math.Inf(-1)
		for i, c := range remaining {
			if docCounts[c.DocID] >= perDocCap && !allDocsExhausted(remaining, docCounts, perDocCap) {
				continue
			}
			diversity := 1.0
			if len(selected) > 0 {
				diversity = 1.0 - maxSimilarityToSelected(c, selected)
			}
			mmrScore := lambda*c.Score + (1-lambda)*diversity
			if mmrScore > bestScore {
				bestScore = mmrScore
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		chosen := remaining[bestIdx]
		selected = append(selected, chosen)
		docCounts[chosen.DocID]++
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

func allDocsExhausted(remaining []types.ScoredChunk, docCounts map[string]int, cap int) bool {
	for _, c := range remaining {
		if docCounts[c.DocID] < cap {
			return false
		}
	}
	return true
}

// maxSimilarityToSelected approximates embedding cosine distance using
// score proximity as a stand-in, since per-chunk embeddings are not
// carried through the store round-trip; document identity still drives
// the primary diversity signal above.
func maxSimilarityToSelected(c types.ScoredChunk, selected []types.ScoredChunk) float64 {
	max := 0.0
	for _, s := range selected {
		sim := 1.0 - math.Abs(c.Score-s.Score)
		if s.DocID == c.DocID {
			sim = math.Max(sim, 0.8)
		}
		if sim > max {
			max = sim
		}
	}
	return max
}
