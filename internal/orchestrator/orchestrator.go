// Package orchestrator implements C15, the top-level query() sequence:
// persona resolution, the state/action fast paths, casual chat, parallel
// evidence retrieval, re-rank and MMR, context-budget prompt building,
// generation (with or without the tool loop), and exchange persistence.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raglab/ragserver/internal/agent/tools"
	"github.com/raglab/ragserver/internal/cache"
	"github.com/raglab/ragserver/internal/models/chat"
	"github.com/raglab/ragserver/internal/models/embedding"
	"github.com/raglab/ragserver/internal/models/rerank"
	"github.com/raglab/ragserver/internal/pipeline/action"
	"github.com/raglab/ragserver/internal/pipeline/analyzer"
	"github.com/raglab/ragserver/internal/pipeline/selector"
	"github.com/raglab/ragserver/internal/pipeline/statehandler"
	"github.com/raglab/ragserver/internal/retrieval"
	"github.com/raglab/ragserver/internal/state"
	"github.com/raglab/ragserver/internal/state/items"
	"github.com/raglab/ragserver/internal/store"
	"github.com/raglab/ragserver/internal/types"

	"github.com/raglab/ragserver/internal/logger"
)

const (
	docBranchTimeout     = 8 * time.Second
	memoryBranchTimeout  = 5 * time.Second
	charsPerContextToken = 2.5
)

// Orchestrator is C15's entry point: one query() method wired to every
// other module.
type Orchestrator struct {
	facade     *store.Facade
	embedder   embedding.Embedder
	chatClient chat.Client
	analyzer   *analyzer.Analyzer
	retrieval  *retrieval.Engine
	reranker   *rerank.Reranker
	selector   *selector.Selector
	ledger     *state.Ledger
	tracker    *items.Tracker
	handler    *statehandler.Handler
	registry   *tools.Registry
	caches     *cache.Caches

	mmrEnabled bool
}

// New wires C15 from its already-constructed dependencies.
func New(
	facade *store.Facade,
	embedder embedding.Embedder,
	chatClient chat.Client,
	an *analyzer.Analyzer,
	retrievalEngine *retrieval.Engine,
	reranker *rerank.Reranker,
	sel *selector.Selector,
	ledger *state.Ledger,
	tracker *items.Tracker,
	handler *statehandler.Handler,
	registry *tools.Registry,
	caches *cache.Caches,
	mmrEnabled bool,
) *Orchestrator {
	return &Orchestrator{
		facade: facade, embedder: embedder, chatClient: chatClient,
		analyzer: an, retrieval: retrievalEngine, reranker: reranker, selector: sel,
		ledger: ledger, tracker: tracker, handler: handler, registry: registry,
		caches: caches, mmrEnabled: mmrEnabled,
	}
}

// Query runs the full 16-step sequence described by spec.md §4.15.
func (o *Orchestrator) Query(ctx context.Context, utterance string, qctx types.QueryContext) (*types.QueryResult, error) {
	start := time.Now()
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return nil, types.ErrEmptyQuestion
	}

	result := &types.QueryResult{Question: utterance}

	// Step 1: persona resolution (cached via C4's Persona cache; a miss
	// just calls IdentifyPersona again, which is cheap and idempotent).
	persona := o.resolvePersona(ctx, qctx.UserID, utterance, qctx.ChannelID)

	// Step 2: decide whether C11 (the action parser) should even run.
	skipAction := action.IsInformationQuestion(utterance) || qctx.HasExplicitDocFilter()

	// Step 3/4: state-query and state-set fast paths.
	if o.handler != nil {
		if sq, err := o.handler.TryQuery(ctx, utterance, qctx.UserID, qctx.MentionedUserID); err != nil {
			logger.PipelineWarn(ctx, "StateQuery", "handler_failed", map[string]interface{}{"error": err.Error()})
		} else if sq != nil {
			result.Kind = types.ResultStateAnswer
			result.State = &types.StateAnswer{Answer: sq.Answer, IsStateQuery: true}
			result.ServiceRouting = "state_query"
			result.Timing = elapsed(start)
			o.persistExchange(ctx, utterance, result, qctx, false)
			return result, nil
		}
		if ss, err := o.handler.TrySet(ctx, utterance, qctx.UserID, qctx.ChannelID); err != nil {
			logger.PipelineWarn(ctx, "StateSet", "handler_failed", map[string]interface{}{"error": err.Error()})
		} else if ss != nil {
			result.Kind = types.ResultStateAnswer
			result.State = &types.StateAnswer{Answer: ss.Answer, IsStateSet: true}
			result.ServiceRouting = "state_set"
			result.Timing = elapsed(start)
			o.persistExchange(ctx, utterance, result, qctx, false)
			return result, nil
		}
	}

	// Step 5: analyzer, reusing its own memoization.
	analysis, err := o.analyzer.Analyze(ctx, utterance, analyzer.Context{
		HasAttachments: false,
	})
	if err != nil {
		analysis = &analyzer.Analysis{Routing: analyzer.RoutingRAG, NeedsRAG: true, Complexity: analyzer.ComplexityModerate}
	}
	result.IsCasualConvo = analysis.IsCasual
	result.ServiceRouting = string(analysis.Routing)

	// Step 6: resolve surviving document references against C1 when no
	// explicit filter was given; a hit forces RAG routing.
	if !qctx.HasExplicitDocFilter() && len(analysis.DocumentReferences) > 0 {
		if o.resolveDocumentReferences(ctx, analysis.DocumentReferences) {
			analysis.Routing = analyzer.RoutingRAG
			analysis.NeedsRAG = true
			result.ServiceRouting = string(analysis.Routing)
		}
	}

	// Step 7: only now consider the action parser.
	if !skipAction {
		parsed := action.Parse(utterance, qctx.UserID, qctx.ChannelID, qctx.MentionedUserID)
		if parsed.Executable() {
			confirmation := o.executeAction(ctx, parsed, qctx)
			result.Kind = types.ResultAction
			result.Action = confirmation
			result.ServiceRouting = "action"
			result.Timing = elapsed(start)
			o.persistExchange(ctx, utterance, result, qctx, false)
			return result, nil
		}
	}

	// Step 8: casual/chat fast path.
	if analysis.IsCasual || analysis.Routing == analyzer.RoutingChat {
		answer, genErr := o.casualReply(ctx, utterance)
		if genErr != nil {
			return nil, genErr
		}
		result.Kind = types.ResultCasual
		result.Casual = &types.Casual{Answer: answer}
		result.Timing = elapsed(start)
		o.persistExchange(ctx, utterance, result, qctx, true)
		return result, nil
	}

	// Step 9: parallel evidence retrieval, bounded by per-branch timeouts.
	retrievalStart := time.Now()
	docChunks, memories := o.gatherEvidence(ctx, utterance, analysis, qctx)

	// Step 10: multi-query retrieval for high-complexity/sparse results
	// is already folded into retrieval.Engine.Retrieve via Options.Complexity.

	// Step 11: re-rank.
	docChunks = o.reranker.Rerank(ctx, utterance, docChunks, qctx.TopK)

	// Step 12: MMR diversification (or plain score-order fallback) already
	// ran inside retrieval.Engine.Retrieve per o.mmrEnabled.
	retrievalMS := time.Since(retrievalStart).Milliseconds()

	// Step 13: budget-constrained context assembly.
	contextText, sourceDocs, sourceMems := buildContext(docChunks, memories, qctx.MaxContextTokens)

	// Step 14: prompt + generation, with or without the tool loop.
	genStart := time.Now()
	messages := buildPromptMessages(utterance, contextText, persona)
	opts := &chat.ChatOptions{Temperature: qctx.Temperature, MaxTokens: qctx.MaxTokens}

	var answer string
	var toolRecords []types.ToolCallRecord
	hadToolSideEffects := false
	if len(docChunks) > 0 || o.registry == nil {
		resp, err := o.chatClient.Chat(ctx, messages, opts)
		if err != nil {
			return nil, types.NewError(types.ErrBackendUnavailable, "generation failed").WithError(err)
		}
		answer = resp.Content
	} else {
		loopResult, err := tools.RunLoop(ctx, o.chatClient, o.registry, messages, opts, qctx.UserID, qctx.ChannelID)
		if err != nil {
			return nil, types.NewError(types.ErrBackendUnavailable, "generation failed").WithError(err)
		}
		answer = loopResult.FinalText
		toolRecords = loopResult.Calls
		hadToolSideEffects = len(toolRecords) > 0
	}
	genMS := time.Since(genStart).Milliseconds()

	result.Kind = types.ResultRag
	result.Rag = &types.RagAnswer{
		Answer:          answer,
		ContextChunks:   len(docChunks),
		MemoriesUsed:    len(memories),
		SourceDocuments: sourceDocs,
		SourceMemories:  sourceMems,
		ToolCalls:       toolRecords,
	}
	result.Timing = types.Timing{RetrievalMS: retrievalMS, GenerationMS: genMS, TotalMS: time.Since(start).Milliseconds()}

	// Step 15: persist the exchange and write a memory.
	o.persistExchange(ctx, utterance, result, qctx, !hadToolSideEffects)

	// Step 16: the result envelope is `result` itself.
	return result, nil
}

func elapsed(start time.Time) types.Timing {
	ms := time.Since(start).Milliseconds()
	return types.Timing{TotalMS: ms}
}

func (o *Orchestrator) resolvePersona(ctx context.Context, userID, utterance, channelID string) string {
	if o.facade == nil || o.facade.Graph == nil || userID == "" {
		return ""
	}
	if o.caches != nil {
		if cached, ok := o.caches.Persona.Get("persona:" + userID); ok {
			if s, ok := cached.(string); ok {
				return s
			}
		}
	}
	persona, err := state.IdentifyPersona(ctx, o.facade.Graph, userID, utterance, channelID, "")
	if err != nil {
		logger.PipelineWarn(ctx, "Persona", "resolve_failed", map[string]interface{}{"error": err.Error()})
		return ""
	}
	if o.caches != nil && persona != "" {
		o.caches.Persona.Set("persona:"+userID, persona)
	}
	return persona
}

// resolveDocumentReferences checks whether any analyzer-extracted
// filename actually exists among C1's documents.
func (o *Orchestrator) resolveDocumentReferences(ctx context.Context, refs []string) bool {
	docs := o.facade.GetAllDocuments(ctx)
	if len(docs) == 0 {
		return false
	}
	names := make(map[string]bool, len(docs))
	for _, d := range docs {
		names[strings.ToLower(d.FileName)] = true
	}
	for _, r := range refs {
		if names[strings.ToLower(r)] {
			return true
		}
	}
	return false
}

func (o *Orchestrator) executeAction(ctx context.Context, parsed action.Parsed, qctx types.QueryContext) *types.ActionConfirmation {
	confirm := &types.ActionConfirmation{
		Action:   string(parsed.Action),
		ItemName: parsed.ItemName,
		Quantity: parsed.Quantity,
		SourceUserID: parsed.SourceUserID,
		DestUserID:   parsed.DestUserID,
	}

	var err error
	switch parsed.Action {
	case action.ActionGive, action.ActionTransfer, action.ActionSend:
		_, err = o.tracker.TransferItem(ctx, parsed.SourceUserID, parsed.DestUserID, parsed.ItemName, parsed.Quantity, parsed.SourceUserID, qctx.ChannelID, "action:"+string(parsed.Action))
	case action.ActionTake:
		_, err = o.tracker.TransferItem(ctx, parsed.SourceUserID, parsed.DestUserID, parsed.ItemName, parsed.Quantity, qctx.UserID, qctx.ChannelID, "action:take")
	case action.ActionAdd:
		_, err = o.tracker.AddToInventory(ctx, parsed.DestUserID, parsed.ItemName, parsed.Quantity, qctx.UserID, qctx.ChannelID, "action:add")
	case action.ActionRemove:
		_, err = o.tracker.AddToInventory(ctx, parsed.DestUserID, parsed.ItemName, -parsed.Quantity, qctx.UserID, qctx.ChannelID, "action:remove")
	case action.ActionSet:
		err = o.ledger.Set(ctx, parsed.DestUserID, parsed.ItemName, parsed.Quantity, qctx.UserID, qctx.ChannelID, "action:set")
	}

	if err != nil {
		confirm.ActionProcessed = false
		if types.IsKind(err, types.ErrInconsistency) {
			confirm.Answer = "I can't do that — the source doesn't have enough."
		} else {
			confirm.Answer = "I couldn't complete that action."
		}
		return confirm
	}

	confirm.ActionProcessed = true
	confirm.Answer = fmt.Sprintf("Done: %s %.0f %s.", parsed.Action, parsed.Quantity, parsed.ItemName)
	return confirm
}

func (o *Orchestrator) casualReply(ctx context.Context, utterance string) (string, error) {
	messages := []chat.Message{
		{Role: "system", Content: "Reply conversationally in one or two short sentences."},
		{Role: "user", Content: utterance},
	}
	resp, err := o.chatClient.Chat(ctx, messages, &chat.ChatOptions{Temperature: 0.7, MaxTokens: 150})
	if err != nil {
		return "", types.NewError(types.ErrBackendUnavailable, "casual reply failed").WithError(err)
	}
	return resp.Content, nil
}

// gatherEvidence runs the document and memory branches concurrently,
// each bounded by its own deadline; an overrun branch contributes
// nothing rather than failing the whole query.
func (o *Orchestrator) gatherEvidence(ctx context.Context, utterance string, analysis *analyzer.Analysis, qctx types.QueryContext) ([]types.ScoredChunk, []types.ScoredMemory) {
	var docChunks []types.ScoredChunk
	var memories []types.ScoredMemory

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		docCtx, cancel := context.WithTimeout(gctx, docBranchTimeout)
		defer cancel()
		docChunks = o.retrieveDocuments(docCtx, utterance, analysis, qctx)
		return nil
	})
	g.Go(func() error {
		if qctx.HasExplicitDocFilter() || !qctx.UseMemory || o.facade.Memory == nil {
			return nil
		}
		memCtx, cancel := context.WithTimeout(gctx, memoryBranchTimeout)
		defer cancel()
		memories = o.retrieveMemories(memCtx, utterance, qctx)
		return nil
	})
	_ = g.Wait()
	return docChunks, memories
}

func (o *Orchestrator) retrieveDocuments(ctx context.Context, utterance string, analysis *analyzer.Analysis, qctx types.QueryContext) []types.ScoredChunk {
	if !selector.ShouldSearch(utterance, analysis, qctx.DocID+qctx.DocFilename) {
		return nil
	}
	filters := store.SearchFilters{DocID: qctx.DocID, DocFilename: qctx.DocFilename}
	chunks, err := o.retrieval.Retrieve(ctx, utterance, retrieval.Options{
		TopK:                 qctx.TopK,
		Filters:              filters,
		Complexity:           analysis.Complexity,
		UseHybridSearch:      qctx.UseHybridSearch,
		UseQueryExpansion:    qctx.UseQueryExpansion,
		UseTemporalWeighting: qctx.UseTemporalWeighting,
		UseMMR:               o.mmrEnabled,
	})
	if err != nil {
		logger.PipelineWarn(ctx, "RetrieveDocs", "degraded_to_empty", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return chunks
}

func (o *Orchestrator) retrieveMemories(ctx context.Context, utterance string, qctx types.QueryContext) []types.ScoredMemory {
	vec, err := o.embedder.Embed(ctx, utterance)
	if err != nil {
		logger.PipelineWarn(ctx, "RetrieveMemories", "embed_failed", map[string]interface{}{"error": err.Error()})
		return nil
	}
	k := qctx.TopK
	if k <= 0 {
		k = 10
	}
	memories, err := o.facade.Memory.RetrieveMemories(ctx, qctx.ChannelID, vec, k)
	if err != nil {
		logger.PipelineWarn(ctx, "RetrieveMemories", "degraded_to_empty", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return memories
}

// buildContext assembles prompt context under a hard character budget,
// ordering memories by Importance (highest first) ahead of chunks,
// truncating the tail once the budget is exhausted.
func buildContext(chunks []types.ScoredChunk, memories []types.ScoredMemory, maxContextTokens int) (string, []string, []types.SourceMemoryRef) {
	budget := int(float64(maxContextTokens) * charsPerContextToken)
	if budget <= 0 {
		budget = 3750
	}

	sort.SliceStable(memories, func(i, j int) bool { return memories[i].Importance > memories[j].Importance })

	var b strings.Builder
	var sourceDocs []string
	var sourceMems []types.SourceMemoryRef
	seenDocs := map[string]bool{}

	for _, m := range memories {
		piece := "Memory: " + m.Content + "\n"
		if b.Len()+len(piece) > budget {
			break
		}
		b.WriteString(piece)
		sourceMems = append(sourceMems, types.SourceMemoryRef{Type: string(m.Type), Preview: truncate(m.Content, 120)})
	}

	for _, c := range chunks {
		piece := "Document excerpt: " + c.Text + "\n"
		if b.Len()+len(piece) > budget {
			break
		}
		b.WriteString(piece)
		if !seenDocs[c.DocID] {
			seenDocs[c.DocID] = true
			sourceDocs = append(sourceDocs, c.FileName)
		}
	}

	return b.String(), sourceDocs, sourceMems
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func buildPromptMessages(utterance, contextText string, persona ...string) []chat.Message {
	system := "Answer the user's question using the provided context when relevant. If the context doesn't contain the answer, say so plainly."
	if len(persona) > 0 && persona[0] != "" {
		system += "\n\nYou are currently addressed as: " + persona[0] + "."
	}
	if contextText != "" {
		system += "\n\nContext:\n" + contextText
	}
	return []chat.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: utterance},
	}
}

// persistExchange writes the conversation turn and, when appropriate, a
// memory record. Both are best-effort: a failure here degrades silently
// per spec.md §7's ParseFailure/BackendUnavailable rule for non-request
// paths, logged but never surfaced.
func (o *Orchestrator) persistExchange(ctx context.Context, utterance string, result *types.QueryResult, qctx types.QueryContext, writeMemory bool) {
	if o.facade == nil || o.facade.Memory == nil || qctx.UserID == "" {
		return
	}
	if err := o.facade.Memory.AddConversation(ctx, types.ConversationMessage{
		UserID: qctx.UserID, ChannelID: qctx.ChannelID,
		Question: utterance, Answer: result.Answer(), CreatedAt: time.Now(),
	}); err != nil {
		logger.PipelineWarn(ctx, "Persist", "conversation_write_failed", map[string]interface{}{"error": err.Error()})
	}

	if writeMemory && qctx.ChannelID != "" && !result.IsCasualConvo {
		vec, err := o.embedder.Embed(ctx, utterance+" "+result.Answer())
		if err != nil {
			logger.PipelineWarn(ctx, "Persist", "memory_embed_failed", map[string]interface{}{"error": err.Error()})
			return
		}
		mem := types.Memory{
			ChannelID: qctx.ChannelID, Content: utterance + " -> " + result.Answer(),
			Embedding: vec, Type: "exchange", UserID: qctx.UserID, CreatedAt: time.Now(), Importance: 0.5,
		}
		if err := o.facade.Memory.StoreMemory(ctx, mem); err != nil {
			logger.PipelineWarn(ctx, "Persist", "memory_write_failed", map[string]interface{}{"error": err.Error()})
		}
	}
}
