// Package server implements the wire protocol: a newline-delimited-JSON
// stdio server plus an optional gin HTTP companion over the same
// orchestrator.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/raglab/ragserver/internal/logger"
	"github.com/raglab/ragserver/internal/orchestrator"
	"github.com/raglab/ragserver/internal/store"
	"github.com/raglab/ragserver/internal/types"
)

// Request is one inbound NDJSON object.
type Request struct {
	ID     interface{}     `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Response is one outbound NDJSON object. Error is a string, never a
// structured object, per the wire protocol's "error is a string when the
// request failed" rule.
type Response struct {
	ID     interface{} `json:"id"`
	Result interface{} `json:"result"`
	Error  *string     `json:"error"`
}

// StdioServer reads Requests from in and writes Responses to out, one
// line each, until in is exhausted or ctx is cancelled.
type StdioServer struct {
	orch *orchestrator.Orchestrator
	mem  store.MemoryBackend
}

func NewStdioServer(orch *orchestrator.Orchestrator, mem store.MemoryBackend) *StdioServer {
	return &StdioServer{orch: orch, mem: mem}
}

// Serve runs the read-dispatch-write loop. A malformed line produces a
// {result:null, error:"Invalid JSON: ..."} reply and does not stop the loop.
func (s *StdioServer) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	writer := bufio.NewWriter(out)
	defer writer.Flush()
	encoder := json.NewEncoder(writer)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.reply(encoder, nil, nil, "Invalid JSON: "+err.Error())
			continue
		}

		result, err := s.dispatch(ctx, req)
		if err != nil {
			s.reply(encoder, req.ID, nil, err.Error())
			continue
		}
		s.reply(encoder, req.ID, result, "")
		writer.Flush()
	}
	return scanner.Err()
}

func (s *StdioServer) reply(enc *json.Encoder, id interface{}, result interface{}, errMsg string) {
	resp := Response{ID: id, Result: result}
	if errMsg != "" {
		resp.Error = &errMsg
	}
	if err := enc.Encode(resp); err != nil {
		logger.Error(context.Background(), "encode response failed", "error", err.Error())
	}
}

func (s *StdioServer) dispatch(ctx context.Context, req Request) (interface{}, error) {
	switch req.Method {
	case "ping":
		return map[string]string{"status": "ok"}, nil
	case "query":
		return s.handleQuery(ctx, req.Params)
	case "add_conversation":
		return s.handleAddConversation(ctx, req.Params)
	case "get_conversation":
		return s.handleGetConversation(ctx, req.Params)
	case "get_recent_conversation":
		return s.handleGetRecentConversation(ctx, req.Params)
	case "get_conversation_stats":
		return s.handleConversationStats(ctx, req.Params)
	case "get_relevant_conversations":
		return s.handleRelevantConversations(ctx, req.Params)
	case "clear_conversation":
		return s.handleClearConversation(ctx, req.Params)
	default:
		return nil, types.NewError(types.ErrInvalidInput, "unknown method: "+req.Method)
	}
}

// queryParams mirrors the wire protocol's documented query defaults.
type queryParams struct {
	Question             string  `json:"question"`
	TopK                 int     `json:"top_k"`
	Temperature          float64 `json:"temperature"`
	MaxTokens            int     `json:"max_tokens"`
	MaxContextTokens     int     `json:"max_context_tokens"`
	UserID               string  `json:"user_id"`
	ChannelID            string  `json:"channel_id"`
	UseMemory            *bool   `json:"use_memory"`
	UseSharedDocs        *bool   `json:"use_shared_docs"`
	UseHybridSearch      *bool   `json:"use_hybrid_search"`
	UseQueryExpansion    *bool   `json:"use_query_expansion"`
	UseTemporalWeighting *bool   `json:"use_temporal_weighting"`
	DocID                string  `json:"doc_id"`
	DocFilename          string  `json:"doc_filename"`
	MentionedUserID      string  `json:"mentioned_user_id"`
	IsAdmin              bool    `json:"is_admin"`
}

func (s *StdioServer) handleQuery(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p queryParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, types.NewError(types.ErrInvalidInput, "invalid query params").WithError(err)
	}
	if p.Question == "" {
		return nil, types.ErrEmptyQuestion
	}

	qctx := types.DefaultQueryContext()
	qctx.UserID = p.UserID
	qctx.ChannelID = p.ChannelID
	qctx.DocID = p.DocID
	qctx.DocFilename = p.DocFilename
	qctx.MentionedUserID = p.MentionedUserID
	qctx.IsAdmin = p.IsAdmin
	if p.TopK > 0 {
		qctx.TopK = p.TopK
	}
	if p.Temperature > 0 {
		qctx.Temperature = p.Temperature
	}
	if p.MaxTokens > 0 {
		qctx.MaxTokens = p.MaxTokens
	}
	if p.MaxContextTokens > 0 {
		qctx.MaxContextTokens = p.MaxContextTokens
	}
	applyBool(&qctx.UseMemory, p.UseMemory)
	applyBool(&qctx.UseSharedDocs, p.UseSharedDocs)
	applyBool(&qctx.UseHybridSearch, p.UseHybridSearch)
	applyBool(&qctx.UseQueryExpansion, p.UseQueryExpansion)
	applyBool(&qctx.UseTemporalWeighting, p.UseTemporalWeighting)

	result, err := s.orch.Query(ctx, p.Question, qctx)
	if err != nil {
		return nil, err
	}
	return wireResult(result), nil
}

func applyBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

// wireResult flattens the tagged-union QueryResult into the wire shape
// documented in spec.md §6.
func wireResult(r *types.QueryResult) map[string]interface{} {
	out := map[string]interface{}{
		"answer":                 r.Answer(),
		"question":               r.Question,
		"is_casual_conversation": r.IsCasualConvo,
		"service_routing":        r.ServiceRouting,
		"timing":                 r.Timing,
		"context_chunks":         0,
		"memories_used":          0,
		"source_documents":       []string{},
		"source_memories":        []types.SourceMemoryRef{},
		"tool_calls":             []types.ToolCallRecord{},
	}
	if r.Kind == types.ResultRag && r.Rag != nil {
		out["context_chunks"] = r.Rag.ContextChunks
		out["memories_used"] = r.Rag.MemoriesUsed
		out["source_documents"] = r.Rag.SourceDocuments
		out["source_memories"] = r.Rag.SourceMemories
		out["tool_calls"] = r.Rag.ToolCalls
	}
	if r.Kind == types.ResultStateAnswer && r.State != nil {
		out["is_state_query"] = r.State.IsStateQuery
		out["is_state_set"] = r.State.IsStateSet
	}
	if r.Kind == types.ResultAction && r.Action != nil {
		out["action"] = r.Action.Action
		out["item_name"] = r.Action.ItemName
		out["quantity"] = r.Action.Quantity
		out["source_user_id"] = r.Action.SourceUserID
		out["dest_user_id"] = r.Action.DestUserID
		out["action_processed"] = r.Action.ActionProcessed
	}
	return out
}

type conversationParams struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Limit     int    `json:"limit"`
}

func (s *StdioServer) handleAddConversation(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p conversationParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, types.NewError(types.ErrInvalidInput, "invalid params").WithError(err)
	}
	if p.UserID == "" {
		return nil, types.NewError(types.ErrInvalidInput, "user_id is required")
	}
	err := s.mem.AddConversation(ctx, types.ConversationMessage{
		UserID: p.UserID, ChannelID: p.ChannelID, Question: p.Question, Answer: p.Answer,
	})
	if err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (s *StdioServer) handleGetConversation(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p conversationParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, types.NewError(types.ErrInvalidInput, "invalid params").WithError(err)
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 50
	}
	return s.mem.GetConversation(ctx, p.UserID, limit)
}

func (s *StdioServer) handleGetRecentConversation(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p conversationParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, types.NewError(types.ErrInvalidInput, "invalid params").WithError(err)
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 10
	}
	return s.mem.GetRecentConversation(ctx, p.UserID, limit)
}

func (s *StdioServer) handleConversationStats(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p conversationParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, types.NewError(types.ErrInvalidInput, "invalid params").WithError(err)
	}
	return s.mem.GetConversationStats(ctx, p.UserID)
}

func (s *StdioServer) handleRelevantConversations(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p struct {
		UserID string `json:"user_id"`
		Query  string `json:"query"`
		Limit  int    `json:"limit"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, types.NewError(types.ErrInvalidInput, "invalid params").WithError(err)
	}
	// The wire protocol speaks in plain text, not vectors; a nil vector
	// degrades this backend call to its keyword/time-ordered path rather
	// than failing the whole request.
	return s.mem.GetRelevantConversations(ctx, p.UserID, nil, orDefault(p.Limit, 10))
}

func (s *StdioServer) handleClearConversation(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p conversationParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, types.NewError(types.ErrInvalidInput, "invalid params").WithError(err)
	}
	if err := s.mem.ClearConversation(ctx, p.UserID); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
