// Package tools implements C13, the Tool Registry & Executor: tool
// definitions with JSON-Schema parameters, fenced/bare JSON call
// parsing, and the bounded tool-calling generation loop.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/raglab/ragserver/internal/logger"
	"github.com/raglab/ragserver/internal/models/chat"
	"github.com/raglab/ragserver/internal/types"
)

const (
	maxAttachedTools = 10
	maxIterations    = 3
)

// Result is what a tool Execute call reports back to the loop.
type Result struct {
	Success bool
	Output  string
	Error   string
	Data    map[string]interface{}
}

// Tool is anything the generation loop can invoke.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (*Result, error)
}

// Registry holds registered tools by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Definitions returns up to maxAttachedTools tool schemas in the shape
// C3 expects a provider's tool list to take.
func (r *Registry) Definitions() []chat.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]chat.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, chat.Tool{
			Type: "function",
			Function: chat.FunctionDef{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
		if len(out) >= maxAttachedTools {
			break
		}
	}
	return out
}

var (
	// Greedy (not lazy) between the fences: a lazy match would stop at
	// the first inner "}" and truncate any call whose arguments are
	// themselves a JSON object.
	fencedToolJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*\\})\\s*```")
)

// ParsedCall is a tool invocation extracted from model output.
type ParsedCall struct {
	Name      string
	Arguments json.RawMessage
}

type rawCall struct {
	Tool      string          `json:"tool"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Args      json.RawMessage `json:"args"`
}

// ParseToolCalls scans modelText for fenced-or-bare JSON objects naming
// a tool via a "tool" or "name" field.
func ParseToolCalls(modelText string) []ParsedCall {
	var candidates []string
	for _, m := range fencedToolJSON.FindAllStringSubmatch(modelText, -1) {
		candidates = append(candidates, m[1])
	}
	if len(candidates) == 0 {
		if start := strings.Index(modelText, "{"); start >= 0 {
			if end := strings.LastIndex(modelText, "}"); end > start {
				candidates = append(candidates, modelText[start:end+1])
			}
		}
	}

	var out []ParsedCall
	for _, c := range candidates {
		var rc rawCall
		if err := json.Unmarshal([]byte(c), &rc); err != nil {
			continue
		}
		name := rc.Tool
		if name == "" {
			name = rc.Name
		}
		if name == "" {
			continue
		}
		args := rc.Arguments
		if len(args) == 0 {
			args = rc.Args
		}
		out = append(out, ParsedCall{Name: name, Arguments: args})
	}
	return out
}

// ambientKeys are injected into tool arguments automatically when the
// model omits them, per spec.md §4.13 step 1's rule.
const (
	ambientUserIDKey    = "user_id"
	ambientChannelIDKey = "channel_id"
)

// ExecuteToolCall injects ambient context the model omitted then runs
// the named tool, never propagating a missing-tool or argument error as
// a Go error — both surface as a failed Result so the loop can feed it
// back to the model.
func (r *Registry) ExecuteToolCall(ctx context.Context, call ParsedCall, ambientUserID, ambientChannelID string) *Result {
	t, ok := r.Get(call.Name)
	if !ok {
		return &Result{Success: false, Error: fmt.Sprintf("tool %q is not registered", call.Name)}
	}

	args := withAmbientContext(call.Arguments, ambientUserID, ambientChannelID)
	res, err := t.Execute(ctx, args)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}
	}
	return res
}

func withAmbientContext(args json.RawMessage, userID, channelID string) json.RawMessage {
	m := map[string]interface{}{}
	if len(args) > 0 {
		_ = json.Unmarshal(args, &m)
	}
	if _, ok := m[ambientUserIDKey]; !ok && userID != "" {
		m[ambientUserIDKey] = userID
	}
	if _, ok := m[ambientChannelIDKey]; !ok && channelID != "" {
		m[ambientChannelIDKey] = channelID
	}
	out, err := json.Marshal(m)
	if err != nil {
		return args
	}
	return out
}

// LoopResult is the tool-calling loop's final state.
type LoopResult struct {
	FinalText string
	Calls     []types.ToolCallRecord
}

// RunLoop implements spec.md §4.13's generation loop: attach tool
// schemas, call C3, parse and execute any tool calls, append a
// synthetic summarizing user turn, and repeat up to maxIterations.
func RunLoop(ctx context.Context, client chat.Client, registry *Registry, messages []chat.Message, opts *chat.ChatOptions, ambientUserID, ambientChannelID string) (*LoopResult, error) {
	if opts == nil {
		opts = &chat.ChatOptions{}
	}
	opts.Tools = registry.Definitions()

	result := &LoopResult{}
	conversation := append([]chat.Message(nil), messages...)

	for i := 0; i < maxIterations; i++ {
		resp, err := client.Chat(ctx, conversation, opts)
		if err != nil {
			return nil, err
		}

		calls := ParseToolCalls(resp.Content)
		if len(calls) == 0 && len(resp.ToolCalls) > 0 {
			for _, tc := range resp.ToolCalls {
				calls = append(calls, ParsedCall{Name: tc.Function.Name, Arguments: json.RawMessage(tc.Function.Arguments)})
			}
		}
		if len(calls) == 0 {
			result.FinalText = resp.Content
			return result, nil
		}

		var summaries []string
		for _, call := range calls {
			res := registry.ExecuteToolCall(ctx, call, ambientUserID, ambientChannelID)
			record := types.ToolCallRecord{Name: call.Name, Arguments: string(call.Arguments)}
			if res.Success {
				record.Result = res.Output
				summaries = append(summaries, fmt.Sprintf("%s -> %s", call.Name, res.Output))
			} else {
				record.Error = res.Error
				summaries = append(summaries, fmt.Sprintf("%s failed: %s", call.Name, res.Error))
			}
			result.Calls = append(result.Calls, record)
		}

		logger.Debug(ctx, "tool loop iteration", "iteration", i, "calls", len(calls))
		conversation = append(conversation, chat.Message{Role: "assistant", Content: resp.Content})
		conversation = append(conversation, chat.Message{Role: "user", Content: "Tool results: " + strings.Join(summaries, "; ")})
	}

	// Ran out of iterations: ask once more without tools to force a final answer.
	opts.Tools = nil
	resp, err := client.Chat(ctx, conversation, opts)
	if err != nil {
		return nil, err
	}
	result.FinalText = resp.Content
	return result, nil
}
