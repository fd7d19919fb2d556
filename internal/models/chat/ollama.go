package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	ollamaapi "github.com/ollama/ollama/api"

	"github.com/raglab/ragserver/internal/config"
	"github.com/raglab/ragserver/internal/logger"
	"github.com/raglab/ragserver/internal/types"
)

// OllamaChat is a Client backed by a local Ollama daemon.
type OllamaChat struct {
	client    *ollamaapi.Client
	modelName string
}

// NewOllamaChat dials an Ollama daemon per cfg.Chat.
func NewOllamaChat(cfg *config.Config) (*OllamaChat, error) {
	base := cfg.Chat.BaseURL
	if base == "" {
		base = "http://localhost:11434"
	}
	parsed, err := url.Parse(base)
	if err != nil {
		parsed = &url.URL{Scheme: "http", Host: "localhost:11434"}
	}
	return &OllamaChat{
		client:    ollamaapi.NewClient(parsed, http.DefaultClient),
		modelName: cfg.Chat.Model,
	}, nil
}

func (c *OllamaChat) ModelName() string { return c.modelName }

func (c *OllamaChat) buildRequest(messages []Message, opts *ChatOptions, stream bool) *ollamaapi.ChatRequest {
	streamFlag := stream
	req := &ollamaapi.ChatRequest{
		Model:    c.modelName,
		Messages: convertMessages(messages),
		Stream:   &streamFlag,
		Options:  make(map[string]interface{}),
	}
	if opts != nil {
		if opts.Temperature > 0 {
			req.Options["temperature"] = opts.Temperature
		}
		if opts.TopP > 0 {
			req.Options["top_p"] = opts.TopP
		}
		if opts.MaxTokens > 0 {
			req.Options["num_predict"] = opts.MaxTokens
		}
		if len(opts.Tools) > 0 {
			req.Tools = toolsFrom(opts.Tools)
		}
	}
	return req
}

func (c *OllamaChat) Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
	req := c.buildRequest(messages, opts, false)

	var content string
	var toolCalls []ToolCall
	var promptTokens, evalTokens int

	err := c.client.Chat(ctx, req, func(resp ollamaapi.ChatResponse) error {
		content = resp.Message.Content
		toolCalls = toolCallsTo(resp.Message.ToolCalls)
		if resp.EvalCount > 0 {
			promptTokens = resp.PromptEvalCount
			evalTokens = resp.EvalCount
		}
		return nil
	})
	if err != nil {
		return nil, types.NewError(types.ErrBackendUnavailable, "ollama chat request failed").WithError(err)
	}

	return &Response{
		Content:   content,
		ToolCalls: toolCalls,
		Usage: Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: evalTokens - promptTokens,
			TotalTokens:      evalTokens,
		},
	}, nil
}

func (c *OllamaChat) ChatStream(ctx context.Context, messages []Message, opts *ChatOptions) (<-chan StreamChunk, error) {
	req := c.buildRequest(messages, opts, true)
	out := make(chan StreamChunk)

	go func() {
		defer close(out)
		err := c.client.Chat(ctx, req, func(resp ollamaapi.ChatResponse) error {
			if resp.Message.Content != "" {
				out <- StreamChunk{Type: StreamAnswer, Content: resp.Message.Content}
			}
			if len(resp.Message.ToolCalls) > 0 {
				out <- StreamChunk{Type: StreamToolCall, ToolCalls: toolCallsTo(resp.Message.ToolCalls)}
			}
			if resp.Done {
				out <- StreamChunk{Type: StreamAnswer, Done: true}
			}
			return nil
		})
		if err != nil {
			logger.Errorf(ctx, "ollama stream failed: %v", err)
			out <- StreamChunk{Type: StreamError, Content: err.Error(), Done: true}
		}
	}()

	return out, nil
}

func convertMessages(messages []Message) []ollamaapi.Message {
	out := make([]ollamaapi.Message, 0, len(messages))
	for _, m := range messages {
		om := ollamaapi.Message{Role: m.Role, Content: m.Content, ToolCalls: toolCallsFrom(m.ToolCalls)}
		if m.Role == "tool" {
			om.ToolName = m.Name
		}
		out = append(out, om)
	}
	return out
}

func toolsFrom(tools []Tool) ollamaapi.Tools {
	if len(tools) == 0 {
		return nil
	}
	out := make(ollamaapi.Tools, 0, len(tools))
	for _, t := range tools {
		fn := ollamaapi.ToolFunction{Name: t.Function.Name, Description: t.Function.Description}
		if len(t.Function.Parameters) > 0 {
			_ = json.Unmarshal(t.Function.Parameters, &fn.Parameters)
		}
		out = append(out, ollamaapi.Tool{Type: t.Type, Function: fn})
	}
	return out
}

func toolCallsFrom(calls []ToolCall) []ollamaapi.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ollamaapi.ToolCall, 0, len(calls))
	for _, tc := range calls {
		var args map[string]interface{}
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		out = append(out, ollamaapi.ToolCall{
			Function: ollamaapi.ToolCallFunction{Name: tc.Function.Name, Arguments: args},
		})
	}
	return out
}

func toolCallsTo(calls []ollamaapi.ToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(calls))
	for i, tc := range calls {
		argsBytes, _ := json.Marshal(tc.Function.Arguments)
		out = append(out, ToolCall{
			ID:   string(rune('a' + i)),
			Type: "function",
			Function: ToolCallFunction{
				Name:      tc.Function.Name,
				Arguments: string(argsBytes),
			},
		})
	}
	return out
}
