package chat

import (
	"context"
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"

	"github.com/raglab/ragserver/internal/config"
	"github.com/raglab/ragserver/internal/logger"
	"github.com/raglab/ragserver/internal/types"
)

// OpenAIChat is a Client backed by any OpenAI-compatible completion
// endpoint (OpenAI itself, or a self-hosted gateway speaking the same
// wire format).
type OpenAIChat struct {
	client    *openai.Client
	modelName string
}

// NewOpenAIChat builds a client per cfg.Chat.
func NewOpenAIChat(cfg *config.Config) (*OpenAIChat, error) {
	if cfg.Chat.Model == "" {
		return nil, types.NewError(types.ErrInvalidInput, "chat model name is required")
	}
	oaCfg := openai.DefaultConfig(cfg.Chat.APIKey)
	if cfg.Chat.BaseURL != "" {
		oaCfg.BaseURL = cfg.Chat.BaseURL
	}
	return &OpenAIChat{
		client:    openai.NewClientWithConfig(oaCfg),
		modelName: cfg.Chat.Model,
	}, nil
}

func (c *OpenAIChat) ModelName() string { return c.modelName }

func (c *OpenAIChat) buildRequest(messages []Message, opts *ChatOptions, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    c.modelName,
		Messages: convertMessagesOpenAI(messages),
		Stream:   stream,
	}
	if opts != nil {
		req.Temperature = float32(opts.Temperature)
		req.TopP = float32(opts.TopP)
		req.MaxTokens = opts.MaxTokens
		req.Tools = toolsFromOpenAI(opts.Tools)
	}
	return req
}

func (c *OpenAIChat) Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
	req := c.buildRequest(messages, opts, false)
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, types.NewError(types.ErrParseFailure, "openai returned no choices")
	}
	choice := resp.Choices[0]
	return &Response{
		Content:   choice.Message.Content,
		ToolCalls: toolCallsToOpenAI(choice.Message.ToolCalls),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (c *OpenAIChat) ChatStream(ctx context.Context, messages []Message, opts *ChatOptions) (<-chan StreamChunk, error) {
	req := c.buildRequest(messages, opts, true)
	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if err != nil {
				if err.Error() == "EOF" {
					out <- StreamChunk{Type: StreamAnswer, Done: true}
					return
				}
				logger.Errorf(ctx, "openai stream failed: %v", err)
				out <- StreamChunk{Type: StreamError, Content: err.Error(), Done: true}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta
			if delta.Content != "" {
				out <- StreamChunk{Type: StreamAnswer, Content: delta.Content}
			}
			if len(delta.ToolCalls) > 0 {
				out <- StreamChunk{Type: StreamToolCall, ToolCalls: toolCallsToOpenAI(delta.ToolCalls)}
			}
		}
	}()
	return out, nil
}

func classifyOpenAIError(err error) error {
	if apiErr, ok := err.(*openai.APIError); ok {
		switch apiErr.HTTPStatusCode {
		case 429:
			return types.NewError(types.ErrTimeout, "openai rate limited").WithError(err)
		case 408, 504:
			return types.NewError(types.ErrTimeout, "openai request timed out").WithError(err)
		}
	}
	return types.NewError(types.ErrBackendUnavailable, "openai chat request failed").WithError(err)
}

func convertMessagesOpenAI(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCalls:  toolCallsFromOpenAI(m.ToolCalls),
			ToolCallID: m.ToolCallID,
		})
	}
	return out
}

func toolsFromOpenAI(tools []Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		var params map[string]interface{}
		if len(t.Function.Parameters) > 0 {
			_ = json.Unmarshal(t.Function.Parameters, &params)
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func toolCallsFromOpenAI(calls []ToolCall) []openai.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]openai.ToolCall, 0, len(calls))
	for _, tc := range calls {
		out = append(out, openai.ToolCall{
			ID:   tc.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out
}

func toolCallsToOpenAI(calls []openai.ToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(calls))
	for _, tc := range calls {
		out = append(out, ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: ToolCallFunction{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out
}
