package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubTool struct {
	name   string
	result *Result
}

func (s *stubTool) Name() string                { return s.name }
func (s *stubTool) Description() string         { return "stub" }
func (s *stubTool) Parameters() json.RawMessage { return json.RawMessage(`{}`) }
func (s *stubTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	return s.result, nil
}

func TestParseToolCalls_FencedJSON(t *testing.T) {
	text := "Let me check.\n```json\n{\"tool\":\"query_ledger\",\"arguments\":{\"sql\":\"SELECT 1\"}}\n```"
	calls := ParseToolCalls(text)
	assert.Len(t, calls, 1)
	assert.Equal(t, "query_ledger", calls[0].Name)
}

func TestParseToolCalls_BareJSONWithNameField(t *testing.T) {
	text := `{"name":"think","arguments":{"thought":"hi"}}`
	calls := ParseToolCalls(text)
	assert.Len(t, calls, 1)
	assert.Equal(t, "think", calls[0].Name)
}

func TestParseToolCalls_NoJSONReturnsEmpty(t *testing.T) {
	assert.Empty(t, ParseToolCalls("just a plain answer"))
}

func TestRegistry_DefinitionsCapAtTen(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 15; i++ {
		r.Register(&stubTool{name: fmt.Sprintf("tool_%d", i), result: &Result{Success: true}})
	}
	assert.LessOrEqual(t, len(r.Definitions()), 10)
}

func TestExecuteToolCall_UnknownToolFails(t *testing.T) {
	r := NewRegistry()
	res := r.ExecuteToolCall(context.Background(), ParsedCall{Name: "nope"}, "u1", "c1")
	assert.False(t, res.Success)
}

func TestExecuteToolCall_InjectsAmbientContext(t *testing.T) {
	r := NewRegistry()
	var seen map[string]interface{}
	r.Register(&captureTool{capture: &seen})
	r.ExecuteToolCall(context.Background(), ParsedCall{Name: "capture", Arguments: json.RawMessage(`{}`)}, "u1", "c1")
	assert.Equal(t, "u1", seen["user_id"])
	assert.Equal(t, "c1", seen["channel_id"])
}

type captureTool struct {
	capture *map[string]interface{}
}

func (c *captureTool) Name() string                { return "capture" }
func (c *captureTool) Description() string         { return "" }
func (c *captureTool) Parameters() json.RawMessage { return json.RawMessage(`{}`) }
func (c *captureTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	m := map[string]interface{}{}
	_ = json.Unmarshal(args, &m)
	*c.capture = m
	return &Result{Success: true}, nil
}
