package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToolsFromOpenAI_ParsesParameters(t *testing.T) {
	tools := []Tool{{
		Type: "function",
		Function: FunctionDef{
			Name:        "get_balance",
			Description: "look up a user's balance",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"user_id":{"type":"string"}}}`),
		},
	}}
	out := toolsFromOpenAI(tools)
	if assert.Len(t, out, 1) {
		assert.Equal(t, "get_balance", out[0].Function.Name)
		assert.NotNil(t, out[0].Function.Parameters)
	}
}

func TestToolsFromOpenAI_Empty(t *testing.T) {
	assert.Nil(t, toolsFromOpenAI(nil))
}

func TestToolCallsRoundTripOpenAI(t *testing.T) {
	calls := []ToolCall{{
		ID:   "call_1",
		Type: "function",
		Function: ToolCallFunction{
			Name:      "transfer",
			Arguments: `{"from":"a","to":"b","amount":5}`,
		},
	}}
	converted := toolCallsFromOpenAI(calls)
	back := toolCallsToOpenAI(converted)
	if assert.Len(t, back, 1) {
		assert.Equal(t, "call_1", back[0].ID)
		assert.Equal(t, "transfer", back[0].Function.Name)
	}
}
