package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/raglab/ragserver/internal/utils"
)

var thinkingParameters = utils.GenerateSchema[thoughtRecord]()

// ThinkingTool gives the model a scratchpad for multi-step reasoning
// that survives across tool-loop iterations within one query.
type ThinkingTool struct {
	mu      sync.Mutex
	history []thoughtRecord
}

type thoughtRecord struct {
	Thought       string `json:"thought" jsonschema:"The current reasoning step, in plain language."`
	ThoughtNumber int    `json:"thought_number" jsonschema:"Position of this thought in the sequence."`
	TotalThoughts int    `json:"total_thoughts" jsonschema:"Current estimate of how many thoughts are needed."`
	NextNeeded    bool   `json:"next_thought_needed" jsonschema:"Whether another thought should follow."`
}

func NewThinkingTool() *ThinkingTool {
	return &ThinkingTool{}
}

func (t *ThinkingTool) Name() string        { return "think" }
func (t *ThinkingTool) Description() string { return "Record one step of multi-step reasoning before answering; does not retrieve or change anything." }
func (t *ThinkingTool) Parameters() json.RawMessage { return thinkingParameters }

func (t *ThinkingTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var rec thoughtRecord
	if err := json.Unmarshal(args, &rec); err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}
	if rec.Thought == "" {
		return &Result{Success: false, Error: "missing thought"}, nil
	}

	t.mu.Lock()
	t.history = append(t.history, rec)
	step := len(t.history)
	t.mu.Unlock()

	return &Result{
		Success: true,
		Output:  fmt.Sprintf("recorded thought %d/%d", step, rec.TotalThoughts),
		Data:    map[string]interface{}{"thought_number": rec.ThoughtNumber, "next_thought_needed": rec.NextNeeded},
	}, nil
}
