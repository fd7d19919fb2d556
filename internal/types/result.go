package types

// ResultKind discriminates the QueryResult tagged union. Exactly one of
// the corresponding pointer fields on QueryResult is non-nil.
type ResultKind string

const (
	ResultCasual      ResultKind = "casual"
	ResultStateAnswer ResultKind = "state_answer"
	ResultAction      ResultKind = "action_confirmation"
	ResultRag         ResultKind = "rag_answer"
)

// Timing carries the three duration measurements the wire protocol exposes.
type Timing struct {
	RetrievalMS  int64 `json:"retrieval_ms"`
	GenerationMS int64 `json:"generation_ms"`
	TotalMS      int64 `json:"total_ms"`
}

// SourceMemoryRef is the wire-shaped preview of a cited memory.
type SourceMemoryRef struct {
	Type    string `json:"type"`
	Preview string `json:"preview"`
}

// ToolCallRecord is the wire-shaped record of one tool invocation.
type ToolCallRecord struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Casual is the result of the casual-chat fast path.
type Casual struct {
	Answer string `json:"answer"`
}

// StateAnswer is the result of a state-query / state-set handler firing.
type StateAnswer struct {
	Answer       string `json:"answer"`
	IsStateQuery bool   `json:"is_state_query"`
	IsStateSet   bool   `json:"is_state_set"`
}

// ActionConfirmation is the result of an executed tracked-item action.
type ActionConfirmation struct {
	Answer          string  `json:"answer"`
	Action          string  `json:"action"`
	ItemName        string  `json:"item_name"`
	Quantity        float64 `json:"quantity"`
	SourceUserID    string  `json:"source_user_id,omitempty"`
	DestUserID      string  `json:"dest_user_id,omitempty"`
	ActionProcessed bool    `json:"action_processed"`
}

// RagAnswer is the result of the full retrieval + generation path.
type RagAnswer struct {
	Answer          string           `json:"answer"`
	ContextChunks   int              `json:"context_chunks"`
	MemoriesUsed    int              `json:"memories_used"`
	SourceDocuments []string         `json:"source_documents"`
	SourceMemories  []SourceMemoryRef `json:"source_memories"`
	ToolCalls       []ToolCallRecord `json:"tool_calls,omitempty"`
}

// QueryResult is the tagged-union replacement for the duck-typed response
// dictionaries of the source: exactly one non-nil member, discriminated
// by Kind. Every member serializes flat into the wire result object.
type QueryResult struct {
	Kind ResultKind `json:"-"`

	Casual   *Casual             `json:"-"`
	State    *StateAnswer        `json:"-"`
	Action   *ActionConfirmation `json:"-"`
	Rag      *RagAnswer          `json:"-"`

	Question           string `json:"question"`
	IsCasualConvo      bool   `json:"is_casual_conversation"`
	ServiceRouting     string `json:"service_routing"`
	Timing             Timing `json:"timing"`
}

// Answer returns the natural-language answer regardless of which union
// member is populated.
func (r *QueryResult) Answer() string {
	switch r.Kind {
	case ResultCasual:
		return r.Casual.Answer
	case ResultStateAnswer:
		return r.State.Answer
	case ResultAction:
		return r.Action.Answer
	case ResultRag:
		return r.Rag.Answer
	default:
		return ""
	}
}

// QueryContext bundles the per-request retrieval knobs so the orchestrator
// doesn't thread eight positional booleans through every stage.
type QueryContext struct {
	TopK                 int
	Temperature          float64
	MaxTokens            int
	MaxContextTokens     int
	UserID               string
	ChannelID            string
	UseMemory            bool
	UseSharedDocs        bool
	UseHybridSearch      bool
	UseQueryExpansion    bool
	UseTemporalWeighting bool
	DocID                string
	DocFilename          string
	MentionedUserID      string
	IsAdmin              bool
}

// DefaultQueryContext mirrors the wire protocol's documented defaults.
func DefaultQueryContext() QueryContext {
	return QueryContext{
		TopK:                 10,
		Temperature:          0.7,
		MaxTokens:            600,
		MaxContextTokens:     1500,
		UseMemory:            true,
		UseSharedDocs:        true,
		UseHybridSearch:      true,
		UseQueryExpansion:    true,
		UseTemporalWeighting: true,
	}
}

// HasExplicitDocFilter reports whether the request pins a specific document.
func (q QueryContext) HasExplicitDocFilter() bool {
	return q.DocID != "" || q.DocFilename != ""
}
