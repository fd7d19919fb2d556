// Package store implements C1, the Store Facade: a uniform API over a
// vector+full-text index (primary) and a graph index (relationships).
package store

import (
	"context"

	"github.com/raglab/ragserver/internal/types"
)

// SearchFilters narrow a vector/lexical/hybrid search.
type SearchFilters struct {
	DocID       string
	DocFilename string
	MinScore    float64
}

// Backend is the minimal vector+lexical surface a concrete store driver
// must implement. The facade fans out to one or more Backends and fuses
// their results.
type Backend interface {
	Name() string
	VectorSearch(ctx context.Context, queryVec []float32, k int, filters SearchFilters) ([]types.ScoredChunk, error)
	LexicalSearch(ctx context.Context, queryText string, k int, filters SearchFilters) ([]types.ScoredChunk, error)
	GetAllDocuments(ctx context.Context) ([]types.Document, error)
	GetChunks(ctx context.Context, docID string) ([]types.Chunk, error)
	DeleteDocument(ctx context.Context, docID string) error
}

// GraphBackend is the relationship authority: user-queried-document
// edges, persona ties, document-topic edges.
type GraphBackend interface {
	UserDocumentHistory(ctx context.Context, userID string) (map[string]int, error)
	RecordUserDocumentQuery(ctx context.Context, userID, docID string) error
	PersonaTies(ctx context.Context, userID string) ([]types.Persona, error)
	DocumentTopics(ctx context.Context, docID string) ([]string, error)
}

// MemoryBackend mirrors the chunk operations for channel memories and
// conversation messages, per spec.md §4.1's "memory and conversation
// mirrors" requirement.
type MemoryBackend interface {
	RetrieveMemories(ctx context.Context, channelID string, vec []float32, k int) ([]types.ScoredMemory, error)
	StoreMemory(ctx context.Context, m types.Memory) error
	ClearChannel(ctx context.Context, channelID string) error

	AddConversation(ctx context.Context, m types.ConversationMessage) error
	GetConversation(ctx context.Context, userID string, limit int) ([]types.ConversationMessage, error)
	GetRecentConversation(ctx context.Context, userID string, limit int) ([]types.ConversationMessage, error)
	GetRelevantConversations(ctx context.Context, userID string, vec []float32, k int) ([]types.ConversationMessage, error)
	GetConversationStats(ctx context.Context, userID string) (ConversationStats, error)
	ClearConversation(ctx context.Context, userID string) error
}

// ConversationStats backs the get_conversation_stats wire method.
type ConversationStats struct {
	TotalMessages   int            `json:"total_messages"`
	ByChannel       map[string]int `json:"by_channel"`
	FirstMessageAt  string         `json:"first_message_at,omitempty"`
	LastMessageAt   string         `json:"last_message_at,omitempty"`
}
