// Package duckdbconv implements store.MemoryBackend over an embedded
// DuckDB file: channel memories and per-user conversation messages,
// including the aggregate get_conversation_stats wire method.
package duckdbconv

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/raglab/ragserver/internal/store"
	"github.com/raglab/ragserver/internal/types"
)

// Store is a store.MemoryBackend backed by an embedded DuckDB database.
type Store struct {
	db *sql.DB
}

// New opens (creating if absent) the DuckDB file at path and applies schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("duckdb open: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE SEQUENCE IF NOT EXISTS memory_id_seq;
		CREATE TABLE IF NOT EXISTS memories (
			id BIGINT DEFAULT nextval('memory_id_seq') PRIMARY KEY,
			channel_id VARCHAR,
			content VARCHAR,
			embedding_json VARCHAR,
			memory_type VARCHAR,
			user_id VARCHAR,
			username VARCHAR,
			mentioned_user_id VARCHAR,
			created_at TIMESTAMP,
			importance DOUBLE
		);
		CREATE SEQUENCE IF NOT EXISTS conversation_id_seq;
		CREATE TABLE IF NOT EXISTS conversations (
			id BIGINT DEFAULT nextval('conversation_id_seq') PRIMARY KEY,
			user_id VARCHAR,
			channel_id VARCHAR,
			question VARCHAR,
			answer VARCHAR,
			created_at TIMESTAMP
		);
	`)
	return err
}

func (s *Store) RetrieveMemories(ctx context.Context, channelID string, vec []float32, k int) ([]types.ScoredMemory, error) {
	// DuckDB here has no native ANN index; retrieval returns the k most
	// recent rows within the channel, each scored by its stored importance.
	// vec is not used, and no similarity against it is computed.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, embedding_json, memory_type, user_id, username,
		       mentioned_user_id, created_at, importance
		FROM memories WHERE channel_id = ?
		ORDER BY created_at DESC LIMIT ?`, channelID, k)
	if err != nil {
		return nil, fmt.Errorf("duckdb retrieve memories: %w", err)
	}
	defer rows.Close()

	var out []types.ScoredMemory
	for rows.Next() {
		var m types.Memory
		var id int64
		var embJSON string
		if err := rows.Scan(&id, &m.Content, &embJSON, &m.Type, &m.UserID, &m.Username,
			&m.MentionedUserID, &m.CreatedAt, &m.Importance); err != nil {
			return nil, err
		}
		m.ID = fmt.Sprintf("%d", id)
		m.ChannelID = channelID
		if embJSON != "" {
			_ = json.Unmarshal([]byte(embJSON), &m.Embedding)
		}
		out = append(out, types.ScoredMemory{Memory: m, Score: m.Importance})
	}
	return out, nil
}

func (s *Store) StoreMemory(ctx context.Context, m types.Memory) error {
	embJSON, _ := json.Marshal(m.Embedding)
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (channel_id, content, embedding_json, memory_type, user_id,
			username, mentioned_user_id, created_at, importance)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ChannelID, m.Content, string(embJSON), m.Type, m.UserID, m.Username,
		m.MentionedUserID, createdAt, m.Importance)
	return err
}

func (s *Store) ClearChannel(ctx context.Context, channelID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE channel_id = ?`, channelID)
	return err
}

func (s *Store) AddConversation(ctx context.Context, m types.ConversationMessage) error {
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (user_id, channel_id, question, answer, created_at)
		VALUES (?, ?, ?, ?, ?)`, m.UserID, m.ChannelID, m.Question, m.Answer, createdAt)
	return err
}

func (s *Store) GetConversation(ctx context.Context, userID string, limit int) ([]types.ConversationMessage, error) {
	return s.queryConversations(ctx, `SELECT user_id, channel_id, question, answer, created_at
		FROM conversations WHERE user_id = ? ORDER BY created_at ASC LIMIT ?`, userID, limit)
}

func (s *Store) GetRecentConversation(ctx context.Context, userID string, limit int) ([]types.ConversationMessage, error) {
	return s.queryConversations(ctx, `SELECT user_id, channel_id, question, answer, created_at
		FROM conversations WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
}

func (s *Store) GetRelevantConversations(ctx context.Context, userID string, vec []float32, k int) ([]types.ConversationMessage, error) {
	// No ANN index locally; relevance degrades to recency, matching
	// RetrieveMemories' documented fallback.
	return s.GetRecentConversation(ctx, userID, k)
}

func (s *Store) queryConversations(ctx context.Context, q string, args ...interface{}) ([]types.ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("duckdb conversations: %w", err)
	}
	defer rows.Close()
	var out []types.ConversationMessage
	for rows.Next() {
		var m types.ConversationMessage
		if err := rows.Scan(&m.UserID, &m.ChannelID, &m.Question, &m.Answer, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) GetConversationStats(ctx context.Context, userID string) (store.ConversationStats, error) {
	var stats store.ConversationStats
	stats.ByChannel = make(map[string]int)

	row := s.db.QueryRowContext(ctx, `SELECT count(*), min(created_at), max(created_at)
		FROM conversations WHERE user_id = ?`, userID)
	var first, last sql.NullTime
	if err := row.Scan(&stats.TotalMessages, &first, &last); err != nil {
		return stats, fmt.Errorf("duckdb conversation stats: %w", err)
	}
	if first.Valid {
		stats.FirstMessageAt = first.Time.Format(time.RFC3339)
	}
	if last.Valid {
		stats.LastMessageAt = last.Time.Format(time.RFC3339)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT channel_id, count(*) FROM conversations
		WHERE user_id = ? GROUP BY channel_id`, userID)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var channel string
		var n int
		if err := rows.Scan(&channel, &n); err != nil {
			return stats, err
		}
		stats.ByChannel[channel] = n
	}
	return stats, nil
}

func (s *Store) ClearConversation(ctx context.Context, userID string) error {
	// Clears only the conversation-message store; the channel memory
	// store (memories table) is a separate, explicitly addressed store.
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE user_id = ?`, userID)
	return err
}
