package types

import "time"

// Document is an uploaded unit of text. The core never parses or chunks
// a document itself; ingestion is an external collaborator. Destroyed
// only by explicit delete.
type Document struct {
	DocID      string    `json:"doc_id"`
	FileName   string    `json:"file_name"`
	FileType   string    `json:"file_type"`
	UploaderID string    `json:"uploader_id"`
	UploadedAt time.Time `json:"uploaded_at"`
	ChunkCount int       `json:"chunk_count"`
}

// Chunk is a contiguous text span of a Document. Immutable after creation;
// ordering within a document is by ChunkIndex.
type Chunk struct {
	DocID      string    `json:"doc_id"`
	FileName   string    `json:"file_name"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"-"`
	UploaderID string    `json:"uploaded_by"`
}

// ChunkID returns the stable composite identifier (doc_id, chunk_index).
func (c Chunk) ChunkID() string {
	return c.DocID + "#" + itoa(c.ChunkIndex)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// MemoryType tags a conversational utterance preserved for later retrieval.
type MemoryType string

const (
	MemoryUserMessage MemoryType = "user_message"
	MemoryBotResponse MemoryType = "bot_response"
	MemoryAction      MemoryType = "action"
)

// Memory is a conversational utterance preserved for later retrieval,
// keyed by channel. Destroyed only by explicit channel clear.
type Memory struct {
	ID              string     `json:"id"`
	ChannelID       string     `json:"channel_id"`
	Content         string     `json:"content"`
	Embedding       []float32  `json:"-"`
	Type            MemoryType `json:"memory_type"`
	UserID          string     `json:"user_id,omitempty"`
	Username        string     `json:"username,omitempty"`
	MentionedUserID string     `json:"mentioned_user_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	Importance      float64    `json:"importance"`
}

// ConversationMessage is a (question, answer) pair keyed by user and
// optionally channel, used for semantic continuity across turns.
type ConversationMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ChannelID string    `json:"channel_id,omitempty"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Persona is one of multiple addressable identities under a single user id.
type Persona struct {
	PersonaID string `json:"persona_id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	ChannelID string `json:"channel_id,omitempty"`
}

// UserProfile holds a user id's display name, inferred interests,
// preferences, and zero or more Personas.
type UserProfile struct {
	UserID      string            `json:"user_id"`
	DisplayName string            `json:"display_name"`
	Interests   []string          `json:"interests,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
	Personas    []Persona         `json:"personas,omitempty"`
}

// ScoredChunk is a Chunk carrying retrieval provenance.
type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`
}

// ScoredMemory is a Memory carrying retrieval provenance.
type ScoredMemory struct {
	Memory
	Score float64 `json:"score"`
}
