package server

import (
	"bufio"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raglab/ragserver/internal/store"
	"github.com/raglab/ragserver/internal/types"
)

type fakeMemory struct {
	conversations []types.ConversationMessage
	cleared       []string
}

func (f *fakeMemory) RetrieveMemories(ctx context.Context, channelID string, vec []float32, k int) ([]types.ScoredMemory, error) {
	return nil, nil
}
func (f *fakeMemory) StoreMemory(ctx context.Context, m types.Memory) error { return nil }
func (f *fakeMemory) ClearChannel(ctx context.Context, channelID string) error { return nil }

func (f *fakeMemory) AddConversation(ctx context.Context, m types.ConversationMessage) error {
	f.conversations = append(f.conversations, m)
	return nil
}
func (f *fakeMemory) GetConversation(ctx context.Context, userID string, limit int) ([]types.ConversationMessage, error) {
	return f.conversations, nil
}
func (f *fakeMemory) GetRecentConversation(ctx context.Context, userID string, limit int) ([]types.ConversationMessage, error) {
	return f.conversations, nil
}
func (f *fakeMemory) GetRelevantConversations(ctx context.Context, userID string, vec []float32, k int) ([]types.ConversationMessage, error) {
	return f.conversations, nil
}
func (f *fakeMemory) GetConversationStats(ctx context.Context, userID string) (store.ConversationStats, error) {
	return store.ConversationStats{TotalMessages: len(f.conversations)}, nil
}
func (f *fakeMemory) ClearConversation(ctx context.Context, userID string) error {
	f.cleared = append(f.cleared, userID)
	return nil
}

func runLine(t *testing.T, srv *StdioServer, line string) Response {
	t.Helper()
	in := strings.NewReader(line + "\n")
	var out strings.Builder
	err := srv.Serve(context.Background(), in, &out)
	require.NoError(t, err)

	scanner := bufio.NewScanner(strings.NewReader(out.String()))
	require.True(t, scanner.Scan())
	var resp Response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	return resp
}

func TestServe_PingReturnsOK(t *testing.T) {
	srv := NewStdioServer(nil, &fakeMemory{})
	resp := runLine(t, srv, `{"id":1,"method":"ping"}`)
	assert.Nil(t, resp.Error)
	assert.EqualValues(t, 1, resp.ID)
}

func TestServe_InvalidJSONDegradesToErrorReply(t *testing.T) {
	srv := NewStdioServer(nil, &fakeMemory{})
	resp := runLine(t, srv, `{not valid json`)
	require.NotNil(t, resp.Error)
	assert.Contains(t, *resp.Error, "Invalid JSON")
	assert.Nil(t, resp.Result)
}

func TestServe_UnknownMethodReturnsError(t *testing.T) {
	srv := NewStdioServer(nil, &fakeMemory{})
	resp := runLine(t, srv, `{"id":"a","method":"nonexistent"}`)
	require.NotNil(t, resp.Error)
	assert.Contains(t, *resp.Error, "unknown method")
}

func TestServe_AddThenGetConversationRoundTrips(t *testing.T) {
	mem := &fakeMemory{}
	srv := NewStdioServer(nil, mem)

	addResp := runLine(t, srv, `{"id":1,"method":"add_conversation","params":{"user_id":"u1","question":"hi","answer":"hello"}}`)
	assert.Nil(t, addResp.Error)
	require.Len(t, mem.conversations, 1)
	assert.Equal(t, "u1", mem.conversations[0].UserID)

	getResp := runLine(t, srv, `{"id":2,"method":"get_conversation","params":{"user_id":"u1"}}`)
	assert.Nil(t, getResp.Error)
}

func TestServe_AddConversationRequiresUserID(t *testing.T) {
	srv := NewStdioServer(nil, &fakeMemory{})
	resp := runLine(t, srv, `{"id":1,"method":"add_conversation","params":{"question":"hi"}}`)
	require.NotNil(t, resp.Error)
}

func TestServe_ClearConversationRecordsUser(t *testing.T) {
	mem := &fakeMemory{}
	srv := NewStdioServer(nil, mem)
	resp := runLine(t, srv, `{"id":1,"method":"clear_conversation","params":{"user_id":"u9"}}`)
	assert.Nil(t, resp.Error)
	assert.Equal(t, []string{"u9"}, mem.cleared)
}

func TestServe_MultipleLinesEachGetAReply(t *testing.T) {
	srv := NewStdioServer(nil, &fakeMemory{})
	in := strings.NewReader("{\"id\":1,\"method\":\"ping\"}\n{\"id\":2,\"method\":\"ping\"}\n")
	var out strings.Builder
	err := srv.Serve(context.Background(), in, &out)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
}
