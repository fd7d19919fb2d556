package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raglab/ragserver/internal/cache"
	"github.com/raglab/ragserver/internal/config"
	"github.com/raglab/ragserver/internal/models/chat"
	"github.com/raglab/ragserver/internal/pipeline/analyzer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeChatClient struct{}

func (f *fakeChatClient) Chat(ctx context.Context, messages []chat.Message, opts *chat.ChatOptions) (*chat.Response, error) {
	return &chat.Response{}, nil
}
func (f *fakeChatClient) ChatStream(ctx context.Context, messages []chat.Message, opts *chat.ChatOptions) (<-chan chat.StreamChunk, error) {
	return nil, nil
}
func (f *fakeChatClient) ModelName() string { return "fake" }

func newTestHTTPServer() *HTTPServer {
	caches := cache.New(&config.Config{CacheMaxSize: 16}, nil)
	an := analyzer.New(&fakeChatClient{}, caches)
	cfg := &config.Config{RetrieveDrivers: []string{"postgres"}}
	return NewHTTPServer(nil, an, cfg)
}

func doRequest(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealth_ReturnsOK(t *testing.T) {
	s := newTestHTTPServer()
	rec := doRequest(t, s.Engine(), http.MethodGet, "/health", "")
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestGetMetrics_ReturnsCountersAndUptime(t *testing.T) {
	s := newTestHTTPServer()
	rec := doRequest(t, s.Engine(), http.MethodGet, "/get_metrics", "")
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "total_requests")
	assert.Contains(t, rec.Body.String(), "uptime_seconds")
}

func TestClassifyIntent_EmptyQuestionReturns400(t *testing.T) {
	s := newTestHTTPServer()
	rec := doRequest(t, s.Engine(), http.MethodPost, "/classify_intent", `{"question":""}`)
	assert.Equal(t, 400, rec.Code)
}

func TestClassifyIntent_InvalidBodyReturns400(t *testing.T) {
	s := newTestHTTPServer()
	rec := doRequest(t, s.Engine(), http.MethodPost, "/classify_intent", `{not valid`)
	assert.Equal(t, 400, rec.Code)
}

func TestClassifyIntent_GreetingIsCasual(t *testing.T) {
	s := newTestHTTPServer()
	rec := doRequest(t, s.Engine(), http.MethodPost, "/classify_intent", `{"question":"hello"}`)
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"is_casual_conversation":true`)
	assert.Contains(t, body, `"service_routing":"chat"`)
}

func TestRouteMessage_EmptyQuestionReturns400(t *testing.T) {
	s := newTestHTTPServer()
	rec := doRequest(t, s.Engine(), http.MethodPost, "/route_message", `{"question":"","user_id":"u1"}`)
	assert.Equal(t, 400, rec.Code)
}

func TestSystemInfo_ReportsActiveDrivers(t *testing.T) {
	s := newTestHTTPServer()
	rec := doRequest(t, s.Engine(), http.MethodGet, "/system/info", "")
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"postgres"`)
}

func TestRouteMessage_InvalidBodyReturns400(t *testing.T) {
	s := newTestHTTPServer()
	rec := doRequest(t, s.Engine(), http.MethodPost, "/route_message", `not json at all`)
	assert.Equal(t, 400, rec.Code)
}
