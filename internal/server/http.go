package server

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/raglab/ragserver/internal/config"
	"github.com/raglab/ragserver/internal/logger"
	"github.com/raglab/ragserver/internal/orchestrator"
	"github.com/raglab/ragserver/internal/pipeline/analyzer"
	"github.com/raglab/ragserver/internal/types"
)

// Build-time version metadata, injected via -ldflags the way the teacher
// injects its own system info fields.
var (
	Version   = "unknown"
	CommitID  = "unknown"
	BuildTime = "unknown"
)

// HTTPServer is the thin agent-facing companion to the NDJSON wire
// protocol: the same classify/route operations over ordinary JSON, plus
// a metrics snapshot and a health check, for callers that can't speak
// NDJSON over stdio.
type HTTPServer struct {
	orch     *orchestrator.Orchestrator
	analyzer *analyzer.Analyzer
	cfg      *config.Config
	startedAt time.Time

	totalRequests int64
	totalErrors   int64
}

func NewHTTPServer(orch *orchestrator.Orchestrator, an *analyzer.Analyzer, cfg *config.Config) *HTTPServer {
	return &HTTPServer{orch: orch, analyzer: an, cfg: cfg, startedAt: time.Now()}
}

// Engine builds the gin router, matching the teacher's
// `{code, msg, data}` envelope (internal/handler/system.go) rather than
// gin's bare JSON conventions.
func (s *HTTPServer) Engine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())

	r.POST("/classify_intent", s.classifyIntent)
	r.POST("/route_message", s.routeMessage)
	r.GET("/get_metrics", s.getMetrics)
	r.GET("/health", s.health)
	r.GET("/system/info", s.systemInfo)
	return r
}

func (s *HTTPServer) ok(c *gin.Context, data interface{}) {
	c.JSON(200, gin.H{"code": 0, "msg": "success", "data": data})
}

func (s *HTTPServer) fail(c *gin.Context, status int, msg string) {
	atomic.AddInt64(&s.totalErrors, 1)
	c.JSON(status, gin.H{"code": status, "msg": msg, "data": nil})
}

type classifyIntentRequest struct {
	Question string `json:"question"`
}

// classifyIntent godoc
// @Summary      Classify a message's routing intent
// @Description  Runs the analyzer stage alone, without retrieval or generation
// @Tags         agent
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /classify_intent [post]
func (s *HTTPServer) classifyIntent(c *gin.Context) {
	atomic.AddInt64(&s.totalRequests, 1)
	ctx := logger.CloneContext(c.Request.Context())

	var req classifyIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, 400, "invalid request body")
		return
	}
	if req.Question == "" {
		s.fail(c, 400, "question must not be empty")
		return
	}

	analysis, err := s.analyzer.Analyze(ctx, req.Question, analyzer.Context{})
	if err != nil {
		logger.Warn(ctx, "classify_intent analyzer failed", "error", err.Error())
		s.fail(c, 502, "analysis failed")
		return
	}
	s.ok(c, gin.H{
		"is_casual_conversation": analysis.IsCasual,
		"service_routing":        string(analysis.Routing),
		"needs_rag":              analysis.NeedsRAG,
		"complexity":             string(analysis.Complexity),
		"document_references":    analysis.DocumentReferences,
	})
}

// routeMessage godoc
// @Summary      Run a full query through the orchestrator
// @Description  Same payload shape as the NDJSON wire protocol's "query" method
// @Tags         agent
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /route_message [post]
func (s *HTTPServer) routeMessage(c *gin.Context) {
	atomic.AddInt64(&s.totalRequests, 1)
	ctx := logger.CloneContext(c.Request.Context())

	body, err := c.GetRawData()
	if err != nil {
		s.fail(c, 400, "invalid request body")
		return
	}
	var p queryParams
	if err := json.Unmarshal(body, &p); err != nil {
		s.fail(c, 400, "invalid request body")
		return
	}
	if p.Question == "" {
		s.fail(c, 400, "question must not be empty")
		return
	}

	qctx := types.DefaultQueryContext()
	qctx.UserID = p.UserID
	qctx.ChannelID = p.ChannelID
	qctx.DocID = p.DocID
	qctx.DocFilename = p.DocFilename
	qctx.MentionedUserID = p.MentionedUserID
	qctx.IsAdmin = p.IsAdmin
	if p.TopK > 0 {
		qctx.TopK = p.TopK
	}
	if p.Temperature > 0 {
		qctx.Temperature = p.Temperature
	}
	if p.MaxTokens > 0 {
		qctx.MaxTokens = p.MaxTokens
	}
	if p.MaxContextTokens > 0 {
		qctx.MaxContextTokens = p.MaxContextTokens
	}
	applyBool(&qctx.UseMemory, p.UseMemory)
	applyBool(&qctx.UseSharedDocs, p.UseSharedDocs)
	applyBool(&qctx.UseHybridSearch, p.UseHybridSearch)
	applyBool(&qctx.UseQueryExpansion, p.UseQueryExpansion)
	applyBool(&qctx.UseTemporalWeighting, p.UseTemporalWeighting)

	result, err := s.orch.Query(ctx, p.Question, qctx)
	if err != nil {
		logger.Warn(ctx, "route_message query failed", "error", err.Error())
		s.fail(c, 502, err.Error())
		return
	}
	s.ok(c, wireResult(result))
}

// getMetrics godoc
// @Summary      Report request counters and uptime
// @Tags         agent
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /get_metrics [get]
func (s *HTTPServer) getMetrics(c *gin.Context) {
	s.ok(c, gin.H{
		"total_requests": atomic.LoadInt64(&s.totalRequests),
		"total_errors":   atomic.LoadInt64(&s.totalErrors),
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

// systemInfoResponse reports build metadata and which backends are
// active, the way the teacher's system handler reports engine choice
// and build info rather than secrets or connection strings.
type systemInfoResponse struct {
	Version             string `json:"version"`
	CommitID            string `json:"commit_id,omitempty"`
	BuildTime           string `json:"build_time,omitempty"`
	RetrieveDrivers     []string `json:"retrieve_drivers"`
	GraphDatabaseEngine string `json:"graph_database_engine,omitempty"`
	EmbeddingProvider   string `json:"embedding_provider,omitempty"`
	ChatProvider        string `json:"chat_provider,omitempty"`
	RerankProvider      string `json:"rerank_provider,omitempty"`
	MMREnabled          bool   `json:"mmr_enabled"`
}

// systemInfo godoc
// @Summary      Report build metadata and active backend configuration
// @Tags         system
// @Produce      json
// @Success      200  {object}  systemInfoResponse
// @Router       /system/info [get]
func (s *HTTPServer) systemInfo(c *gin.Context) {
	resp := systemInfoResponse{
		Version: Version, CommitID: CommitID, BuildTime: BuildTime,
	}
	if s.cfg != nil {
		resp.RetrieveDrivers = s.cfg.RetrieveDrivers
		resp.EmbeddingProvider = s.cfg.Embedding.Provider
		resp.ChatProvider = s.cfg.Chat.Provider
		resp.RerankProvider = s.cfg.Rerank.Provider
		resp.MMREnabled = s.cfg.MMREnabled
		if s.cfg.Neo4j.Enabled {
			resp.GraphDatabaseEngine = "neo4j"
		}
	}
	s.ok(c, resp)
}

// health godoc
// @Summary      Liveness check
// @Tags         agent
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /health [get]
func (s *HTTPServer) health(c *gin.Context) {
	s.ok(c, gin.H{"status": "ok"})
}
