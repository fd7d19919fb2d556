// Package config loads ragserver's runtime configuration from the
// environment via viper, matching the env-var surface named in the
// specification: embedding/cache/rag knobs plus credentials and hosts
// for the vector+full-text index, the graph index, the embedding
// service, and the completion service.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the process-wide configuration value. It is constructed once
// at startup and injected into every component that needs it; nothing in
// this codebase reads os.Getenv directly outside of this package.
type Config struct {
	EmbeddingDimension int
	UseGPU             bool
	EmbeddingBatchSize int

	CacheEnabled    bool
	CacheMaxSize    int
	CacheTTL        time.Duration
	CacheBackend    string // "memory" | "redis"

	RAGTopK             int
	RAGTemperature       float64
	RAGMaxTokens         int
	RAGMaxContextTokens  int
	MMRLambda            float64
	MMREnabled            bool
	QueryExpansionEnabled bool
	TemporalWeightingEnabled bool

	// Retrieval driver selection, comma separated: postgres, elasticsearch_v7,
	// elasticsearch_v8, qdrant. Mirrors RETRIEVE_DRIVER. The graph index is
	// not a retrieval driver; it is enabled by NEO4J_ENABLE.
	RetrieveDrivers []string

	Qdrant     BackendConn
	Elastic    BackendConn
	Neo4j      BackendConn
	Postgres   BackendConn
	Redis      BackendConn
	DuckDBPath string

	Embedding ModelConn
	Chat      ModelConn
	Rerank    ModelConn

	ToolStoragePath string

	HTTPEnabled bool
	HTTPAddr    string

	OTelEnabled  bool
	OTelEndpoint string
}

// BackendConn is a generic {host, credentials} tuple for an external store.
type BackendConn struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	Database string
	UseSSL   bool
}

// ModelConn describes an embedding/chat/rerank provider endpoint.
type ModelConn struct {
	Provider string // e.g. "ollama", "openai", "aliyun", "jina", "zhipu"
	BaseURL  string
	APIKey   string
	Model    string
}

// Load reads configuration from the process environment.
func Load() *Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	cfg := &Config{
		EmbeddingDimension: v.GetInt("EMBEDDING_DIMENSION"),
		UseGPU:             v.GetBool("USE_GPU"),
		EmbeddingBatchSize: v.GetInt("EMBEDDING_BATCH_SIZE"),

		CacheEnabled: v.GetBool("CACHE_ENABLED"),
		CacheMaxSize: v.GetInt("CACHE_MAX_SIZE"),
		CacheTTL:     time.Duration(v.GetInt("CACHE_TTL_SECONDS")) * time.Second,
		CacheBackend: v.GetString("CACHE_BACKEND"),

		RAGTopK:                  v.GetInt("RAG_TOP_K"),
		RAGTemperature:           v.GetFloat64("RAG_TEMPERATURE"),
		RAGMaxTokens:             v.GetInt("RAG_MAX_TOKENS"),
		RAGMaxContextTokens:      v.GetInt("RAG_MAX_CONTEXT_TOKENS"),
		MMRLambda:                v.GetFloat64("MMR_LAMBDA"),
		MMREnabled:               v.GetBool("MMR_ENABLED"),
		QueryExpansionEnabled:    v.GetBool("QUERY_EXPANSION_ENABLED"),
		TemporalWeightingEnabled: v.GetBool("TEMPORAL_WEIGHTING_ENABLED"),

		RetrieveDrivers: splitCSV(v.GetString("RETRIEVE_DRIVER")),

		Qdrant: BackendConn{
			Enabled: v.GetBool("QDRANT_ENABLED"),
			Host:    v.GetString("QDRANT_HOST"),
			Port:    v.GetInt("QDRANT_PORT"),
		},
		Elastic: BackendConn{
			Enabled:  v.GetBool("ELASTICSEARCH_ENABLED"),
			Host:     v.GetString("ELASTICSEARCH_HOST"),
			Username: v.GetString("ELASTICSEARCH_USERNAME"),
			Password: v.GetString("ELASTICSEARCH_PASSWORD"),
		},
		Neo4j: BackendConn{
			Enabled:  v.GetBool("NEO4J_ENABLE"),
			Host:     v.GetString("NEO4J_URI"),
			Username: v.GetString("NEO4J_USERNAME"),
			Password: v.GetString("NEO4J_PASSWORD"),
		},
		Postgres: BackendConn{
			Enabled:  v.GetBool("POSTGRES_ENABLED"),
			Host:     v.GetString("POSTGRES_HOST"),
			Port:     v.GetInt("POSTGRES_PORT"),
			Username: v.GetString("POSTGRES_USER"),
			Password: v.GetString("POSTGRES_PASSWORD"),
			Database: v.GetString("POSTGRES_DB"),
		},
		Redis: BackendConn{
			Enabled:  v.GetBool("REDIS_ENABLED"),
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetInt("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
		},
		DuckDBPath: v.GetString("DUCKDB_PATH"),

		Embedding: ModelConn{
			Provider: v.GetString("EMBEDDING_PROVIDER"),
			BaseURL:  v.GetString("EMBEDDING_BASE_URL"),
			APIKey:   v.GetString("EMBEDDING_API_KEY"),
			Model:    v.GetString("EMBEDDING_MODEL"),
		},
		Chat: ModelConn{
			Provider: v.GetString("CHAT_PROVIDER"),
			BaseURL:  v.GetString("CHAT_BASE_URL"),
			APIKey:   v.GetString("CHAT_API_KEY"),
			Model:    v.GetString("CHAT_MODEL"),
		},
		Rerank: ModelConn{
			Provider: v.GetString("RERANK_PROVIDER"),
			BaseURL:  v.GetString("RERANK_BASE_URL"),
			APIKey:   v.GetString("RERANK_API_KEY"),
			Model:    v.GetString("RERANK_MODEL"),
		},

		ToolStoragePath: v.GetString("TOOL_STORAGE_PATH"),

		HTTPEnabled: v.GetBool("HTTP_ENABLED"),
		HTTPAddr:    v.GetString("HTTP_ADDR"),

		OTelEnabled:  v.GetBool("OTEL_ENABLED"),
		OTelEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("EMBEDDING_DIMENSION", 1536)
	v.SetDefault("EMBEDDING_BATCH_SIZE", 32)
	v.SetDefault("CACHE_ENABLED", true)
	v.SetDefault("CACHE_MAX_SIZE", 1000)
	v.SetDefault("CACHE_TTL_SECONDS", 600)
	v.SetDefault("CACHE_BACKEND", "memory")
	v.SetDefault("RAG_TOP_K", 10)
	v.SetDefault("RAG_TEMPERATURE", 0.7)
	v.SetDefault("RAG_MAX_TOKENS", 600)
	v.SetDefault("RAG_MAX_CONTEXT_TOKENS", 1500)
	v.SetDefault("MMR_LAMBDA", 0.5)
	v.SetDefault("MMR_ENABLED", true)
	v.SetDefault("QUERY_EXPANSION_ENABLED", true)
	v.SetDefault("TEMPORAL_WEIGHTING_ENABLED", true)
	v.SetDefault("TOOL_STORAGE_PATH", "./tools.json")
	v.SetDefault("HTTP_ADDR", ":8080")
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Has reports whether a retrieval driver is configured.
func (c *Config) Has(driver string) bool {
	for _, d := range c.RetrieveDrivers {
		if d == driver {
			return true
		}
	}
	return false
}
