// Command ragserver wires every module into one process: the NDJSON
// stdio server on stdin/stdout, and an optional HTTP companion, both
// backed by the same orchestrator instance.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/dig"

	"github.com/raglab/ragserver/internal/agent/sandbox"
	"github.com/raglab/ragserver/internal/agent/tools"
	"github.com/raglab/ragserver/internal/cache"
	"github.com/raglab/ragserver/internal/config"
	"github.com/raglab/ragserver/internal/logger"
	"github.com/raglab/ragserver/internal/models/chat"
	"github.com/raglab/ragserver/internal/models/embedding"
	"github.com/raglab/ragserver/internal/models/rerank"
	"github.com/raglab/ragserver/internal/orchestrator"
	"github.com/raglab/ragserver/internal/pipeline/analyzer"
	"github.com/raglab/ragserver/internal/pipeline/selector"
	"github.com/raglab/ragserver/internal/pipeline/statehandler"
	"github.com/raglab/ragserver/internal/retrieval"
	"github.com/raglab/ragserver/internal/server"
	"github.com/raglab/ragserver/internal/state"
	"github.com/raglab/ragserver/internal/state/items"
	"github.com/raglab/ragserver/internal/store"
	"github.com/raglab/ragserver/internal/store/duckdbconv"
	"github.com/raglab/ragserver/internal/store/elastic"
	"github.com/raglab/ragserver/internal/store/neo4jgraph"
	"github.com/raglab/ragserver/internal/store/pgvector"
	"github.com/raglab/ragserver/internal/store/qdrant"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// preferredBackendOut/fallbackBackendOut/facadeIn name-tag the two
// store.Backend values so dig can
// tell the preferred driver apart from the optional fallback driver
// instead of colliding on the shared interface type.
type preferredBackendOut struct {
	dig.Out
	Backend store.Backend `name:"preferred"`
}

type fallbackBackendOut struct {
	dig.Out
	Backend store.Backend `name:"fallback"`
}

type facadeIn struct {
	dig.In
	Preferred store.Backend `name:"preferred"`
	Fallback  store.Backend `name:"fallback"`
	Graph     store.GraphBackend
	Memory    store.MemoryBackend
}

func newFacade(in facadeIn) *store.Facade {
	return store.New(in.Preferred, in.Fallback, in.Graph, in.Memory)
}

func run() error {
	container := dig.New()

	for _, provide := range []interface{}{
		config.Load,
		newCaches,
		embedding.New,
		chat.New,
		rerank.New,
		analyzer.New,
		newPrimaryBackend,
		newFallbackBackend,
		newGraphBackend,
		newMemoryBackend,
		newFacade,
		retrieval.New,
		func(f *store.Facade, g store.GraphBackend, e embedding.Embedder, cfg *config.Config) *selector.Selector {
			return selector.New(f, g, e, selectorMaxDocs)
		},
		state.New,
		func(l *state.Ledger, c chat.Client, caches *cache.Caches) *items.Tracker {
			return items.New(l, c, caches.ItemNormalization)
		},
		statehandler.New,
		newRegistry,
		func(cfg *config.Config) bool { return cfg.MMREnabled },
		orchestrator.New,
		server.NewStdioServer,
		func(o *orchestrator.Orchestrator, an *analyzer.Analyzer, cfg *config.Config) *server.HTTPServer {
			return server.NewHTTPServer(o, an, cfg)
		},
	} {
		if err := container.Provide(provide); err != nil {
			return fmt.Errorf("wiring %T: %w", provide, err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return container.Invoke(func(cfg *config.Config, stdio *server.StdioServer, http *server.HTTPServer) error {
		if cfg.HTTPEnabled {
			go func() {
				if err := http.Engine().Run(cfg.HTTPAddr); err != nil {
					logger.Error(ctx, "http companion stopped", "error", err.Error())
				}
			}()
		}
		logger.Info(ctx, "ragserver ready", "http_enabled", cfg.HTTPEnabled)
		return stdio.Serve(ctx, os.Stdin, os.Stdout)
	})
}

const selectorMaxDocs = 200

func newCaches(cfg *config.Config) *cache.Caches {
	var l2 *cache.RedisLayer
	if cfg.Redis.Enabled {
		l2 = cache.NewRedisLayer(cfg)
	}
	return cache.New(cfg, l2)
}

// newPrimaryBackend picks the first configured retrieval driver as the
// preferred store.Backend, per RETRIEVE_DRIVER's documented ordering.
func newPrimaryBackend(cfg *config.Config) (preferredBackendOut, error) {
	driver := firstDriver(cfg.RetrieveDrivers, "postgres")
	b, err := backendFor(cfg, driver)
	if err != nil {
		return preferredBackendOut{}, err
	}
	return preferredBackendOut{Backend: b}, nil
}

// newFallbackBackend wires the second configured driver, if any, as the
// facade's fallback for specific-document queries that miss on the
// preferred backend.
func newFallbackBackend(cfg *config.Config) (fallbackBackendOut, error) {
	if len(cfg.RetrieveDrivers) < 2 {
		return fallbackBackendOut{}, nil
	}
	b, err := backendFor(cfg, cfg.RetrieveDrivers[1])
	if err != nil {
		return fallbackBackendOut{}, err
	}
	return fallbackBackendOut{Backend: b}, nil
}

func backendFor(cfg *config.Config, driver string) (store.Backend, error) {
	switch driver {
	case "qdrant":
		return qdrant.New(cfg, "chunks")
	case "elasticsearch_v7", "elasticsearch_v8":
		return elastic.New(cfg, "chunks")
	case "postgres", "":
		return pgvector.New(cfg)
	default:
		return nil, fmt.Errorf("unknown retrieve driver %q", driver)
	}
}

func firstDriver(drivers []string, fallback string) string {
	if len(drivers) == 0 {
		return fallback
	}
	return drivers[0]
}

// newGraphBackend wires Neo4j when enabled; a nil GraphBackend degrades
// persona ties and document-topic lookups to empty, never an error.
func newGraphBackend(cfg *config.Config) (store.GraphBackend, error) {
	if !cfg.Neo4j.Enabled {
		return nil, nil
	}
	return neo4jgraph.New(cfg)
}

func newMemoryBackend(cfg *config.Config) (store.MemoryBackend, error) {
	path := cfg.DuckDBPath
	if path == "" {
		path = "./conversations.duckdb"
	}
	return duckdbconv.New(path)
}

// newRegistry assembles C13's tool registry: the sandboxed tool-authoring
// meta-tools, the ledger-backed SQL tool, the thinking tool, and every
// previously-registered stored tool replayed from disk.
func newRegistry(cfg *config.Config, ledger *state.Ledger) (*tools.Registry, error) {
	registry := tools.NewRegistry()

	storagePath := cfg.ToolStoragePath
	if storagePath == "" {
		storagePath = "./tools.json"
	}
	dir := "."
	file := storagePath
	if idx := lastSlash(storagePath); idx >= 0 {
		dir = storagePath[:idx]
		file = storagePath[idx+1:]
	}
	sandboxStore, err := sandbox.NewStore(dir, file)
	if err != nil {
		return nil, fmt.Errorf("sandbox store: %w", err)
	}

	registry.Register(tools.NewThinkingTool())
	registry.Register(tools.NewSQLQueryTool(ledger.DB()))
	registry.Register(tools.NewWriteToolTool(sandboxStore))
	registry.Register(tools.NewTestToolTool(sandboxStore))
	registry.Register(tools.NewRegisterToolTool(sandboxStore, registry))
	registry.Register(tools.NewListStoredToolsTool(sandboxStore))
	registry.Register(tools.NewExecuteStoredToolTool(sandboxStore))
	registry.Register(tools.NewGetToolCodeTool(sandboxStore))

	if err := tools.AttachRegisteredTools(sandboxStore, registry); err != nil {
		return nil, fmt.Errorf("replay registered tools: %w", err)
	}

	return registry, nil
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}
