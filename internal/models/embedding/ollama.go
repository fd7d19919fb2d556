package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	ollamaapi "github.com/ollama/ollama/api"

	"github.com/raglab/ragserver/internal/config"
	"github.com/raglab/ragserver/internal/types"
)

// ollamaProvider talks to a local Ollama daemon's /api/embed endpoint.
type ollamaProvider struct {
	client *ollamaapi.Client
	model  string
	dims   int
}

func newOllamaProvider(cfg *config.Config) *ollamaProvider {
	base := cfg.Embedding.BaseURL
	if base == "" {
		base = "http://localhost:11434"
	}
	parsed, err := url.Parse(base)
	if err != nil {
		parsed = &url.URL{Scheme: "http", Host: "localhost:11434"}
	}
	return &ollamaProvider{
		client: ollamaapi.NewClient(parsed, http.DefaultClient),
		model:  cfg.Embedding.Model,
		dims:   cfg.EmbeddingDimension,
	}
}

func (p *ollamaProvider) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.Embed(ctx, &ollamaapi.EmbedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, types.NewError(types.ErrBackendUnavailable, "ollama embed request failed").WithError(err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, types.NewError(types.ErrParseFailure, fmt.Sprintf("ollama returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts)))
	}
	return resp.Embeddings, nil
}

func (p *ollamaProvider) modelName() string { return p.model }
func (p *ollamaProvider) dimensions() int    { return p.dims }
