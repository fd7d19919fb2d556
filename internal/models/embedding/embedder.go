// Package embedding implements C2, the Embedding Client: synchronous
// text-to-vector and batched variants, sanitization, length-aware
// truncation, and L2 normalization for batch-encoded vectors.
package embedding

import (
	"context"
	"strings"

	"github.com/raglab/ragserver/internal/config"
	"github.com/raglab/ragserver/internal/types"
)

// Embedder converts text to dense vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
	Dimensions() int
}

// provider is the minimal HTTP-facing surface a concrete backend
// implements; Embedder wraps it with sanitization, truncation, and
// normalization common to every provider.
type provider interface {
	embedBatch(ctx context.Context, texts []string) ([][]float32, error)
	modelName() string
	dimensions() int
}

type sanitizingEmbedder struct {
	p provider
}

// New builds an Embedder from cfg.Embedding, routing to the configured
// provider (aliyun, volcengine, jina, ollama, or OpenAI-compatible by
// default).
func New(cfg *config.Config) (Embedder, error) {
	p, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	return &sanitizingEmbedder{p: p}, nil
}

func newProvider(cfg *config.Config) (provider, error) {
	source := strings.ToLower(cfg.Embedding.Provider)
	switch source {
	case "ollama", "local":
		return newOllamaProvider(cfg), nil
	case "aliyun", "volcengine", "jina", "openai", "":
		return newOpenAICompatProvider(cfg, source), nil
	default:
		return newOpenAICompatProvider(cfg, source), nil
	}
}

func (e *sanitizingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	clean, _ := sanitize(text, false)
	if clean == "" {
		return nil, types.NewError(types.ErrInvalidInput, "text is empty after sanitization")
	}
	out, err := e.p.embedBatch(ctx, []string{clean})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, types.NewError(types.ErrParseFailure, "embedding provider returned no vectors")
	}
	return out[0], nil
}

func (e *sanitizingEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	cleaned := make([]string, 0, len(texts))
	for _, t := range texts {
		clean, _ := sanitize(t, true)
		if clean == "" {
			continue
		}
		cleaned = append(cleaned, clean)
	}
	if len(cleaned) == 0 {
		return nil, types.NewError(types.ErrInvalidInput, "batch is empty after sanitization")
	}
	out, err := e.p.embedBatch(ctx, cleaned)
	if err != nil {
		return nil, err
	}
	for _, vec := range out {
		l2Normalize(vec)
	}
	return out, nil
}

func (e *sanitizingEmbedder) ModelName() string { return e.p.modelName() }
func (e *sanitizingEmbedder) Dimensions() int    { return e.p.dimensions() }
