package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/raglab/ragserver/internal/config"
	"github.com/raglab/ragserver/internal/types"
)

// openAICompatProvider speaks the OpenAI /embeddings wire format, which
// Aliyun (dashscope compatible-mode), Jina, and most self-hosted
// embedding servers also implement. Provider name is kept only for
// defaulting the base URL and logging context.
type openAICompatProvider struct {
	name       string
	apiKey     string
	baseURL    string
	model      string
	dims       int
	httpClient *http.Client
}

func newOpenAICompatProvider(cfg *config.Config, name string) *openAICompatProvider {
	baseURL := cfg.Embedding.BaseURL
	if baseURL == "" {
		switch name {
		case "aliyun":
			baseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
		case "jina":
			baseURL = "https://api.jina.ai/v1"
		case "volcengine":
			baseURL = "https://ark.cn-beijing.volces.com/api/v3"
		default:
			baseURL = "https://api.openai.com/v1"
		}
	}
	return &openAICompatProvider{
		name:       name,
		apiKey:     cfg.Embedding.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      cfg.Embedding.Model,
		dims:       cfg.EmbeddingDimension,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type embedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (p *openAICompatProvider) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := embedRequest{Model: p.model, Input: texts, Dimensions: p.dims}
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("embedding request encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrBackendUnavailable, fmt.Sprintf("%s embedding request failed", p.name)).WithError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, types.NewError(types.ErrBackendUnavailable, fmt.Sprintf("%s embedding error status %d: %s", p.name, resp.StatusCode, string(body)))
	}

	var parsed embedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, types.NewError(types.ErrParseFailure, fmt.Sprintf("%s embedding response decode", p.name)).WithError(err)
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	return out, nil
}

func (p *openAICompatProvider) modelName() string { return p.model }
func (p *openAICompatProvider) dimensions() int    { return p.dims }
