// Package elastic adapts go-elasticsearch into a store.Backend, used as
// the primary lexical BM25 backend (and, via dense_vector fields, an
// alternate vector backend when RETRIEVE_DRIVER names elasticsearch_v7 or
// elasticsearch_v8; both values use this same client).
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	es8 "github.com/elastic/go-elasticsearch/v8"

	"github.com/raglab/ragserver/internal/config"
	"github.com/raglab/ragserver/internal/store"
	"github.com/raglab/ragserver/internal/types"
)

// Client is a store.Backend backed by Elasticsearch.
type Client struct {
	es    *es8.Client
	index string
}

// New dials Elasticsearch per cfg.Elastic.
func New(cfg *config.Config, index string) (*Client, error) {
	es, err := es8.NewClient(es8.Config{
		Addresses: []string{cfg.Elastic.Host},
		Username:  cfg.Elastic.Username,
		Password:  cfg.Elastic.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch dial: %w", err)
	}
	return &Client{es: es, index: index}, nil
}

func (c *Client) Name() string { return "elasticsearch" }

type hit struct {
	Score  float64         `json:"_score"`
	Source chunkSource     `json:"_source"`
}

type chunkSource struct {
	Text       string `json:"text"`
	DocID      string `json:"doc_id"`
	ChunkIndex int    `json:"chunk_index"`
	UploaderID string `json:"uploaded_by"`
	FileName   string `json:"file_name"`
}

type searchResponse struct {
	Hits struct {
		Hits []hit `json:"hits"`
	} `json:"hits"`
}

func (c *Client) search(ctx context.Context, body map[string]interface{}) ([]types.ScoredChunk, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}
	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch search error: %s", res.String())
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("elasticsearch decode: %w", err)
	}

	out := make([]types.ScoredChunk, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		out = append(out, types.ScoredChunk{
			Chunk: types.Chunk{
				DocID:      h.Source.DocID,
				FileName:   h.Source.FileName,
				ChunkIndex: h.Source.ChunkIndex,
				Text:       h.Source.Text,
				UploaderID: h.Source.UploaderID,
			},
			Score: h.Score,
		})
	}
	return out, nil
}

func (c *Client) VectorSearch(ctx context.Context, queryVec []float32, k int, filters store.SearchFilters) ([]types.ScoredChunk, error) {
	body := map[string]interface{}{
		"size": k,
		"knn": map[string]interface{}{
			"field":          "embedding",
			"query_vector":   queryVec,
			"k":              k,
			"num_candidates": k * 10,
		},
	}
	applyFilters(body, filters)
	return c.search(ctx, body)
}

func (c *Client) LexicalSearch(ctx context.Context, queryText string, k int, filters store.SearchFilters) ([]types.ScoredChunk, error) {
	body := map[string]interface{}{
		"size": k,
		"query": map[string]interface{}{
			"match": map[string]interface{}{"text": queryText},
		},
	}
	applyFilters(body, filters)
	return c.search(ctx, body)
}

func applyFilters(body map[string]interface{}, filters store.SearchFilters) {
	if filters.DocID == "" && filters.DocFilename == "" {
		return
	}
	must := []map[string]interface{}{}
	if filters.DocID != "" {
		must = append(must, map[string]interface{}{"term": map[string]interface{}{"doc_id": filters.DocID}})
	}
	if filters.DocFilename != "" {
		must = append(must, map[string]interface{}{"term": map[string]interface{}{"file_name.keyword": filters.DocFilename}})
	}
	if q, ok := body["query"]; ok {
		body["query"] = map[string]interface{}{"bool": map[string]interface{}{"must": []interface{}{q}, "filter": must}}
	} else {
		body["query"] = map[string]interface{}{"bool": map[string]interface{}{"filter": must}}
	}
}

func (c *Client) GetAllDocuments(ctx context.Context) ([]types.Document, error) {
	body := map[string]interface{}{
		"size": 0,
		"aggs": map[string]interface{}{
			"by_doc": map[string]interface{}{
				"terms": map[string]interface{}{"field": "doc_id", "size": 10000},
			},
		},
	}
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(body)
	res, err := c.es.Search(c.es.Search.WithContext(ctx), c.es.Search.WithIndex(c.index), c.es.Search.WithBody(&buf))
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var parsed struct {
		Aggregations struct {
			ByDoc struct {
				Buckets []struct {
					Key      string `json:"key"`
					DocCount int    `json:"doc_count"`
				} `json:"buckets"`
			} `json:"by_doc"`
		} `json:"aggregations"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	docs := make([]types.Document, 0, len(parsed.Aggregations.ByDoc.Buckets))
	for _, b := range parsed.Aggregations.ByDoc.Buckets {
		docs = append(docs, types.Document{DocID: b.Key, ChunkCount: b.DocCount})
	}
	return docs, nil
}

func (c *Client) GetChunks(ctx context.Context, docID string) ([]types.Chunk, error) {
	scored, err := c.search(ctx, map[string]interface{}{
		"size":  1000,
		"query": map[string]interface{}{"term": map[string]interface{}{"doc_id": docID}},
		"sort":  []interface{}{map[string]interface{}{"chunk_index": "asc"}},
	})
	if err != nil {
		return nil, err
	}
	out := make([]types.Chunk, 0, len(scored))
	for _, s := range scored {
		out = append(out, s.Chunk)
	}
	return out, nil
}

func (c *Client) DeleteDocument(ctx context.Context, docID string) error {
	body := map[string]interface{}{
		"query": map[string]interface{}{"term": map[string]interface{}{"doc_id": docID}},
	}
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(body)
	res, err := c.es.DeleteByQuery([]string{c.index},
		strings.NewReader(buf.String()),
		c.es.DeleteByQuery.WithContext(ctx),
	)
	if err != nil {
		// Idempotent: deleting twice still reports success.
		return nil
	}
	defer res.Body.Close()
	return nil
}
