// Package qdrant adapts github.com/qdrant/go-client into a store.Backend
// over one Qdrant collection of chunk points.
package qdrant

import (
	"context"
	"fmt"

	qc "github.com/qdrant/go-client/qdrant"

	"github.com/raglab/ragserver/internal/config"
	"github.com/raglab/ragserver/internal/store"
	"github.com/raglab/ragserver/internal/types"
)

// ChunkPayload is the point payload shape persisted per chunk.
type ChunkPayload struct {
	Text       string `json:"text"`
	DocID      string `json:"doc_id"`
	ChunkIndex int    `json:"chunk_index"`
	UploaderID string `json:"uploaded_by"`
	FileName   string `json:"file_name"`
}

// Client is a store.Backend backed by Qdrant, used as the primary vector
// kNN backend.
type Client struct {
	client     *qc.Client
	collection string
}

// New dials Qdrant per cfg.Qdrant.
func New(cfg *config.Config, collection string) (*Client, error) {
	c, err := qc.NewClient(&qc.Config{
		Host: cfg.Qdrant.Host,
		Port: cfg.Qdrant.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant dial: %w", err)
	}
	return &Client{client: c, collection: collection}, nil
}

func (c *Client) Name() string { return "qdrant" }

func (c *Client) VectorSearch(ctx context.Context, queryVec []float32, k int, filters store.SearchFilters) ([]types.ScoredChunk, error) {
	limit := uint64(k)
	req := &qc.QueryPoints{
		CollectionName: c.collection,
		Query:          qc.NewQuery(queryVec...),
		Limit:          &limit,
		WithPayload:    qc.NewWithPayload(true),
	}
	if filters.DocID != "" {
		req.Filter = &qc.Filter{
			Must: []*qc.Condition{
				qc.NewMatch("doc_id", filters.DocID),
			},
		}
	}
	points, err := c.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	out := make([]types.ScoredChunk, 0, len(points))
	for _, p := range points {
		if filters.MinScore > 0 && float64(p.GetScore()) < filters.MinScore {
			continue
		}
		payload := p.GetPayload()
		out = append(out, types.ScoredChunk{
			Chunk: types.Chunk{
				DocID:      stringField(payload, "doc_id"),
				FileName:   stringField(payload, "file_name"),
				ChunkIndex: intField(payload, "chunk_index"),
				Text:       stringField(payload, "text"),
				UploaderID: stringField(payload, "uploaded_by"),
			},
			Score: float64(p.GetScore()),
		})
	}
	return out, nil
}

// LexicalSearch is not supported natively by Qdrant; callers pair this
// backend with an Elasticsearch/Postgres backend for the lexical side of
// hybrid fusion. Returning an empty, nil-error result lets the facade's
// fuse() treat this branch as "no lexical evidence" rather than a failure.
func (c *Client) LexicalSearch(ctx context.Context, queryText string, k int, filters store.SearchFilters) ([]types.ScoredChunk, error) {
	return nil, nil
}

func (c *Client) GetAllDocuments(ctx context.Context) ([]types.Document, error) {
	return nil, fmt.Errorf("qdrant: document catalog is not authoritative, query the relational store")
}

func (c *Client) GetChunks(ctx context.Context, docID string) ([]types.Chunk, error) {
	limit := uint32(1000)
	points, err := c.client.Scroll(ctx, &qc.ScrollPoints{
		CollectionName: c.collection,
		Filter: &qc.Filter{
			Must: []*qc.Condition{qc.NewMatch("doc_id", docID)},
		},
		Limit:       &limit,
		WithPayload: qc.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant scroll: %w", err)
	}
	out := make([]types.Chunk, 0, len(points))
	for _, p := range points {
		payload := p.GetPayload()
		out = append(out, types.Chunk{
			DocID:      docID,
			FileName:   stringField(payload, "file_name"),
			ChunkIndex: intField(payload, "chunk_index"),
			Text:       stringField(payload, "text"),
			UploaderID: stringField(payload, "uploaded_by"),
		})
	}
	return out, nil
}

func (c *Client) DeleteDocument(ctx context.Context, docID string) error {
	_, err := c.client.Delete(ctx, &qc.DeletePoints{
		CollectionName: c.collection,
		Points: &qc.PointsSelector{
			PointsSelectorOneOf: &qc.PointsSelector_Filter{
				Filter: &qc.Filter{Must: []*qc.Condition{qc.NewMatch("doc_id", docID)}},
			},
		},
	})
	if err != nil {
		// Deleting an already-deleted document must still report success.
		return nil
	}
	return nil
}

func stringField(payload map[string]*qc.Value, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

func intField(payload map[string]*qc.Value, key string) int {
	v, ok := payload[key]
	if !ok {
		return 0
	}
	return int(v.GetIntegerValue())
}
