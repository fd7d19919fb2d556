// Package neo4jgraph adapts neo4j-go-driver into store.GraphBackend: the
// relationship authority for user-queried-document edges, persona ties,
// and document-topic edges. It is not wired as a retrieval backend or as
// the retrieval fallback.
package neo4jgraph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v6/neo4j"

	"github.com/raglab/ragserver/internal/config"
	"github.com/raglab/ragserver/internal/store"
	"github.com/raglab/ragserver/internal/types"
)

// Client is a store.GraphBackend backed by Neo4j. It also carries the
// store.Backend methods, but its VectorSearch and LexicalSearch always
// return no results.
type Client struct {
	driver neo4j.Driver
}

// New dials Neo4j per cfg.Neo4j.
func New(cfg *config.Config) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.Neo4j.Host,
		neo4j.BasicAuth(cfg.Neo4j.Username, cfg.Neo4j.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j dial: %w", err)
	}
	return &Client{driver: driver}, nil
}

func (c *Client) Name() string { return "neo4j" }

func (c *Client) run(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)
	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return result.Collect(ctx)
}

func (c *Client) UserDocumentHistory(ctx context.Context, userID string) (map[string]int, error) {
	records, err := c.run(ctx,
		`MATCH (u:User {id: $userID})-[q:QUERIED]->(d:Document) RETURN d.doc_id AS doc_id, count(q) AS n`,
		map[string]any{"userID": userID})
	if err != nil {
		return nil, fmt.Errorf("neo4j user history: %w", err)
	}
	out := make(map[string]int, len(records))
	for _, r := range records {
		docID, _ := r.Get("doc_id")
		n, _ := r.Get("n")
		if id, ok := docID.(string); ok {
			if count, ok := n.(int64); ok {
				out[id] = int(count)
			}
		}
	}
	return out, nil
}

func (c *Client) RecordUserDocumentQuery(ctx context.Context, userID, docID string) error {
	_, err := c.run(ctx,
		`MERGE (u:User {id: $userID}) MERGE (d:Document {doc_id: $docID})
		 MERGE (u)-[q:QUERIED]->(d) ON CREATE SET q.count = 1 ON MATCH SET q.count = q.count + 1`,
		map[string]any{"userID": userID, "docID": docID})
	return err
}

func (c *Client) PersonaTies(ctx context.Context, userID string) ([]types.Persona, error) {
	records, err := c.run(ctx,
		`MATCH (u:User {id: $userID})-[:HAS_PERSONA]->(p:Persona) RETURN p.persona_id AS id, p.name AS name, p.channel_id AS channel`,
		map[string]any{"userID": userID})
	if err != nil {
		return nil, fmt.Errorf("neo4j persona ties: %w", err)
	}
	out := make([]types.Persona, 0, len(records))
	for _, r := range records {
		id, _ := r.Get("id")
		name, _ := r.Get("name")
		channel, _ := r.Get("channel")
		p := types.Persona{UserID: userID}
		if s, ok := id.(string); ok {
			p.PersonaID = s
		}
		if s, ok := name.(string); ok {
			p.Name = s
		}
		if s, ok := channel.(string); ok {
			p.ChannelID = s
		}
		out = append(out, p)
	}
	return out, nil
}

func (c *Client) DocumentTopics(ctx context.Context, docID string) ([]string, error) {
	records, err := c.run(ctx,
		`MATCH (d:Document {doc_id: $docID})-[:HAS_TOPIC]->(t:Topic) RETURN t.name AS name`,
		map[string]any{"docID": docID})
	if err != nil {
		return nil, fmt.Errorf("neo4j document topics: %w", err)
	}
	out := make([]string, 0, len(records))
	for _, r := range records {
		if name, ok := r.Get("name"); ok {
			if s, ok := name.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

// --- store.Backend method set (not wired as a retrieval backend) ---

func (c *Client) VectorSearch(ctx context.Context, queryVec []float32, k int, filters store.SearchFilters) ([]types.ScoredChunk, error) {
	// Neo4j is not used for dense retrieval; this always returns no results.
	return nil, nil
}

func (c *Client) LexicalSearch(ctx context.Context, queryText string, k int, filters store.SearchFilters) ([]types.ScoredChunk, error) {
	return nil, nil
}

func (c *Client) GetAllDocuments(ctx context.Context) ([]types.Document, error) {
	records, err := c.run(ctx, `MATCH (d:Document) RETURN d.doc_id AS id, d.file_name AS name`, nil)
	if err != nil {
		return nil, err
	}
	out := make([]types.Document, 0, len(records))
	for _, r := range records {
		id, _ := r.Get("id")
		name, _ := r.Get("name")
		doc := types.Document{}
		if s, ok := id.(string); ok {
			doc.DocID = s
		}
		if s, ok := name.(string); ok {
			doc.FileName = s
		}
		out = append(out, doc)
	}
	return out, nil
}

func (c *Client) GetChunks(ctx context.Context, docID string) ([]types.Chunk, error) {
	records, err := c.run(ctx,
		`MATCH (d:Document {doc_id: $docID})-[:HAS_CHUNK]->(c:Chunk) RETURN c.text AS text, c.chunk_index AS idx ORDER BY idx`,
		map[string]any{"docID": docID})
	if err != nil {
		return nil, err
	}
	out := make([]types.Chunk, 0, len(records))
	for _, r := range records {
		text, _ := r.Get("text")
		idx, _ := r.Get("idx")
		chunk := types.Chunk{DocID: docID}
		if s, ok := text.(string); ok {
			chunk.Text = s
		}
		if n, ok := idx.(int64); ok {
			chunk.ChunkIndex = int(n)
		}
		out = append(out, chunk)
	}
	return out, nil
}

func (c *Client) DeleteDocument(ctx context.Context, docID string) error {
	_, err := c.run(ctx, `MATCH (d:Document {doc_id: $docID}) DETACH DELETE d`, map[string]any{"docID": docID})
	return err
}
