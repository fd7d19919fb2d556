// Package pgvector adapts gorm.io/gorm + pgvector-go into a store.Backend,
// selected when RETRIEVE_DRIVER names "postgres". It also doubles as the
// State Ledger's persistence layer's sibling table space.
package pgvector

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/raglab/ragserver/internal/config"
	"github.com/raglab/ragserver/internal/store"
	"github.com/raglab/ragserver/internal/types"
)

// ChunkRow is the GORM model backing chunk storage.
type ChunkRow struct {
	DocID      string          `gorm:"primaryKey;column:doc_id"`
	ChunkIndex int             `gorm:"primaryKey;column:chunk_index"`
	Text       string          `gorm:"column:text"`
	Embedding  pgvector.Vector `gorm:"column:embedding;type:vector(1536)"`
	UploaderID string          `gorm:"column:uploaded_by"`
	FileName   string          `gorm:"column:file_name"`
}

func (ChunkRow) TableName() string { return "chunks" }

// Client is a store.Backend backed by Postgres+pgvector.
type Client struct {
	db *gorm.DB
}

// New opens a GORM connection per cfg.Postgres and auto-migrates the
// chunk table.
func New(cfg *config.Config) (*Client, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.Username, cfg.Postgres.Password, cfg.Postgres.Database)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("postgres dial: %w", err)
	}
	if err := db.AutoMigrate(&ChunkRow{}); err != nil {
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	return &Client{db: db}, nil
}

func (c *Client) Name() string { return "pgvector" }

func (c *Client) VectorSearch(ctx context.Context, queryVec []float32, k int, filters store.SearchFilters) ([]types.ScoredChunk, error) {
	q := c.db.WithContext(ctx).Model(&ChunkRow{})
	q = applyFilters(q, filters)

	var rows []struct {
		ChunkRow
		Distance float64 `gorm:"column:distance"`
	}
	err := q.Select("*, embedding <-> ? AS distance", pgvector.NewVector(queryVec)).
		Order("distance ASC").
		Limit(k).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}

	out := make([]types.ScoredChunk, 0, len(rows))
	for _, r := range rows {
		score := 1.0 / (1.0 + r.Distance)
		if filters.MinScore > 0 && score < filters.MinScore {
			continue
		}
		out = append(out, types.ScoredChunk{Chunk: rowToChunk(r.ChunkRow), Score: score})
	}
	return out, nil
}

func (c *Client) LexicalSearch(ctx context.Context, queryText string, k int, filters store.SearchFilters) ([]types.ScoredChunk, error) {
	q := c.db.WithContext(ctx).Model(&ChunkRow{})
	q = applyFilters(q, filters)

	var rows []struct {
		ChunkRow
		Rank float64 `gorm:"column:rank"`
	}
	err := q.Select("*, ts_rank_cd(to_tsvector('english', text), plainto_tsquery('english', ?)) AS rank", queryText).
		Where("to_tsvector('english', text) @@ plainto_tsquery('english', ?)", queryText).
		Order("rank DESC").
		Limit(k).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("pgvector lexical search: %w", err)
	}
	out := make([]types.ScoredChunk, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.ScoredChunk{Chunk: rowToChunk(r.ChunkRow), Score: r.Rank})
	}
	return out, nil
}

func applyFilters(q *gorm.DB, filters store.SearchFilters) *gorm.DB {
	if filters.DocID != "" {
		q = q.Where("doc_id = ?", filters.DocID)
	}
	if filters.DocFilename != "" {
		q = q.Where("file_name = ?", filters.DocFilename)
	}
	return q
}

func rowToChunk(r ChunkRow) types.Chunk {
	return types.Chunk{DocID: r.DocID, FileName: r.FileName, ChunkIndex: r.ChunkIndex, Text: r.Text, UploaderID: r.UploaderID}
}

func (c *Client) GetAllDocuments(ctx context.Context) ([]types.Document, error) {
	var rows []struct {
		DocID      string `gorm:"column:doc_id"`
		FileName   string `gorm:"column:file_name"`
		ChunkCount int    `gorm:"column:chunk_count"`
	}
	err := c.db.WithContext(ctx).Model(&ChunkRow{}).
		Select("doc_id, file_name, count(*) AS chunk_count").
		Group("doc_id, file_name").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.Document, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.Document{DocID: r.DocID, FileName: r.FileName, ChunkCount: r.ChunkCount})
	}
	return out, nil
}

func (c *Client) GetChunks(ctx context.Context, docID string) ([]types.Chunk, error) {
	var rows []ChunkRow
	err := c.db.WithContext(ctx).Where("doc_id = ?", docID).Order("chunk_index ASC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.Chunk, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToChunk(r))
	}
	return out, nil
}

func (c *Client) DeleteDocument(ctx context.Context, docID string) error {
	// Delete is idempotent by construction: deleting an absent doc_id
	// still affects zero rows without erroring.
	return c.db.WithContext(ctx).Where("doc_id = ?", docID).Delete(&ChunkRow{}).Error
}
