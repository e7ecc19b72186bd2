package store

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rowan/attache/internal/retrieval"
)

// ChunkStore holds document chunks and their embeddings in Postgres
// with the pgvector extension. It implements retrieval.Searcher.
//
// Embeddings are tagged with the model that produced them; every
// similarity search filters on that tag so distances are only ever
// compared between vectors from the same model.
type ChunkStore struct {
	DB  *gorm.DB
	Dim int
}

func NewChunkStore(dsn string, dim int) (*ChunkStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chunk store: %w", err)
	}

	s := &ChunkStore{DB: db, Dim: dim}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ChunkStore) ensureSchema() error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		`CREATE TABLE IF NOT EXISTS documents (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS document_chunks (
			id BIGSERIAL PRIMARY KEY,
			document_id BIGINT NOT NULL REFERENCES documents(id),
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunk_embeddings (
			chunk_id BIGINT NOT NULL REFERENCES document_chunks(id),
			model TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			PRIMARY KEY (chunk_id, model)
		);`, s.Dim),
	}
	for _, stmt := range stmts {
		if err := s.DB.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to ensure chunk schema: %w", err)
		}
	}
	return nil
}

// HasEmbeddings reports whether any embedding row carries the tag.
func (s *ChunkStore) HasEmbeddings(ctx context.Context, modelTag string) (bool, error) {
	var n int64
	err := s.DB.WithContext(ctx).
		Raw(`SELECT count(*) FROM chunk_embeddings WHERE model = ?`, modelTag).
		Scan(&n).Error
	if err != nil {
		return false, fmt.Errorf("failed to count embeddings: %w", err)
	}
	return n > 0, nil
}

type similarityRow struct {
	ID         int64
	DocumentID int64
	Snippet    string
	Distance   float64
}

// SimilaritySearch returns up to topK hits ordered by ascending cosine
// distance from the query vector, restricted to the given model tag.
func (s *ChunkStore) SimilaritySearch(ctx context.Context, vector []float32, modelTag string, topK int) ([]retrieval.Hit, error) {
	lit := vectorLiteral(vector)

	var rows []similarityRow
	err := s.DB.WithContext(ctx).Raw(`
		SELECT
		  c.id,
		  c.document_id,
		  left(c.content, 300) AS snippet,
		  (e.embedding <=> ?::vector) AS distance
		FROM chunk_embeddings e
		JOIN document_chunks c ON c.id = e.chunk_id
		WHERE e.model = ?
		ORDER BY e.embedding <=> ?::vector
		LIMIT ?`, lit, modelTag, lit, topK).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	hits := make([]retrieval.Hit, len(rows))
	for i, r := range rows {
		d := r.Distance
		hits[i] = retrieval.Hit{
			ChunkID:    r.ID,
			DocumentID: r.DocumentID,
			Snippet:    r.Snippet,
			Distance:   &d,
		}
	}
	return hits, nil
}

type keywordRow struct {
	ID         int64
	DocumentID int64
	Snippet    string
}

// KeywordSearch is the substring fallback: case-insensitive match on
// chunk content, most recently ingested chunk first. Recency stands in
// for relevance when there is no semantic signal, so hits carry no
// distance.
func (s *ChunkStore) KeywordSearch(ctx context.Context, query string, topK int) ([]retrieval.Hit, error) {
	var rows []keywordRow
	err := s.DB.WithContext(ctx).Raw(`
		SELECT
		  id,
		  document_id,
		  left(content, 300) AS snippet
		FROM document_chunks
		WHERE content ILIKE ?
		ORDER BY id DESC
		LIMIT ?`, "%"+query+"%", topK).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	hits := make([]retrieval.Hit, len(rows))
	for i, r := range rows {
		hits[i] = retrieval.Hit{
			ChunkID:    r.ID,
			DocumentID: r.DocumentID,
			Snippet:    r.Snippet,
		}
	}
	return hits, nil
}

// IngestDocument stores a document, its chunks, and one embedding per
// chunk tagged with modelTag, in a single transaction. vectors may be
// nil when no embedder is configured; chunks are then reachable only
// through the keyword fallback.
func (s *ChunkStore) IngestDocument(ctx context.Context, name, source string, chunks []string, vectors [][]float32, modelTag string) (int64, error) {
	if len(chunks) == 0 {
		return 0, fmt.Errorf("document %q has no chunks", name)
	}
	if vectors != nil && len(vectors) != len(chunks) {
		return 0, fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks))
	}

	var docID int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Raw(
			`INSERT INTO documents (name, source) VALUES (?, ?) RETURNING id`,
			name, source,
		).Scan(&docID).Error; err != nil {
			return err
		}

		for i, content := range chunks {
			var chunkID int64
			if err := tx.Raw(
				`INSERT INTO document_chunks (document_id, content) VALUES (?, ?) RETURNING id`,
				docID, content,
			).Scan(&chunkID).Error; err != nil {
				return err
			}

			if vectors == nil {
				continue
			}
			if err := tx.Exec(
				`INSERT INTO chunk_embeddings (chunk_id, model, embedding) VALUES (?, ?, ?::vector)
				 ON CONFLICT (chunk_id, model) DO UPDATE SET embedding = EXCLUDED.embedding`,
				chunkID, modelTag, vectorLiteral(vectors[i]),
			).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to ingest document %q: %w", name, err)
	}
	return docID, nil
}

// vectorLiteral renders a vector in pgvector's input syntax.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%.6f", x)
	}
	b.WriteByte(']')
	return b.String()
}
