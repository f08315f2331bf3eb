package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// SearchCandidate is one chunk surfaced by a single retrieval signal,
// carrying the metadata the retriever and chat loop need downstream.
type SearchCandidate struct {
	ChunkID      uuid.UUID
	FileID       uuid.UUID
	FileName     string
	FileRemoteID string
	ChunkIndex   int
	Text         string
	Location     Location
	ModifiedAt   time.Time
	Score        float64
}

func collectCandidates(rows pgx.Rows) ([]SearchCandidate, error) {
	defer rows.Close()
	var out []SearchCandidate
	for rows.Next() {
		var (
			c   SearchCandidate
			loc []byte
		)
		if err := rows.Scan(&c.ChunkID, &c.FileID, &c.FileName, &c.FileRemoteID,
			&c.ChunkIndex, &c.Text, &loc, &c.ModifiedAt, &c.Score); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		if err := json.Unmarshal(loc, &c.Location); err != nil {
			return nil, fmt.Errorf("unmarshal candidate location: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

// VectorCandidates returns the folder's chunks nearest to the query
// embedding by cosine distance. The score is cosine similarity in
// [0, 1] for normalized embeddings.
func (s *Store) VectorCandidates(ctx context.Context, tenantID string, folderID uuid.UUID, embedding []float32, limit int) ([]SearchCandidate, error) {
	if len(embedding) != s.dimensions {
		return nil, fmt.Errorf("embedding dimension mismatch: expected %d got %d", s.dimensions, len(embedding))
	}
	rows, err := s.pool.Query(ctx, `
SELECT c.id, c.file_id, f.name, f.remote_id, c.chunk_index, c.text, c.location, f.modified_at,
	1 - (c.embedding <=> $3) AS score
FROM chunks c
JOIN files f ON f.id = c.file_id
WHERE f.folder_id = $1 AND c.tenant_id = $2
ORDER BY c.embedding <=> $3
LIMIT $4`, folderID, tenantID, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("query vector candidates: %w", err)
	}
	return collectCandidates(rows)
}

// LexicalCandidates returns the folder's chunks matching the
// English-analyzed query, ranked by ts_rank. Queries with no matching
// terms return an empty slice.
func (s *Store) LexicalCandidates(ctx context.Context, tenantID string, folderID uuid.UUID, query string, limit int) ([]SearchCandidate, error) {
	rows, err := s.pool.Query(ctx, `
SELECT c.id, c.file_id, f.name, f.remote_id, c.chunk_index, c.text, c.location, f.modified_at,
	ts_rank(c.search_vector, websearch_to_tsquery('english', $3))::float8 AS score
FROM chunks c
JOIN files f ON f.id = c.file_id
WHERE f.folder_id = $1 AND c.tenant_id = $2
	AND c.search_vector @@ websearch_to_tsquery('english', $3)
ORDER BY score DESC
LIMIT $4`, folderID, tenantID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query lexical candidates: %w", err)
	}
	return collectCandidates(rows)
}
