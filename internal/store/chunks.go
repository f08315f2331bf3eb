package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// NewChunk is the insert shape for ReplaceChunks. Identifiers and the
// tenant column are assigned by the store.
type NewChunk struct {
	ChunkIndex int
	Text       string
	Embedding  []float32
	Location   Location
}

// ReplaceChunks atomically swaps a file's chunks: existing rows are
// deleted and the new batch is inserted with a single COPY, all in one
// transaction. Concurrent readers never observe a partially updated
// file.
func (s *Store) ReplaceChunks(ctx context.Context, fileID uuid.UUID, tenantID string, chunks []NewChunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE file_id = $1`, fileID); err != nil {
		return fmt.Errorf("delete existing chunks: %w", err)
	}

	if len(chunks) > 0 {
		rows := make([][]any, len(chunks))
		for i, c := range chunks {
			if len(c.Embedding) != s.dimensions {
				return fmt.Errorf("chunk %d: embedding dimension mismatch: expected %d got %d",
					c.ChunkIndex, s.dimensions, len(c.Embedding))
			}
			loc, err := json.Marshal(c.Location)
			if err != nil {
				return fmt.Errorf("marshal location: %w", err)
			}
			rows[i] = []any{uuid.New(), fileID, tenantID, c.ChunkIndex, c.Text, pgvector.NewVector(c.Embedding), loc}
		}

		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"chunks"},
			[]string{"id", "file_id", "tenant_id", "chunk_index", "text", "embedding", "location"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("copy chunks: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const chunkColumns = `id, file_id, tenant_id, chunk_index, text, location, created_at`

func scanChunk(row pgx.Row) (*Chunk, error) {
	var (
		c   Chunk
		loc []byte
	)
	err := row.Scan(&c.ID, &c.FileID, &c.TenantID, &c.ChunkIndex, &c.Text, &loc, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan chunk: %w", err)
	}
	if err := json.Unmarshal(loc, &c.Location); err != nil {
		return nil, fmt.Errorf("unmarshal chunk location: %w", err)
	}
	return &c, nil
}

// GetFileChunks returns a file's chunks in chunk-index order, scoped to
// the tenant.
func (s *Store) GetFileChunks(ctx context.Context, tenantID string, fileID uuid.UUID) ([]*Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE file_id = $1 AND tenant_id = $2 ORDER BY chunk_index`,
		fileID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query file chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return chunks, nil
}
