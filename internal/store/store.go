// Package store persists folders, files, chunks, jobs, and
// conversations in Postgres.
//
// Dense vectors live in pgvector columns; the lexical representation is
// a generated tsvector column so chunk rows can be batch-inserted
// without recomputing it client-side. All multi-row mutations run in
// explicit transactions. Every read that crosses a tenant boundary
// filters on the denormalized tenant_id column in addition to the
// owning-key filter.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the row does not exist or is owned by another
// tenant. Callers must not distinguish the two.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a unique-key violation.
var ErrConflict = errors.New("conflict")

// Store wraps the connection pool and the schema it owns.
type Store struct {
	pool       *pgxpool.Pool
	dimensions int
}

// New connects to Postgres and ensures the schema exists.
func New(ctx context.Context, url string, maxConns int, dimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	s := &Store{pool: pool, dimensions: dimensions}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database resources.
func (s *Store) Close() {
	s.pool.Close()
}

// Dimensions returns the embedding dimensionality the schema was built with.
func (s *Store) Dimensions() int { return s.dimensions }

func (s *Store) ensureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS folders (
	id UUID PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	remote_id TEXT NOT NULL,
	name TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	files_total INT NOT NULL DEFAULT 0,
	files_indexed INT NOT NULL DEFAULT 0,
	last_synced_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, remote_id)
);

CREATE TABLE IF NOT EXISTS files (
	id UUID PRIMARY KEY,
	folder_id UUID NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
	tenant_id TEXT NOT NULL,
	remote_id TEXT NOT NULL,
	name TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	modified_at TIMESTAMPTZ NOT NULL,
	preview TEXT,
	embedding vector(%[1]d),
	search_vector tsvector GENERATED ALWAYS AS (to_tsvector('english', coalesce(preview, ''))) STORED,
	index_status TEXT NOT NULL DEFAULT 'pending',
	last_error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (folder_id, remote_id)
);
CREATE INDEX IF NOT EXISTS files_folder_idx ON files (folder_id);

CREATE TABLE IF NOT EXISTS chunks (
	id UUID PRIMARY KEY,
	file_id UUID NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	tenant_id TEXT NOT NULL,
	chunk_index INT NOT NULL,
	text TEXT NOT NULL,
	embedding vector(%[1]d) NOT NULL,
	search_vector tsvector GENERATED ALWAYS AS (to_tsvector('english', text)) STORED,
	location JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (file_id, chunk_index)
);
CREATE INDEX IF NOT EXISTS chunks_file_idx ON chunks (file_id);
CREATE INDEX IF NOT EXISTS chunks_search_idx ON chunks USING gin (search_vector);

CREATE TABLE IF NOT EXISTS indexing_jobs (
	id UUID PRIMARY KEY,
	file_id UUID NOT NULL UNIQUE REFERENCES files(id) ON DELETE CASCADE,
	folder_id UUID NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
	status TEXT NOT NULL DEFAULT 'pending',
	priority INT NOT NULL DEFAULT 0,
	attempts INT NOT NULL DEFAULT 0,
	max_attempts INT NOT NULL DEFAULT 3,
	last_error TEXT NOT NULL DEFAULT '',
	run_after TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS jobs_claim_idx ON indexing_jobs (status, run_after, priority DESC, created_at);

CREATE TABLE IF NOT EXISTS conversations (
	id UUID PRIMARY KEY,
	folder_id UUID NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
	tenant_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS messages (
	id UUID PRIMARY KEY,
	conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	citations JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages (conversation_id, created_at);

DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_indexes
		WHERE schemaname = current_schema() AND indexname = 'chunks_embedding_idx'
	) THEN
		EXECUTE 'CREATE INDEX chunks_embedding_idx ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);';
	END IF;
END
$$;
`, s.dimensions)

	_, err := s.pool.Exec(ctx, ddl)
	if err != nil && strings.Contains(err.Error(), "ivfflat") {
		// The approximate index needs enough rows to build; retrieval
		// falls back to a sequential scan until it exists.
		err = nil
	}
	return err
}

// isUniqueViolation reports whether err is a unique-key conflict.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
