package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const fileColumns = `id, folder_id, tenant_id, remote_id, name, mime_type, modified_at, coalesce(preview, ''), index_status, last_error, created_at, updated_at`

func scanFile(row pgx.Row) (*File, error) {
	var f File
	err := row.Scan(&f.ID, &f.FolderID, &f.TenantID, &f.RemoteID, &f.Name, &f.MimeType,
		&f.ModifiedAt, &f.Preview, &f.IndexStatus, &f.LastError, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	return &f, nil
}

// UpsertFile inserts or refreshes a file row. On conflict the file's
// derived state (preview, embedding, lexical vector) is nulled, its
// existing chunks are dropped so searches stop matching the outdated
// content, and the index status is reset to pending so the next job
// rebuilds everything.
func (s *Store) UpsertFile(ctx context.Context, folderID uuid.UUID, tenantID, remoteID, name, mimeType string, modifiedAt time.Time) (*File, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
INSERT INTO files (id, folder_id, tenant_id, remote_id, name, mime_type, modified_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (folder_id, remote_id) DO UPDATE SET
	name = EXCLUDED.name,
	mime_type = EXCLUDED.mime_type,
	modified_at = EXCLUDED.modified_at,
	preview = NULL,
	embedding = NULL,
	index_status = 'pending',
	last_error = '',
	updated_at = now()
RETURNING `+fileColumns,
		uuid.New(), folderID, tenantID, remoteID, name, mimeType, modifiedAt)
	f, err := scanFile(row)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE file_id = $1`, f.ID); err != nil {
		return nil, fmt.Errorf("delete stale chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit upsert: %w", err)
	}
	return f, nil
}

// GetFile loads a file scoped to its folder. A file in another folder
// or tenant reads as ErrNotFound.
func (s *Store) GetFile(ctx context.Context, tenantID string, folderID, fileID uuid.UUID) (*File, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = $1 AND folder_id = $2 AND tenant_id = $3`,
		fileID, folderID, tenantID)
	return scanFile(row)
}

// GetFileByID loads a file by identifier alone. Used by the worker,
// which holds a claimed job rather than a request scope.
func (s *Store) GetFileByID(ctx context.Context, fileID uuid.UUID) (*File, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = $1`, fileID)
	return scanFile(row)
}

// ListFiles returns all file rows of a folder ordered by name.
func (s *Store) ListFiles(ctx context.Context, folderID uuid.UUID) ([]*File, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fileColumns+` FROM files WHERE folder_id = $1 ORDER BY name`, folderID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return files, nil
}

// DeleteFile removes a file; its chunks and job cascade.
func (s *Store) DeleteFile(ctx context.Context, fileID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM files WHERE id = $1`, fileID)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// MarkFileCompleted records the outcome of a successful indexing pass:
// preview, file-level embedding, and terminal completed status. The
// lexical vector is generated from the preview by the schema. A nil
// embedding is allowed for empty files.
func (s *Store) MarkFileCompleted(ctx context.Context, fileID uuid.UUID, preview string, embedding []float32) error {
	var emb any
	if embedding != nil {
		v := pgvector.NewVector(embedding)
		emb = v
	}
	_, err := s.pool.Exec(ctx, `
UPDATE files SET preview = $2, embedding = $3, index_status = 'completed', last_error = '', updated_at = now()
WHERE id = $1`, fileID, preview, emb)
	if err != nil {
		return fmt.Errorf("mark file completed: %w", err)
	}
	return nil
}

// MarkFileFailed records a terminal per-file failure.
func (s *Store) MarkFileFailed(ctx context.Context, fileID uuid.UUID, lastError string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE files SET index_status = 'failed', last_error = $2, updated_at = now()
WHERE id = $1`, fileID, lastError)
	if err != nil {
		return fmt.Errorf("mark file failed: %w", err)
	}
	return nil
}
