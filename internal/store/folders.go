package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const folderColumns = `id, tenant_id, remote_id, name, status, files_total, files_indexed, last_synced_at, created_at, updated_at`

func scanFolder(row pgx.Row) (*Folder, error) {
	var f Folder
	err := row.Scan(&f.ID, &f.TenantID, &f.RemoteID, &f.Name, &f.Status,
		&f.FilesTotal, &f.FilesIndexed, &f.LastSyncedAt, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan folder: %w", err)
	}
	return &f, nil
}

// RegisterFolder creates a folder for the tenant, idempotent on
// (tenant, remote id). A repeated registration returns the existing
// folder unchanged.
func (s *Store) RegisterFolder(ctx context.Context, tenantID, remoteID, name string) (*Folder, error) {
	row := s.pool.QueryRow(ctx, `
INSERT INTO folders (id, tenant_id, remote_id, name)
VALUES ($1, $2, $3, $4)
ON CONFLICT (tenant_id, remote_id) DO UPDATE SET remote_id = EXCLUDED.remote_id
RETURNING `+folderColumns,
		uuid.New(), tenantID, remoteID, name)
	return scanFolder(row)
}

// GetFolder loads a folder scoped to the tenant. A folder owned by a
// different tenant reads as ErrNotFound.
func (s *Store) GetFolder(ctx context.Context, tenantID string, folderID uuid.UUID) (*Folder, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE id = $1 AND tenant_id = $2`,
		folderID, tenantID)
	return scanFolder(row)
}

// DeleteFolder removes the folder; files, chunks, jobs, conversations,
// and messages cascade.
func (s *Store) DeleteFolder(ctx context.Context, tenantID string, folderID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM folders WHERE id = $1 AND tenant_id = $2`, folderID, tenantID)
	if err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetFolderByID loads a folder by identifier alone. Used by the sync
// dispatcher, which works from trigger queues rather than a request
// scope.
func (s *Store) GetFolderByID(ctx context.Context, folderID uuid.UUID) (*Folder, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE id = $1`, folderID)
	return scanFolder(row)
}

// ListFolders returns every registered folder, least recently synced
// first, for the periodic sync sweep.
func (s *Store) ListFolders(ctx context.Context) ([]*Folder, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+folderColumns+` FROM folders ORDER BY last_synced_at NULLS FIRST, created_at`)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	var folders []*Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		folders = append(folders, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate folders: %w", err)
	}
	return folders, nil
}

// SetFolderStatus forces a folder status, used by the synchronizer when
// the remote folder is gone.
func (s *Store) SetFolderStatus(ctx context.Context, folderID uuid.UUID, status FolderStatus) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE folders SET status = $2, updated_at = now() WHERE id = $1`, folderID, status)
	if err != nil {
		return fmt.Errorf("set folder status: %w", err)
	}
	return nil
}

// TouchFolderSynced records a completed sync pass and the new file total.
func (s *Store) TouchFolderSynced(ctx context.Context, folderID uuid.UUID, filesTotal int) error {
	_, err := s.pool.Exec(ctx, `
UPDATE folders SET last_synced_at = now(), files_total = $2, updated_at = now()
WHERE id = $1`, folderID, filesTotal)
	if err != nil {
		return fmt.Errorf("touch folder synced: %w", err)
	}
	return nil
}

// UpdateFolderProgress recomputes files_indexed from the file rows and
// advances the folder state machine: indexing while any file is in
// flight, failed when none are in flight and at least one failed,
// ready when every file completed.
func (s *Store) UpdateFolderProgress(ctx context.Context, folderID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
WITH counts AS (
	SELECT
		count(*) FILTER (WHERE index_status IN ('completed', 'failed')) AS terminal,
		count(*) FILTER (WHERE index_status = 'failed') AS failed,
		count(*) FILTER (WHERE index_status IN ('pending', 'indexing')) AS in_flight,
		count(*) AS total
	FROM files WHERE folder_id = $1
)
UPDATE folders f SET
	files_indexed = counts.terminal,
	files_total = counts.total,
	status = CASE
		WHEN counts.in_flight > 0 THEN 'indexing'
		WHEN counts.failed > 0 THEN 'failed'
		ELSE 'ready'
	END,
	updated_at = now()
FROM counts
WHERE f.id = $1`, folderID)
	if err != nil {
		return fmt.Errorf("update folder progress: %w", err)
	}
	return nil
}
