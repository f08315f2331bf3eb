// Package syncer reconciles registered folders with their drive state.
//
// A sync pass lists the remote folder, diffs the listing against the
// stored file rows, enqueues indexing jobs for new and modified files,
// and removes files deleted upstream. Modification is detected by a
// strictly newer remote timestamp; same-or-older timestamps leave the
// indexed file untouched.
package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/foliolabs/folio/internal/drive"
	"github.com/foliolabs/folio/internal/logging"
	"github.com/foliolabs/folio/internal/metrics"
	"github.com/foliolabs/folio/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SyncStore is the store surface the synchronizer drives.
type SyncStore interface {
	ListFolders(ctx context.Context) ([]*store.Folder, error)
	ListFiles(ctx context.Context, folderID uuid.UUID) ([]*store.File, error)
	UpsertFile(ctx context.Context, folderID uuid.UUID, tenantID, remoteID, name, mimeType string, modifiedAt time.Time) (*store.File, error)
	DeleteFile(ctx context.Context, fileID uuid.UUID) error
	EnqueueJob(ctx context.Context, fileID, folderID uuid.UUID, priority, maxAttempts int) (*store.Job, error)
	TouchFolderSynced(ctx context.Context, folderID uuid.UUID, filesTotal int) error
	SetFolderStatus(ctx context.Context, folderID uuid.UUID, status store.FolderStatus) error
	UpdateFolderProgress(ctx context.Context, folderID uuid.UUID) error
}

// Lister is the drive surface the synchronizer uses.
type Lister interface {
	ListFolder(ctx context.Context, token, remoteFolderID string) ([]drive.RemoteFile, error)
}

// Diff summarizes one reconciliation pass: how many files were newly
// scheduled, re-scheduled after an upstream change, and removed.
type Diff struct {
	Added    int `json:"added"`
	Modified int `json:"modified"`
	Deleted  int `json:"deleted"`
}

// Config sets the sweep interval and the job retry budget.
type Config struct {
	Interval    time.Duration
	MaxAttempts int
}

// Syncer reconciles folders.
type Syncer struct {
	cfg     Config
	store   SyncStore
	lister  Lister
	tokens  drive.TokenSource
	metrics *metrics.Metrics
	log     *logging.Logger
}

// New creates a synchronizer.
func New(cfg Config, st SyncStore, lister Lister, tokens drive.TokenSource, m *metrics.Metrics, log *logging.Logger) *Syncer {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Syncer{cfg: cfg, store: st, lister: lister, tokens: tokens, metrics: m, log: log.Named("syncer")}
}

// Run sweeps all folders on the configured interval until the context
// is canceled.
func (s *Syncer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Syncer) sweep(ctx context.Context) {
	folders, err := s.store.ListFolders(ctx)
	if err != nil {
		s.log.Error(ctx, "listing folders for sync", zap.Error(err))
		return
	}
	for _, f := range folders {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.SyncFolder(ctx, f); err != nil {
			s.log.Warn(ctx, "folder sync failed",
				zap.String("folder_id", f.ID.String()),
				zap.Error(err))
		}
	}
}

// SyncFolder reconciles one folder with its remote listing and returns
// the resulting diff. A missing remote folder or revoked credentials
// mark the folder failed; other listing errors leave its state
// untouched for the next sweep.
func (s *Syncer) SyncFolder(ctx context.Context, folder *store.Folder) (Diff, error) {
	ctx = logging.WithTenant(ctx, folder.TenantID)
	ctx = logging.WithFolder(ctx, folder.ID.String())

	var diff Diff

	token, err := s.tokens.Token(ctx, folder.TenantID)
	if err != nil {
		return diff, err
	}

	remote, err := s.lister.ListFolder(ctx, token, folder.RemoteID)
	if err != nil {
		if errors.Is(err, drive.ErrFolderGone) || errors.Is(err, drive.ErrReauthorizationRequired) {
			if serr := s.store.SetFolderStatus(ctx, folder.ID, store.FolderFailed); serr != nil {
				s.log.Error(ctx, "marking folder failed", zap.Error(serr))
			}
		}
		return diff, err
	}

	local, err := s.store.ListFiles(ctx, folder.ID)
	if err != nil {
		return diff, err
	}
	byRemoteID := make(map[string]*store.File, len(local))
	for _, f := range local {
		byRemoteID[f.RemoteID] = f
	}

	seen := make(map[string]bool, len(remote))
	for _, rf := range remote {
		if ctx.Err() != nil {
			return diff, ctx.Err()
		}
		seen[rf.ID] = true

		existing, ok := byRemoteID[rf.ID]
		if ok && !rf.ModifiedTime.After(existing.ModifiedAt) {
			continue
		}
		file, err := s.store.UpsertFile(ctx, folder.ID, folder.TenantID, rf.ID, rf.Name, rf.MimeType, rf.ModifiedTime)
		if err != nil {
			return diff, err
		}
		if _, err := s.store.EnqueueJob(ctx, file.ID, folder.ID, 0, s.cfg.MaxAttempts); err != nil {
			return diff, err
		}
		if ok {
			diff.Modified++
			s.metrics.SyncFilesTotal.WithLabelValues("modified").Inc()
		} else {
			diff.Added++
			s.metrics.SyncFilesTotal.WithLabelValues("added").Inc()
		}
	}

	for _, f := range local {
		if seen[f.RemoteID] {
			continue
		}
		if ctx.Err() != nil {
			return diff, ctx.Err()
		}
		if err := s.store.DeleteFile(ctx, f.ID); err != nil {
			return diff, err
		}
		diff.Deleted++
		s.metrics.SyncFilesTotal.WithLabelValues("deleted").Inc()
	}

	if err := s.store.TouchFolderSynced(ctx, folder.ID, len(remote)); err != nil {
		return diff, err
	}
	if err := s.store.UpdateFolderProgress(ctx, folder.ID); err != nil {
		return diff, err
	}

	s.log.Info(ctx, "folder synced",
		zap.Int("remote_files", len(remote)),
		zap.Int("added", diff.Added),
		zap.Int("modified", diff.Modified),
		zap.Int("deleted", diff.Deleted))
	return diff, nil
}
