package syncer

import (
	"context"

	"github.com/foliolabs/folio/internal/logging"
	"github.com/foliolabs/folio/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FolderLoader resolves trigger IDs to folders.
type FolderLoader interface {
	GetFolderByID(ctx context.Context, folderID uuid.UUID) (*store.Folder, error)
}

// Dispatcher serializes on-demand folder syncs behind a trigger queue.
// Triggers never block the caller.
type Dispatcher struct {
	syncer  *Syncer
	folders FolderLoader
	log     *logging.Logger
	ch      chan uuid.UUID
}

// NewDispatcher creates a dispatcher with the given queue depth.
func NewDispatcher(s *Syncer, folders FolderLoader, log *logging.Logger, depth int) *Dispatcher {
	if depth <= 0 {
		depth = 64
	}
	return &Dispatcher{syncer: s, folders: folders, log: log.Named("sync-dispatch"), ch: make(chan uuid.UUID, depth)}
}

// TriggerSync queues a folder for an on-demand sync. Non-blocking; a
// full queue drops the trigger, the periodic sweep will catch up.
func (d *Dispatcher) TriggerSync(folderID uuid.UUID) {
	select {
	case d.ch <- folderID:
	default:
	}
}

// SyncNow reconciles the folder in the caller's context and returns the
// diff. Used by the explicit sync operation, which reports counts.
func (d *Dispatcher) SyncNow(ctx context.Context, folderID uuid.UUID) (Diff, error) {
	folder, err := d.folders.GetFolderByID(ctx, folderID)
	if err != nil {
		return Diff{}, err
	}
	return d.syncer.SyncFolder(ctx, folder)
}

// Run consumes triggers until the context is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case folderID := <-d.ch:
			folder, err := d.folders.GetFolderByID(ctx, folderID)
			if err != nil {
				d.log.Warn(ctx, "loading folder for triggered sync",
					zap.String("folder_id", folderID.String()), zap.Error(err))
				continue
			}
			if _, err := d.syncer.SyncFolder(ctx, folder); err != nil {
				d.log.Warn(ctx, "triggered sync failed",
					zap.String("folder_id", folderID.String()), zap.Error(err))
			}
		}
	}
}
