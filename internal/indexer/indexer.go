// Package indexer runs the background workers that turn queued files
// into searchable chunks.
//
// Workers poll the job queue, and for each claimed job fetch the file
// from the drive, extract and chunk it, situate and embed the chunks,
// and atomically replace the file's chunk set. Failures are classified:
// transient faults reschedule the job with backoff, terminal faults
// fail the file without burning the remaining attempts.
package indexer

import (
	"context"
	"time"

	"github.com/foliolabs/folio/internal/chunker"
	"github.com/foliolabs/folio/internal/drive"
	"github.com/foliolabs/folio/internal/extract"
	"github.com/foliolabs/folio/internal/fault"
	"github.com/foliolabs/folio/internal/logging"
	"github.com/foliolabs/folio/internal/metrics"
	"github.com/foliolabs/folio/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// JobStore is the queue and file state surface the workers drive.
type JobStore interface {
	ClaimNextJob(ctx context.Context) (*store.Job, error)
	CompleteJob(ctx context.Context, job *store.Job, outcome store.JobOutcome, jobErr error, backoffBase, backoffCap time.Duration) error
	ResetStaleJobs(ctx context.Context, staleAfter time.Duration) (int, error)
	GetFileByID(ctx context.Context, fileID uuid.UUID) (*store.File, error)
	ReplaceChunks(ctx context.Context, fileID uuid.UUID, tenantID string, chunks []store.NewChunk) error
	MarkFileCompleted(ctx context.Context, fileID uuid.UUID, preview string, embedding []float32) error
	MarkFileFailed(ctx context.Context, fileID uuid.UUID, lastError string) error
	UpdateFolderProgress(ctx context.Context, folderID uuid.UUID) error
}

// Fetcher is the drive surface the workers use.
type Fetcher interface {
	Download(ctx context.Context, token, remoteFileID string) ([]byte, error)
	ExportNative(ctx context.Context, token, remoteFileID, targetMime string) ([]byte, error)
}

// Extractor turns raw bytes into a structured document.
type Extractor interface {
	Extract(ctx context.Context, fileName, mime string, data []byte) (*extract.Document, error)
}

// Situator returns the text to embed for each chunk.
type Situator interface {
	Situate(ctx context.Context, fileName, docText string, chunks []chunker.Chunk) []string
}

// DocumentEmbedder embeds document texts.
type DocumentEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Config sets worker count and retry policy.
type Config struct {
	Workers          int
	PollInterval     time.Duration
	RetryBackoffBase time.Duration
	RetryBackoffCap  time.Duration
	// StaleClaimAfter is how long a processing row may sit before
	// startup requeues it as orphaned by a crashed worker.
	StaleClaimAfter time.Duration
}

// Pool is the indexing worker pool.
type Pool struct {
	cfg      Config
	store    JobStore
	fetcher  Fetcher
	tokens   drive.TokenSource
	extract  Extractor
	chunker  *chunker.Chunker
	situator Situator
	embedder DocumentEmbedder
	metrics  *metrics.Metrics
	log      *logging.Logger
}

// New creates a worker pool.
func New(cfg Config, st JobStore, fetcher Fetcher, tokens drive.TokenSource, ex Extractor,
	ch *chunker.Chunker, sit Situator, emb DocumentEmbedder, m *metrics.Metrics, log *logging.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 20
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.RetryBackoffBase <= 0 {
		cfg.RetryBackoffBase = 30 * time.Second
	}
	if cfg.RetryBackoffCap <= 0 {
		cfg.RetryBackoffCap = 15 * time.Minute
	}
	if cfg.StaleClaimAfter <= 0 {
		cfg.StaleClaimAfter = 30 * time.Minute
	}
	return &Pool{
		cfg: cfg, store: st, fetcher: fetcher, tokens: tokens, extract: ex,
		chunker: ch, situator: sit, embedder: emb, metrics: m, log: log.Named("indexer"),
	}
}

// Run starts the workers and blocks until the context is canceled.
// Processing rows left behind by a crashed worker are requeued first,
// so no claimed job stays stuck short of a terminal state.
func (p *Pool) Run(ctx context.Context) error {
	if n, err := p.store.ResetStaleJobs(ctx, p.cfg.StaleClaimAfter); err != nil {
		p.log.Error(ctx, "requeueing stale jobs", zap.Error(err))
	} else if n > 0 {
		p.log.Info(ctx, "requeued stale jobs", zap.Int("jobs", n))
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		g.Go(func() error {
			p.workerLoop(gctx)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) workerLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.store.ClaimNextJob(ctx)
		if err != nil {
			p.log.Error(ctx, "claiming job", zap.Error(err))
			p.sleep(ctx, p.cfg.PollInterval)
			continue
		}
		if job == nil {
			p.sleep(ctx, p.cfg.PollInterval)
			continue
		}
		p.runJob(ctx, job)
	}
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// runJob processes one claimed job and records its outcome. Folder
// progress is recomputed regardless of how the job ended.
func (p *Pool) runJob(ctx context.Context, job *store.Job) {
	start := time.Now()
	err := p.processJob(ctx, job)
	p.metrics.JobDuration.Observe(time.Since(start).Seconds())

	// Outcome recording must survive shutdown; writing with the worker
	// context would strand the row in processing when it is canceled
	// mid-job.
	recordCtx := context.WithoutCancel(ctx)

	// Terminal faults fail the file immediately; transient and unknown
	// faults retry until attempts run out.
	outcome := store.OutcomeCompleted
	switch {
	case err == nil:
		p.metrics.JobsProcessed.WithLabelValues("completed").Inc()
	case fault.IsTerminal(err):
		outcome = store.OutcomeFailed
	default:
		outcome = store.OutcomeRetry
	}

	if err != nil {
		terminal := outcome == store.OutcomeFailed || job.Attempts >= job.MaxAttempts
		p.log.Warn(ctx, "indexing job attempt failed",
			zap.String("job_id", job.ID.String()),
			zap.String("file_id", job.FileID.String()),
			zap.Int("attempt", job.Attempts),
			zap.Bool("terminal", terminal),
			zap.Error(err))
		if terminal {
			p.metrics.JobsProcessed.WithLabelValues("failed").Inc()
			if ferr := p.store.MarkFileFailed(recordCtx, job.FileID, err.Error()); ferr != nil {
				p.log.Error(ctx, "marking file failed", zap.Error(ferr))
			}
		} else {
			p.metrics.JobsProcessed.WithLabelValues("retried").Inc()
		}
	}

	if cerr := p.store.CompleteJob(recordCtx, job, outcome, err, p.cfg.RetryBackoffBase, p.cfg.RetryBackoffCap); cerr != nil {
		p.log.Error(ctx, "recording job outcome", zap.Error(cerr))
	}
	if perr := p.store.UpdateFolderProgress(recordCtx, job.FolderID); perr != nil {
		p.log.Error(ctx, "updating folder progress", zap.Error(perr))
	}
}

// processJob runs the extract-chunk-embed pipeline for one file.
func (p *Pool) processJob(ctx context.Context, job *store.Job) error {
	file, err := p.store.GetFileByID(ctx, job.FileID)
	if err != nil {
		return fault.Wrap(fault.KindPermanent, "loading file", err)
	}
	ctx = logging.WithTenant(ctx, file.TenantID)
	ctx = logging.WithFolder(ctx, file.FolderID.String())

	token, err := p.tokens.Token(ctx, file.TenantID)
	if err != nil {
		return fault.Wrap(fault.KindTransient, "resolving drive token", err)
	}

	data, mime, err := p.fetch(ctx, token, file)
	if err != nil {
		return err
	}

	doc, err := p.extract.Extract(ctx, file.Name, mime, data)
	if err != nil {
		return err
	}

	chunks := p.chunker.Split(doc)
	preview := chunker.Preview(file.Name, doc)

	texts := p.situator.Situate(ctx, file.Name, doc.Text(), chunks)
	// The preview rides along as the last input so the file-level
	// embedding shares the batch round trip.
	vectors, err := p.embedder.EmbedDocuments(ctx, append(texts, preview))
	if err != nil {
		return err
	}
	fileVec := vectors[len(vectors)-1]

	newChunks := make([]store.NewChunk, len(chunks))
	for i, ch := range chunks {
		newChunks[i] = store.NewChunk{
			ChunkIndex: ch.Index,
			Text:       ch.Text,
			Embedding:  vectors[i],
			Location:   ch.Location,
		}
	}
	if err := p.store.ReplaceChunks(ctx, file.ID, file.TenantID, newChunks); err != nil {
		return fault.Wrap(fault.KindTransient, "replacing chunks", err)
	}
	if err := p.store.MarkFileCompleted(ctx, file.ID, preview, fileVec); err != nil {
		return fault.Wrap(fault.KindTransient, "marking file completed", err)
	}

	p.log.Info(ctx, "file indexed",
		zap.String("file_id", file.ID.String()),
		zap.String("file", file.Name),
		zap.Int("chunks", len(chunks)))
	return nil
}

// fetch downloads the file, going through native export when the MIME
// type requires conversion. Returns the bytes and their effective MIME.
func (p *Pool) fetch(ctx context.Context, token string, file *store.File) ([]byte, string, error) {
	if target, ok := extract.NeedsNativeExport(file.MimeType); ok {
		data, err := p.fetcher.ExportNative(ctx, token, file.RemoteID, target)
		if err != nil {
			return nil, "", err
		}
		return data, target, nil
	}
	data, err := p.fetcher.Download(ctx, token, file.RemoteID)
	if err != nil {
		return nil, "", err
	}
	return data, file.MimeType, nil
}
