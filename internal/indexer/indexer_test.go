package indexer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/foliolabs/folio/internal/chunker"
	"github.com/foliolabs/folio/internal/drive"
	"github.com/foliolabs/folio/internal/extract"
	"github.com/foliolabs/folio/internal/fault"
	"github.com/foliolabs/folio/internal/logging"
	"github.com/foliolabs/folio/internal/metrics"
	"github.com/foliolabs/folio/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobStore struct {
	file *store.File

	replacedChunks []store.NewChunk
	completedWith  string
	completedVec   []float32
	failedWith     string
	outcome        store.JobOutcome
	outcomeErr     error
	completeCtxErr error
	progressCalls  int
	resetCalls     int
	resetAfter     time.Duration
}

func (f *fakeJobStore) ClaimNextJob(context.Context) (*store.Job, error) { return nil, nil }

func (f *fakeJobStore) CompleteJob(ctx context.Context, _ *store.Job, outcome store.JobOutcome, jobErr error, _, _ time.Duration) error {
	f.outcome = outcome
	f.outcomeErr = jobErr
	f.completeCtxErr = ctx.Err()
	return nil
}

func (f *fakeJobStore) ResetStaleJobs(_ context.Context, staleAfter time.Duration) (int, error) {
	f.resetCalls++
	f.resetAfter = staleAfter
	return 0, nil
}

func (f *fakeJobStore) GetFileByID(context.Context, uuid.UUID) (*store.File, error) {
	if f.file == nil {
		return nil, store.ErrNotFound
	}
	return f.file, nil
}

func (f *fakeJobStore) ReplaceChunks(_ context.Context, _ uuid.UUID, _ string, chunks []store.NewChunk) error {
	f.replacedChunks = chunks
	return nil
}

func (f *fakeJobStore) MarkFileCompleted(_ context.Context, _ uuid.UUID, preview string, embedding []float32) error {
	f.completedWith = preview
	f.completedVec = embedding
	return nil
}

func (f *fakeJobStore) MarkFileFailed(_ context.Context, _ uuid.UUID, lastError string) error {
	f.failedWith = lastError
	return nil
}

func (f *fakeJobStore) UpdateFolderProgress(context.Context, uuid.UUID) error {
	f.progressCalls++
	return nil
}

type fakeFetcher struct {
	data      []byte
	err       error
	exported  bool
	gotTarget string
}

func (f *fakeFetcher) Download(context.Context, string, string) ([]byte, error) {
	return f.data, f.err
}

func (f *fakeFetcher) ExportNative(_ context.Context, _, _, target string) ([]byte, error) {
	f.exported = true
	f.gotTarget = target
	return f.data, f.err
}

type fakeExtractor struct {
	err error
}

func (f *fakeExtractor) Extract(_ context.Context, _, _ string, data []byte) (*extract.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return extract.TextExtractor{}.Extract(context.Background(), data)
}

type rawSituator struct{}

func (rawSituator) Situate(_ context.Context, _, _ string, chunks []chunker.Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}

func testFile() *store.File {
	return &store.File{
		ID:       uuid.New(),
		FolderID: uuid.New(),
		TenantID: "tenant-1",
		RemoteID: "remote-1",
		Name:     "notes.txt",
		MimeType: "text/plain",
	}
}

func testJob(file *store.File) *store.Job {
	return &store.Job{
		ID:          uuid.New(),
		FileID:      file.ID,
		FolderID:    file.FolderID,
		Attempts:    1,
		MaxAttempts: 3,
	}
}

func newTestPool(st *fakeJobStore, fetcher *fakeFetcher, ex Extractor, emb DocumentEmbedder) *Pool {
	return New(Config{Workers: 1, PollInterval: time.Millisecond},
		st, fetcher, drive.StaticTokenSource("tok"), ex,
		chunker.New(chunker.Config{TargetChars: 1500, OverlapChars: 150}),
		rawSituator{}, emb, metrics.NewNop(), logging.NewNop())
}

func TestRunJobSuccess(t *testing.T) {
	file := testFile()
	st := &fakeJobStore{file: file}
	fetcher := &fakeFetcher{data: []byte("first paragraph\n\nsecond paragraph")}
	p := newTestPool(st, fetcher, &fakeExtractor{}, &fakeEmbedder{})

	p.runJob(context.Background(), testJob(file))

	assert.Equal(t, store.OutcomeCompleted, st.outcome)
	require.Len(t, st.replacedChunks, 1)
	assert.Equal(t, 0, st.replacedChunks[0].ChunkIndex)
	assert.Contains(t, st.replacedChunks[0].Text, "first paragraph")
	// The file embedding is the last vector of the shared batch.
	assert.Equal(t, []float32{1}, st.completedVec)
	assert.Contains(t, st.completedWith, "notes.txt")
	assert.Empty(t, st.failedWith)
	assert.Equal(t, 1, st.progressCalls)
}

func TestRunJobUsesNativeExport(t *testing.T) {
	file := testFile()
	file.MimeType = "application/vnd.drive.document"
	st := &fakeJobStore{file: file}
	fetcher := &fakeFetcher{data: []byte("# Title\n\nbody text")}
	p := newTestPool(st, fetcher, extract.NewService(nil), &fakeEmbedder{})

	p.runJob(context.Background(), testJob(file))

	assert.True(t, fetcher.exported)
	assert.Equal(t, "text/markdown", fetcher.gotTarget)
	assert.Equal(t, store.OutcomeCompleted, st.outcome)
	require.Len(t, st.replacedChunks, 1)
	assert.Equal(t, []string{"Title"}, st.replacedChunks[0].Location.HeadingPath)
}

func TestRunJobPermanentFaultFailsFile(t *testing.T) {
	file := testFile()
	st := &fakeJobStore{file: file}
	fetcher := &fakeFetcher{data: []byte("x")}
	ex := &fakeExtractor{err: fault.New(fault.KindPermanent, "cannot decode")}
	p := newTestPool(st, fetcher, ex, &fakeEmbedder{})

	p.runJob(context.Background(), testJob(file))

	assert.Equal(t, store.OutcomeFailed, st.outcome)
	assert.Contains(t, st.failedWith, "cannot decode")
	assert.Empty(t, st.replacedChunks)
	assert.Equal(t, 1, st.progressCalls)
}

func TestRunJobTransientFaultRetries(t *testing.T) {
	file := testFile()
	st := &fakeJobStore{file: file}
	fetcher := &fakeFetcher{err: fault.New(fault.KindTransient, "drive 503")}
	p := newTestPool(st, fetcher, &fakeExtractor{}, &fakeEmbedder{})

	p.runJob(context.Background(), testJob(file))

	assert.Equal(t, store.OutcomeRetry, st.outcome)
	// Attempts remain, so the file is not failed yet.
	assert.Empty(t, st.failedWith)
}

func TestRunJobTransientExhaustedFailsFile(t *testing.T) {
	file := testFile()
	st := &fakeJobStore{file: file}
	fetcher := &fakeFetcher{err: fault.New(fault.KindTransient, "drive 503")}
	p := newTestPool(st, fetcher, &fakeExtractor{}, &fakeEmbedder{})

	job := testJob(file)
	job.Attempts = 3
	p.runJob(context.Background(), job)

	assert.Equal(t, store.OutcomeRetry, st.outcome)
	assert.Contains(t, st.failedWith, "drive 503")
}

func TestRunJobEmptyDocumentCompletes(t *testing.T) {
	file := testFile()
	st := &fakeJobStore{file: file}
	fetcher := &fakeFetcher{data: []byte("")}
	p := newTestPool(st, fetcher, &fakeExtractor{}, &fakeEmbedder{})

	p.runJob(context.Background(), testJob(file))

	assert.Equal(t, store.OutcomeCompleted, st.outcome)
	assert.Empty(t, st.replacedChunks)
	assert.NotEmpty(t, st.completedWith)
}

func TestRunJobRecordsOutcomeAfterShutdown(t *testing.T) {
	file := testFile()
	st := &fakeJobStore{file: file}
	fetcher := &fakeFetcher{err: fault.New(fault.KindTransient, "drive timeout")}
	p := newTestPool(st, fetcher, &fakeExtractor{}, &fakeEmbedder{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.runJob(ctx, testJob(file))

	// A claimed job never stays in processing: the outcome write runs
	// detached from the canceled worker context.
	assert.Equal(t, store.OutcomeRetry, st.outcome)
	assert.NoError(t, st.completeCtxErr)
	assert.Equal(t, 1, st.progressCalls)
}

func TestRunRequeuesStaleClaims(t *testing.T) {
	st := &fakeJobStore{}
	p := newTestPool(st, &fakeFetcher{}, &fakeExtractor{}, &fakeEmbedder{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Run(ctx))

	assert.Equal(t, 1, st.resetCalls)
	assert.Equal(t, 30*time.Minute, st.resetAfter)
}

func TestRunJobEmbeddingFailurePropagates(t *testing.T) {
	file := testFile()
	st := &fakeJobStore{file: file}
	fetcher := &fakeFetcher{data: []byte("some text")}
	p := newTestPool(st, fetcher, &fakeExtractor{}, &fakeEmbedder{err: fmt.Errorf("embedding down")})

	p.runJob(context.Background(), testJob(file))

	assert.Equal(t, store.OutcomeRetry, st.outcome)
	assert.Empty(t, st.replacedChunks)
	require.Error(t, st.outcomeErr)
	assert.Contains(t, st.outcomeErr.Error(), "embedding down")
}
