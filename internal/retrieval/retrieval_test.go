package retrieval

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/foliolabs/folio/internal/logging"
	"github.com/foliolabs/folio/internal/metrics"
	"github.com/foliolabs/folio/internal/rerank"
	"github.com/foliolabs/folio/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	vec    []store.SearchCandidate
	lex    []store.SearchCandidate
	vecErr error
	lexErr error
}

func (f *fakeStore) VectorCandidates(_ context.Context, _ string, _ uuid.UUID, _ []float32, _ int) ([]store.SearchCandidate, error) {
	return f.vec, f.vecErr
}

func (f *fakeStore) LexicalCandidates(_ context.Context, _ string, _ uuid.UUID, _ string, _ int) ([]store.SearchCandidate, error) {
	return f.lex, f.lexErr
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, 4), nil
}

type fakeReranker struct {
	results []rerank.Result
	err     error
}

func (f *fakeReranker) Rerank(context.Context, string, []string, int) ([]rerank.Result, error) {
	return f.results, f.err
}

var fixedNow = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func cand(name string, score float64, age time.Duration) store.SearchCandidate {
	return store.SearchCandidate{
		ChunkID:    uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)),
		FileID:     uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)),
		FileName:   name,
		Text:       "text of " + name,
		ModifiedAt: fixedNow.Add(-age),
		Score:      score,
	}
}

func newSearcher(st CandidateStore, emb QueryEmbedder, rr rerank.Reranker) *Searcher {
	s := New(Config{
		VectorWeight:    0.6,
		LexicalWeight:   0.2,
		RecencyWeight:   0.2,
		RecencyHalfLife: 30 * 24 * time.Hour,
		CandidatePool:   50,
		RerankPool:      30,
		DefaultLimit:    10,
	}, st, emb, rr, metrics.NewNop(), logging.NewNop())
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestSearchFusesBothPools(t *testing.T) {
	shared := cand("shared.md", 0.9, time.Hour)
	st := &fakeStore{
		vec: []store.SearchCandidate{shared, cand("vec-only.md", 0.5, time.Hour)},
		lex: []store.SearchCandidate{shared, cand("lex-only.md", 0.4, time.Hour)},
	}
	s := newSearcher(st, &fakeEmbedder{}, nil)

	got, err := s.Search(context.Background(), "t1", uuid.New(), "query", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	// The chunk present in both pools wins both components.
	assert.Equal(t, "shared.md", got[0].FileName)
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i].Score, got[i-1].Score)
	}
}

func TestSearchRecencyBreaksTies(t *testing.T) {
	fresh := cand("fresh.md", 0.8, 24*time.Hour)
	stale := cand("stale.md", 0.8, 365*24*time.Hour)
	st := &fakeStore{vec: []store.SearchCandidate{fresh, stale}}
	s := newSearcher(st, &fakeEmbedder{}, nil)

	got, err := s.Search(context.Background(), "t1", uuid.New(), "query", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "fresh.md", got[0].FileName)
	assert.Greater(t, got[0].Score, got[1].Score)
}

func TestSearchEmbedderFailureDegradesToLexical(t *testing.T) {
	st := &fakeStore{lex: []store.SearchCandidate{cand("lex.md", 0.7, time.Hour)}}
	s := newSearcher(st, &fakeEmbedder{err: fmt.Errorf("embedding service down")}, nil)

	got, err := s.Search(context.Background(), "t1", uuid.New(), "query", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "lex.md", got[0].FileName)
}

func TestSearchEmptyLexicalFallsBackToVector(t *testing.T) {
	st := &fakeStore{vec: []store.SearchCandidate{cand("vec.md", 0.7, time.Hour)}}
	s := newSearcher(st, &fakeEmbedder{}, nil)

	got, err := s.Search(context.Background(), "t1", uuid.New(), "query", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "vec.md", got[0].FileName)
}

func TestSearchBothPoolsEmpty(t *testing.T) {
	s := newSearcher(&fakeStore{}, &fakeEmbedder{}, nil)
	got, err := s.Search(context.Background(), "t1", uuid.New(), "query", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearchRerankReorders(t *testing.T) {
	st := &fakeStore{vec: []store.SearchCandidate{
		cand("first.md", 0.9, time.Hour),
		cand("second.md", 0.5, time.Hour),
	}}
	rr := &fakeReranker{results: []rerank.Result{
		{Index: 1, Score: 0.95},
		{Index: 0, Score: 0.2},
	}}
	s := newSearcher(st, &fakeEmbedder{}, rr)

	got, err := s.Search(context.Background(), "t1", uuid.New(), "query", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "second.md", got[0].FileName)
	assert.Equal(t, 0.95, got[0].Score)
}

func TestSearchRerankFailureKeepsFusedOrder(t *testing.T) {
	st := &fakeStore{vec: []store.SearchCandidate{
		cand("first.md", 0.9, time.Hour),
		cand("second.md", 0.5, time.Hour),
	}}
	s := newSearcher(st, &fakeEmbedder{}, &fakeReranker{err: fmt.Errorf("reranker down")})

	got, err := s.Search(context.Background(), "t1", uuid.New(), "query", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first.md", got[0].FileName)
}

func TestSearchDeterministicTieBreak(t *testing.T) {
	a := cand("a.md", 0.5, time.Hour)
	b := cand("b.md", 0.5, time.Hour)
	st := &fakeStore{vec: []store.SearchCandidate{a, b}}
	s := newSearcher(st, &fakeEmbedder{}, nil)

	first, err := s.Search(context.Background(), "t1", uuid.New(), "query", 10)
	require.NoError(t, err)
	second, err := s.Search(context.Background(), "t1", uuid.New(), "query", 10)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, first[0].ChunkID, second[0].ChunkID)
	assert.Equal(t, first[1].ChunkID, second[1].ChunkID)
}

func TestSearchLimitApplied(t *testing.T) {
	var pool []store.SearchCandidate
	for i := 0; i < 40; i++ {
		pool = append(pool, cand(fmt.Sprintf("f%02d.md", i), float64(i), time.Hour))
	}
	st := &fakeStore{vec: pool}
	s := newSearcher(st, &fakeEmbedder{}, nil)

	got, err := s.Search(context.Background(), "t1", uuid.New(), "query", 5)
	require.NoError(t, err)
	assert.Len(t, got, 5)
	// Highest vector score first.
	assert.Equal(t, "f39.md", got[0].FileName)
}

func TestRecencyScore(t *testing.T) {
	s := newSearcher(&fakeStore{}, &fakeEmbedder{}, nil)
	assert.InDelta(t, 1.0, s.recencyScore(fixedNow), 1e-9)
	assert.InDelta(t, 0.5, s.recencyScore(fixedNow.Add(-30*24*time.Hour)), 1e-9)
	assert.InDelta(t, 0.25, s.recencyScore(fixedNow.Add(-60*24*time.Hour)), 1e-9)
	assert.Equal(t, 1.0, s.recencyScore(fixedNow.Add(time.Hour)))
}
