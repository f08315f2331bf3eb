// Package retrieval runs hybrid search over indexed chunks.
//
// A query is embedded and matched against the vector index while the
// raw text runs through Postgres full-text search. The candidate pools
// are min-max normalized, fused with a weighted sum that includes a
// recency decay term, and the best candidates optionally pass through
// a cross-encoder reranker. Either retrieval leg may fail or come back
// empty; the other leg still produces results.
package retrieval

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/foliolabs/folio/internal/logging"
	"github.com/foliolabs/folio/internal/metrics"
	"github.com/foliolabs/folio/internal/rerank"
	"github.com/foliolabs/folio/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CandidateStore is the slice of the store the searcher needs.
type CandidateStore interface {
	VectorCandidates(ctx context.Context, tenantID string, folderID uuid.UUID, embedding []float32, limit int) ([]store.SearchCandidate, error)
	LexicalCandidates(ctx context.Context, tenantID string, folderID uuid.UUID, query string, limit int) ([]store.SearchCandidate, error)
}

// QueryEmbedder embeds search queries.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// Config sets fusion weights and pool sizes.
type Config struct {
	VectorWeight    float64
	LexicalWeight   float64
	RecencyWeight   float64
	RecencyHalfLife time.Duration
	CandidatePool   int
	RerankPool      int
	DefaultLimit    int
}

// Searcher runs hybrid retrieval.
type Searcher struct {
	cfg      Config
	store    CandidateStore
	embedder QueryEmbedder
	reranker rerank.Reranker
	metrics  *metrics.Metrics
	log      *logging.Logger
	now      func() time.Time
}

// New creates a searcher. The reranker may be nil.
func New(cfg Config, st CandidateStore, embedder QueryEmbedder, rr rerank.Reranker, m *metrics.Metrics, log *logging.Logger) *Searcher {
	if cfg.CandidatePool <= 0 {
		cfg.CandidatePool = 50
	}
	if cfg.RerankPool <= 0 {
		cfg.RerankPool = 30
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if cfg.RecencyHalfLife <= 0 {
		cfg.RecencyHalfLife = 30 * 24 * time.Hour
	}
	return &Searcher{cfg: cfg, store: st, embedder: embedder, reranker: rr, metrics: m, log: log, now: time.Now}
}

// Search retrieves the chunks most relevant to the query within one
// folder. Results are scored best first; an unindexed or empty folder
// returns an empty slice, not an error.
func (s *Searcher) Search(ctx context.Context, tenantID string, folderID uuid.UUID, query string, limit int) ([]store.SearchCandidate, error) {
	if limit <= 0 || limit > s.cfg.RerankPool {
		limit = s.cfg.DefaultLimit
	}
	defer func(start time.Time) {
		s.metrics.SearchDuration.Observe(time.Since(start).Seconds())
	}(time.Now())

	var vecPool []store.SearchCandidate
	embedding, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		// Degrade to lexical search rather than failing the chat turn.
		s.log.Warn(ctx, "query embedding failed, using lexical retrieval only", zap.Error(err))
	} else {
		vecPool, err = s.store.VectorCandidates(ctx, tenantID, folderID, embedding, s.cfg.CandidatePool)
		if err != nil {
			return nil, err
		}
	}

	lexPool, err := s.store.LexicalCandidates(ctx, tenantID, folderID, query, s.cfg.CandidatePool)
	if err != nil {
		return nil, err
	}

	fused := s.fuse(vecPool, lexPool)
	if len(fused) == 0 {
		return nil, nil
	}
	if len(fused) > s.cfg.RerankPool {
		fused = fused[:s.cfg.RerankPool]
	}

	fused = s.maybeRerank(ctx, query, fused)
	if len(fused) > limit {
		fused = fused[:limit]
	}
	return fused, nil
}

// fuse unions the candidate pools and scores each chunk with the
// weighted sum of its normalized vector score, normalized lexical
// score, and recency decay. A chunk absent from one pool contributes
// zero for that component. When a whole pool is missing its weight is
// redistributed so scores stay comparable across degraded searches.
func (s *Searcher) fuse(vecPool, lexPool []store.SearchCandidate) []store.SearchCandidate {
	type scored struct {
		cand    store.SearchCandidate
		vec     float64
		lex     float64
		recency float64
	}

	merged := map[uuid.UUID]*scored{}
	add := func(c store.SearchCandidate) *scored {
		if sc, ok := merged[c.ChunkID]; ok {
			return sc
		}
		sc := &scored{cand: c, recency: s.recencyScore(c.ModifiedAt)}
		merged[c.ChunkID] = sc
		return sc
	}

	for i, norm := range normalize(vecPool) {
		add(vecPool[i]).vec = norm
	}
	for i, norm := range normalize(lexPool) {
		add(lexPool[i]).lex = norm
	}
	if len(merged) == 0 {
		return nil
	}

	wVec, wLex, wRec := s.cfg.VectorWeight, s.cfg.LexicalWeight, s.cfg.RecencyWeight
	if len(vecPool) == 0 {
		wVec = 0
	}
	if len(lexPool) == 0 {
		wLex = 0
	}
	if sum := wVec + wLex + wRec; sum > 0 {
		wVec, wLex, wRec = wVec/sum, wLex/sum, wRec/sum
	}

	out := make([]store.SearchCandidate, 0, len(merged))
	for _, sc := range merged {
		c := sc.cand
		c.Score = wVec*sc.vec + wLex*sc.lex + wRec*sc.recency
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		// Deterministic order for equal scores.
		return out[i].ChunkID.String() < out[j].ChunkID.String()
	})
	return out
}

// recencyScore is 0.5^(age/halfLife), clamped to 1 for future times.
func (s *Searcher) recencyScore(modifiedAt time.Time) float64 {
	age := s.now().Sub(modifiedAt)
	if age <= 0 {
		return 1
	}
	return math.Exp2(-float64(age) / float64(s.cfg.RecencyHalfLife))
}

// normalize min-max scales pool scores into [0,1]. A single candidate
// or a constant pool maps to 1.
func normalize(pool []store.SearchCandidate) []float64 {
	if len(pool) == 0 {
		return nil
	}
	min, max := pool[0].Score, pool[0].Score
	for _, c := range pool[1:] {
		if c.Score < min {
			min = c.Score
		}
		if c.Score > max {
			max = c.Score
		}
	}
	out := make([]float64, len(pool))
	for i, c := range pool {
		if max == min {
			out[i] = 1
		} else {
			out[i] = (c.Score - min) / (max - min)
		}
	}
	return out
}

// maybeRerank passes candidates through the cross-encoder. Any rerank
// failure keeps the fused order.
func (s *Searcher) maybeRerank(ctx context.Context, query string, cands []store.SearchCandidate) []store.SearchCandidate {
	if s.reranker == nil || len(cands) < 2 {
		return cands
	}
	docs := make([]string, len(cands))
	for i, c := range cands {
		docs[i] = c.Text
	}
	results, err := s.reranker.Rerank(ctx, query, docs, len(docs))
	if err != nil {
		s.log.Warn(ctx, "rerank failed, keeping fused order", zap.Error(err))
		return cands
	}
	if len(results) == 0 {
		return cands
	}

	out := make([]store.SearchCandidate, 0, len(results))
	seen := make(map[int]bool, len(results))
	for _, r := range results {
		if seen[r.Index] {
			continue
		}
		seen[r.Index] = true
		c := cands[r.Index]
		c.Score = r.Score
		out = append(out, c)
	}
	// A partial rerank response keeps the unmentioned tail.
	for i, c := range cands {
		if !seen[i] {
			out = append(out, c)
		}
	}
	return out
}
