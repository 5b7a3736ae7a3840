// Package search provides similarity, hybrid and recommendation queries over artifacts.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/originbrain/internal/cache"
	"github.com/hyperjump/originbrain/internal/embedding"
	"github.com/hyperjump/originbrain/internal/models"
	"github.com/hyperjump/originbrain/internal/vector"
)

const (
	// CachePrefix namespaces memoized hybrid search results.
	CachePrefix = "search"
	// DefaultCacheTTL is how long hybrid search results are memoized.
	DefaultCacheTTL = 30 * time.Minute

	consumedWindow     = 10
	perConsumedRecs    = 3
	minConsumedScore   = 0.6
	consumedScoreScale = 0.8
)

// Store is the part of the artifact store the engine reads.
type Store interface {
	GetArtifact(ctx context.Context, id string) (*models.Artifact, error)
	ListArtifactsWithEmbeddings(ctx context.Context, limit int) ([]*models.Artifact, error)
	LexicalSearch(ctx context.Context, query string, limit int, filters *models.Filters) ([]*models.Artifact, error)
	ListByStatus(ctx context.Context, status models.ConsumptionStatus, limit int) ([]*models.Artifact, error)
}

// Index is the nearest-neighbor index the engine queries.
type Index interface {
	Search(ctx context.Context, query []float32, k int) ([]vector.Neighbor, error)
	Size() int
	Dimension() int
}

// Engine runs similarity and hybrid (lexical + vector) search.
type Engine struct {
	store          Store
	index          Index
	cache          cache.Layer
	embedder       embedding.Embedder
	logger         *zap.Logger
	fallbackWindow int
	cacheTTL       time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache memoizes hybrid search results in c.
func WithCache(c cache.Layer) Option {
	return func(e *Engine) { e.cache = c }
}

// WithCacheTTL overrides DefaultCacheTTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.cacheTTL = ttl
		}
	}
}

// WithEmbedder lets SearchHybrid embed the query text when no embedding is given.
func WithEmbedder(emb embedding.Embedder) Option {
	return func(e *Engine) { e.embedder = emb }
}

// WithFallbackWindow bounds the brute-force scan used while the index is empty to the
// n most recent artifacts. 0 scans every artifact.
func WithFallbackWindow(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.fallbackWindow = n
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a search engine over store and index.
func NewEngine(store Store, index Index, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		index:    index,
		logger:   zap.NewNop(),
		cacheTTL: DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SearchSimilar returns up to k artifacts nearest to embedding that pass filters,
// ordered by ascending distance. While the index is empty it scans the store directly
// with cosine similarity, reporting distances on the same scale as the index.
func (e *Engine) SearchSimilar(ctx context.Context, embedding []float32, k int, filters *models.Filters) ([]*models.SearchResult, error) {
	if len(embedding) != e.index.Dimension() {
		return nil, models.DimensionError(len(embedding), e.index.Dimension())
	}
	if err := filters.Validate(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []*models.SearchResult{}, nil
	}
	if e.index.Size() == 0 {
		return e.fallbackSearch(ctx, embedding, k, filters)
	}

	size := e.index.Size()
	fetch := k
	if !filters.IsEmpty() {
		fetch = k * 2
	}
	results := make([]*models.SearchResult, 0, k)
	seen := 0
	for {
		if fetch > size {
			fetch = size
		}
		neighbors, err := e.index.Search(ctx, embedding, fetch)
		if err != nil {
			if models.IsValidation(err) {
				return nil, err
			}
			e.logger.Warn("vector index query failed, using fallback scan", zap.Error(err))
			return e.fallbackSearch(ctx, embedding, k, filters)
		}
		// neighbor order is deterministic, so a wider query extends the previous one
		for _, n := range neighbors[min(seen, len(neighbors)):] {
			a, err := e.store.GetArtifact(ctx, n.ID)
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("resolve %s: %w: %w", n.ID, models.ErrStoreUnavailable, err)
			}
			if !filters.Matches(a) {
				continue
			}
			score := DistanceToScore(n.Distance)
			results = append(results, &models.SearchResult{
				Artifact:    a,
				Distance:    n.Distance,
				VectorScore: score,
				Score:       score,
			})
			if len(results) == k {
				break
			}
		}
		seen = len(neighbors)
		if len(results) >= k || len(neighbors) < fetch || fetch >= size {
			break
		}
		fetch *= 2
	}
	rank(results)
	return results, nil
}

func (e *Engine) fallbackSearch(ctx context.Context, embedding []float32, k int, filters *models.Filters) ([]*models.SearchResult, error) {
	e.logger.Debug("vector index empty, scanning store", zap.Int("window", e.fallbackWindow))
	artifacts, err := e.store.ListArtifactsWithEmbeddings(ctx, e.fallbackWindow)
	if err != nil {
		return nil, fmt.Errorf("fallback scan: %w: %w", models.ErrStoreUnavailable, err)
	}
	results := make([]*models.SearchResult, 0, len(artifacts))
	for _, a := range artifacts {
		if len(a.Embedding) != len(embedding) || !filters.Matches(a) {
			continue
		}
		d := vector.UnitDistance(vector.CosineSimilarity(embedding, a.Embedding))
		score := DistanceToScore(d)
		results = append(results, &models.SearchResult{Artifact: a, Distance: d, VectorScore: score, Score: score})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > k {
		results = results[:k]
	}
	rank(results)
	return results, nil
}

// HybridQuery holds the inputs of SearchHybrid.
type HybridQuery struct {
	Text         string          `json:"text"`
	Embedding    []float32       `json:"embedding,omitempty"`
	K            int             `json:"k"`
	TextWeight   float64         `json:"text_weight"`
	VectorWeight float64         `json:"vector_weight"`
	Filters      *models.Filters `json:"filters,omitempty"`
}

func (q *HybridQuery) validate() error {
	if q.TextWeight < 0 || q.VectorWeight < 0 {
		return &models.ValidationError{Field: "weights", Message: "must not be negative"}
	}
	if strings.TrimSpace(q.Text) == "" && len(q.Embedding) == 0 {
		return &models.ValidationError{Field: "query", Message: "text or embedding is required"}
	}
	return q.Filters.Validate()
}

// SearchHybrid ranks the union of lexical and vector candidates (2k of each) by
// textScore*TextWeight + vectorScore*VectorWeight. Both legs run concurrently. A zero
// TextWeight skips the lexical leg, so the ranking equals SearchSimilar. Results are
// memoized in the cache layer when one is configured.
func (e *Engine) SearchHybrid(ctx context.Context, q HybridQuery) ([]*models.SearchResult, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	if len(q.Embedding) > 0 && len(q.Embedding) != e.index.Dimension() {
		return nil, models.DimensionError(len(q.Embedding), e.index.Dimension())
	}
	if q.K <= 0 {
		return []*models.SearchResult{}, nil
	}

	key := cache.HashKey(q)
	if e.cache != nil {
		var cached []*models.SearchResult
		ok, err := e.cache.Get(ctx, CachePrefix, key, &cached)
		if err != nil {
			e.logger.Warn("search cache read failed", zap.Error(err))
		} else if ok {
			return cached, nil
		}
	}

	queryVec := q.Embedding
	text := strings.TrimSpace(q.Text)
	if len(queryVec) == 0 && e.embedder != nil && q.VectorWeight > 0 {
		v, err := e.embedder.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		queryVec = v
	}

	candidates := q.K * 2
	var vectorHits []*models.SearchResult
	var textHits []*models.Artifact
	g, gctx := errgroup.WithContext(ctx)
	if q.TextWeight > 0 && text != "" {
		g.Go(func() error {
			hits, err := e.store.LexicalSearch(gctx, text, candidates, q.Filters)
			if err != nil {
				e.logger.Warn("lexical search failed, ranking by vector only", zap.Error(err))
				return nil
			}
			textHits = hits
			return nil
		})
	}
	if len(queryVec) > 0 {
		g.Go(func() error {
			hits, err := e.SearchSimilar(gctx, queryVec, candidates, q.Filters)
			if err != nil {
				return err
			}
			vectorHits = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := Fuse(vectorHits, textHits, q.TextWeight, q.VectorWeight)
	if len(results) > q.K {
		results = results[:q.K]
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, CachePrefix, key, results, e.cacheTTL); err != nil {
			e.logger.Warn("search cache write failed", zap.Error(err))
		}
	}
	return results, nil
}

// RecommendSimilar returns up to k artifacts nearest to artifactID, never including
// the artifact itself. With excludeConsumed only unconsumed and reading artifacts are
// returned. An artifact without a usable embedding has no recommendations.
func (e *Engine) RecommendSimilar(ctx context.Context, artifactID string, k int, excludeConsumed bool) ([]*models.SearchResult, error) {
	a, err := e.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if k <= 0 || !a.HasEmbedding() {
		return []*models.SearchResult{}, nil
	}
	if len(a.Embedding) != e.index.Dimension() {
		e.logger.Warn("artifact embedding has wrong dimension",
			zap.String("id", artifactID), zap.Int("dimension", len(a.Embedding)))
		return []*models.SearchResult{}, nil
	}
	var filters *models.Filters
	if excludeConsumed {
		filters = models.UnconsumedOnly()
	}
	hits, err := e.SearchSimilar(ctx, a.Embedding, k+1, filters)
	if err != nil {
		return nil, err
	}
	out := make([]*models.SearchResult, 0, k)
	for _, h := range hits {
		if h.Artifact.ID == artifactID {
			continue
		}
		out = append(out, h)
		if len(out) == k {
			break
		}
	}
	rank(out)
	return out, nil
}

// SimilarToConsumed recommends unconsumed artifacts close to what the user recently
// reviewed: for each of the latest reviewed artifacts it takes the top few close
// matches and keeps the best score per artifact.
func (e *Engine) SimilarToConsumed(ctx context.Context, limit int) ([]*models.Recommendation, error) {
	reviewed, err := e.store.ListByStatus(ctx, models.StatusReviewed, consumedWindow)
	if err != nil {
		return nil, fmt.Errorf("list reviewed: %w: %w", models.ErrStoreUnavailable, err)
	}
	best := make(map[string]*models.Recommendation)
	for _, src := range reviewed {
		hits, err := e.RecommendSimilar(ctx, src.ID, perConsumedRecs, true)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			return nil, err
		}
		for _, h := range hits {
			if h.VectorScore <= minConsumedScore {
				continue
			}
			score := consumedScoreScale * h.VectorScore
			reason := "similar to " + describe(src)
			if cur, ok := best[h.Artifact.ID]; ok {
				cur.Reasons = append(cur.Reasons, reason)
				if score > cur.Score {
					cur.Score = score
				}
				continue
			}
			best[h.Artifact.ID] = &models.Recommendation{Artifact: h.Artifact, Score: score, Reasons: []string{reason}}
		}
	}
	out := make([]*models.Recommendation, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].Artifact.ID < out[j].Artifact.ID
		}
		return out[i].Score > out[j].Score
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func describe(a *models.Artifact) string {
	if a.Title != "" {
		return a.Title
	}
	return a.ID
}

func rank(results []*models.SearchResult) {
	for i, r := range results {
		r.Rank = i + 1
	}
}
