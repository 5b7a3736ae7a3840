// Package vector provides the in-memory nearest-neighbor index over artifact embeddings.
//
// The index is rebuilt wholesale from the artifact store and published as an immutable
// generation through an atomic pointer, so queries never block on a rebuild and never
// observe a partially built index.
package vector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperjump/originbrain/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// IndexType identifies the exact flat Euclidean index.
	IndexType = "flat-l2"
	// DefaultRebuildThreshold is the number of new artifacts needed before a
	// non-forced rebuild does any work.
	DefaultRebuildThreshold = 50
)

// Source is the slice of the artifact store the index reads from.
type Source interface {
	// ListArtifactsWithEmbeddings returns artifacts that have an embedding; limit <= 0 means all.
	ListArtifactsWithEmbeddings(ctx context.Context, limit int) ([]*models.Artifact, error)
	// CountEmbeddedAfter returns how many embedded artifacts carry an EmbeddedSeq
	// greater than seq.
	CountEmbeddedAfter(ctx context.Context, seq int64) (int, error)
}

// Index is a rebuildable nearest-neighbor index. Safe for concurrent use.
type Index struct {
	source    Source
	dimension int
	threshold int
	logger    *zap.Logger

	current atomic.Pointer[generation]
	buildMu sync.Mutex
	group   singleflight.Group
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets a logger for rebuild events.
func WithLogger(l *zap.Logger) Option {
	return func(x *Index) { x.logger = l }
}

// WithRebuildThreshold overrides DefaultRebuildThreshold.
func WithRebuildThreshold(n int) Option {
	return func(x *Index) {
		if n >= 0 {
			x.threshold = n
		}
	}
}

// NewIndex creates an empty index of the given dimension over source.
func NewIndex(source Source, dimension int, opts ...Option) (*Index, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if source == nil {
		return nil, fmt.Errorf("artifact source is required")
	}
	x := &Index{
		source:    source,
		dimension: dimension,
		threshold: DefaultRebuildThreshold,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x, nil
}

// Rebuild reconstructs the index from the store. Without force, the rebuild is skipped
// while fewer than the threshold of artifacts were added since the current generation.
// Concurrent callers with the same force flag share one in-flight rebuild and its report;
// the shared rebuild ignores the cancellation of whichever caller started it.
// On error the previous generation keeps serving.
func (x *Index) Rebuild(ctx context.Context, force bool) (*models.RebuildReport, error) {
	key := "incremental"
	if force {
		key = "force"
	}
	shareCtx := context.WithoutCancel(ctx)
	ch := x.group.DoChan(key, func() (interface{}, error) {
		return x.rebuild(shareCtx, force)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	v, err, shared := res.Val, res.Err, res.Shared
	if err != nil {
		return nil, err
	}
	if shared {
		x.logger.Debug("rebuild request joined in-flight rebuild", zap.Bool("force", force))
	}
	report := *v.(*models.RebuildReport)
	return &report, nil
}

func (x *Index) rebuild(ctx context.Context, force bool) (*models.RebuildReport, error) {
	x.buildMu.Lock()
	defer x.buildMu.Unlock()

	started := time.Now()
	prev := x.current.Load()
	newCount := 0
	if prev != nil {
		n, err := x.source.CountEmbeddedAfter(ctx, prev.watermark)
		if err != nil {
			x.logger.Warn("rebuild: counting new artifacts failed", zap.Error(err))
			return nil, fmt.Errorf("count new artifacts: %w: %w", models.ErrStoreUnavailable, err)
		}
		newCount = n
		if !force && n < x.threshold {
			x.logger.Debug("rebuild skipped", zap.Int("new_artifacts", n), zap.Int("threshold", x.threshold))
			return &models.RebuildReport{
				Skipped:      true,
				NewArtifacts: n,
				Indexed:      prev.size(),
				Generation:   prev.number,
				BuiltAt:      prev.builtAt,
			}, nil
		}
	}

	listedAt := time.Now()
	artifacts, err := x.source.ListArtifactsWithEmbeddings(ctx, 0)
	if err != nil {
		x.logger.Warn("rebuild: listing artifacts failed", zap.Error(err))
		return nil, fmt.Errorf("list artifacts: %w: %w", models.ErrStoreUnavailable, err)
	}

	var number uint64 = 1
	if prev != nil {
		number = prev.number + 1
	} else {
		newCount = len(artifacts)
	}
	gen := &generation{
		number:    number,
		dimension: x.dimension,
		builtAt:   listedAt,
		ids:       make([]string, 0, len(artifacts)),
		vectors:   make([][]float32, 0, len(artifacts)),
	}
	dropped := 0
	for _, a := range artifacts {
		// Embeddings committed after the listing have a higher sequence than any listed
		// one, so the next CountEmbeddedAfter(watermark) sees exactly those.
		if a.EmbeddedSeq > gen.watermark {
			gen.watermark = a.EmbeddedSeq
		}
		if len(a.Embedding) != x.dimension {
			dropped++
			continue
		}
		vec := make([]float32, x.dimension)
		copy(vec, a.Embedding)
		gen.ids = append(gen.ids, a.ID)
		gen.vectors = append(gen.vectors, vec)
	}
	x.current.Store(gen)

	if dropped > 0 {
		x.logger.Warn("rebuild dropped vectors with wrong dimension",
			zap.Int("dropped", dropped), zap.Int("dimension", x.dimension))
	}
	x.logger.Info("vector index rebuilt",
		zap.Uint64("generation", gen.number),
		zap.Int("indexed", gen.size()),
		zap.Duration("took", time.Since(started)),
	)
	return &models.RebuildReport{
		Rebuilt:      true,
		NewArtifacts: newCount,
		Indexed:      gen.size(),
		Dropped:      dropped,
		Generation:   gen.number,
		BuiltAt:      gen.builtAt,
		Duration:     time.Since(started).Milliseconds(),
	}, nil
}

// Search returns up to k nearest neighbors of query by ascending Euclidean distance.
// A query of the wrong dimension is a ValidationError. An empty index returns no
// results and no error; callers use Size to decide on a fallback.
func (x *Index) Search(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	if len(query) != x.dimension {
		return nil, models.DimensionError(len(query), x.dimension)
	}
	gen := x.current.Load()
	if gen == nil || k <= 0 {
		return nil, nil
	}
	return gen.search(query, k), nil
}

// Size returns the number of vectors in the current generation.
func (x *Index) Size() int {
	return x.current.Load().size()
}

// Dimension returns the configured embedding dimension.
func (x *Index) Dimension() int {
	return x.dimension
}

// IDs returns a copy of the position→id mapping of the current generation.
func (x *Index) IDs() []string {
	gen := x.current.Load()
	if gen == nil {
		return nil
	}
	out := make([]string, len(gen.ids))
	copy(out, gen.ids)
	return out
}

// Stats describes the current generation.
func (x *Index) Stats() models.IndexStats {
	stats := models.IndexStats{Dimension: x.dimension, Type: IndexType}
	if gen := x.current.Load(); gen != nil {
		stats.Size = gen.size()
		stats.Generation = gen.number
		stats.BuiltAt = gen.builtAt
	}
	return stats
}
