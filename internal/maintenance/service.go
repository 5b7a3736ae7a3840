// Package maintenance holds the background jobs that keep artifacts analyzed, the vector
// index fresh and the cache warm.
package maintenance

import (
	"context"
	"fmt"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/originbrain/internal/cache"
	"github.com/hyperjump/originbrain/internal/models"
	"github.com/hyperjump/originbrain/internal/scheduler"
	"github.com/hyperjump/originbrain/internal/storage"
)

const defaultPoolSize = 4

// Indexer is the part of the vector index the maintenance jobs drive.
type Indexer interface {
	Rebuild(ctx context.Context, force bool) (*models.RebuildReport, error)
	Save(path string) error
}

// Recommender is the part of the search engine the maintenance jobs use.
type Recommender interface {
	RecommendSimilar(ctx context.Context, artifactID string, k int, excludeConsumed bool) ([]*models.SearchResult, error)
	SimilarToConsumed(ctx context.Context, limit int) ([]*models.Recommendation, error)
}

// Submitter accepts ad-hoc jobs. *scheduler.Scheduler satisfies it.
type Submitter interface {
	Submit(name string, fn scheduler.Func, opts ...scheduler.SubmitOption) string
}

// Service runs maintenance job bodies against the store, index, engine and cache.
type Service struct {
	store     storage.ArtifactStore
	index     Indexer
	engine    Recommender
	cache     cache.Layer
	submitter Submitter
	pool      *ants.Pool
	logger    *zap.Logger

	indexPath      string
	footprintPaths map[string]string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithIndexPath makes RebuildIndex persist every new generation to path.
func WithIndexPath(path string) Option {
	return func(s *Service) { s.indexPath = path }
}

// WithFootprintPaths names the on-disk locations reported by GenerateInsights.
func WithFootprintPaths(paths map[string]string) Option {
	return func(s *Service) { s.footprintPaths = paths }
}

// WithSubmitter sets where ad-hoc jobs are queued.
func WithSubmitter(sub Submitter) Option {
	return func(s *Service) { s.submitter = sub }
}

// NewService creates a maintenance service backed by a worker pool of poolSize
// goroutines (defaultPoolSize if poolSize <= 0).
func NewService(store storage.ArtifactStore, index Indexer, engine Recommender, c cache.Layer, poolSize int, opts ...Option) (*Service, error) {
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	s := &Service{
		store:  store,
		index:  index,
		engine: engine,
		cache:  c,
		pool:   pool,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the worker pool.
func (s *Service) Close() {
	s.pool.Release()
}

// PeriodicJobs returns the fixed set of jobs re-submitted on every periodic tick.
func (s *Service) PeriodicJobs() []scheduler.PeriodicJob {
	return []scheduler.PeriodicJob{
		{Name: "process_consumption_queue", Priority: 1, MaxRetries: 3, Fn: s.ProcessConsumptionQueue},
		{Name: "rebuild_index", Priority: 2, MaxRetries: 3, Fn: s.RebuildIndex},
		{Name: "refresh_recommendations", Priority: 3, MaxRetries: 2, Fn: s.RefreshRecommendations},
		{Name: "generate_insights", Priority: 5, MaxRetries: 1, Fn: s.GenerateInsights},
		{Name: "warm_cache", Priority: 8, MaxRetries: 1, Fn: s.WarmCache},
	}
}

// ScheduleArtifactAnalysis queues analysis of one artifact and returns the job id.
func (s *Service) ScheduleArtifactAnalysis(id string) (string, error) {
	if s.submitter == nil {
		return "", fmt.Errorf("schedule analysis for %s: no scheduler", id)
	}
	return s.submitter.Submit("analyze_artifact", func(ctx context.Context) error {
		return s.AnalyzeArtifact(ctx, id)
	}, scheduler.WithPriority(3)), nil
}

// ScheduleRelationshipUpdate queues a relationship refresh for one artifact.
func (s *Service) ScheduleRelationshipUpdate(id string) (string, error) {
	if s.submitter == nil {
		return "", fmt.Errorf("schedule relationships for %s: no scheduler", id)
	}
	return s.submitter.Submit("update_relationships", func(ctx context.Context) error {
		return s.UpdateRelationships(ctx, id)
	}, scheduler.WithPriority(4)), nil
}
