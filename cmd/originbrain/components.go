package main

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/originbrain/internal/cache"
	"github.com/hyperjump/originbrain/internal/config"
	"github.com/hyperjump/originbrain/internal/embedding"
	"github.com/hyperjump/originbrain/internal/ingest"
	"github.com/hyperjump/originbrain/internal/keyword"
	"github.com/hyperjump/originbrain/internal/maintenance"
	"github.com/hyperjump/originbrain/internal/scheduler"
	"github.com/hyperjump/originbrain/internal/search"
	"github.com/hyperjump/originbrain/internal/storage"
	"github.com/hyperjump/originbrain/internal/vector"
)

// Components holds initialized services.
type Components struct {
	Config      *config.Config
	Store       *storage.SQLiteStore
	Embedder    embedding.Embedder
	VectorIndex *vector.Index
	Cache       *cache.BadgerCache
	Engine      *search.Engine
	Scheduler   *scheduler.Scheduler
	Maintenance *maintenance.Service
	Ingestor    *ingest.Ingestor
}

// Close releases everything in reverse dependency order.
func (c *Components) Close() {
	if c.Maintenance != nil {
		c.Maintenance.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Cache != nil {
		_ = c.Cache.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

// footprintPaths names the on-disk stores reported by status and insights.
func footprintPaths(cfg *config.Config) map[string]string {
	paths := map[string]string{
		"database":      cfg.Storage.DatabasePath,
		"keyword_index": cfg.Storage.KeywordIndexPath,
		"vector_index":  cfg.Index.Path,
	}
	if cfg.Cache.Dir != "" {
		paths["cache"] = cfg.Cache.Dir
	}
	return paths
}

func newEmbedder(cfg *config.Config, logger *zap.Logger) (embedding.Embedder, error) {
	var inner embedding.Embedder
	switch cfg.Embedding.Provider {
	case config.ProviderOpenAI:
		e, err := embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			BaseURL:    cfg.Embedding.BaseURL,
			Token:      cfg.Embedding.APIKey(),
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
		}, logger)
		if err != nil {
			return nil, err
		}
		inner = e
	default:
		inner = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	}
	return embedding.NewCachedEmbedder(inner, cfg.Embedding.CacheSize), nil
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{Config: cfg}

	keywordIndex, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	c.Store, err = storage.NewSQLiteStore(cfg.Storage.DatabasePath, keywordIndex, storage.WithLogger(logger))
	if err != nil {
		_ = keywordIndex.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	c.Embedder, err = newEmbedder(cfg, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	c.VectorIndex, err = vector.NewIndex(c.Store, cfg.Embedding.Dimensions,
		vector.WithLogger(logger),
		vector.WithRebuildThreshold(cfg.Index.RebuildThreshold))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	if cfg.Index.Path != "" {
		if err := c.VectorIndex.Load(cfg.Index.Path); err != nil {
			logger.Warn("vector index load skipped (next rebuild is full)",
				zap.String("path", cfg.Index.Path), zap.Error(err))
		}
	}

	c.Cache, err = cache.OpenBadger(cfg.Cache.Dir, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	c.Engine = search.NewEngine(c.Store, c.VectorIndex,
		search.WithCache(c.Cache),
		search.WithCacheTTL(cfg.Search.CacheTTL),
		search.WithEmbedder(c.Embedder),
		search.WithFallbackWindow(cfg.Search.FallbackWindow),
		search.WithLogger(logger))

	sc := cfg.Scheduler
	c.Scheduler = scheduler.New(
		scheduler.WithLogger(logger),
		scheduler.WithPollInterval(sc.PollInterval),
		scheduler.WithBackoffUnit(sc.BackoffUnit),
		scheduler.WithRetention(sc.Retention),
		scheduler.WithStopTimeout(sc.StopTimeout),
		scheduler.WithPeriodic(sc.PeriodicInterval),
		scheduler.WithObserver(func(s scheduler.Snapshot) {
			logger.Debug("job transition",
				zap.String("job", s.Name),
				zap.String("id", s.ID),
				zap.String("status", string(s.Status)),
				zap.Int("retry", s.RetryCount))
		}),
	)

	c.Maintenance, err = maintenance.NewService(c.Store, c.VectorIndex, c.Engine, c.Cache, sc.PoolSize,
		maintenance.WithLogger(logger),
		maintenance.WithSubmitter(c.Scheduler),
		maintenance.WithIndexPath(cfg.Index.Path),
		maintenance.WithFootprintPaths(footprintPaths(cfg)))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize maintenance: %w", err)
	}
	if err := c.Scheduler.AddPeriodic(c.Maintenance.PeriodicJobs()...); err != nil {
		c.Close()
		return nil, err
	}

	c.Ingestor = ingest.NewIngestor(c.Store, c.Embedder,
		ingest.WithLogger(logger),
		ingest.WithFollowups(c.Maintenance))

	logger.Info("components initialized",
		zap.String("database", filepath.Clean(cfg.Storage.DatabasePath)),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
		zap.Int("indexed_vectors", c.VectorIndex.Size()))
	return c, nil
}
