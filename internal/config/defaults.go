package config

import "time"

// Embedding providers.
const (
	ProviderMock   = "mock"
	ProviderOpenAI = "openai"
)

const defaultDataDir = "/usr/local/var/originbrain/data"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = defaultDataDir + "/db/artifacts.db"
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = defaultDataDir + "/indices/bleve"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderMock
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Index.RebuildThreshold == 0 {
		cfg.Index.RebuildThreshold = 50
	}
	if cfg.Index.Path == "" {
		cfg.Index.Path = defaultDataDir + "/indices/vectors.bin"
	}
	if cfg.Search.FallbackWindow == 0 {
		cfg.Search.FallbackWindow = 1000
	}
	if cfg.Search.CacheTTL == 0 {
		cfg.Search.CacheTTL = 30 * time.Minute
	}
	if cfg.Search.TextWeight == 0 && cfg.Search.VectorWeight == 0 {
		cfg.Search.TextWeight = 0.3
		cfg.Search.VectorWeight = 0.7
	}
	if cfg.Scheduler.Workers == 0 {
		cfg.Scheduler.Workers = 3
	}
	if cfg.Scheduler.PollInterval == 0 {
		cfg.Scheduler.PollInterval = time.Second
	}
	if cfg.Scheduler.BackoffUnit == 0 {
		cfg.Scheduler.BackoffUnit = time.Second
	}
	if cfg.Scheduler.Retention == 0 {
		cfg.Scheduler.Retention = time.Hour
	}
	if cfg.Scheduler.StopTimeout == 0 {
		cfg.Scheduler.StopTimeout = 30 * time.Second
	}
	if cfg.Scheduler.PeriodicInterval == 0 {
		cfg.Scheduler.PeriodicInterval = 5 * time.Minute
	}
	if cfg.Scheduler.PoolSize == 0 {
		cfg.Scheduler.PoolSize = 4
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = defaultDataDir + "/cache"
	}
	if cfg.Ingest.DropDir == "" {
		cfg.Ingest.DropDir = defaultDataDir + "/drop"
	}
	if cfg.Ingest.Extensions == nil {
		cfg.Ingest.Extensions = []string{".txt", ".md", ".url"}
	}
	if cfg.Ingest.Debounce == 0 {
		cfg.Ingest.Debounce = 400 * time.Millisecond
	}
}
