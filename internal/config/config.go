// Package config provides configuration loading and structs for the originbrain daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Cache     CacheConfig     `yaml:"cache"`
	Ingest    IngestConfig    `yaml:"ingest"`
}

// StorageConfig holds paths for the artifact database and the keyword index.
type StorageConfig struct {
	DatabasePath     string `yaml:"database_path"`
	KeywordIndexPath string `yaml:"keyword_index_path"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is "mock" (deterministic, offline) or "openai" (any OpenAI-compatible endpoint).
	Provider   string `yaml:"provider"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	CacheSize  int    `yaml:"cache_size"`
}

// APIKey returns the provider token from OPENAI_API_KEY. It is never stored in the file.
func (e *EmbeddingConfig) APIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

// IndexConfig holds vector index settings.
type IndexConfig struct {
	RebuildThreshold int    `yaml:"rebuild_threshold"`
	Path             string `yaml:"path"`
}

// SearchConfig holds search engine settings.
type SearchConfig struct {
	FallbackWindow int           `yaml:"fallback_window"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	TextWeight     float64       `yaml:"text_weight"`
	VectorWeight   float64       `yaml:"vector_weight"`
}

// SchedulerConfig holds job scheduler settings.
type SchedulerConfig struct {
	Workers          int           `yaml:"workers"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	BackoffUnit      time.Duration `yaml:"backoff_unit"`
	Retention        time.Duration `yaml:"retention"`
	StopTimeout      time.Duration `yaml:"stop_timeout"`
	PeriodicInterval time.Duration `yaml:"periodic_interval"`
	PoolSize         int           `yaml:"pool_size"`
}

// CacheConfig holds the cache layer settings. An empty Dir keeps the cache in memory.
type CacheConfig struct {
	Dir string `yaml:"dir"`
}

// IngestConfig holds drop-folder settings.
type IngestConfig struct {
	DropDir    string        `yaml:"drop_dir"`
	Extensions []string      `yaml:"extensions"`
	Debounce   time.Duration `yaml:"debounce"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	cfg.Index.Path = expandPath(cfg.Index.Path, configDir)
	cfg.Cache.Dir = expandPath(cfg.Cache.Dir, configDir)
	cfg.Ingest.DropDir = expandPath(cfg.Ingest.DropDir, configDir)

	return &cfg, nil
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case ProviderMock, ProviderOpenAI:
	default:
		return fmt.Errorf("invalid config: unknown embedding provider %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("invalid config: embedding dimensions must be positive")
	}
	if c.Search.TextWeight < 0 || c.Search.VectorWeight < 0 {
		return fmt.Errorf("invalid config: search weights must not be negative")
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
