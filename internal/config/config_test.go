package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "/tmp/brain.db"
embedding:
  provider: openai
  base_url: "http://localhost:11434/v1"
  model: nomic-embed-text
  dimensions: 768
index:
  rebuild_threshold: 10
search:
  cache_ttl: 5m
scheduler:
  workers: 2
  backoff_unit: 250ms
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.DatabasePath != "/tmp/brain.db" {
		t.Errorf("database_path = %s", cfg.Storage.DatabasePath)
	}
	if cfg.Embedding.Provider != ProviderOpenAI || cfg.Embedding.Dimensions != 768 || cfg.Embedding.Model != "nomic-embed-text" {
		t.Errorf("unexpected embedding config: %+v", cfg.Embedding)
	}
	if cfg.Index.RebuildThreshold != 10 {
		t.Errorf("rebuild_threshold = %d", cfg.Index.RebuildThreshold)
	}
	if cfg.Search.CacheTTL != 5*time.Minute {
		t.Errorf("cache_ttl = %v", cfg.Search.CacheTTL)
	}
	if cfg.Scheduler.Workers != 2 || cfg.Scheduler.BackoffUnit != 250*time.Millisecond {
		t.Errorf("unexpected scheduler config: %+v", cfg.Scheduler)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_debugTrue(t *testing.T) {
	cfg, err := Load(writeConfig(t, "debug: true\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "./data/db/artifacts.db"
ingest:
  drop_dir: "./drop"
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	wantDB := filepath.Join(dir, "data", "db", "artifacts.db")
	if cfg.Storage.DatabasePath != wantDB {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, wantDB)
	}
	if want := filepath.Join(dir, "drop"); cfg.Ingest.DropDir != want {
		t.Errorf("drop_dir = %s, want %s", cfg.Ingest.DropDir, want)
	}
}

func TestLoad_invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown provider", "embedding:\n  provider: onnx\n"},
		{"negative dimensions", "embedding:\n  dimensions: -1\n"},
		{"negative weight", "search:\n  text_weight: -0.5\n"},
		{"bad yaml", "storage: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Embedding.Provider != ProviderMock {
		t.Errorf("default provider: got %s", cfg.Embedding.Provider)
	}
	if cfg.Embedding.Dimensions != 384 {
		t.Errorf("default dimensions: got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Index.RebuildThreshold != 50 {
		t.Errorf("default rebuild threshold: got %d", cfg.Index.RebuildThreshold)
	}
	if cfg.Search.CacheTTL != 30*time.Minute {
		t.Errorf("default cache ttl: got %v", cfg.Search.CacheTTL)
	}
	if cfg.Search.TextWeight != 0.3 || cfg.Search.VectorWeight != 0.7 {
		t.Errorf("default weights: got text=%v vector=%v", cfg.Search.TextWeight, cfg.Search.VectorWeight)
	}
	if cfg.Scheduler.Workers != 3 || cfg.Scheduler.PollInterval != time.Second || cfg.Scheduler.PeriodicInterval != 5*time.Minute {
		t.Errorf("default scheduler: got %+v", cfg.Scheduler)
	}
	if len(cfg.Ingest.Extensions) != 3 || cfg.Ingest.Extensions[0] != ".txt" {
		t.Errorf("ingest extensions: got %v", cfg.Ingest.Extensions)
	}
}

func TestApplyDefaults_keepsTextOnlyWeights(t *testing.T) {
	cfg := &Config{Search: SearchConfig{TextWeight: 1}}
	ApplyDefaults(cfg)
	if cfg.Search.TextWeight != 1 || cfg.Search.VectorWeight != 0 {
		t.Errorf("explicit weights overwritten: %+v", cfg.Search)
	}
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := &Config{
		Storage:   StorageConfig{DatabasePath: "/tmp/db"},
		Scheduler: SchedulerConfig{Workers: 7, StopTimeout: 10 * time.Second},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Scheduler.Workers != 7 || loaded.Scheduler.StopTimeout != 10*time.Second {
		t.Errorf("loaded scheduler: got %+v", loaded.Scheduler)
	}
	if loaded.Storage.DatabasePath != "/tmp/db" {
		t.Errorf("loaded database_path: got %s", loaded.Storage.DatabasePath)
	}
}
