// Package main is the originbrain daemon and CLI entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/originbrain/internal/cli"
	"github.com/hyperjump/originbrain/internal/config"
	"github.com/hyperjump/originbrain/internal/ingest"
	"github.com/hyperjump/originbrain/internal/maintenance"
	"github.com/hyperjump/originbrain/internal/models"
	"github.com/hyperjump/originbrain/internal/search"
	"github.com/hyperjump/originbrain/internal/storage"
	"github.com/hyperjump/originbrain/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/originbrain/config.yaml"

// loadConfig loads config from path. When path is the default and it does not exist,
// config.yaml in the current directory is tried, then built-in defaults.
// Returns the config and the path that was actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); err != nil {
			if cwd, cwdErr := os.Getwd(); cwdErr == nil {
				fallback := filepath.Join(cwd, "config.yaml")
				if _, statErr := os.Stat(fallback); statErr == nil {
					cfg, loadErr := config.Load(fallback)
					if loadErr != nil {
						return nil, "", loadErr
					}
					return cfg, fallback, nil
				}
			}
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "run":
		runDaemon()
	case "search":
		runSearch()
	case "similar":
		runSimilar()
	case "recommend":
		runRecommend()
	case "add":
		runAdd()
	case "rebuild":
		runRebuild()
	case "export":
		runExport()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("originbrain version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config, builds the logger and initializes components for a command.
func setup(configPath string, debug bool) (*Components, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return components, logger
}

func runDaemon() {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (job transitions, drop events, etc.)")
	_ = fs.Parse(os.Args[2:])

	components, logger := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()
	cfg := components.Config

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := components.Scheduler.Start(cfg.Scheduler.Workers); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	watch := ingest.NewWatcher(
		cfg.Ingest.DropDir,
		cfg.Ingest.Extensions,
		components.Ingestor.Handler(ctx),
		ingest.WithWatcherLogger(logger),
		ingest.WithDebounce(cfg.Ingest.Debounce),
	)
	if err := watch.Start(ctx); err != nil {
		logger.Fatal("Failed to start drop watcher", zap.Error(err))
	}
	go watch.SyncExistingFiles()

	logger.Info("originbrain running",
		zap.String("drop_dir", watch.Dir()),
		zap.Int("workers", cfg.Scheduler.Workers),
		zap.Duration("periodic_interval", cfg.Scheduler.PeriodicInterval))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watch.Stop()
	cancel()
	if err := components.Scheduler.Stop(); err != nil {
		logger.Warn("scheduler stop", zap.Error(err))
	}
	if cfg.Index.Path != "" {
		if err := components.VectorIndex.Save(cfg.Index.Path); err != nil {
			logger.Warn("vector index save failed", zap.String("path", cfg.Index.Path), zap.Error(err))
		}
	}
	if err := components.Cache.RunGC(); err != nil {
		logger.Debug("cache gc", zap.Error(err))
	}
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// parseStatuses turns a comma-separated status list into filters; "" means no filter.
func parseStatuses(raw string) ([]models.ConsumptionStatus, error) {
	var out []models.ConsumptionStatus
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		s, err := models.ParseConsumptionStatus(part)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func parseFormat(raw string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(raw)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return format
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	k := fs.Int("k", 10, "number of results")
	textWeight := fs.Float64("text-weight", -1, "lexical weight (default from config)")
	vectorWeight := fs.Float64("vector-weight", -1, "vector weight (default from config)")
	statuses := fs.String("status", "", "comma-separated consumption statuses to keep")
	minImportance := fs.Float64("min-importance", -1, "minimum importance score in [0,1]")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	query := buildSearchQuery(fs.Args())
	if query == "" {
		fmt.Fprintln(os.Stderr, "Usage: originbrain search [flags] <query>")
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)
	filters := &models.Filters{}
	var err error
	if filters.Statuses, err = parseStatuses(*statuses); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *minImportance >= 0 {
		filters.MinImportance = minImportance
	}

	components, logger := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	q := search.HybridQuery{
		Text:         query,
		K:            *k,
		TextWeight:   components.Config.Search.TextWeight,
		VectorWeight: components.Config.Search.VectorWeight,
		Filters:      filters,
	}
	if *textWeight >= 0 {
		q.TextWeight = *textWeight
	}
	if *vectorWeight >= 0 {
		q.VectorWeight = *vectorWeight
	}

	start := time.Now()
	results, err := components.Engine.SearchHybrid(context.Background(), q)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	out := &cli.SearchOutput{Query: query, QueryTime: time.Since(start).Milliseconds(), Results: results}
	if err := cli.WriteSearchResults(os.Stdout, out, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runSimilar() {
	fs := flag.NewFlagSet("similar", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	k := fs.Int("k", 5, "number of results")
	unconsumed := fs.Bool("unconsumed", false, "only return unconsumed or reading artifacts")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: originbrain similar [flags] <artifact-id>")
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)
	components, logger := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	start := time.Now()
	results, err := components.Engine.RecommendSimilar(context.Background(), fs.Arg(0), *k, *unconsumed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Similar failed: %v\n", err)
		os.Exit(1)
	}
	out := &cli.SearchOutput{Query: fs.Arg(0), QueryTime: time.Since(start).Milliseconds(), Results: results}
	if err := cli.WriteSearchResults(os.Stdout, out, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runRecommend() {
	fs := flag.NewFlagSet("recommend", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	limit := fs.Int("limit", 20, "maximum recommendations")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(os.Args[2:])

	format := parseFormat(*outputFormat)
	components, logger := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	recs, err := components.Engine.SimilarToConsumed(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Recommend failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteRecommendations(os.Stdout, recs, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// runAdd ingests files directly. Analysis and relationships are picked up by the
// daemon's consumption queue.
func runAdd() {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	keep := fs.Bool("keep", true, "keep the source file (copy before ingesting)")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: originbrain add [flags] <file>...")
		os.Exit(1)
	}
	components, logger := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	// Without followups: no scheduler runs in this process.
	in := ingest.NewIngestor(components.Store, components.Embedder, ingest.WithLogger(logger))
	failed := false
	for _, path := range fs.Args() {
		src := path
		if *keep {
			tmp, err := copyToTemp(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
				failed = true
				continue
			}
			src = tmp
		}
		a, err := in.IngestFile(context.Background(), src)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed = true
			continue
		}
		fmt.Printf("Artifact stored: %s (%s) %s\n", a.ID, a.Kind, utils.Truncate(a.Title, 60))
	}
	if failed {
		os.Exit(1)
	}
}

// copyToTemp copies path into a fixed staging dir under the same base name, so adding
// the same file twice yields the same drop ID.
func copyToTemp(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(os.TempDir(), "originbrain-add")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, filepath.Base(path))
	if err := os.WriteFile(dst, data, 0600); err != nil {
		return "", err
	}
	return dst, nil
}

func runRebuild() {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	force := fs.Bool("force", true, "rebuild even below the new-artifact threshold")
	_ = fs.Parse(os.Args[2:])

	components, logger := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	report, err := components.VectorIndex.Rebuild(context.Background(), *force)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Rebuild failed: %v\n", err)
		os.Exit(1)
	}
	if report.Rebuilt && components.Config.Index.Path != "" {
		if err := components.VectorIndex.Save(components.Config.Index.Path); err != nil {
			fmt.Fprintf(os.Stderr, "Save failed: %v\n", err)
			os.Exit(1)
		}
		if _, err := components.Cache.InvalidatePrefix(context.Background(), search.CachePrefix); err != nil {
			logger.Warn("invalidate search cache failed", zap.Error(err))
		}
	}
	_ = cli.WriteJSON(os.Stdout, report)
}

func runExport() {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	format := fs.String("format", maintenance.ExportJSON, "export format: json or markdown")
	statuses := fs.String("status", "", "comma-separated consumption statuses to keep")
	_ = fs.Parse(os.Args[2:])

	filters := &models.Filters{}
	var err error
	if filters.Statuses, err = parseStatuses(*statuses); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	components, logger := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()
	ctx := context.Background()

	id := uuid.NewString()
	if err := components.Maintenance.RunExport(ctx, id, *format, filters); err != nil {
		fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
		os.Exit(1)
	}
	var out maintenance.Export
	if ok, err := components.Cache.Get(ctx, maintenance.PrefixExport, id, &out); err != nil || !ok {
		fmt.Fprintf(os.Stderr, "Export failed: result not cached (%v)\n", err)
		os.Exit(1)
	}
	fmt.Println(out.Content)
}

// statusResponse is the shape of the status command's JSON output.
type statusResponse struct {
	Artifacts      int64                            `json:"artifacts"`
	AddedLastWeek  int                              `json:"added_last_week"`
	StatusCounts   map[models.ConsumptionStatus]int `json:"status_counts"`
	Index          models.IndexStats                `json:"index"`
	DiskUsageBytes map[string]int64                 `json:"disk_usage_bytes,omitempty"`
	DiskTotalBytes int64                            `json:"disk_total_bytes"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format := parseFormat(*outputFormat)
	components, logger := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()
	ctx := context.Background()

	var st statusResponse
	var err error
	if st.Artifacts, err = components.Store.CountArtifacts(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	if st.AddedLastWeek, err = components.Store.CountSince(ctx, time.Now().AddDate(0, 0, -7)); err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	if st.StatusCounts, err = components.Store.StatusCounts(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	st.Index = components.VectorIndex.Stats()
	if usage, total, err := storage.Footprint(footprintPaths(components.Config)); err == nil {
		st.DiskUsageBytes, st.DiskTotalBytes = usage, total
	} else {
		logger.Warn("disk usage unavailable", zap.Error(err))
	}

	if format == cli.OutputJSON {
		_ = cli.WriteJSON(os.Stdout, st)
		return
	}
	fmt.Printf("Artifacts:        %d (%d in the last 7 days)\n", st.Artifacts, st.AddedLastWeek)
	for _, s := range models.ConsumptionStatuses {
		fmt.Printf("  %-14s  %d\n", s, st.StatusCounts[s])
	}
	fmt.Printf("Vector index:     %d vectors, dim %d, generation %d (%s)\n",
		st.Index.Size, st.Index.Dimension, st.Index.Generation, st.Index.Type)
	if !st.Index.BuiltAt.IsZero() {
		fmt.Printf("  built at        %s\n", st.Index.BuiltAt.Format(time.RFC3339))
	}
	fmt.Printf("Disk usage:       %s\n", formatBytes(st.DiskTotalBytes))
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func printUsage() {
	fmt.Println(`originbrain - personal knowledge store with vector search and background curation

Usage:
  originbrain run [flags]                 Run the daemon (scheduler + drop-folder ingest)
  originbrain search [flags] <query>      Hybrid text + vector search
  originbrain similar [flags] <id>        Artifacts similar to one artifact
  originbrain recommend [flags]           Recommendations from reviewed artifacts
  originbrain add [flags] <file>...       Store files as artifacts
  originbrain rebuild [flags]             Rebuild and persist the vector index
  originbrain export [flags]              Print all artifacts as json or markdown
  originbrain status [flags]              Show store and index status
  originbrain version                     Show version
  originbrain help                        Show this help

Commands other than run open the stores directly; stop the daemon first.

Common Flags:
  --config string    Config file path (default: /usr/local/etc/originbrain/config.yaml)
  --output string    Output format: text, compact, or json (default: text)

Search Flags:
  --k int                 Number of results (default: 10)
  --text-weight float     Lexical weight (default from config)
  --vector-weight float   Vector weight (default from config)
  --status string         Comma-separated statuses, e.g. unconsumed,reading
  --min-importance float  Minimum importance score

Examples:
  originbrain run --debug
  originbrain search "vector databases"
  originbrain search --text-weight 0 --k 5 rust async
  originbrain similar 3f2a9c1e-...
  originbrain add notes.md
  originbrain status --output json`)
}
