package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/originbrain/internal/models"
	"github.com/hyperjump/originbrain/internal/storage"
	"github.com/hyperjump/originbrain/pkg/utils"
)

const (
	queueBatch          = 50
	warmBatch           = 50
	recommendationLimit = 20
	relationshipK       = 5
	relationshipMin     = 0.5
	topTagCount         = 10

	recommendationsTTL = time.Hour
	insightsTTL        = 2 * time.Hour
	artifactTTL        = 2 * time.Hour

	// RelationshipSimilar is the relationship kind written by UpdateRelationships.
	RelationshipSimilar = "similar"
)

// Cache prefixes written or invalidated by maintenance jobs.
const (
	PrefixQueue           = "queue"
	PrefixSearch          = "search"
	PrefixRecommendations = "recommendations"
	PrefixInsights        = "insights"
	PrefixArtifact        = "artifact"
)

// Insights is the daily summary cached by GenerateInsights.
type Insights struct {
	GeneratedAt   time.Time                        `json:"generated_at"`
	Total         int64                            `json:"total"`
	AddedLastWeek int                              `json:"added_last_week"`
	StatusCounts  map[models.ConsumptionStatus]int `json:"status_counts"`
	TopTags       []TagCount                       `json:"top_tags"`
	DiskUsage     map[string]int64                 `json:"disk_usage,omitempty"`
	DiskTotal     int64                            `json:"disk_total"`
}

// TagCount is one entry of the top tags list.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// AnalyzeArtifact computes content statistics for one artifact and stores them with
// its importance score. A deleted artifact is not an error.
func (s *Service) AnalyzeArtifact(ctx context.Context, id string) error {
	a, err := s.store.GetArtifact(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		s.logger.Debug("artifact gone before analysis", zap.String("id", id))
		return nil
	}
	if err != nil {
		return fmt.Errorf("get artifact %s: %w", id, err)
	}
	res := Analyze(a)
	if err := s.store.UpdateAnalysis(ctx, id, res.Importance, res.Metadata()); err != nil {
		return fmt.Errorf("store analysis for %s: %w", id, err)
	}
	s.logger.Debug("artifact analyzed",
		zap.String("id", id),
		zap.String("title", utils.Truncate(a.Title, 60)),
		zap.Int("words", res.WordCount),
		zap.Float64("importance", res.Importance))
	return nil
}

// ProcessConsumptionQueue analyzes and marks processed the oldest unprocessed
// artifacts. Artifacts that fail stay unprocessed for the next run.
func (s *Service) ProcessConsumptionQueue(ctx context.Context) error {
	pending, err := s.store.ListUnprocessed(ctx, queueBatch)
	if err != nil {
		return fmt.Errorf("list unprocessed: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	var failed int
	var mu sync.Mutex
	s.runPooled(len(pending), func(i int) {
		id := pending[i].ID
		err := s.AnalyzeArtifact(ctx, id)
		if err == nil {
			err = s.store.MarkProcessed(ctx, id)
		}
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			s.logger.Warn("process artifact failed", zap.String("id", id), zap.Error(err))
			mu.Lock()
			failed++
			mu.Unlock()
		}
	})

	if _, err := s.cache.InvalidatePrefix(ctx, PrefixQueue); err != nil {
		s.logger.Warn("invalidate queue cache failed", zap.Error(err))
	}
	s.logger.Info("consumption queue processed",
		zap.Int("artifacts", len(pending)), zap.Int("failed", failed))
	if failed > 0 {
		return fmt.Errorf("process consumption queue: %d of %d artifacts failed", failed, len(pending))
	}
	return nil
}

// RebuildIndex runs a non-forced incremental rebuild. When a new generation is
// swapped in, cached search results are dropped and the index is persisted.
func (s *Service) RebuildIndex(ctx context.Context) error {
	report, err := s.index.Rebuild(ctx, false)
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	if !report.Rebuilt {
		s.logger.Debug("index rebuild skipped", zap.Int("new_artifacts", report.NewArtifacts))
		return nil
	}
	if _, err := s.cache.InvalidatePrefix(ctx, PrefixSearch); err != nil {
		s.logger.Warn("invalidate search cache failed", zap.Error(err))
	}
	if s.indexPath != "" {
		if err := s.index.Save(s.indexPath); err != nil {
			s.logger.Warn("persist index failed", zap.String("path", s.indexPath), zap.Error(err))
		}
	}
	s.logger.Info("index rebuilt",
		zap.Uint64("generation", report.Generation),
		zap.Int("indexed", report.Indexed),
		zap.Int("dropped", report.Dropped))
	return nil
}

// RefreshRecommendations caches the default recommendation list.
func (s *Service) RefreshRecommendations(ctx context.Context) error {
	recs, err := s.engine.SimilarToConsumed(ctx, recommendationLimit)
	if err != nil {
		return fmt.Errorf("similar to consumed: %w", err)
	}
	if err := s.cache.Set(ctx, PrefixRecommendations, "default", recs, recommendationsTTL); err != nil {
		return fmt.Errorf("cache recommendations: %w", err)
	}
	s.logger.Info("recommendations refreshed", zap.Int("count", len(recs)))
	return nil
}

// GenerateInsights builds the daily summary and caches it under today's date.
func (s *Service) GenerateInsights(ctx context.Context) error {
	now := time.Now()
	counts, err := s.store.StatusCounts(ctx)
	if err != nil {
		return fmt.Errorf("status counts: %w", err)
	}
	total, err := s.store.CountArtifacts(ctx)
	if err != nil {
		return fmt.Errorf("count artifacts: %w", err)
	}
	week, err := s.store.CountSince(ctx, now.AddDate(0, 0, -7))
	if err != nil {
		return fmt.Errorf("count recent artifacts: %w", err)
	}
	recent, err := s.store.ListRecent(ctx, 500)
	if err != nil {
		return fmt.Errorf("list recent: %w", err)
	}

	in := &Insights{
		GeneratedAt:   now,
		Total:         total,
		AddedLastWeek: week,
		StatusCounts:  counts,
		TopTags:       topTags(recent, topTagCount),
	}
	if len(s.footprintPaths) > 0 {
		usage, sum, err := storage.Footprint(s.footprintPaths)
		if err != nil {
			s.logger.Warn("disk footprint failed", zap.Error(err))
		} else {
			in.DiskUsage, in.DiskTotal = usage, sum
		}
	}

	key := now.Format("20060102")
	if err := s.cache.Set(ctx, PrefixInsights, key, in, insightsTTL); err != nil {
		return fmt.Errorf("cache insights: %w", err)
	}
	s.logger.Info("insights generated", zap.String("day", key), zap.Int64("total", total))
	return nil
}

// WarmCache loads the most recent artifacts into the cache.
func (s *Service) WarmCache(ctx context.Context) error {
	recent, err := s.store.ListRecent(ctx, warmBatch)
	if err != nil {
		return fmt.Errorf("list recent: %w", err)
	}
	var warmed int
	var lastErr error
	var mu sync.Mutex
	s.runPooled(len(recent), func(i int) {
		a := recent[i]
		err := s.cache.Set(ctx, PrefixArtifact, a.ID, a, artifactTTL)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			s.logger.Debug("warm artifact failed", zap.String("id", a.ID), zap.Error(err))
			lastErr = err
			return
		}
		warmed++
	})
	if warmed == 0 && len(recent) > 0 {
		return fmt.Errorf("warm cache: none of %d artifacts cached: %w", len(recent), lastErr)
	}
	s.logger.Debug("cache warmed", zap.Int("artifacts", warmed), zap.Int("listed", len(recent)))
	return nil
}

// UpdateRelationships replaces the "similar" relationships of one artifact with its
// closest neighbors.
func (s *Service) UpdateRelationships(ctx context.Context, id string) error {
	hits, err := s.engine.RecommendSimilar(ctx, id, relationshipK, false)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("recommend similar to %s: %w", id, err)
	}
	rels := make([]*models.Relationship, 0, len(hits))
	for _, h := range hits {
		if h.VectorScore < relationshipMin {
			continue
		}
		rels = append(rels, &models.Relationship{
			SourceID: id,
			TargetID: h.Artifact.ID,
			Kind:     RelationshipSimilar,
			Strength: h.VectorScore,
		})
	}
	if err := s.store.SaveRelationships(ctx, id, rels); err != nil {
		return fmt.Errorf("save relationships for %s: %w", id, err)
	}
	s.logger.Debug("relationships updated", zap.String("id", id), zap.Int("count", len(rels)))
	return nil
}

// runPooled runs fn for every index in [0,n) on the worker pool and waits for all of
// them. If the pool rejects a task it runs inline.
func (s *Service) runPooled(n int, fn func(i int)) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		err := s.pool.Submit(func() {
			defer wg.Done()
			fn(i)
		})
		if err != nil {
			s.logger.Debug("pool rejected task, running inline", zap.Error(err))
			fn(i)
			wg.Done()
		}
	}
	wg.Wait()
}

func topTags(artifacts []*models.Artifact, n int) []TagCount {
	counts := make(map[string]int)
	for _, a := range artifacts {
		for _, tag := range artifactTags(a) {
			counts[tag]++
		}
	}
	out := make([]TagCount, 0, len(counts))
	for tag, c := range counts {
		out = append(out, TagCount{Tag: tag, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func artifactTags(a *models.Artifact) []string {
	var raw []string
	switch v := a.Metadata["tags"].(type) {
	case []string:
		raw = v
	case []interface{}:
		for _, t := range v {
			if s, ok := t.(string); ok {
				raw = append(raw, s)
			}
		}
	case string:
		raw = strings.Split(v, ",")
	}
	tags := raw[:0:0]
	for _, t := range raw {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
