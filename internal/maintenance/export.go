package maintenance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/originbrain/internal/models"
	"github.com/hyperjump/originbrain/internal/scheduler"
)

const (
	// PrefixExport holds finished exports, keyed by export id.
	PrefixExport = "export"
	exportTTL    = time.Hour
)

// Export formats.
const (
	ExportJSON     = "json"
	ExportMarkdown = "markdown"
)

// Export is a finished export stored in the cache.
type Export struct {
	ID         string    `json:"id"`
	Format     string    `json:"format"`
	ExportedAt time.Time `json:"exported_at"`
	Count      int       `json:"count"`
	Content    string    `json:"content"`
}

// ScheduleExport queues an export of every artifact passing filters. The result is
// cached under export/<exportID> for an hour.
func (s *Service) ScheduleExport(format string, filters *models.Filters) (exportID, jobID string, err error) {
	if format != ExportJSON && format != ExportMarkdown {
		return "", "", &models.ValidationError{Field: "format", Message: fmt.Sprintf("unsupported export format %q", format)}
	}
	if err := filters.Validate(); err != nil {
		return "", "", err
	}
	if s.submitter == nil {
		return "", "", fmt.Errorf("schedule export: no scheduler")
	}
	exportID = uuid.NewString()
	jobID = s.submitter.Submit("export", func(ctx context.Context) error {
		return s.RunExport(ctx, exportID, format, filters)
	}, scheduler.WithPriority(8))
	return exportID, jobID, nil
}

// RunExport renders the artifacts passing filters and caches the result.
func (s *Service) RunExport(ctx context.Context, exportID, format string, filters *models.Filters) error {
	all, err := s.store.ListRecent(ctx, 0)
	if err != nil {
		return fmt.Errorf("list artifacts: %w", err)
	}
	artifacts := make([]*models.Artifact, 0, len(all))
	for _, a := range all {
		if filters.Matches(a) {
			artifacts = append(artifacts, a)
		}
	}

	var content string
	switch format {
	case ExportMarkdown:
		content = renderMarkdown(artifacts)
	case ExportJSON:
		b, err := json.MarshalIndent(artifacts, "", "  ")
		if err != nil {
			return fmt.Errorf("encode export: %w", err)
		}
		content = string(b)
	default:
		return &models.ValidationError{Field: "format", Message: fmt.Sprintf("unsupported export format %q", format)}
	}

	out := &Export{ID: exportID, Format: format, ExportedAt: time.Now(), Count: len(artifacts), Content: content}
	if err := s.cache.Set(ctx, PrefixExport, exportID, out, exportTTL); err != nil {
		return fmt.Errorf("cache export: %w", err)
	}
	s.logger.Info("export finished",
		zap.String("id", exportID), zap.String("format", format), zap.Int("artifacts", len(artifacts)))
	return nil
}

func renderMarkdown(artifacts []*models.Artifact) string {
	var b strings.Builder
	b.WriteString("# Knowledge export\n\n")
	fmt.Fprintf(&b, "%d artifacts\n", len(artifacts))
	for _, a := range artifacts {
		title := a.Title
		if title == "" {
			title = a.ID
		}
		fmt.Fprintf(&b, "\n## %s\n\n", title)
		fmt.Fprintf(&b, "- id: %s\n- kind: %s\n- status: %s\n- importance: %.2f\n- created: %s\n",
			a.ID, a.Kind, a.ConsumptionStatus, a.ImportanceScore, a.CreatedAt.Format(time.RFC3339))
		if tags := artifactTags(a); len(tags) > 0 {
			fmt.Fprintf(&b, "- tags: %s\n", strings.Join(tags, ", "))
		}
		fmt.Fprintf(&b, "\n%s\n", a.Content)
	}
	return b.String()
}
