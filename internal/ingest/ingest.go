// Package ingest turns files dropped into a watched folder into artifacts.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hyperjump/originbrain/internal/embedding"
	"github.com/hyperjump/originbrain/internal/models"
	"github.com/hyperjump/originbrain/internal/storage"
	"github.com/hyperjump/originbrain/pkg/utils"
)

const (
	maxTitleLen = 120
	failedDir   = "failed"

	// TagQuickCapture marks notes captured from the drop folder.
	TagQuickCapture = "quick_capture"
)

// DefaultExtensions are the drop-folder file types the watcher reports.
var DefaultExtensions = []string{".txt", ".md", ".url"}

// Followups schedules background work for a freshly stored artifact.
type Followups interface {
	ScheduleArtifactAnalysis(id string) (string, error)
	ScheduleRelationshipUpdate(id string) (string, error)
}

// Ingestor stores dropped files as artifacts.
type Ingestor struct {
	store     storage.ArtifactStore
	embedder  embedding.Embedder
	followups Followups
	logger    *zap.Logger
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithLogger sets the ingestor logger.
func WithLogger(l *zap.Logger) Option {
	return func(in *Ingestor) {
		if l != nil {
			in.logger = l
		}
	}
}

// WithFollowups schedules analysis and relationship jobs for every new artifact.
func WithFollowups(f Followups) Option {
	return func(in *Ingestor) { in.followups = f }
}

// NewIngestor creates an ingestor. embedder may be nil, in which case artifacts are
// stored without embeddings.
func NewIngestor(store storage.ArtifactStore, embedder embedding.Embedder, opts ...Option) *Ingestor {
	in := &Ingestor{store: store, embedder: embedder, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Capture is a parsed drop file.
type Capture struct {
	ID       string
	Kind     models.ArtifactKind
	Title    string
	Content  string
	Metadata map[string]interface{}
}

// ParseDrop classifies raw drop-file content. A file holding a single link becomes a
// url artifact (tweet for twitter/x links); anything else is a note whose title is
// its first line.
func ParseDrop(path string, raw []byte) (*Capture, error) {
	if !utf8.Valid(raw) {
		return nil, &models.ValidationError{Field: "content", Message: "drop file is not valid UTF-8"}
	}
	content := strings.TrimSpace(string(raw))
	if content == "" {
		return nil, &models.ValidationError{Field: "content", Message: "drop file is empty"}
	}
	c := &Capture{
		ID:       dropID(path, content),
		Metadata: map[string]interface{}{"source_file": filepath.Base(path)},
	}
	if link, ok := singleLink(path, content); ok {
		c.Kind = models.KindURL
		if isTweet(link) {
			c.Kind = models.KindTweet
		}
		c.Title = link
		c.Content = link
		c.Metadata["source_url"] = link
		return c, nil
	}
	c.Kind = models.KindNote
	c.Content = content
	c.Title = utils.Truncate(firstLine(content), maxTitleLen)
	c.Metadata["tags"] = []string{TagQuickCapture}
	return c, nil
}

// IngestFile reads one dropped file, stores it as an artifact and removes the file.
// A file that cannot be parsed is moved to the failed/ subfolder. Dropping the same
// content at the same path twice stores it once.
func (in *Ingestor) IngestFile(ctx context.Context, path string) (*models.Artifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read drop file: %w", err)
	}
	c, err := ParseDrop(path, raw)
	if err != nil {
		in.quarantine(path, err)
		return nil, err
	}

	if existing, err := in.store.GetArtifact(ctx, c.ID); err == nil {
		in.logger.Debug("drop already ingested", zap.String("path", path), zap.String("id", c.ID))
		in.remove(path)
		return existing, nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("lookup artifact: %w", err)
	}

	// CreatedAt is left to the store, which stamps it at insert time after embedding.
	input := &models.ArtifactInput{
		ID:       c.ID,
		Kind:     c.Kind,
		Title:    c.Title,
		Content:  c.Content,
		Metadata: c.Metadata,
	}
	if in.embedder != nil {
		vec, err := in.embedder.Embed(ctx, c.Title+"\n"+c.Content)
		if err != nil {
			// Kept without an embedding; it is still found by text search.
			in.logger.Warn("embedding drop failed", zap.String("path", path), zap.Error(err))
		} else {
			input.Embedding = vec
		}
	}

	a, err := in.store.CreateArtifact(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("store artifact: %w", err)
	}
	in.remove(path)
	in.logger.Info("artifact ingested",
		zap.String("id", a.ID),
		zap.String("kind", string(a.Kind)),
		zap.String("title", utils.Truncate(a.Title, 60)))

	if in.followups != nil {
		if _, err := in.followups.ScheduleArtifactAnalysis(a.ID); err != nil {
			in.logger.Warn("schedule analysis failed", zap.String("id", a.ID), zap.Error(err))
		}
		if a.HasEmbedding() {
			if _, err := in.followups.ScheduleRelationshipUpdate(a.ID); err != nil {
				in.logger.Warn("schedule relationships failed", zap.String("id", a.ID), zap.Error(err))
			}
		}
	}
	return a, nil
}

// Handler adapts IngestFile to the watcher callback, logging failures.
func (in *Ingestor) Handler(ctx context.Context) func(path string) {
	return func(path string) {
		if _, err := in.IngestFile(ctx, path); err != nil {
			in.logger.Warn("ingest failed", zap.String("path", path), zap.Error(err))
		}
	}
}

func (in *Ingestor) remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		in.logger.Warn("remove drop file failed", zap.String("path", path), zap.Error(err))
	}
}

func (in *Ingestor) quarantine(path string, cause error) {
	dir := filepath.Join(filepath.Dir(path), failedDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		in.logger.Warn("create failed folder", zap.String("dir", dir), zap.Error(err))
		return
	}
	dst := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		in.logger.Warn("quarantine drop file failed", zap.String("path", path), zap.Error(err))
		return
	}
	in.logger.Warn("drop file quarantined", zap.String("path", dst), zap.Error(cause))
}

// dropID is stable for the same content dropped at the same path.
func dropID(path, content string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(path) + "\x00" + content))
	return "drop-" + hex.EncodeToString(sum[:12])
}

func singleLink(path, content string) (string, bool) {
	if strings.EqualFold(filepath.Ext(path), ".url") {
		// Windows internet shortcut files carry the link on a URL= line.
		for _, line := range strings.Split(content, "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(strings.ToUpper(line), "URL=") {
				return strings.TrimSpace(line[4:]), true
			}
		}
	}
	if strings.ContainsAny(content, " \t\n") {
		return "", false
	}
	if strings.HasPrefix(content, "http://") || strings.HasPrefix(content, "https://") {
		return content, true
	}
	return "", false
}

func isTweet(link string) bool {
	l := strings.ToLower(link)
	return strings.Contains(l, "twitter.com/") || strings.Contains(l, "://x.com/") || strings.Contains(l, "://www.x.com/")
}

func firstLine(content string) string {
	line := content
	if i := strings.IndexByte(content, '\n'); i >= 0 {
		line = content[:i]
	}
	return strings.TrimSpace(strings.TrimLeft(line, "# "))
}
