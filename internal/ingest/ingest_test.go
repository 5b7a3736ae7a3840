package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/originbrain/internal/embedding"
	"github.com/hyperjump/originbrain/internal/models"
	"github.com/hyperjump/originbrain/internal/storage"
)

type recordingFollowups struct {
	mu       sync.Mutex
	analyzed []string
	related  []string
}

func (r *recordingFollowups) ScheduleArtifactAnalysis(id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyzed = append(r.analyzed, id)
	return "job-" + id, nil
}

func (r *recordingFollowups) ScheduleRelationshipUpdate(id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.related = append(r.related, id)
	return "job-" + id, nil
}

type failingEmbedder struct{ embedding.Embedder }

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("provider down")
}

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func writeDrop(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestParseDrop(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		kind    models.ArtifactKind
		title   string
		wantErr bool
	}{
		{"note", "a.txt", "# Weekly plan\nship the index", models.KindNote, "Weekly plan", false},
		{"link", "a.txt", "  https://example.com/post  \n", models.KindURL, "https://example.com/post", false},
		{"tweet", "a.txt", "https://x.com/user/status/1", models.KindTweet, "https://x.com/user/status/1", false},
		{"shortcut", "a.url", "[InternetShortcut]\nURL=https://go.dev/doc", models.KindURL, "https://go.dev/doc", false},
		{"link with text is a note", "a.md", "read https://go.dev later", models.KindNote, "read https://go.dev later", false},
		{"empty", "a.txt", "   \n", "", "", true},
		{"binary", "a.txt", string([]byte{0xff, 0xfe, 0x00}), "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseDrop(filepath.Join("/drop", tt.file), []byte(tt.content))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, models.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, c.Kind)
			assert.Equal(t, tt.title, c.Title)
			assert.NotEmpty(t, c.ID)
		})
	}
}

func TestParseDrop_NoteTaggedAndStableID(t *testing.T) {
	a, err := ParseDrop("/drop/n.txt", []byte("hello"))
	require.NoError(t, err)
	b, err := ParseDrop("/drop/n.txt", []byte("hello\n"))
	require.NoError(t, err)
	c, err := ParseDrop("/drop/other.txt", []byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, []string{TagQuickCapture}, a.Metadata["tags"])
	assert.Equal(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)
}

func TestIngestFile(t *testing.T) {
	store := newTestStore(t)
	follow := &recordingFollowups{}
	in := NewIngestor(store, embedding.NewMockEmbedder(8), WithFollowups(follow))
	dir := t.TempDir()
	ctx := context.Background()

	path := writeDrop(t, dir, "note.txt", "Vector search notes\nflat index first")
	a, err := in.IngestFile(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, models.KindNote, a.Kind)
	assert.Equal(t, "Vector search notes", a.Title)
	assert.Len(t, a.Embedding, 8)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "drop file should be removed")

	got, err := store.GetArtifact(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Content, got.Content)
	assert.Equal(t, []string{a.ID}, follow.analyzed)
	assert.Equal(t, []string{a.ID}, follow.related)

	// Same content dropped again is not stored twice.
	path = writeDrop(t, dir, "note.txt", "Vector search notes\nflat index first")
	again, err := in.IngestFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, a.ID, again.ID)
	n, err := store.CountArtifacts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestIngestFile_EmbeddingFailureStillStores(t *testing.T) {
	store := newTestStore(t)
	follow := &recordingFollowups{}
	in := NewIngestor(store, failingEmbedder{}, WithFollowups(follow))
	path := writeDrop(t, t.TempDir(), "link.txt", "https://example.com")

	a, err := in.IngestFile(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, a.HasEmbedding())
	assert.Equal(t, []string{a.ID}, follow.analyzed)
	assert.Empty(t, follow.related, "no relationships without an embedding")
}

func TestIngestFile_InvalidQuarantined(t *testing.T) {
	store := newTestStore(t)
	in := NewIngestor(store, nil)
	dir := t.TempDir()
	path := writeDrop(t, dir, "empty.txt", "  ")

	_, err := in.IngestFile(context.Background(), path)
	require.Error(t, err)
	_, err = os.Stat(filepath.Join(dir, failedDir, "empty.txt"))
	assert.NoError(t, err)
}

func TestIngestFile_MissingFile(t *testing.T) {
	in := NewIngestor(newTestStore(t), nil)
	a, err := in.IngestFile(context.Background(), filepath.Join(t.TempDir(), "gone.txt"))
	assert.NoError(t, err)
	assert.Nil(t, a)
}

type stampingEmbedder struct {
	embedding.Embedder
	returnedAt time.Time
}

func (e *stampingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.Embedder.Embed(ctx, text)
	time.Sleep(2 * time.Millisecond)
	e.returnedAt = time.Now()
	return vec, err
}

func TestIngestFile_CreatedAtFollowsEmbedding(t *testing.T) {
	store := newTestStore(t)
	emb := &stampingEmbedder{Embedder: embedding.NewMockEmbedder(4)}
	in := NewIngestor(store, emb)

	path := writeDrop(t, t.TempDir(), "slow.txt", "embedding takes a while")
	a, err := in.IngestFile(context.Background(), path)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.False(t, a.CreatedAt.Before(emb.returnedAt),
		"created_at %v should not predate the embedding call finishing at %v", a.CreatedAt, emb.returnedAt)
	assert.NotZero(t, a.EmbeddedSeq)
}
