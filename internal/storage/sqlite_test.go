package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/originbrain/internal/models"
	"github.com/hyperjump/originbrain/internal/vector"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_CRUD(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data", "test.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	a, err := store.CreateArtifact(ctx, &models.ArtifactInput{
		Kind:      models.KindURL,
		Title:     "Title",
		Content:   "https://example.com/post",
		Metadata:  map[string]interface{}{"tags": []string{"go"}},
		Embedding: []float32{0.25, -0.5},
	})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == "" || a.CreatedAt.IsZero() {
		t.Fatalf("id and created_at should be set: %+v", a)
	}
	if a.ConsumptionStatus != models.StatusUnconsumed {
		t.Errorf("new artifact status = %s", a.ConsumptionStatus)
	}

	got, err := store.GetArtifact(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Title" || got.Kind != models.KindURL {
		t.Errorf("got %+v", got)
	}
	if len(got.Embedding) != 2 || got.Embedding[0] != 0.25 || got.Embedding[1] != -0.5 {
		t.Errorf("embedding round trip: %v", got.Embedding)
	}
	if !got.CreatedAt.Equal(time.Unix(0, a.CreatedAt.UnixNano())) {
		t.Errorf("created_at: got %v want %v", got.CreatedAt, a.CreatedAt)
	}

	if err := store.DeleteArtifact(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetArtifact(ctx, a.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.DeleteArtifact(ctx, a.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("second delete: %v", err)
	}
}

func TestSQLiteStore_CreateValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if _, err := store.CreateArtifact(ctx, &models.ArtifactInput{Content: "  "}); !models.IsValidation(err) {
		t.Errorf("empty content: %v", err)
	}
	if _, err := store.CreateArtifact(ctx, &models.ArtifactInput{Content: "x", Kind: "pdf"}); !models.IsValidation(err) {
		t.Errorf("unknown kind: %v", err)
	}
	a, err := store.CreateArtifact(ctx, &models.ArtifactInput{Content: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if a.Kind != models.KindNote {
		t.Errorf("default kind = %s", a.Kind)
	}
}

func TestSQLiteStore_Updates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a, err := store.CreateArtifact(ctx, &models.ArtifactInput{Content: "note", Metadata: map[string]interface{}{"source": "manual"}})
	if err != nil {
		t.Fatal(err)
	}

	if err := store.UpdateConsumptionStatus(ctx, a.ID, models.StatusReviewed); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateConsumptionStatus(ctx, a.ID, "done"); !models.IsValidation(err) {
		t.Errorf("invalid status: %v", err)
	}
	if err := store.UpdateConsumptionStatus(ctx, "missing", models.StatusReading); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("missing id: %v", err)
	}
	if err := store.SetEmbedding(ctx, a.ID, []float32{1, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateAnalysis(ctx, a.ID, 0.7, map[string]interface{}{"word_count": 1}); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateAnalysis(ctx, a.ID, 1.5, nil); !models.IsValidation(err) {
		t.Errorf("importance out of range: %v", err)
	}
	if err := store.MarkProcessed(ctx, a.ID); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetArtifact(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ConsumptionStatus != models.StatusReviewed || !got.Processed || got.ImportanceScore != 0.7 {
		t.Errorf("updates not applied: %+v", got)
	}
	if got.Metadata["source"] != "manual" || got.Metadata["word_count"] != float64(1) {
		t.Errorf("metadata not merged: %+v", got.Metadata)
	}
	if len(got.Embedding) != 3 {
		t.Errorf("embedding not set: %v", got.Embedding)
	}
}

func TestSQLiteStore_ListsAndCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, id := range []string{"a", "b", "c"} {
		in := &models.ArtifactInput{ID: id, Content: "content " + id, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if id != "b" {
			in.Embedding = []float32{float32(i), 1}
		}
		if _, err := store.CreateArtifact(ctx, in); err != nil {
			t.Fatal(err)
		}
	}

	embedded, err := store.ListArtifactsWithEmbeddings(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(embedded) != 2 || embedded[0].ID != "c" || embedded[1].ID != "a" {
		t.Errorf("expected [c a] newest first, got %v", ids(embedded))
	}
	limited, _ := store.ListArtifactsWithEmbeddings(ctx, 1)
	if len(limited) != 1 {
		t.Errorf("limit: got %d", len(limited))
	}

	n, err := store.CountSince(ctx, base.Add(30*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("CountSince: got %d, want 2", n)
	}
	total, _ := store.CountArtifacts(ctx)
	if total != 3 {
		t.Errorf("CountArtifacts: got %d", total)
	}

	unprocessed, _ := store.ListUnprocessed(ctx, 10)
	if len(unprocessed) != 3 || unprocessed[0].ID != "a" {
		t.Errorf("unprocessed oldest first: %v", ids(unprocessed))
	}
	recent, _ := store.ListRecent(ctx, 2)
	if len(recent) != 2 || recent[0].ID != "c" {
		t.Errorf("recent: %v", ids(recent))
	}

	_ = store.UpdateConsumptionStatus(ctx, "b", models.StatusReviewed)
	reviewed, _ := store.ListByStatus(ctx, models.StatusReviewed, 10)
	if len(reviewed) != 1 || reviewed[0].ID != "b" {
		t.Errorf("by status: %v", ids(reviewed))
	}
	counts, err := store.StatusCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[models.StatusUnconsumed] != 2 || counts[models.StatusReviewed] != 1 || counts[models.StatusApplied] != 0 {
		t.Errorf("status counts: %+v", counts)
	}
}

func TestSQLiteStore_LexicalSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, _ = store.CreateArtifact(ctx, &models.ArtifactInput{ID: "go", Title: "golang channels", Content: "select statements and channels"})
	_, _ = store.CreateArtifact(ctx, &models.ArtifactInput{ID: "rust", Title: "ownership", Content: "borrow checker and channels"})
	_, _ = store.CreateArtifact(ctx, &models.ArtifactInput{ID: "cook", Title: "bread", Content: "sourdough starter"})

	got, err := store.LexicalSearch(ctx, "channels", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "go" {
		t.Errorf("expected title match first, got %v", ids(got))
	}

	_ = store.UpdateConsumptionStatus(ctx, "go", models.StatusApplied)
	got, err = store.LexicalSearch(ctx, "channels", 10, models.UnconsumedOnly())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "rust" {
		t.Errorf("filtered search: %v", ids(got))
	}

	_ = store.DeleteArtifact(ctx, "rust")
	got, _ = store.LexicalSearch(ctx, "borrow", 10, nil)
	if len(got) != 0 {
		t.Errorf("deleted artifact still searchable: %v", ids(got))
	}
}

func TestSQLiteStore_Relationships(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, _ = store.CreateArtifact(ctx, &models.ArtifactInput{ID: id, Content: id})
	}
	err := store.SaveRelationships(ctx, "a", []*models.Relationship{
		{TargetID: "b", Kind: "similar", Strength: 0.6},
		{TargetID: "c", Kind: "similar", Strength: 0.9},
	})
	if err != nil {
		t.Fatal(err)
	}
	rels, err := store.GetRelationships(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(rels) != 2 || rels[0].TargetID != "c" {
		t.Fatalf("expected strongest first, got %+v", rels)
	}

	// saving again replaces edges of the same kind
	_ = store.SaveRelationships(ctx, "a", []*models.Relationship{{TargetID: "b", Kind: "similar", Strength: 0.7}})
	rels, _ = store.GetRelationships(ctx, "a")
	if len(rels) != 1 || rels[0].Strength != 0.7 {
		t.Errorf("relationships not replaced: %+v", rels)
	}
}

func ids(list []*models.Artifact) []string {
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.ID
	}
	return out
}

func TestSQLiteStore_CountEmbeddedAfter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, err := store.CreateArtifact(ctx, &models.ArtifactInput{ID: "a", Content: "first", Embedding: []float32{1, 0}})
	if err != nil {
		t.Fatal(err)
	}
	if a.EmbeddedSeq == 0 {
		t.Fatal("embedded artifact should get a sequence number")
	}
	plain, err := store.CreateArtifact(ctx, &models.ArtifactInput{ID: "plain", Content: "no vector"})
	if err != nil {
		t.Fatal(err)
	}
	if plain.EmbeddedSeq != 0 {
		t.Errorf("artifact without embedding got sequence %d", plain.EmbeddedSeq)
	}
	mark := a.EmbeddedSeq

	// CreatedAt is caller supplied and may predate the mark.
	old := time.Now().Add(-time.Hour)
	if _, err := store.CreateArtifact(ctx, &models.ArtifactInput{ID: "b", Content: "second", Embedding: []float32{0, 1}, CreatedAt: old}); err != nil {
		t.Fatal(err)
	}
	n, err := store.CountEmbeddedAfter(ctx, mark)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("back-dated artifact: got %d, want 1", n)
	}

	if err := store.SetEmbedding(ctx, "plain", []float32{0.5, 0.5}); err != nil {
		t.Fatal(err)
	}
	n, _ = store.CountEmbeddedAfter(ctx, mark)
	if n != 2 {
		t.Errorf("after SetEmbedding: got %d, want 2", n)
	}
	got, _ := store.GetArtifact(ctx, "plain")
	if got.EmbeddedSeq <= mark {
		t.Errorf("SetEmbedding should advance the sequence, got %d", got.EmbeddedSeq)
	}

	// Sequence numbers never repeat, even after the newest artifact is deleted.
	if err := store.DeleteArtifact(ctx, "plain"); err != nil {
		t.Fatal(err)
	}
	mark = got.EmbeddedSeq
	c, err := store.CreateArtifact(ctx, &models.ArtifactInput{ID: "c", Content: "third", Embedding: []float32{1, 1}})
	if err != nil {
		t.Fatal(err)
	}
	if c.EmbeddedSeq <= mark {
		t.Errorf("sequence reused after delete: %d <= %d", c.EmbeddedSeq, mark)
	}
	n, _ = store.CountEmbeddedAfter(ctx, mark)
	if n != 1 {
		t.Errorf("after delete and insert: got %d, want 1", n)
	}

	if err := store.SetEmbedding(ctx, "missing", []float32{1, 0}); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("SetEmbedding on missing id: %v", err)
	}
}

func TestSQLiteStore_RebuildThresholdSeesBackdatedAndReembedded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	idx, err := vector.NewIndex(store, 2, vector.WithRebuildThreshold(1))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := store.CreateArtifact(ctx, &models.ArtifactInput{ID: "a", Content: "first", Embedding: []float32{1, 0}}); err != nil {
		t.Fatal(err)
	}
	stamped := time.Now()
	if _, err := idx.Rebuild(ctx, true); err != nil {
		t.Fatal(err)
	}

	// Stamped before the rebuild, inserted after it.
	if _, err := store.CreateArtifact(ctx, &models.ArtifactInput{ID: "b", Content: "second", Embedding: []float32{0, 1}, CreatedAt: stamped}); err != nil {
		t.Fatal(err)
	}
	report, err := idx.Rebuild(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Rebuilt || report.NewArtifacts != 1 || report.Indexed != 2 {
		t.Fatalf("back-dated artifact: %+v", report)
	}

	if _, err := store.CreateArtifact(ctx, &models.ArtifactInput{ID: "c", Content: "embedded later"}); err != nil {
		t.Fatal(err)
	}
	if err := store.SetEmbedding(ctx, "c", []float32{1, 1}); err != nil {
		t.Fatal(err)
	}
	report, err = idx.Rebuild(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Rebuilt || report.NewArtifacts != 1 || report.Indexed != 3 {
		t.Fatalf("embedding set later: %+v", report)
	}
}
