package embedding

import (
	"context"
	"testing"

	"github.com/hyperjump/originbrain/internal/vector"
)

func TestMockEmbedder_Deterministic(t *testing.T) {
	e := NewMockEmbedder(16)
	ctx := context.Background()
	a, _ := e.Embed(ctx, "vector search in go")
	b, _ := e.Embed(ctx, "vector search in go")
	if len(a) != 16 {
		t.Fatalf("len = %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding not deterministic at %d", i)
		}
	}
	if n := vector.L2Norm(a); n < 0.999 || n > 1.001 {
		t.Errorf("embedding not unit length: %f", n)
	}
}

func TestMockEmbedder_SharedWordsAreCloser(t *testing.T) {
	e := NewMockEmbedder(64)
	ctx := context.Background()
	base, _ := e.Embed(ctx, "distributed systems consensus raft")
	near, _ := e.Embed(ctx, "raft consensus in distributed systems")
	far, _ := e.Embed(ctx, "sourdough bread recipe")

	if vector.CosineSimilarity(base, near) <= vector.CosineSimilarity(base, far) {
		t.Errorf("texts sharing words should be more similar: near=%f far=%f",
			vector.CosineSimilarity(base, near), vector.CosineSimilarity(base, far))
	}
}

func BenchmarkMockEmbedder_Embed(b *testing.B) {
	e := NewMockEmbedder(384)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Embed(ctx, "benchmark query text for embedding")
	}
}
