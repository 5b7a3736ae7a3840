// Package embedding provides text embedding providers and an embedding cache.
package embedding

import (
	"context"

	"github.com/hyperjump/originbrain/internal/models"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// checkDimensions rejects a provider response whose vectors do not match the
// configured dimension; such vectors would be dropped by every index rebuild.
func checkDimensions(vecs [][]float32, want int) error {
	for _, v := range vecs {
		if len(v) != want {
			return models.DimensionError(len(v), want)
		}
	}
	return nil
}
