// Package storage persists artifacts, their embeddings and relationships.
package storage

import (
	"context"
	"time"

	"github.com/hyperjump/originbrain/internal/models"
)

// ArtifactStore defines artifact persistence and lookup operations.
type ArtifactStore interface {
	CreateArtifact(ctx context.Context, in *models.ArtifactInput) (*models.Artifact, error)
	GetArtifact(ctx context.Context, id string) (*models.Artifact, error)
	DeleteArtifact(ctx context.Context, id string) error

	SetEmbedding(ctx context.Context, id string, embedding []float32) error
	UpdateConsumptionStatus(ctx context.Context, id string, status models.ConsumptionStatus) error
	UpdateAnalysis(ctx context.Context, id string, importance float64, metadata map[string]interface{}) error
	MarkProcessed(ctx context.Context, id string) error

	ListArtifactsWithEmbeddings(ctx context.Context, limit int) ([]*models.Artifact, error)
	ListByStatus(ctx context.Context, status models.ConsumptionStatus, limit int) ([]*models.Artifact, error)
	ListUnprocessed(ctx context.Context, limit int) ([]*models.Artifact, error)
	ListRecent(ctx context.Context, limit int) ([]*models.Artifact, error)
	LexicalSearch(ctx context.Context, query string, limit int, filters *models.Filters) ([]*models.Artifact, error)

	// Stats
	CountSince(ctx context.Context, since time.Time) (int, error)
	CountEmbeddedAfter(ctx context.Context, seq int64) (int, error)
	CountArtifacts(ctx context.Context) (int64, error)
	StatusCounts(ctx context.Context) (map[models.ConsumptionStatus]int, error)

	// Relationships
	SaveRelationships(ctx context.Context, sourceID string, rels []*models.Relationship) error
	GetRelationships(ctx context.Context, sourceID string) ([]*models.Relationship, error)

	Close() error
}
