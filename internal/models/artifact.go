// Package models defines core data structures for artifacts, search filters, and results.
package models

import (
	"fmt"
	"time"
)

// ConsumptionStatus tracks how far the user got with an artifact.
type ConsumptionStatus string

const (
	StatusUnconsumed ConsumptionStatus = "unconsumed"
	StatusReading    ConsumptionStatus = "reading"
	StatusReviewed   ConsumptionStatus = "reviewed"
	StatusApplied    ConsumptionStatus = "applied"
)

// ConsumptionStatuses lists every valid status in lifecycle order.
var ConsumptionStatuses = []ConsumptionStatus{StatusUnconsumed, StatusReading, StatusReviewed, StatusApplied}

// Valid reports whether s is a known status.
func (s ConsumptionStatus) Valid() bool {
	for _, known := range ConsumptionStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseConsumptionStatus converts a raw value into a ConsumptionStatus.
func ParseConsumptionStatus(raw string) (ConsumptionStatus, error) {
	s := ConsumptionStatus(raw)
	if !s.Valid() {
		return "", &ValidationError{Field: "consumption_status", Message: fmt.Sprintf("unknown status %q", raw)}
	}
	return s, nil
}

// ArtifactKind is the capture type of an artifact.
type ArtifactKind string

const (
	KindURL   ArtifactKind = "url"
	KindNote  ArtifactKind = "note"
	KindTweet ArtifactKind = "tweet"
)

// Artifact is a captured piece of content with its metadata and optional embedding.
type Artifact struct {
	ID                string                 `json:"id"`
	Kind              ArtifactKind           `json:"kind"`
	Title             string                 `json:"title"`
	Content           string                 `json:"content"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
	ConsumptionStatus ConsumptionStatus      `json:"consumption_status"`
	ImportanceScore   float64                `json:"importance_score"`
	Processed         bool                   `json:"processed"`
	Embedding         []float32              `json:"-"`
	// EmbeddedSeq orders embedding writes; zero when the artifact has no embedding.
	EmbeddedSeq       int64                  `json:"-"`
}

// HasEmbedding reports whether the artifact has been embedded.
func (a *Artifact) HasEmbedding() bool {
	return len(a.Embedding) > 0
}

// ArtifactInput is the input for creating an artifact.
type ArtifactInput struct {
	ID        string                 `json:"id,omitempty"`
	Kind      ArtifactKind           `json:"kind,omitempty"`
	Title     string                 `json:"title,omitempty"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Embedding []float32              `json:"-"`
	CreatedAt time.Time              `json:"created_at,omitempty"`
}

// Relationship links two artifacts with a typed, weighted edge.
type Relationship struct {
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id"`
	Kind      string    `json:"kind"`
	Strength  float64   `json:"strength"`
	CreatedAt time.Time `json:"created_at"`
}
