package models

import "time"

// SearchResult is a single ranked hit. TextScore and VectorScore are the components
// that produced Score for hybrid search; for similarity search Score is the vector score.
type SearchResult struct {
	Artifact    *Artifact `json:"artifact"`
	Score       float64   `json:"score"`
	Distance    float64   `json:"distance"`
	TextScore   float64   `json:"text_score"`
	VectorScore float64   `json:"vector_score"`
	Rank        int       `json:"rank"`
}

// RebuildReport describes the outcome of one VectorIndex rebuild request.
type RebuildReport struct {
	Rebuilt      bool      `json:"rebuilt"`
	Skipped      bool      `json:"skipped"`
	NewArtifacts int       `json:"new_artifacts"`
	Indexed      int       `json:"indexed"`
	Dropped      int       `json:"dropped"`
	Generation   uint64    `json:"generation"`
	BuiltAt      time.Time `json:"built_at"`
	Duration     int64     `json:"duration_ms"`
}

// IndexStats summarizes the current index generation.
type IndexStats struct {
	Size       int       `json:"size"`
	Dimension  int       `json:"dimension"`
	Generation uint64    `json:"generation"`
	BuiltAt    time.Time `json:"built_at"`
	Type       string    `json:"type"`
}

// Recommendation is an artifact suggested to the user with the reason it surfaced.
type Recommendation struct {
	Artifact *Artifact `json:"artifact"`
	Score    float64   `json:"score"`
	Reasons  []string  `json:"reasons"`
}
