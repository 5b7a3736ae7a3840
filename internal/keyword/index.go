// Package keyword provides the full-text (BM25) index behind lexical artifact search.
package keyword

import "context"

// Document is the indexed view of an artifact. Only text fields and the kind are indexed;
// filtering by status, importance and date happens against the artifact store.
type Document struct {
	ID      string   `json:"id"`
	Kind    string   `json:"kind"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags,omitempty"`
}

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// TitleBoost multiplies the score contribution from matches in the title field.
	// Use 1.0 (or 0) for a single query over all fields.
	TitleBoost float64
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum edit distance for fuzzy matching (1 or 2). Default 1.
	Fuzziness int
}

// Index defines keyword search operations.
type Index interface {
	Index(ctx context.Context, doc *Document) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*Result, error)
	Delete(ctx context.Context, id string) error
	DocCount() (uint64, error)
	Close() error
}

// Result is a single keyword search hit, in relevance order.
type Result struct {
	ID    string
	Score float64
}
