// Package cli formats originbrain command output.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/originbrain/internal/models"
	"github.com/hyperjump/originbrain/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one result per line.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat converts a flag value into an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
}

// SearchOutput is the JSON shape of a search command.
type SearchOutput struct {
	Query     string                 `json:"query"`
	QueryTime int64                  `json:"query_time_ms"`
	Total     int                    `json:"total"`
	Results   []*models.SearchResult `json:"results"`
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, out *SearchOutput, format OutputFormat) error {
	if out.Results == nil {
		out.Results = []*models.SearchResult{}
	}
	out.Total = len(out.Results)
	switch format {
	case OutputJSON:
		return writeJSON(w, out)
	case OutputCompact:
		for _, r := range out.Results {
			fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\n", r.Rank, r.Score, r.Artifact.ID, oneLine(title(r.Artifact), 80))
		}
		return nil
	default:
		fmt.Fprintf(w, "\nFound %d results in %dms\n\n", out.Total, out.QueryTime)
		for _, r := range out.Results {
			fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
			fmt.Fprintf(w, "Rank: %d | Score: %.4f (Text: %.4f, Vector: %.4f)\n", r.Rank, r.Score, r.TextScore, r.VectorScore)
			writeArtifact(w, r.Artifact)
		}
		return nil
	}
}

// WriteRecommendations writes recommendations with their reasons.
func WriteRecommendations(w io.Writer, recs []*models.Recommendation, format OutputFormat) error {
	if recs == nil {
		recs = []*models.Recommendation{}
	}
	switch format {
	case OutputJSON:
		return writeJSON(w, recs)
	case OutputCompact:
		for i, r := range recs {
			fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\n", i+1, r.Score, r.Artifact.ID, oneLine(title(r.Artifact), 80))
		}
		return nil
	default:
		fmt.Fprintf(w, "\n%d recommendations\n\n", len(recs))
		for i, r := range recs {
			fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
			fmt.Fprintf(w, "#%d | Score: %.4f\n", i+1, r.Score)
			for _, reason := range r.Reasons {
				fmt.Fprintf(w, "  - %s\n", reason)
			}
			writeArtifact(w, r.Artifact)
		}
		return nil
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	return writeJSON(w, v)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeArtifact(w io.Writer, a *models.Artifact) {
	fmt.Fprintf(w, "ID: %s (%s, %s)\n", a.ID, a.Kind, a.ConsumptionStatus)
	if a.Title != "" {
		fmt.Fprintf(w, "Title: %s\n", a.Title)
	}
	fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(a.Content, 200))
}

func title(a *models.Artifact) string {
	if a.Title != "" {
		return a.Title
	}
	return a.Content
}

func oneLine(s string, maxLen int) string {
	return utils.Truncate(strings.Join(strings.Fields(s), " "), maxLen)
}
