package search

import (
	"sort"

	"github.com/hyperjump/originbrain/internal/models"
)

// MaxDistance normalizes vector distances into [0,1] scores. Embeddings are unit
// length, so Euclidean distance between them lies in [0,2].
const MaxDistance = 2.0

// TextRankScore scores a lexical hit by its 0-based rank. Raw text relevance is not
// comparable with vector distance, so only the position is used.
func TextRankScore(rank int) float64 {
	return 1.0 / float64(rank+1)
}

// DistanceToScore maps a vector distance into [0,1], closer being higher.
func DistanceToScore(distance float64) float64 {
	s := 1 - distance/MaxDistance
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// Fuse unions vector and lexical candidates by artifact id and ranks them by
// textScore*textWeight + vectorScore*vectorWeight, descending. Vector candidates come
// first in the union and the sort is stable, so equal scores keep vector order and
// then lexical order. Ranks in the output start at 1.
func Fuse(vectorHits []*models.SearchResult, textHits []*models.Artifact, textWeight, vectorWeight float64) []*models.SearchResult {
	byID := make(map[string]*models.SearchResult, len(vectorHits)+len(textHits))
	merged := make([]*models.SearchResult, 0, len(vectorHits)+len(textHits))
	for _, h := range vectorHits {
		if _, dup := byID[h.Artifact.ID]; dup {
			continue
		}
		r := &models.SearchResult{
			Artifact:    h.Artifact,
			Distance:    h.Distance,
			VectorScore: h.VectorScore,
		}
		byID[h.Artifact.ID] = r
		merged = append(merged, r)
	}
	for rank, a := range textHits {
		score := TextRankScore(rank)
		if r, ok := byID[a.ID]; ok {
			if score > r.TextScore {
				r.TextScore = score
			}
			continue
		}
		r := &models.SearchResult{Artifact: a, TextScore: score}
		byID[a.ID] = r
		merged = append(merged, r)
	}
	for _, r := range merged {
		r.Score = r.TextScore*textWeight + r.VectorScore*vectorWeight
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	for i, r := range merged {
		r.Rank = i + 1
	}
	return merged
}
