package maintenance

import (
	"math"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/hyperjump/originbrain/internal/models"
)

const wordsPerMinute = 225

var (
	urlPattern      = regexp.MustCompile(`https?://[^\s]+`)
	sentencePattern = regexp.MustCompile(`[.!?]+(\s|$)`)
)

// authority scores for well-known source domains; anything else is neutral (0.5).
var domainAuthority = []struct {
	suffixes []string
	score    float64
}{
	{[]string{"arxiv.org", "nature.com", "science.org", "mit.edu"}, 0.9},
	{[]string{"github.com", "medium.com", "stackoverflow.com"}, 0.7},
	{[]string{"twitter.com", "x.com"}, 0.6},
}

// Analysis is the content statistics recorded on an artifact by the consumption queue.
type Analysis struct {
	WordCount      int     `json:"word_count"`
	SentenceCount  int     `json:"sentence_count"`
	ReadingMinutes int     `json:"reading_time_minutes"`
	HasURLs        bool    `json:"has_urls"`
	Domain         string  `json:"domain,omitempty"`
	Authority      float64 `json:"authority_score"`
	Importance     float64 `json:"importance_score"`
}

// Metadata returns the analysis as metadata entries to merge into the artifact.
func (a Analysis) Metadata() map[string]interface{} {
	m := map[string]interface{}{
		"word_count":           a.WordCount,
		"sentence_count":       a.SentenceCount,
		"reading_time_minutes": a.ReadingMinutes,
		"has_urls":             a.HasURLs,
		"authority_score":      a.Authority,
	}
	if a.Domain != "" {
		m["domain"] = a.Domain
	}
	return m
}

// Analyze computes content statistics and a heuristic importance score in [0,1] that
// weighs source authority, length and whether the user tagged the artifact.
func Analyze(a *models.Artifact) Analysis {
	words := strings.FieldsFunc(a.Content, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	res := Analysis{
		WordCount:     len(words),
		SentenceCount: len(sentencePattern.FindAllStringIndex(a.Content, -1)),
		HasURLs:       urlPattern.MatchString(a.Content),
		Authority:     0.5,
	}
	if res.SentenceCount == 0 && res.WordCount > 0 {
		res.SentenceCount = 1
	}
	res.ReadingMinutes = int(math.Max(1, math.Round(float64(res.WordCount)/wordsPerMinute)))

	res.Domain = sourceDomain(a)
	if res.Domain != "" {
		res.Authority = authorityFor(res.Domain)
	}

	length := math.Min(1, float64(res.WordCount)/800)
	tagged := 0.0
	if tags, ok := a.Metadata["tags"]; ok && tags != nil {
		tagged = 1
	}
	res.Importance = math.Round((0.5*res.Authority+0.3*length+0.2*tagged)*1000) / 1000
	return res
}

func sourceDomain(a *models.Artifact) string {
	raw, _ := a.Metadata["source_url"].(string)
	if raw == "" && a.Kind == models.KindURL {
		raw = urlPattern.FindString(a.Content)
	}
	if raw == "" {
		return ""
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func authorityFor(domain string) float64 {
	for _, tier := range domainAuthority {
		for _, s := range tier.suffixes {
			if domain == s || strings.HasSuffix(domain, "."+s) {
				return tier.score
			}
		}
	}
	return 0.5
}
