package maintenance

import (
	"strings"
	"testing"

	"github.com/hyperjump/originbrain/internal/models"
)

func TestAnalyze(t *testing.T) {
	long := strings.Repeat("word ", 450)
	tests := []struct {
		name      string
		artifact  *models.Artifact
		words     int
		minutes   int
		hasURLs   bool
		domain    string
		authority float64
	}{
		{
			name:      "short note",
			artifact:  &models.Artifact{Kind: models.KindNote, Content: "Hello there. How are you?"},
			words:     5,
			minutes:   1,
			authority: 0.5,
		},
		{
			name:      "long note rounds reading time",
			artifact:  &models.Artifact{Kind: models.KindNote, Content: long},
			words:     450,
			minutes:   2,
			authority: 0.5,
		},
		{
			name:      "url artifact uses content link",
			artifact:  &models.Artifact{Kind: models.KindURL, Content: "https://www.arxiv.org/abs/1234"},
			words:     1,
			minutes:   1,
			hasURLs:   true,
			domain:    "arxiv.org",
			authority: 0.9,
		},
		{
			name: "source_url metadata wins",
			artifact: &models.Artifact{
				Kind:     models.KindNote,
				Content:  "see notes",
				Metadata: map[string]interface{}{"source_url": "https://gist.github.com/x"},
			},
			words:     2,
			minutes:   1,
			domain:    "gist.github.com",
			authority: 0.7,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Analyze(tt.artifact)
			if got.WordCount != tt.words {
				t.Errorf("WordCount = %d, want %d", got.WordCount, tt.words)
			}
			if got.ReadingMinutes != tt.minutes {
				t.Errorf("ReadingMinutes = %d, want %d", got.ReadingMinutes, tt.minutes)
			}
			if got.HasURLs != tt.hasURLs {
				t.Errorf("HasURLs = %v, want %v", got.HasURLs, tt.hasURLs)
			}
			if got.Domain != tt.domain {
				t.Errorf("Domain = %q, want %q", got.Domain, tt.domain)
			}
			if got.Authority != tt.authority {
				t.Errorf("Authority = %v, want %v", got.Authority, tt.authority)
			}
			if got.Importance < 0 || got.Importance > 1 {
				t.Errorf("Importance %v out of [0,1]", got.Importance)
			}
		})
	}
}

func TestAnalyze_SentenceCount(t *testing.T) {
	got := Analyze(&models.Artifact{Content: "One. Two! Three?"})
	if got.SentenceCount != 3 {
		t.Errorf("SentenceCount = %d, want 3", got.SentenceCount)
	}
	got = Analyze(&models.Artifact{Content: "no terminal punctuation"})
	if got.SentenceCount != 1 {
		t.Errorf("SentenceCount = %d, want 1", got.SentenceCount)
	}
}

func TestAnalyze_TagsRaiseImportance(t *testing.T) {
	plain := Analyze(&models.Artifact{Content: "same text"})
	tagged := Analyze(&models.Artifact{Content: "same text", Metadata: map[string]interface{}{"tags": []string{"go"}}})
	if tagged.Importance <= plain.Importance {
		t.Errorf("tagged importance %v should exceed %v", tagged.Importance, plain.Importance)
	}
}
