package extract

import (
	"strings"

	"github.com/patchwork-dev/patchcrawl/internal/crawl"
)

// ValidatorConfig tunes the quality gates. Zero values use the defaults.
type ValidatorConfig struct {
	MinTextLength    int // gate 1, default 500
	MinArticleLength int // gate 2, default 1000
	MinScoringLength int // gate 3, default 700
}

func (c *ValidatorConfig) withDefaults() {
	if c.MinTextLength == 0 {
		c.MinTextLength = 500
	}
	if c.MinArticleLength == 0 {
		c.MinArticleLength = 1000
	}
	if c.MinScoringLength == 0 {
		c.MinScoringLength = 700
	}
}

// catalogSignatures mark library catalogs, authority files, and similar
// non-article reference pages.
var catalogSignatures = []string{
	"library catalog",
	"authority control",
	"authority file",
	"worldcat",
	"viaf",
	"isbn:",
	"issn:",
	"oclc",
	"all rights reserved. terms of use",
	"search results",
}

// Validate applies the quality gates strictly in sequence. Each gate
// produces its own terminal reason; no gate may be skipped, and a failure
// short-circuits before any scorer call is made.
func Validate(text string, cfg ValidatorConfig) crawl.Reason {
	cfg.withDefaults()

	if len(text) < cfg.MinTextLength {
		return crawl.ReasonContentTooShort
	}
	if !isActualArticle(text, cfg.MinArticleLength) {
		return crawl.ReasonNotAnArticle
	}
	if len(text) < cfg.MinScoringLength {
		return crawl.ReasonInsufficientForScoring
	}
	return ""
}

// isActualArticle requires article-shaped text: enough length, several
// paragraphs, narrative sentences, and none of the catalog-page
// signatures.
func isActualArticle(text string, minLength int) bool {
	if len(text) < minLength {
		return false
	}
	if strings.Count(text, "\n\n") < 3 {
		return false
	}

	lower := strings.ToLower(text)
	for _, sig := range catalogSignatures {
		if strings.Contains(lower, sig) {
			return false
		}
	}

	return hasNarrativeStructure(text)
}

// hasNarrativeStructure checks that the text reads as prose: a reasonable
// number of sentence terminators and an average sentence length typical of
// running text rather than a link list.
func hasNarrativeStructure(text string) bool {
	sentences := 0
	for _, r := range text {
		switch r {
		case '.', '!', '?':
			sentences++
		}
	}
	if sentences < 5 {
		return false
	}
	words := len(strings.Fields(text))
	avg := float64(words) / float64(sentences)
	return avg >= 5 && avg <= 60
}
