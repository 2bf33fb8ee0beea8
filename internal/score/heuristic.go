package score

import (
	"context"
	"strings"

	"github.com/patchwork-dev/patchcrawl/internal/crawl"
)

// HeuristicScorer is the advisory secondary engine: a cheap keyword match
// against the topic profile. It never blocks a save on its own; its
// judgement only tempers a borderline primary verdict.
type HeuristicScorer struct {
	// ExtraTerms supplement the terms derived from the topic itself,
	// e.g. known aliases configured per topic.
	ExtraTerms []string
}

// Score counts topic-term occurrences in title and text and maps the
// density onto a 0-100 score. It cannot fail.
func (h *HeuristicScorer) Score(_ context.Context, req crawl.ScoreRequest) (crawl.ScoreResult, error) {
	terms := topicTerms(req.Topic, h.ExtraTerms)
	if len(terms) == 0 {
		return crawl.ScoreResult{Score: 50, IsRelevant: true, Reason: "no topic terms to match"}, nil
	}

	title := strings.ToLower(req.Title)
	text := strings.ToLower(req.Text)

	hits := 0
	titleHit := false
	for _, term := range terms {
		if strings.Contains(title, term) {
			titleHit = true
		}
		hits += strings.Count(text, term)
	}

	// Hits per thousand words, so long pages are not favored outright.
	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}
	density := float64(hits) * 1000 / float64(words)

	score := int(density * 10)
	if titleHit {
		score += 30
	}
	if score > 100 {
		score = 100
	}

	reason := "topic terms absent"
	if hits > 0 {
		reason = "topic terms present in body"
	}
	if titleHit {
		reason = "topic term in title"
	}
	return crawl.ScoreResult{
		Score:      score,
		IsRelevant: score >= 40,
		Reason:     reason,
	}, nil
}

// topicTerms splits the topic into lowercase terms, dropping short
// stopword-like fragments, and appends configured aliases.
func topicTerms(topic string, extra []string) []string {
	var terms []string
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.ToLower(strings.TrimSpace(s))
		if len(s) < 3 || seen[s] {
			return
		}
		seen[s] = true
		terms = append(terms, s)
	}

	topic = strings.ToLower(strings.TrimSpace(topic))
	if topic != "" {
		add(topic)
		for _, w := range strings.Fields(topic) {
			add(w)
		}
	}
	for _, t := range extra {
		add(t)
	}
	return terms
}
