// Package frontier holds the priority-ordered set of not-yet-fetched
// candidates for a run, with domain-diversity control and a reseed
// circuit breaker.
package frontier

import (
	"regexp"
	"strings"

	"github.com/patchwork-dev/patchcrawl/internal/crawl"
)

// PriorityConfig tunes the candidate scoring formula.
type PriorityConfig struct {
	// DomainScores overrides the base score for specific hosts.
	DomainScores map[string]float64
	// DefaultDomainScore applies to hosts without an override.
	DefaultDomainScore float64
	// SameSourceFreeQuota is how many candidates per source escape the
	// downrank before it kicks in.
	SameSourceFreeQuota int
	// SameSourceDownrank is subtracted once a source exceeds its quota.
	SameSourceDownrank float64
	// DuplicatePenalty is subtracted when the URL was seen in a prior run.
	DuplicatePenalty float64
}

func (c *PriorityConfig) withDefaults() {
	if c.DefaultDomainScore == 0 {
		c.DefaultDomainScore = 50
	}
	if c.SameSourceFreeQuota == 0 {
		c.SameSourceFreeQuota = 20
	}
	if c.SameSourceDownrank == 0 {
		c.SameSourceDownrank = 15
	}
	if c.DuplicatePenalty == 0 {
		c.DuplicatePenalty = 25
	}
}

var articlePathPattern = regexp.MustCompile(
	`(?i)(/article[s]?/|/news/|/story/|/post[s]?/|/blog/|/20\d{2}/\d{1,2}/|\.html?$)`)

const (
	pathDepthBonusPerSegment = 3
	pathDepthBonusCap        = 12
	articlePatternBonus      = 20
)

// Score computes a candidate's priority. seenBefore marks a cross-run
// seen-set hit (eligible for re-crawl, but downranked); sourceCount is how
// many candidates this run has already taken from the candidate's source.
func Score(c crawl.Candidate, seenBefore bool, sourceCount int, cfg PriorityConfig) float64 {
	cfg.withDefaults()

	score := cfg.DefaultDomainScore
	if base, ok := cfg.DomainScores[c.Domain]; ok {
		score = base
	}

	depth := pathDepth(c.CanonicalURL)
	bonus := float64(depth * pathDepthBonusPerSegment)
	if bonus > pathDepthBonusCap {
		bonus = pathDepthBonusCap
	}
	score += bonus

	if articlePathPattern.MatchString(c.CanonicalURL) {
		score += articlePatternBonus
	}

	if seenBefore {
		score -= cfg.DuplicatePenalty
	}
	if sourceCount >= cfg.SameSourceFreeQuota {
		score -= cfg.SameSourceDownrank
	}
	return score
}

func pathDepth(canonicalURL string) int {
	idx := strings.Index(canonicalURL, "://")
	if idx < 0 {
		return 0
	}
	rest := canonicalURL[idx+3:]
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return 0
	}
	path := strings.Trim(rest[slash:], "/")
	if qi := strings.Index(path, "?"); qi >= 0 {
		path = path[:qi]
	}
	if path == "" {
		return 0
	}
	return strings.Count(path, "/") + 1
}
