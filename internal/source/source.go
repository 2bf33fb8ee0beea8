// Package source produces frontier candidates from the configured
// discovery strategies.
package source

import (
	"context"
	"strings"

	"github.com/patchwork-dev/patchcrawl/internal/canonical"
	"github.com/patchwork-dev/patchcrawl/internal/crawl"
)

// Source discovers candidate URLs for a run. Discover is called at run
// start and again on every reseed.
type Source interface {
	Kind() crawl.SourceKind
	Discover(ctx context.Context, cfg crawl.RunConfig) ([]crawl.Candidate, error)
}

// WebSource turns the run's configured seed URLs into candidates.
// Wikipedia seeds are excluded here; the citation scanner owns those.
type WebSource struct{}

// Kind implements Source.
func (WebSource) Kind() crawl.SourceKind { return crawl.SourceWeb }

// Discover canonicalizes the run's seed URLs.
func (WebSource) Discover(_ context.Context, cfg crawl.RunConfig) ([]crawl.Candidate, error) {
	var out []crawl.Candidate
	for _, seed := range cfg.SeedURLs {
		if IsWikipediaURL(seed) {
			continue
		}
		canonicalURL, err := canonical.Canonicalize(seed, "")
		if err != nil {
			continue
		}
		out = append(out, crawl.Candidate{
			URL:          seed,
			CanonicalURL: canonicalURL,
			Domain:       canonical.Domain(seed),
			Source:       crawl.SourceWeb,
		})
	}
	return out, nil
}

// IsWikipediaURL reports whether the URL belongs to a Wikipedia project.
func IsWikipediaURL(rawURL string) bool {
	domain := canonical.Domain(rawURL)
	return domain == "wikipedia.org" || strings.HasSuffix(domain, ".wikipedia.org")
}
