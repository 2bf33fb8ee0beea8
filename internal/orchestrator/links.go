package orchestrator

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/patchwork-dev/patchcrawl/internal/blocklist"
	"github.com/patchwork-dev/patchcrawl/internal/canonical"
	"github.com/patchwork-dev/patchcrawl/internal/crawl"
)

const maxLinksPerPage = 30

// discoveredLink is an outbound anchor harvested from a fetched page.
type discoveredLink struct {
	candidate crawl.Candidate
	wikipedia bool
}

// harvestLinks pulls outbound anchors from a fetched page for deep
// crawling. Links are resolved against the page URL, canonicalized, and
// filtered through the blocklist; duplicates within the page collapse to
// one entry. Wikipedia links are flagged so the caller can route them to
// the citation scanner instead of the frontier.
func harvestLinks(pageURL string, body []byte, depth int, source crawl.SourceKind, blocked *blocklist.Blocklist) []discoveredLink {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var out []discoveredLink
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return true
		}
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return true
		}
		resolved.Fragment = ""
		raw := resolved.String()

		canonicalURL, err := canonical.Canonicalize(raw, "")
		if err != nil {
			return true
		}
		if _, dup := seen[canonicalURL]; dup {
			return true
		}
		domain := canonical.Domain(raw)
		if blocked.IsBlocked(domain) {
			return true
		}

		seen[canonicalURL] = struct{}{}
		out = append(out, discoveredLink{
			candidate: crawl.Candidate{
				URL:          raw,
				CanonicalURL: canonicalURL,
				Domain:       domain,
				Depth:        depth,
				Source:       source,
				Title:        strings.TrimSpace(sel.Text()),
			},
			wikipedia: domain == "wikipedia.org" || strings.HasSuffix(domain, ".wikipedia.org"),
		})
		return len(out) < maxLinksPerPage
	})
	return out
}
