// Package wiki monitors Wikipedia pages and crawls their citations.
package wiki

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/patchwork-dev/patchcrawl/internal/blocklist"
	"github.com/patchwork-dev/patchcrawl/internal/canonical"
	"github.com/patchwork-dev/patchcrawl/internal/store"
)

// ExtractedCitation is one external link lifted from a monitored page.
type ExtractedCitation struct {
	URL   string
	Title string
	Kind  store.CitationKind
}

// PageLinks is everything link-shaped found on one page: external
// citations to crawl, and same-wiki article links to monitor next.
type PageLinks struct {
	Citations []ExtractedCitation
	Subpages  []string
}

// wikiNamespaces are /wiki/ paths that are not articles.
var wikiNamespaces = []string{
	"File:", "Image:", "Template:", "Template_talk:", "Category:",
	"Help:", "Special:", "Talk:", "Wikipedia:", "Portal:", "Draft:",
	"Module:", "MediaWiki:", "Book:", "User:", "User_talk:",
}

// ExtractLinks pulls citations from the references, further reading, and
// external links sections, plus same-wiki article links for deeper
// monitoring. Citations on blocked hosts or pointing back into the wiki
// are dropped; the first section a URL appears in fixes its kind.
func ExtractLinks(pageURL string, body []byte, filter *blocklist.Blocklist) (PageLinks, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return PageLinks{}, fmt.Errorf("parse wiki page: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return PageLinks{}, fmt.Errorf("parse page url: %w", err)
	}

	var links PageLinks
	seen := make(map[string]struct{})

	collect := func(s *goquery.Selection, kind store.CitationKind) {
		s.Each(func(_ int, a *goquery.Selection) {
			href, ok := a.Attr("href")
			if !ok {
				return
			}
			citation, ok := buildCitation(href, a.Text(), kind, base, filter)
			if !ok {
				return
			}
			key := canonical.URLHash(citation.URL)
			if _, dup := seen[key]; dup {
				return
			}
			seen[key] = struct{}{}
			links.Citations = append(links.Citations, citation)
		})
	}

	collect(doc.Find("ol.references a.external[href], div.reflist a.external[href]"), store.KindReference)
	collect(sectionLinks(doc, "further reading"), store.KindFurtherReading)
	collect(sectionLinks(doc, "external links"), store.KindExternalLink)

	links.Subpages = subpageLinks(doc, base)
	return links, nil
}

func buildCitation(href, text string, kind store.CitationKind, base *url.URL, filter *blocklist.Blocklist) (ExtractedCitation, bool) {
	u, err := base.Parse(href)
	if err != nil {
		return ExtractedCitation{}, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ExtractedCitation{}, false
	}
	host := strings.ToLower(u.Hostname())
	// A link back into any wiki project is navigation, not a citation.
	if strings.Contains(host, "wikipedia.org") || strings.Contains(host, "wikimedia.org") ||
		strings.Contains(host, "wikidata.org") || strings.Contains(host, "wiktionary.org") {
		return ExtractedCitation{}, false
	}
	if filter.IsBlocked(host) {
		return ExtractedCitation{}, false
	}
	return ExtractedCitation{
		URL:   u.String(),
		Title: strings.TrimSpace(text),
		Kind:  kind,
	}, true
}

// sectionLinks returns the external anchors between a heading whose text
// matches title and the next heading. Headings may be bare h2/h3 elements
// or wrapped in a .mw-heading container.
func sectionLinks(doc *goquery.Document, title string) *goquery.Selection {
	result := doc.Find("nothing")
	doc.Find("h2, h3").EachWithBreak(func(_ int, h *goquery.Selection) bool {
		if !strings.EqualFold(strings.TrimSpace(h.Text()), title) {
			return true
		}
		start := h
		if parent := h.Parent(); parent.HasClass("mw-heading") {
			start = parent
		}
		section := start.NextUntil("h2, h3, .mw-heading")
		result = section.Find(`a[href^="http"], a.external[href]`)
		return false
	})
	return result
}

const maxSubpages = 50

// subpageLinks collects same-wiki article links from the page body,
// skipping non-article namespaces.
func subpageLinks(doc *goquery.Document, base *url.URL) []string {
	var out []string
	seen := make(map[string]struct{})
	doc.Find(`a[href^="/wiki/"]`).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		slug := strings.TrimPrefix(href, "/wiki/")
		for _, ns := range wikiNamespaces {
			if strings.HasPrefix(slug, ns) {
				return true
			}
		}
		u, err := base.Parse(href)
		if err != nil {
			return true
		}
		u.Fragment = ""
		link := u.String()
		if _, dup := seen[link]; dup {
			return true
		}
		seen[link] = struct{}{}
		out = append(out, link)
		return len(out) < maxSubpages
	})
	return out
}
