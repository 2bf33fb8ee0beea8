// Package detector decides when to escalate fetches to the headless branch.
package detector

import (
	"bytes"
	"strings"

	"github.com/patchwork-dev/patchcrawl/internal/canonical"
	"github.com/patchwork-dev/patchcrawl/internal/crawl"
)

// Heuristic implements rule-based headless promotion: known JS-rendered
// hosts always promote, otherwise thin script-heavy documents and SPA
// shells do.
type Heuristic struct {
	BodyLengthThreshold int
	jsHosts             map[string]struct{}
}

// NewHeuristic creates a new detector. jsRequiredDomains lists hosts known
// to need JavaScript rendering.
func NewHeuristic(threshold int, jsRequiredDomains []string) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	hosts := make(map[string]struct{}, len(jsRequiredDomains))
	for _, d := range jsRequiredDomains {
		hosts[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	return &Heuristic{BodyLengthThreshold: threshold, jsHosts: hosts}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// ShouldPromote decides whether a headless fetch is required.
func (h *Heuristic) ShouldPromote(probe crawl.FetchResult) bool {
	if _, known := h.jsHosts[canonical.Domain(probe.URL)]; known {
		return true
	}
	if probe.StatusCode != 200 {
		return false
	}
	body := probe.Body
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether script tags cover at least a quarter of
// the document.
func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Treat the rest of the document as part of the malformed script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			// Script tag never closes; count the rest.
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	if scriptCoverage == 0 {
		return false
	}
	return scriptCoverage*100/total >= 25
}
