// Package extract turns raw fetched HTML into normalized article text and
// gates it through the validation chain.
package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/patchwork-dev/patchcrawl/internal/crawl"
)

// Extraction method names recorded for observability.
const (
	MethodReadability = "readability"
	MethodStructured  = "structured"
	MethodRaw         = "raw"
)

// minUsefulChars is the floor below which an extractor branch's output is
// considered trivial and the next branch is tried.
const minUsefulChars = 200

// containerSelectors are tried in order by the readability branch.
var containerSelectors = []string{
	"article",
	"main",
	"[role=main]",
	"#content",
	".article-body",
	".post-content",
	".entry-content",
}

// noiseSelectors are removed before text is collected.
var noiseSelectors = []string{
	"script", "style", "nav", "header", "footer", "aside",
	"form", "noscript", "iframe", ".advertisement", ".sidebar",
	".comments", ".related", ".share", ".cookie-banner",
}

// Extract runs the three-branch extraction chain: a readability-style
// main-content heuristic, then structured metadata (JSON-LD articleBody),
// then a raw tag-stripping fallback. The first branch producing
// non-trivial text wins and its method is recorded.
func Extract(rawBody []byte) (crawl.ExtractedText, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(rawBody))
	if err != nil {
		return crawl.ExtractedText{}, fmt.Errorf("parse html: %w", err)
	}

	title := extractTitle(doc)

	if text := readabilityText(doc); len(text) >= minUsefulChars {
		return crawl.ExtractedText{Text: text, Title: title, Method: MethodReadability}, nil
	}
	if text := structuredText(doc); len(text) >= minUsefulChars {
		return crawl.ExtractedText{Text: text, Title: title, Method: MethodStructured}, nil
	}
	text, err := rawText(rawBody)
	if err != nil {
		return crawl.ExtractedText{}, err
	}
	return crawl.ExtractedText{Text: text, Title: title, Method: MethodRaw}, nil
}

func extractTitle(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && og != "" {
		return strings.TrimSpace(og)
	}
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

// readabilityText picks the densest content container and joins its
// paragraphs with blank lines, preserving the paragraph structure the
// validator counts.
func readabilityText(doc *goquery.Document) string {
	working := doc.Clone()
	working.Find(strings.Join(noiseSelectors, ", ")).Remove()

	var best *goquery.Selection
	bestLen := 0
	for _, selector := range containerSelectors {
		working.Find(selector).Each(func(_ int, s *goquery.Selection) {
			if l := len(paragraphText(s)); l > bestLen {
				best = s
				bestLen = l
			}
		})
		if best != nil {
			break
		}
	}
	if best == nil {
		body := working.Find("body")
		if paragraphCount(body) >= 3 {
			best = body
		}
	}
	if best == nil {
		return ""
	}
	return paragraphText(best)
}

func paragraphText(s *goquery.Selection) string {
	var paragraphs []string
	s.Find("p, h2, h3, li, blockquote").Each(func(_ int, p *goquery.Selection) {
		text := normalizeSpace(p.Text())
		if text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	return strings.Join(paragraphs, "\n\n")
}

func paragraphCount(s *goquery.Selection) int {
	count := 0
	s.Find("p").Each(func(_ int, p *goquery.Selection) {
		if normalizeSpace(p.Text()) != "" {
			count++
		}
	})
	return count
}

// structuredText pulls articleBody out of JSON-LD blocks.
func structuredText(doc *goquery.Document) string {
	var body string
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var payload map[string]any
		if err := json.Unmarshal([]byte(s.Text()), &payload); err != nil {
			return true
		}
		if text, ok := payload["articleBody"].(string); ok && text != "" {
			body = normalizeParagraphs(text)
			return false
		}
		return true
	})
	return body
}

// rawText walks the HTML tree and collects all visible text, the last
// resort when no structure is recognizable.
func rawText(rawBody []byte) (string, error) {
	node, err := html.Parse(bytes.NewReader(rawBody))
	if err != nil {
		return "", fmt.Errorf("parse html for raw extraction: %w", err)
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "head":
				return
			case "p", "div", "br", "h1", "h2", "h3", "li":
				b.WriteString("\n")
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	return normalizeParagraphs(b.String()), nil
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// normalizeParagraphs collapses whitespace within lines while keeping
// blank-line paragraph separators.
func normalizeParagraphs(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := true
	for _, line := range lines {
		line = normalizeSpace(line)
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
