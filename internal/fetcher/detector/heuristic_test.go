package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/patchwork-dev/patchcrawl/internal/crawl"
)

func result(url string, status int, body string) crawl.FetchResult {
	return crawl.FetchResult{URL: url, StatusCode: status, Body: []byte(body)}
}

func TestShouldPromoteKnownJSHost(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0, []string{"spa.example"})
	assert.True(t, h.ShouldPromote(result("https://spa.example/page", 200,
		"<html><body>plenty of static content here</body></html>")))
	// Known hosts promote even on non-200 probes.
	assert.True(t, h.ShouldPromote(result("https://spa.example/page", 403, "")))
}

func TestShouldPromoteEmptyBody(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0, nil)
	assert.True(t, h.ShouldPromote(result("https://site.example", 200, "")))
	assert.False(t, h.ShouldPromote(result("https://site.example", 404, "")),
		"non-200 probes never promote")
}

func TestShouldPromoteSPAMarkers(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0, nil)
	assert.True(t, h.ShouldPromote(result("https://site.example", 200,
		`<html><body><div id="root"></div></body></html>`)))
	assert.False(t, h.ShouldPromote(result("https://site.example", 200,
		"<html><body>"+strings.Repeat("real text ", 300)+"</body></html>")))
}

func TestShouldPromoteScriptHeavyThinPage(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(2048, nil)
	thin := "<html><head><script>window.bootstrap={data:1}</script></head><body>hi</body></html>"
	assert.True(t, h.ShouldPromote(result("https://site.example", 200, thin)))
}

func TestScriptDensity(t *testing.T) {
	t.Parallel()

	assert.False(t, scriptDensityHigh([]byte("<html><body>no scripts at all</body></html>")))
	assert.True(t, scriptDensityHigh([]byte("<script>var a=1;var b=2;var c=3;</script><p>x</p>")))
	assert.False(t, scriptDensityHigh(nil))
}
