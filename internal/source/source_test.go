package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchwork-dev/patchcrawl/internal/crawl"
)

func TestWebSourceSkipsWikipediaSeeds(t *testing.T) {
	t.Parallel()

	candidates, err := WebSource{}.Discover(context.Background(), crawl.RunConfig{
		SeedURLs: []string{
			"https://news.example/topic?utm_campaign=x",
			"https://en.wikipedia.org/wiki/Topic",
			"://broken",
		},
	})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "https://news.example/topic", candidates[0].CanonicalURL)
	assert.Equal(t, "news.example", candidates[0].Domain)
	assert.Equal(t, crawl.SourceWeb, candidates[0].Source)
}

func TestIsWikipediaURL(t *testing.T) {
	t.Parallel()

	assert.True(t, IsWikipediaURL("https://en.wikipedia.org/wiki/Topic"))
	assert.True(t, IsWikipediaURL("https://de.wikipedia.org/wiki/Thema"))
	assert.False(t, IsWikipediaURL("https://wikipedia.org.evil.example/"))
	assert.False(t, IsWikipediaURL("https://news.example/wikipedia.org"))
}

func TestSearchAPIDiscover(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Contains(t, r.URL.Query().Get("q"), "solar power")
		fmt.Fprint(w, `{"results":[
			{"url":"https://news.example/solar?fbclid=abc","title":"Solar news"},
			{"url":"://broken","title":"skipped"}
		]}`)
	}))
	defer srv.Close()

	s := NewSearchAPISource(SearchAPIConfig{Endpoint: srv.URL, APIKey: "key"})
	candidates, err := s.Discover(context.Background(), crawl.RunConfig{
		Topic:    "solar power",
		Keywords: []string{"photovoltaic"},
	})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "https://news.example/solar", candidates[0].CanonicalURL)
	assert.Equal(t, crawl.SourceSearchAPI, candidates[0].Source)
	assert.Equal(t, "Solar news", candidates[0].Title)
}

func TestSearchAPIUnconfigured(t *testing.T) {
	t.Parallel()

	s := NewSearchAPISource(SearchAPIConfig{})
	_, err := s.Discover(context.Background(), crawl.RunConfig{Topic: "x"})
	assert.Error(t, err)
}
