package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/patchwork-dev/patchcrawl/internal/canonical"
	"github.com/patchwork-dev/patchcrawl/internal/crawl"
)

// SearchAPIConfig configures the web search discovery source.
type SearchAPIConfig struct {
	Endpoint   string
	APIKey     string
	MaxResults int
	Timeout    time.Duration
}

// SearchAPISource discovers candidates by querying an external search API
// with the run's topic and keywords.
type SearchAPISource struct {
	cfg        SearchAPIConfig
	httpClient *http.Client
}

// NewSearchAPISource builds the source from configuration.
func NewSearchAPISource(cfg SearchAPIConfig) *SearchAPISource {
	if cfg.MaxResults == 0 {
		cfg.MaxResults = 20
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &SearchAPISource{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Kind implements Source.
func (*SearchAPISource) Kind() crawl.SourceKind { return crawl.SourceSearchAPI }

type searchResponse struct {
	Results []struct {
		URL   string `json:"url"`
		Title string `json:"title"`
	} `json:"results"`
}

// Discover queries the search endpoint for the run's topic. Keywords are
// appended to sharpen the query.
func (s *SearchAPISource) Discover(ctx context.Context, cfg crawl.RunConfig) ([]crawl.Candidate, error) {
	if s.cfg.Endpoint == "" || s.cfg.APIKey == "" {
		return nil, fmt.Errorf("search api source is not configured")
	}
	query := cfg.Topic
	for _, kw := range cfg.Keywords {
		query += " " + kw
	}

	endpoint := fmt.Sprintf("%s?q=%s&limit=%d", s.cfg.Endpoint, url.QueryEscape(query), s.cfg.MaxResults)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("new search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search call: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search endpoint returned %s", resp.Status)
	}
	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]crawl.Candidate, 0, len(payload.Results))
	for _, r := range payload.Results {
		canonicalURL, err := canonical.Canonicalize(r.URL, "")
		if err != nil {
			continue
		}
		out = append(out, crawl.Candidate{
			URL:          r.URL,
			CanonicalURL: canonicalURL,
			Domain:       canonical.Domain(r.URL),
			Source:       crawl.SourceSearchAPI,
			Title:        r.Title,
		})
	}
	return out, nil
}
