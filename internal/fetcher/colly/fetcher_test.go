package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchwork-dev/patchcrawl/internal/crawl"
	"github.com/patchwork-dev/patchcrawl/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

func newTestFetcher() *Fetcher {
	return New(Config{
		UserAgent:   "patchcrawl-test/0.1",
		Timeout:     5 * time.Second,
		MaxRetries:  2,
		BackoffBase: time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
	})
}

func TestFetchUsesGetBodyWhenHeadRejected(t *testing.T) {
	t.Parallel()

	var gets int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusForbidden)
		case http.MethodGet:
			atomic.AddInt32(&gets, 1)
			_, _ = w.Write([]byte("<html><body>article body</body></html>"))
		}
	}))
	defer srv.Close()

	f := newTestFetcher()
	result, err := f.Fetch(context.Background(), crawl.FetchRequest{URL: srv.URL + "/story"})
	require.NoError(t, err)
	assert.Empty(t, result.Reason, "HEAD 403 must not discard a retrieved GET body")
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Contains(t, string(result.Body), "article body")
	assert.EqualValues(t, 1, atomic.LoadInt32(&gets), "exactly one GET expected")
}

func TestFetchClassifies404Terminal(t *testing.T) {
	t.Parallel()

	var gets int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			atomic.AddInt32(&gets, 1)
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := newTestFetcher()
	result, err := f.Fetch(context.Background(), crawl.FetchRequest{URL: srv.URL + "/missing"})
	require.NoError(t, err)
	assert.Equal(t, crawl.ReasonHTTP4xx, result.Reason)
	assert.EqualValues(t, 1, atomic.LoadInt32(&gets), "4xx must not be retried")
}

func TestFetchRetries5xx(t *testing.T) {
	t.Parallel()

	var gets int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			return
		}
		if atomic.AddInt32(&gets, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("<html>recovered</html>"))
	}))
	defer srv.Close()

	f := newTestFetcher()
	result, err := f.Fetch(context.Background(), crawl.FetchRequest{URL: srv.URL + "/flaky"})
	require.NoError(t, err)
	assert.Empty(t, result.Reason)
	assert.Contains(t, string(result.Body), "recovered")
	assert.EqualValues(t, 3, atomic.LoadInt32(&gets))
}

func TestFetchRobotsBlocked(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
			return
		}
		_, _ = w.Write([]byte("should never be fetched"))
	}))
	defer srv.Close()

	f := newTestFetcher()
	result, err := f.Fetch(context.Background(), crawl.FetchRequest{
		URL:           srv.URL + "/private/page",
		RespectRobots: true,
	})
	require.NoError(t, err)
	assert.Equal(t, crawl.ReasonRobotsBlocked, result.Reason)
	assert.Empty(t, result.Body)

	// Pages outside the disallowed prefix still fetch.
	allowed, err := f.Fetch(context.Background(), crawl.FetchRequest{
		URL:           srv.URL + "/public/page",
		RespectRobots: true,
	})
	require.NoError(t, err)
	assert.Empty(t, allowed.Reason)
}

func TestFetchEmptyBodyTerminal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newTestFetcher()
	result, err := f.Fetch(context.Background(), crawl.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, crawl.ReasonEmptyBody, result.Reason)
}

func TestGetFirstDomainSkipsProbe(t *testing.T) {
	t.Parallel()

	var heads int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			atomic.AddInt32(&heads, 1)
			return
		}
		_, _ = w.Write([]byte("<html>content</html>"))
	}))
	defer srv.Close()

	f := New(Config{
		Timeout:         5 * time.Second,
		GetFirstDomains: []string{"127.0.0.1"},
	})
	result, err := f.Fetch(context.Background(), crawl.FetchRequest{URL: srv.URL + "/page"})
	require.NoError(t, err)
	assert.Empty(t, result.Reason)
	assert.Zero(t, atomic.LoadInt32(&heads), "HEAD must be skipped for GET-first domains")
}
