package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/patchwork-dev/patchcrawl/internal/clock/system"
	"github.com/patchwork-dev/patchcrawl/internal/crawl"
	"github.com/patchwork-dev/patchcrawl/internal/dedup"
	"github.com/patchwork-dev/patchcrawl/internal/id/uuid"
	"github.com/patchwork-dev/patchcrawl/internal/metrics"
	"github.com/patchwork-dev/patchcrawl/internal/orchestrator"
	"github.com/patchwork-dev/patchcrawl/internal/ratelimit"
	"github.com/patchwork-dev/patchcrawl/internal/save"
	"github.com/patchwork-dev/patchcrawl/internal/score"
	"github.com/patchwork-dev/patchcrawl/internal/source"
	"github.com/patchwork-dev/patchcrawl/internal/storage/memory"
	"github.com/patchwork-dev/patchcrawl/internal/store"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type emptyFetcher struct{}

func (emptyFetcher) Fetch(_ context.Context, req crawl.FetchRequest) (crawl.FetchResult, error) {
	return crawl.FetchResult{URL: req.URL, StatusCode: 404, Reason: crawl.ReasonHTTP4xx}, nil
}

type alwaysRelevant struct{}

func (alwaysRelevant) Score(context.Context, crawl.ScoreRequest) (crawl.ScoreResult, error) {
	return crawl.ScoreResult{Score: 80, IsRelevant: true, IsActualArticle: true}, nil
}

type fixture struct {
	server   *Server
	runs     *memory.RunStore
	contents *memory.ContentStore
}

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	clk := system.New()
	ids := uuid.New()
	contents := memory.NewContentStore()
	runs := memory.NewRunStore()

	seen, err := dedup.NewSeenSet(0)
	require.NoError(t, err)

	orch := orchestrator.New(orchestrator.Deps{
		Pipeline: orchestrator.PipelineDeps{
			Fetcher:  emptyFetcher{},
			Limiter:  ratelimit.New(ratelimit.Config{}),
			Seen:     seen,
			NearDups: dedup.NewNearDupIndex(1000, 7),
			Engine:   score.NewEngine(alwaysRelevant{}, nil, score.Thresholds{}, logger),
			Saver:    save.New(contents, nil, nil, ids, clk, save.Config{}, logger),
			Logger:   logger,
		},
		Runs:    runs,
		Sources: []source.Source{source.WebSource{}},
		IDs:     ids,
		Clock:   clk,
		Logger:  logger,
	}, orchestrator.Config{
		Runner: orchestrator.RunnerConfig{
			Workers:           1,
			HeartbeatInterval: 20 * time.Millisecond,
			PollInterval:      5 * time.Millisecond,
		},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})

	return fixture{
		server:   NewServer(orch, contents, cfg, logger),
		runs:     runs,
		contents: contents,
	}
}

func doRequest(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, Config{})
	assert.Equal(t, http.StatusOK, doRequest(t, fx.server.Handler(), http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, doRequest(t, fx.server.Handler(), http.MethodGet, "/readyz", "").Code)
	assert.Equal(t, http.StatusOK, doRequest(t, fx.server.Handler(), http.MethodGet, "/metrics", "").Code)
}

func TestStartRunValidation(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, Config{})

	rec := doRequest(t, fx.server.Handler(), http.MethodPost, "/v1/patches/patch-1/runs", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, fx.server.Handler(), http.MethodPost, "/v1/patches/patch-1/runs",
		`{"seed_urls":["https://news.example/a"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing topic")
}

func TestStartRunQuotaConflict(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, Config{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, fx.runs.CreateRun(ctx, crawl.Run{
			ID: fmt.Sprintf("live-%d", i), PatchID: "patch-1", StartedAt: time.Now().UTC(),
		}))
	}

	rec := doRequest(t, fx.server.Handler(), http.MethodPost, "/v1/patches/patch-1/runs",
		`{"topic":"solar power","seed_urls":["https://news.example/a"]}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, Config{})

	rec := doRequest(t, fx.server.Handler(), http.MethodPost, "/v1/patches/patch-1/runs",
		`{"topic":"solar power","seed_urls":["https://news.example/a"],"max_pages":5}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var created struct {
		Run crawl.Run `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Run.ID)
	assert.Equal(t, crawl.RunStatusLive, created.Run.Status)

	rec = doRequest(t, fx.server.Handler(), http.MethodGet, "/v1/runs/"+created.Run.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, fx.server.Handler(), http.MethodPost, "/v1/runs/"+created.Run.ID+"/stop", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		run, err := fx.runs.GetRun(context.Background(), created.Run.ID)
		return err == nil && run.Status == crawl.RunStatusCompleted
	}, 10*time.Second, 20*time.Millisecond)
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, Config{})
	rec := doRequest(t, fx.server.Handler(), http.MethodGet, "/v1/runs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, fx.server.Handler(), http.MethodPost, "/v1/runs/nope/stop", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListContent(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, Config{})
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()
	for i := 0; i < 3; i++ {
		_, _, err := fx.contents.Upsert(ctx, store.DiscoveredContent{
			ID:           fmt.Sprintf("content-%d", i),
			PatchID:      "patch-1",
			URL:          fmt.Sprintf("https://news.example/%d", i),
			CanonicalURL: fmt.Sprintf("https://news.example/%d", i),
			Title:        fmt.Sprintf("Article %d", i),
			TextContent:  "full text stays out of the list payload",
			DiscoveredAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt:    base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	rec := doRequest(t, fx.server.Handler(), http.MethodGet, "/v1/patches/patch-1/content?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Items      []contentDTO `json:"items"`
		NextCursor string       `json:"next_cursor"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Items, 2)
	assert.Equal(t, "Article 2", page.Items[0].Title, "newest first")
	assert.NotEmpty(t, page.NextCursor)
	assert.NotContains(t, rec.Body.String(), "full text stays out")

	rec = doRequest(t, fx.server.Handler(), http.MethodGet,
		"/v1/patches/patch-1/content?limit=2&cursor="+page.NextCursor, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Article 0", page.Items[0].Title)
	assert.Empty(t, page.NextCursor)

	rec = doRequest(t, fx.server.Handler(), http.MethodGet, "/v1/patches/patch-1/content?limit=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIKeyGuardsV1Only(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, Config{APIKey: "sekrit"})

	assert.Equal(t, http.StatusOK, doRequest(t, fx.server.Handler(), http.MethodGet, "/healthz", "").Code)

	rec := doRequest(t, fx.server.Handler(), http.MethodGet, "/v1/patches/patch-1/content", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/patches/patch-1/content", nil)
	req.Header.Set("X-API-Key", "sekrit")
	out := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(out, req)
	assert.Equal(t, http.StatusOK, out.Code)
}
