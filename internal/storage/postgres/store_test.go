package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchwork-dev/patchcrawl/internal/crawl"
	"github.com/patchwork-dev/patchcrawl/internal/store"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestUpsertContentInsertThenUpdate(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s, err := NewContentStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	content := store.DiscoveredContent{
		ID:           "0191-content-uuid",
		PatchID:      "patch-1",
		URL:          "https://news.example/story?utm_source=x",
		CanonicalURL: "https://news.example/story",
		Title:        "Story",
		ContentHash:  "abc123",
		SimHash:      42,
		Source:       "web",
		DiscoveredAt: now,
	}

	// First save inserts, second save of the same (patch, canonical URL)
	// updates in place and reports inserted=false. Nil fact/quote/metadata
	// collections marshal to JSON null.
	args := []any{
		content.ID, content.PatchID, content.URL, content.CanonicalURL,
		content.Title, "", "", content.ContentHash, int64(42), 0, 0, "web",
		[]byte("null"), []byte("null"), []byte("null"), now,
	}
	mock.ExpectQuery("INSERT INTO discovered_content").
		WithArgs(args...).
		WillReturnRows(pgxmock.NewRows([]string{"id", "inserted"}).AddRow(content.ID, true))
	mock.ExpectQuery("INSERT INTO discovered_content").
		WithArgs(args...).
		WillReturnRows(pgxmock.NewRows([]string{"id", "inserted"}).AddRow(content.ID, false))

	id, inserted, err := s.Upsert(context.Background(), content)
	require.NoError(t, err)
	assert.Equal(t, content.ID, id)
	assert.True(t, inserted)

	id, inserted, err = s.Upsert(context.Background(), content)
	require.NoError(t, err)
	assert.Equal(t, content.ID, id)
	assert.False(t, inserted)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertContentRequiresKeys(t *testing.T) {
	t.Parallel()

	s, err := NewContentStore(newMock(t))
	require.NoError(t, err)

	_, _, err = s.Upsert(context.Background(), store.DiscoveredContent{ID: "x", PatchID: "p"})
	assert.Error(t, err, "missing canonical url must be rejected before hitting the database")
}

func TestGetContentNotFound(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s, err := NewContentStore(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT .+ FROM discovered_content").
		WithArgs("patch-1", "https://gone.example/").
		WillReturnError(pgx.ErrNoRows)

	_, err = s.GetByCanonicalURL(context.Background(), "patch-1", "https://gone.example/")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListContentPagination(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s, err := NewContentStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"id", "patch_id", "url", "canonical_url", "title", "summary",
		"text_content", "content_hash", "sim_hash", "relevance_score",
		"quality_score", "source", "facts", "quotes", "metadata",
		"discovered_at", "updated_at",
	})
	// limit+1 rows come back, so a next cursor must be produced.
	for i := 0; i < 3; i++ {
		rows.AddRow(
			"id-"+string(rune('a'+i)), "patch-1", "https://a.example", "https://a.example",
			"t", "", "", "h", int64(1), 80, 70, "web",
			[]byte(`["f"]`), []byte(`[]`), []byte(`{}`), now, now,
		)
	}
	mock.ExpectQuery("SELECT .+ FROM discovered_content").
		WithArgs("patch-1", maxCursorTime, "ffffffff-ffff-ffff-ffff-ffffffffffff", 3).
		WillReturnRows(rows)

	page, err := s.ListByPatch(context.Background(), "patch-1", "", 2)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.NotEmpty(t, page.NextCursor)
	assert.Equal(t, []string{"f"}, page.Items[0].Facts)
}

func TestCursorRoundTrip(t *testing.T) {
	t.Parallel()

	at := time.Unix(1700000000, 123456789).UTC()
	cursor := encodeCursor(at, "row-id")
	gotAt, gotID, err := decodeCursor(cursor)
	require.NoError(t, err)
	assert.True(t, at.Equal(gotAt))
	assert.Equal(t, "row-id", gotID)

	_, _, err = decodeCursor("not-base64!!!")
	assert.Error(t, err)
}

func TestClaimPendingPageNonePending(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s, err := NewWikiStore(mock)
	require.NoError(t, err)

	mock.ExpectQuery("UPDATE wikipedia_pages SET scan_status = 'scanning'").
		WithArgs("patch-1").
		WillReturnError(pgx.ErrNoRows)

	_, err = s.ClaimPendingPage(context.Background(), "patch-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCompletePageRequiresScanningState(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s, err := NewWikiStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	// A page already terminal matches no row: completed is sticky.
	mock.ExpectExec("UPDATE wikipedia_pages").
		WithArgs(5, 4, now, "page-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = s.CompletePage(context.Background(), "page-1", 5, 4, now)
	assert.Error(t, err)
}

func TestInsertCitationsSkipsDuplicates(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s, err := NewWikiStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	citations := []store.WikipediaCitation{
		{ID: "c1", PageID: "p1", PatchID: "patch-1", URL: "https://a.example", CanonicalURL: "https://a.example", Kind: store.KindReference, CreatedAt: now},
		{ID: "c2", PageID: "p1", PatchID: "patch-1", URL: "https://a.example", CanonicalURL: "https://a.example", Kind: store.KindReference, CreatedAt: now},
	}
	mock.ExpectExec("INSERT INTO wikipedia_citations").
		WithArgs("c1", "p1", "patch-1", "https://a.example", "https://a.example", "", store.KindReference, 0, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO wikipedia_citations").
		WithArgs("c2", "p1", "patch-1", "https://a.example", "https://a.example", "", store.KindReference, 0, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := s.InsertCitations(context.Background(), citations)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
}

func TestNextCitationClaimsAndMarks(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s, err := NewWikiStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"id", "page_id", "patch_id", "url", "canonical_url", "title", "kind",
		"depth", "scan_status", "relevance", "save_status", "scanned_at", "created_at",
	}).AddRow(
		"c1", "p1", "patch-1", "https://cited.example", "https://cited.example",
		"Cited", "reference", 1, "scanned", "unknown", "not_saved", &now, now,
	)
	mock.ExpectQuery("UPDATE wikipedia_citations SET scan_status = 'scanned'").
		WithArgs("patch-1", now).
		WillReturnRows(rows)

	citation, err := s.NextCitation(context.Background(), "patch-1", now)
	require.NoError(t, err)
	assert.Equal(t, "c1", citation.ID)
	assert.Equal(t, store.CitationScanned, citation.ScanStatus)
}

func TestSetCitationOutcome(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s, err := NewWikiStore(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE wikipedia_citations SET scan_status").
		WithArgs(store.CitationScanned, store.RelevanceRelevant, store.CitationSaved, "c1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = s.SetCitationOutcome(context.Background(), "c1",
		store.CitationScanned, store.RelevanceRelevant, store.CitationSaved)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunHeartbeatOnlyLive(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s, err := NewRunStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	counters := crawl.RunCounters{Fetched: 10}
	payload, err := json.Marshal(counters)
	require.NoError(t, err)
	mock.ExpectExec("UPDATE crawl_runs SET counters").
		WithArgs(payload, now, "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = s.Heartbeat(context.Background(), "run-1", counters, now)
	assert.ErrorIs(t, err, store.ErrNotFound, "a terminal run accepts no heartbeat")
}

func TestRunSetStatusTerminalIsSticky(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s, err := NewRunStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("UPDATE crawl_runs").
		WithArgs(crawl.RunStatusLive, now, "", "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = s.SetStatus(context.Background(), "run-1", crawl.RunStatusLive, "", now)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateAndGetRun(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s, err := NewRunStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	run := crawl.Run{
		ID:        "run-1",
		PatchID:   "patch-1",
		StartedAt: now,
		Config:    crawl.RunConfig{Topic: "solar power", MaxDepth: 2},
	}

	config, err := json.Marshal(run.Config)
	require.NoError(t, err)
	counters, err := json.Marshal(run.Counters)
	require.NoError(t, err)
	mock.ExpectExec("INSERT INTO crawl_runs").
		WithArgs("run-1", "patch-1", crawl.RunStatusLive, now, config, counters).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.CreateRun(context.Background(), run))

	mock.ExpectQuery("SELECT .+ FROM crawl_runs").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "patch_id", "status", "started_at", "heartbeat_at",
			"completed_at", "error_text", "config", "counters",
		}).AddRow(
			"run-1", "patch-1", "live", now, now, nil, nil,
			[]byte(`{"topic":"solar power","max_depth":2,"max_pages":0,"seed_urls":null,"headless_allowed":false,"respect_robots":false}`),
			[]byte(`{"fetched":3,"enqueued":0,"deduped":0,"skipped":0,"persisted":0,"errors":0,"queue_length":0}`),
		))

	got, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, crawl.RunStatusLive, got.Status)
	assert.Equal(t, "solar power", got.Config.Topic)
	assert.Equal(t, int64(3), got.Counters.Fetched)
}
