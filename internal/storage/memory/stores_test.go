package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchwork-dev/patchcrawl/internal/crawl"
	"github.com/patchwork-dev/patchcrawl/internal/store"
)

func TestContentUpsertIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewContentStore()
	ctx := context.Background()
	now := time.Now().UTC()

	first := store.DiscoveredContent{
		ID: "id-1", PatchID: "p", CanonicalURL: "https://a.example/x",
		Title: "v1", DiscoveredAt: now,
	}
	id, inserted, err := s.Upsert(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, "id-1", id)

	second := first
	second.ID = "id-2"
	second.Title = "v2"
	id, inserted, err = s.Upsert(ctx, second)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, "id-1", id, "repeat save keeps the original row id")

	got, err := s.GetByCanonicalURL(ctx, "p", "https://a.example/x")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Title, "mutable fields update in place")
}

func TestContentUpsertConcurrentSameKey(t *testing.T) {
	t.Parallel()

	s := NewContentStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	inserts := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, inserted, err := s.Upsert(ctx, store.DiscoveredContent{
				ID: fmt.Sprintf("id-%d", i), PatchID: "p",
				CanonicalURL: "https://a.example/same",
				DiscoveredAt: time.Now().UTC(),
			})
			require.NoError(t, err)
			if inserted {
				mu.Lock()
				inserts++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, inserts, "exactly one concurrent save may insert")
}

func TestContentListPagination(t *testing.T) {
	t.Parallel()

	s := NewContentStore()
	ctx := context.Background()
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		_, _, err := s.Upsert(ctx, store.DiscoveredContent{
			ID:           fmt.Sprintf("id-%d", i),
			PatchID:      "p",
			CanonicalURL: fmt.Sprintf("https://a.example/%d", i),
			DiscoveredAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	page, err := s.ListByPatch(ctx, "p", "", 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "id-4", page.Items[0].ID, "newest first")
	require.NotEmpty(t, page.NextCursor)

	page, err = s.ListByPatch(ctx, "p", page.NextCursor, 10)
	require.NoError(t, err)
	assert.Len(t, page.Items, 3)
	assert.Empty(t, page.NextCursor)
}

func TestWikiPageLifecycle(t *testing.T) {
	t.Parallel()

	s := NewWikiStore()
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := s.UpsertPage(ctx, store.WikipediaPage{
		ID: "pg-1", PatchID: "p", PageURL: "https://en.wikipedia.org/wiki/Topic", CreatedAt: now,
	})
	require.NoError(t, err)

	claimed, err := s.ClaimPendingPage(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, store.PageScanning, claimed.ScanStatus)

	// Nothing else is pending.
	_, err = s.ClaimPendingPage(ctx, "p")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.CompletePage(ctx, "pg-1", 7, 5, now))
	page, ok := s.GetPage("pg-1")
	require.True(t, ok)
	assert.Equal(t, store.PageCompleted, page.ScanStatus)
	assert.Equal(t, 7, page.CitationsFound)

	// Terminal states are sticky.
	assert.Error(t, s.FailPage(ctx, "pg-1", "late failure", now))
}

func TestWikiCitationClaimNeverRepeats(t *testing.T) {
	t.Parallel()

	s := NewWikiStore()
	ctx := context.Background()
	now := time.Now().UTC()

	inserted, err := s.InsertCitations(ctx, []store.WikipediaCitation{
		{ID: "c1", PageID: "pg", PatchID: "p", CanonicalURL: "https://a.example", Kind: store.KindReference, CreatedAt: now},
		{ID: "c2", PageID: "pg", PatchID: "p", CanonicalURL: "https://a.example", Kind: store.KindReference, CreatedAt: now},
		{ID: "c3", PageID: "pg", PatchID: "p", CanonicalURL: "https://b.example", Kind: store.KindExternalLink, CreatedAt: now.Add(time.Second)},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, inserted, "duplicate canonical url on the same page is skipped")

	first, err := s.NextCitation(ctx, "p", now)
	require.NoError(t, err)
	assert.Equal(t, "c1", first.ID, "oldest first")

	second, err := s.NextCitation(ctx, "p", now)
	require.NoError(t, err)
	assert.Equal(t, "c3", second.ID)

	_, err = s.NextCitation(ctx, "p", now)
	assert.ErrorIs(t, err, store.ErrNotFound, "claimed citations are never re-selected")

	require.NoError(t, s.SetCitationOutcome(ctx, "c1",
		store.CitationScanned, store.RelevanceRelevant, store.CitationSaved))
	c, ok := s.GetCitation("c1")
	require.True(t, ok)
	assert.Equal(t, store.RelevanceRelevant, c.Relevance)
	assert.Equal(t, store.CitationSaved, c.SaveStatus)
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()

	s := NewRunStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.CreateRun(ctx, crawl.Run{ID: "r1", PatchID: "p", StartedAt: now}))

	count, err := s.CountLiveRuns(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, s.Heartbeat(ctx, "r1", crawl.RunCounters{Fetched: 2}, now.Add(time.Second)))
	run, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), run.Counters.Fetched)

	require.NoError(t, s.SetStatus(ctx, "r1", crawl.RunStatusCompleted, "", now.Add(time.Minute)))
	run, err = s.GetRun(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, run.CompletedAt)

	// Completed runs reject further transitions and heartbeats.
	assert.ErrorIs(t, s.SetStatus(ctx, "r1", crawl.RunStatusLive, "", now), store.ErrNotFound)
	assert.ErrorIs(t, s.Heartbeat(ctx, "r1", crawl.RunCounters{}, now), store.ErrNotFound)
}
