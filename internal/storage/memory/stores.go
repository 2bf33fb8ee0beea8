package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/patchwork-dev/patchcrawl/internal/crawl"
	"github.com/patchwork-dev/patchcrawl/internal/store"
)

type contentKey struct {
	patchID      string
	canonicalURL string
}

// ContentStore is an in-memory store.ContentRepository.
type ContentStore struct {
	mu   sync.RWMutex
	rows map[contentKey]store.DiscoveredContent
}

// NewContentStore constructs an empty content store.
func NewContentStore() *ContentStore {
	return &ContentStore{rows: make(map[contentKey]store.DiscoveredContent)}
}

// Upsert saves content keyed by (patch, canonical URL). A repeat save
// keeps the original ID and DiscoveredAt.
func (s *ContentStore) Upsert(_ context.Context, content store.DiscoveredContent) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := contentKey{content.PatchID, content.CanonicalURL}
	if existing, ok := s.rows[key]; ok {
		content.ID = existing.ID
		content.DiscoveredAt = existing.DiscoveredAt
		s.rows[key] = content
		return existing.ID, false, nil
	}
	s.rows[key] = content
	return content.ID, true, nil
}

// GetByCanonicalURL loads a row or returns store.ErrNotFound.
func (s *ContentStore) GetByCanonicalURL(_ context.Context, patchID, canonicalURL string) (store.DiscoveredContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	content, ok := s.rows[contentKey{patchID, canonicalURL}]
	if !ok {
		return store.DiscoveredContent{}, store.ErrNotFound
	}
	return content, nil
}

// ListByPatch pages newest first; the cursor is the last returned ID.
func (s *ContentStore) ListByPatch(_ context.Context, patchID, cursor string, limit int) (store.ContentPage, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	var all []store.DiscoveredContent
	for key, content := range s.rows {
		if key.patchID == patchID {
			all = append(all, content)
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].DiscoveredAt.Equal(all[j].DiscoveredAt) {
			return all[i].DiscoveredAt.After(all[j].DiscoveredAt)
		}
		return all[i].ID > all[j].ID
	})

	start := 0
	if cursor != "" {
		for i, content := range all {
			if content.ID == cursor {
				start = i + 1
				break
			}
		}
	}
	if start >= len(all) {
		return store.ContentPage{}, nil
	}

	end := start + limit
	page := store.ContentPage{}
	if end >= len(all) {
		page.Items = all[start:]
	} else {
		page.Items = all[start:end]
		page.NextCursor = page.Items[len(page.Items)-1].ID
	}
	return page, nil
}

// WikiStore is an in-memory store.WikiRepository.
type WikiStore struct {
	mu        sync.Mutex
	pages     map[string]store.WikipediaPage
	citations map[string]store.WikipediaCitation
}

// NewWikiStore constructs an empty wiki store.
func NewWikiStore() *WikiStore {
	return &WikiStore{
		pages:     make(map[string]store.WikipediaPage),
		citations: make(map[string]store.WikipediaCitation),
	}
}

// UpsertPage registers a page; an existing (patch, url) pair keeps its
// state and returns the original ID.
func (s *WikiStore) UpsertPage(_ context.Context, page store.WikipediaPage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.pages {
		if existing.PatchID == page.PatchID && existing.PageURL == page.PageURL {
			return existing.ID, nil
		}
	}
	if page.ScanStatus == "" {
		page.ScanStatus = store.PagePending
	}
	s.pages[page.ID] = page
	return page.ID, nil
}

// ClaimPendingPage moves the oldest pending page to scanning.
func (s *WikiStore) ClaimPendingPage(_ context.Context, patchID string) (store.WikipediaPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *store.WikipediaPage
	for id := range s.pages {
		page := s.pages[id]
		if page.PatchID != patchID || page.ScanStatus != store.PagePending {
			continue
		}
		if best == nil || page.CreatedAt.Before(best.CreatedAt) {
			best = &page
		}
	}
	if best == nil {
		return store.WikipediaPage{}, store.ErrNotFound
	}
	best.ScanStatus = store.PageScanning
	s.pages[best.ID] = *best
	return *best, nil
}

// CompletePage finalizes a scanning page.
func (s *WikiStore) CompletePage(_ context.Context, pageID string, found, processed int, at time.Time) error {
	return s.finishPage(pageID, store.PageCompleted, "", found, processed, at)
}

// FailPage records the terminal error state.
func (s *WikiStore) FailPage(_ context.Context, pageID string, message string, at time.Time) error {
	return s.finishPage(pageID, store.PageError, message, 0, 0, at)
}

func (s *WikiStore) finishPage(pageID string, status store.PageScanStatus, message string, found, processed int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	page, ok := s.pages[pageID]
	if !ok || page.ScanStatus != store.PageScanning {
		return store.ErrNotFound
	}
	page.ScanStatus = status
	page.CitationsFound = found
	page.CitationsProcessed = processed
	page.LastScannedAt = &at
	if message != "" {
		page.ErrorMessage = &message
	}
	s.pages[pageID] = page
	return nil
}

// GetPage returns a page for test assertions.
func (s *WikiStore) GetPage(pageID string) (store.WikipediaPage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[pageID]
	return page, ok
}

// InsertCitations stores citations, skipping (page, canonical URL)
// duplicates.
func (s *WikiStore) InsertCitations(_ context.Context, citations []store.WikipediaCitation) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, c := range citations {
		dup := false
		for _, existing := range s.citations {
			if existing.PageID == c.PageID && existing.CanonicalURL == c.CanonicalURL {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		if c.ScanStatus == "" {
			c.ScanStatus = store.CitationNotScanned
		}
		if c.Relevance == "" {
			c.Relevance = store.RelevanceUnknown
		}
		if c.SaveStatus == "" {
			c.SaveStatus = store.CitationNotSaved
		}
		s.citations[c.ID] = c
		inserted++
	}
	return inserted, nil
}

// NextCitation claims the oldest not_scanned citation atomically.
func (s *WikiStore) NextCitation(_ context.Context, patchID string, at time.Time) (store.WikipediaCitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *store.WikipediaCitation
	for id := range s.citations {
		c := s.citations[id]
		if c.PatchID != patchID || c.ScanStatus != store.CitationNotScanned {
			continue
		}
		if best == nil || c.CreatedAt.Before(best.CreatedAt) {
			best = &c
		}
	}
	if best == nil {
		return store.WikipediaCitation{}, store.ErrNotFound
	}
	best.ScanStatus = store.CitationScanned
	best.ScannedAt = &at
	s.citations[best.ID] = *best
	return *best, nil
}

// SetCitationOutcome records all three axes after processing.
func (s *WikiStore) SetCitationOutcome(
	_ context.Context,
	citationID string,
	scan store.CitationScanStatus,
	relevance store.CitationRelevance,
	save store.CitationSaveStatus,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.citations[citationID]
	if !ok {
		return store.ErrNotFound
	}
	c.ScanStatus = scan
	c.Relevance = relevance
	c.SaveStatus = save
	s.citations[citationID] = c
	return nil
}

// GetCitation returns a citation for test assertions.
func (s *WikiStore) GetCitation(citationID string) (store.WikipediaCitation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.citations[citationID]
	return c, ok
}

// RunStore is an in-memory store.RunRepository.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]crawl.Run
}

// NewRunStore constructs an empty run store.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]crawl.Run)}
}

// CreateRun inserts a new run in live status.
func (s *RunStore) CreateRun(_ context.Context, run crawl.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run.Status = crawl.RunStatusLive
	run.HeartbeatAt = run.StartedAt
	s.runs[run.ID] = run
	return nil
}

// Heartbeat updates counters for a live run.
func (s *RunStore) Heartbeat(_ context.Context, runID string, counters crawl.RunCounters, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok || run.Status != crawl.RunStatusLive {
		return store.ErrNotFound
	}
	run.Counters = counters
	run.HeartbeatAt = at
	s.runs[runID] = run
	return nil
}

// SetStatus transitions a non-terminal run.
func (s *RunStore) SetStatus(_ context.Context, runID string, status crawl.RunStatus, errText string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok || run.Status == crawl.RunStatusCompleted || run.Status == crawl.RunStatusError {
		return store.ErrNotFound
	}
	run.Status = status
	if errText != "" {
		run.ErrorText = errText
	}
	if status == crawl.RunStatusCompleted || status == crawl.RunStatusError {
		completed := at
		run.CompletedAt = &completed
	}
	s.runs[runID] = run
	return nil
}

// GetRun loads a run or returns store.ErrNotFound.
func (s *RunStore) GetRun(_ context.Context, runID string) (crawl.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return crawl.Run{}, store.ErrNotFound
	}
	return run, nil
}

// CountLiveRuns counts live runs for a patch.
func (s *RunStore) CountLiveRuns(_ context.Context, patchID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, run := range s.runs {
		if run.PatchID == patchID && run.Status == crawl.RunStatusLive {
			count++
		}
	}
	return count, nil
}
