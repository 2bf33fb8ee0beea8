package store

import (
	"context"
	"time"

	"github.com/patchwork-dev/patchcrawl/internal/crawl"
)

// ContentRepository persists discovered content idempotently.
type ContentRepository interface {
	// Upsert saves content keyed by (patch_id, canonical_url). A repeat
	// save of the same pair updates mutable fields in place. Returns the
	// stored row's ID and whether a new row was inserted.
	Upsert(ctx context.Context, content DiscoveredContent) (id string, inserted bool, err error)
	// GetByCanonicalURL loads a single row or returns ErrNotFound.
	GetByCanonicalURL(ctx context.Context, patchID, canonicalURL string) (DiscoveredContent, error)
	// ListByPatch returns a cursor-paginated page of content for a patch,
	// newest first. An empty cursor starts from the top.
	ListByPatch(ctx context.Context, patchID, cursor string, limit int) (ContentPage, error)
}

// WikiRepository persists Wikipedia pages and their citations.
type WikiRepository interface {
	// UpsertPage registers a page for monitoring; a page already known
	// for the patch keeps its current status.
	UpsertPage(ctx context.Context, page WikipediaPage) (string, error)
	// ClaimPendingPage atomically moves one pending page to scanning and
	// returns it, or ErrNotFound when none is pending. Terminal pages are
	// never returned.
	ClaimPendingPage(ctx context.Context, patchID string) (WikipediaPage, error)
	// CompletePage moves a scanning page to its terminal completed state
	// with final citation counts.
	CompletePage(ctx context.Context, pageID string, found, processed int, at time.Time) error
	// FailPage moves a scanning page to its terminal error state.
	FailPage(ctx context.Context, pageID string, message string, at time.Time) error

	// InsertCitations stores newly extracted citations, skipping any
	// (page_id, canonical_url) pair already present. Returns how many
	// rows were actually inserted.
	InsertCitations(ctx context.Context, citations []WikipediaCitation) (int, error)
	// NextCitation atomically claims one not_scanned citation for the
	// patch, marking it scanned, or returns ErrNotFound. A citation in a
	// terminal scan state is never re-selected.
	NextCitation(ctx context.Context, patchID string, at time.Time) (WikipediaCitation, error)
	// SetCitationOutcome records the relevance and save axes after
	// processing.
	SetCitationOutcome(ctx context.Context, citationID string, scan CitationScanStatus, relevance CitationRelevance, save CitationSaveStatus) error
}

// RunRepository persists crawl run lifecycle state.
type RunRepository interface {
	// CreateRun inserts a new run in live status.
	CreateRun(ctx context.Context, run crawl.Run) error
	// Heartbeat updates the run's counters and heartbeat timestamp.
	Heartbeat(ctx context.Context, runID string, counters crawl.RunCounters, at time.Time) error
	// SetStatus transitions the run's status, recording the completion
	// time for terminal states. A non-empty errText replaces the run's
	// stored error message.
	SetStatus(ctx context.Context, runID string, status crawl.RunStatus, errText string, at time.Time) error
	// GetRun loads a run or returns ErrNotFound.
	GetRun(ctx context.Context, runID string) (crawl.Run, error)
	// CountLiveRuns returns how many live runs exist for a patch.
	CountLiveRuns(ctx context.Context, patchID string) (int, error)
}
