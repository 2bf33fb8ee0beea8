// Package crawl defines core types shared across subsystems.
package crawl

import (
	"net/http"
	"time"
)

// RunStatus represents the lifecycle state of a discovery run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusLive      RunStatus = "live"
	RunStatusSuspended RunStatus = "suspended"
	RunStatusCompleted RunStatus = "completed"
	RunStatusError     RunStatus = "error"
)

// SourceKind tags which discovery strategy produced a candidate.
type SourceKind string

// Source kinds dispatched by the orchestrator.
const (
	SourceWeb       SourceKind = "web"
	SourceWikipedia SourceKind = "wikipedia"
	SourceSearchAPI SourceKind = "search_api"
)

// RunConfig captures per-run knobs requested by the client.
type RunConfig struct {
	SeedURLs        []string   `json:"seed_urls"`
	Topic           string     `json:"topic"`
	Keywords        []string   `json:"keywords,omitempty"`
	MaxDepth        int        `json:"max_depth"`
	MaxPages        int        `json:"max_pages"`
	Sources         []SourceKind `json:"sources,omitempty"`
	HeadlessAllowed bool       `json:"headless_allowed"`
	RespectRobots   bool       `json:"respect_robots"`
}

// RunCounters tracks progress stats for a run; the heartbeat reports them.
type RunCounters struct {
	Fetched     int64 `json:"fetched"`
	Enqueued    int64 `json:"enqueued"`
	Deduped     int64 `json:"deduped"`
	Skipped     int64 `json:"skipped"`
	Persisted   int64 `json:"persisted"`
	Errors      int64 `json:"errors"`
	QueueLength int64 `json:"queue_length"`
}

// Run represents the metadata persisted for each discovery run.
type Run struct {
	ID          string      `json:"id"`
	PatchID     string      `json:"patch_id"`
	Status      RunStatus   `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	HeartbeatAt time.Time   `json:"heartbeat_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	ErrorText   string      `json:"error_text,omitempty"`
	Config      RunConfig   `json:"config"`
	Counters    RunCounters `json:"counters"`
}

// Candidate is a frontier entry awaiting fetch. It lives only in the
// frontier; a successful dequeue claims and removes it.
type Candidate struct {
	URL          string
	CanonicalURL string
	Domain       string
	Priority     float64
	Attempts     int
	Depth        int
	Source       SourceKind
	Title        string
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	RunID         string
	URL           string
	Depth         int
	UseHeadless   bool
	Headers       http.Header
	RespectRobots bool
}

// FetchResult is returned by a Fetcher implementation. Reason is set only
// on terminal classification; a 2xx body always takes precedence over a
// failed verification probe.
type FetchResult struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
	Reason       Reason
}

// ExtractedText is the output of the extraction chain. Method records which
// extractor branch produced the text, for observability.
type ExtractedText struct {
	Text   string
	Title  string
	Method string
}

// ScoreRequest is the payload sent to the relevance oracle.
type ScoreRequest struct {
	Title string
	URL   string
	Text  string
	Topic string
}

// ScoreResult is a relevance judgement from the primary or secondary engine.
type ScoreResult struct {
	Score           int    `json:"score"`
	IsRelevant      bool   `json:"is_relevant"`
	IsActualArticle bool   `json:"is_actual_article"`
	Reason          string `json:"reason"`
}

// ContentPayload is what the save coordinator persists for a kept page.
type ContentPayload struct {
	URL            string
	CanonicalURL   string
	Source         SourceKind
	Title          string
	Summary        string
	TextContent    string
	RawBody        []byte
	RelevanceScore int
	QualityScore   int
	Facts          []string
	Quotes         []string
	Metadata       map[string]any
}
