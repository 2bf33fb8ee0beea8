package store

import (
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// DiscoveredContent models one persisted page of relevant content.
// Uniqueness is (PatchID, CanonicalURL); a second save of the same pair
// updates the mutable fields instead of inserting a duplicate.
type DiscoveredContent struct {
	ID             string
	PatchID        string
	URL            string
	CanonicalURL   string
	Title          string
	Summary        string
	TextContent    string
	ContentHash    string
	SimHash        uint64
	RelevanceScore int
	QualityScore   int
	Source         string
	Facts          []string
	Quotes         []string
	Metadata       map[string]any
	DiscoveredAt   time.Time
	UpdatedAt      time.Time
}

// PageScanStatus is the Wikipedia page lifecycle.
type PageScanStatus string

// Page scan statuses. A page moves pending -> scanning -> completed or
// error; completed and error are terminal.
const (
	PagePending   PageScanStatus = "pending"
	PageScanning  PageScanStatus = "scanning"
	PageCompleted PageScanStatus = "completed"
	PageError     PageScanStatus = "error"
)

// Terminal reports whether no further transition is allowed.
func (s PageScanStatus) Terminal() bool {
	return s == PageCompleted || s == PageError
}

// WikipediaPage models a monitored Wikipedia page.
type WikipediaPage struct {
	ID                 string
	PatchID            string
	PageURL            string
	PageTitle          string
	ScanStatus         PageScanStatus
	CitationsFound     int
	CitationsProcessed int
	Depth              int
	LastScannedAt      *time.Time
	ErrorMessage       *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CitationKind classifies where on the page a citation was found.
type CitationKind string

// Citation kinds.
const (
	KindReference      CitationKind = "reference"
	KindFurtherReading CitationKind = "further_reading"
	KindExternalLink   CitationKind = "external_link"
)

// CitationScanStatus is the first citation status axis: has the cited
// URL been fetched and examined.
type CitationScanStatus string

// Citation scan statuses. scanned and scan_error are terminal; a
// citation is never re-selected for processing once it leaves
// not_scanned.
const (
	CitationNotScanned CitationScanStatus = "not_scanned"
	CitationScanned    CitationScanStatus = "scanned"
	CitationScanError  CitationScanStatus = "scan_error"
)

// CitationRelevance is the second axis: the scoring verdict.
type CitationRelevance string

// Citation relevance verdicts.
const (
	RelevanceUnknown    CitationRelevance = "unknown"
	RelevanceRelevant   CitationRelevance = "relevant"
	RelevanceIrrelevant CitationRelevance = "irrelevant"
)

// CitationSaveStatus is the third axis: whether the cited content was
// persisted.
type CitationSaveStatus string

// Citation save statuses.
const (
	CitationNotSaved   CitationSaveStatus = "not_saved"
	CitationSaved      CitationSaveStatus = "saved"
	CitationSaveFailed CitationSaveStatus = "save_failed"
)

// WikipediaCitation models one citation extracted from a monitored page.
// The three status axes are independent: a citation can be scanned,
// judged relevant, and still fail to save.
type WikipediaCitation struct {
	ID           string
	PageID       string
	PatchID      string
	URL          string
	CanonicalURL string
	Title        string
	Kind         CitationKind
	Depth        int
	ScanStatus   CitationScanStatus
	Relevance    CitationRelevance
	SaveStatus   CitationSaveStatus
	ScannedAt    *time.Time
	CreatedAt    time.Time
}

// ContentPage is one page of a cursor-paginated content listing.
type ContentPage struct {
	Items []DiscoveredContent
	// NextCursor is empty when no further page exists.
	NextCursor string
}
