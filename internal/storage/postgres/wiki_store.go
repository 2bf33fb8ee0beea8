package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/patchwork-dev/patchcrawl/internal/store"
)

// WikiStore implements store.WikiRepository on Postgres.
//
// Expected schema:
//
//	CREATE TABLE wikipedia_pages (
//		id UUID PRIMARY KEY,
//		patch_id TEXT NOT NULL,
//		page_url TEXT NOT NULL,
//		page_title TEXT,
//		scan_status TEXT NOT NULL DEFAULT 'pending',
//		citations_found INT NOT NULL DEFAULT 0,
//		citations_processed INT NOT NULL DEFAULT 0,
//		depth INT NOT NULL DEFAULT 0,
//		last_scanned_at TIMESTAMPTZ,
//		error_message TEXT,
//		created_at TIMESTAMPTZ NOT NULL,
//		updated_at TIMESTAMPTZ NOT NULL,
//		UNIQUE (patch_id, page_url)
//	);
//
//	CREATE TABLE wikipedia_citations (
//		id UUID PRIMARY KEY,
//		page_id UUID NOT NULL REFERENCES wikipedia_pages(id),
//		patch_id TEXT NOT NULL,
//		url TEXT NOT NULL,
//		canonical_url TEXT NOT NULL,
//		title TEXT,
//		kind TEXT NOT NULL,
//		depth INT NOT NULL DEFAULT 0,
//		scan_status TEXT NOT NULL DEFAULT 'not_scanned',
//		relevance TEXT NOT NULL DEFAULT 'unknown',
//		save_status TEXT NOT NULL DEFAULT 'not_saved',
//		scanned_at TIMESTAMPTZ,
//		created_at TIMESTAMPTZ NOT NULL,
//		UNIQUE (page_id, canonical_url)
//	);
type WikiStore struct {
	pool Pool
}

// NewWikiStore constructs a store over an existing pool.
func NewWikiStore(pool Pool) (*WikiStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &WikiStore{pool: pool}, nil
}

// UpsertPage registers a page for monitoring. A page already tracked for
// the patch keeps its status and counters; only updated_at moves.
func (s *WikiStore) UpsertPage(ctx context.Context, page store.WikipediaPage) (string, error) {
	if page.ID == "" {
		return "", fmt.Errorf("page id is required")
	}
	query := `
		INSERT INTO wikipedia_pages (
			id, patch_id, page_url, page_title, scan_status, depth, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
		ON CONFLICT (patch_id, page_url) DO UPDATE SET updated_at = EXCLUDED.updated_at
		RETURNING id;
	`
	status := page.ScanStatus
	if status == "" {
		status = store.PagePending
	}
	var id string
	err := s.pool.QueryRow(ctx, query,
		page.ID, page.PatchID, page.PageURL, page.PageTitle, status, page.Depth, page.CreatedAt,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert wikipedia page: %w", err)
	}
	return id, nil
}

const pageColumns = `id, patch_id, page_url, page_title, scan_status,
	citations_found, citations_processed, depth, last_scanned_at,
	error_message, created_at, updated_at`

// ClaimPendingPage moves one pending page to scanning and returns it.
// The claim is a single UPDATE with a sub-select and FOR UPDATE SKIP
// LOCKED, so concurrent scanners never take the same page.
func (s *WikiStore) ClaimPendingPage(ctx context.Context, patchID string) (store.WikipediaPage, error) {
	query := fmt.Sprintf(`
		UPDATE wikipedia_pages SET scan_status = 'scanning', updated_at = NOW()
		WHERE id = (
			SELECT id FROM wikipedia_pages
			WHERE patch_id = $1 AND scan_status = 'pending'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s;
	`, pageColumns)
	page, err := scanPage(s.pool.QueryRow(ctx, query, patchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.WikipediaPage{}, store.ErrNotFound
		}
		return store.WikipediaPage{}, fmt.Errorf("claim pending page: %w", err)
	}
	return page, nil
}

// CompletePage moves a scanning page to completed. The status guard makes
// terminal states sticky: a page already completed or errored is left
// untouched.
func (s *WikiStore) CompletePage(ctx context.Context, pageID string, found, processed int, at time.Time) error {
	query := `
		UPDATE wikipedia_pages
		SET scan_status = 'completed', citations_found = $1, citations_processed = $2,
			last_scanned_at = $3, updated_at = $3
		WHERE id = $4 AND scan_status = 'scanning';
	`
	tag, err := s.pool.Exec(ctx, query, found, processed, at, pageID)
	if err != nil {
		return fmt.Errorf("complete page: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("page %s is not in scanning state", pageID)
	}
	return nil
}

// FailPage moves a scanning page to its terminal error state.
func (s *WikiStore) FailPage(ctx context.Context, pageID string, message string, at time.Time) error {
	query := `
		UPDATE wikipedia_pages
		SET scan_status = 'error', error_message = $1, last_scanned_at = $2, updated_at = $2
		WHERE id = $3 AND scan_status = 'scanning';
	`
	tag, err := s.pool.Exec(ctx, query, message, at, pageID)
	if err != nil {
		return fmt.Errorf("fail page: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("page %s is not in scanning state", pageID)
	}
	return nil
}

// InsertCitations stores extracted citations, skipping duplicates per
// (page_id, canonical_url).
func (s *WikiStore) InsertCitations(ctx context.Context, citations []store.WikipediaCitation) (int, error) {
	query := `
		INSERT INTO wikipedia_citations (
			id, page_id, patch_id, url, canonical_url, title, kind, depth,
			scan_status, relevance, save_status, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'not_scanned','unknown','not_saved',$9)
		ON CONFLICT (page_id, canonical_url) DO NOTHING;
	`
	inserted := 0
	for _, c := range citations {
		tag, err := s.pool.Exec(ctx, query,
			c.ID, c.PageID, c.PatchID, c.URL, c.CanonicalURL, c.Title, c.Kind, c.Depth, c.CreatedAt,
		)
		if err != nil {
			return inserted, fmt.Errorf("insert citation %s: %w", c.URL, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

const citationColumns = `id, page_id, patch_id, url, canonical_url, title, kind,
	depth, scan_status, relevance, save_status, scanned_at, created_at`

// NextCitation claims one not_scanned citation, marking it scanned in the
// same statement so it can never be re-selected.
func (s *WikiStore) NextCitation(ctx context.Context, patchID string, at time.Time) (store.WikipediaCitation, error) {
	query := fmt.Sprintf(`
		UPDATE wikipedia_citations SET scan_status = 'scanned', scanned_at = $2
		WHERE id = (
			SELECT id FROM wikipedia_citations
			WHERE patch_id = $1 AND scan_status = 'not_scanned'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s;
	`, citationColumns)
	citation, err := scanCitation(s.pool.QueryRow(ctx, query, patchID, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.WikipediaCitation{}, store.ErrNotFound
		}
		return store.WikipediaCitation{}, fmt.Errorf("claim citation: %w", err)
	}
	return citation, nil
}

// SetCitationOutcome records the post-processing state of all three axes.
func (s *WikiStore) SetCitationOutcome(
	ctx context.Context,
	citationID string,
	scan store.CitationScanStatus,
	relevance store.CitationRelevance,
	save store.CitationSaveStatus,
) error {
	query := `
		UPDATE wikipedia_citations SET scan_status = $1, relevance = $2, save_status = $3
		WHERE id = $4;
	`
	tag, err := s.pool.Exec(ctx, query, scan, relevance, save, citationID)
	if err != nil {
		return fmt.Errorf("set citation outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Status-like columns scan through plain strings; typed destinations are
// not portable across row implementations.
func scanPage(row pgx.Row) (store.WikipediaPage, error) {
	var (
		p          store.WikipediaPage
		scanStatus string
	)
	err := row.Scan(
		&p.ID, &p.PatchID, &p.PageURL, &p.PageTitle, &scanStatus,
		&p.CitationsFound, &p.CitationsProcessed, &p.Depth,
		&p.LastScannedAt, &p.ErrorMessage, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return store.WikipediaPage{}, err
	}
	p.ScanStatus = store.PageScanStatus(scanStatus)
	return p, nil
}

func scanCitation(row pgx.Row) (store.WikipediaCitation, error) {
	var (
		c          store.WikipediaCitation
		kind       string
		scanStatus string
		relevance  string
		saveStatus string
	)
	err := row.Scan(
		&c.ID, &c.PageID, &c.PatchID, &c.URL, &c.CanonicalURL, &c.Title,
		&kind, &c.Depth, &scanStatus, &relevance, &saveStatus,
		&c.ScannedAt, &c.CreatedAt,
	)
	if err != nil {
		return store.WikipediaCitation{}, err
	}
	c.Kind = store.CitationKind(kind)
	c.ScanStatus = store.CitationScanStatus(scanStatus)
	c.Relevance = store.CitationRelevance(relevance)
	c.SaveStatus = store.CitationSaveStatus(saveStatus)
	return c, nil
}
