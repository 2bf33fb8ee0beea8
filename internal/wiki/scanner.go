package wiki

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/patchwork-dev/patchcrawl/internal/blocklist"
	"github.com/patchwork-dev/patchcrawl/internal/canonical"
	"github.com/patchwork-dev/patchcrawl/internal/crawl"
	"github.com/patchwork-dev/patchcrawl/internal/store"
)

// Pipeline pushes one cited URL through fetch, extract, dedup, score,
// and save, returning the terminal outcome.
type Pipeline interface {
	ProcessURL(ctx context.Context, patchID string, candidate crawl.Candidate) (crawl.Outcome, error)
}

// Config tunes the citation scanner.
type Config struct {
	// MaxDepth bounds how far same-wiki links are followed. Depth 0 is
	// the seeded page.
	MaxDepth int
	// MaxCitationsPerScan bounds the processing loop of a single scan
	// pass, so one link-heavy page cannot starve the rest of the run.
	MaxCitationsPerScan int
	// MaxSubpagesPerScan bounds how many same-wiki links one page may
	// enqueue for monitoring.
	MaxSubpagesPerScan int
	// FollowSubpages enables the depth-bounded hierarchical crawl.
	FollowSubpages bool
	// Blocklist filters citation targets; nil applies the low-value
	// default list.
	Blocklist *blocklist.Blocklist
}

func (c *Config) withDefaults() {
	if c.MaxDepth == 0 {
		c.MaxDepth = 3
	}
	if c.MaxCitationsPerScan == 0 {
		c.MaxCitationsPerScan = 25
	}
	if c.MaxSubpagesPerScan == 0 {
		c.MaxSubpagesPerScan = 10
	}
	if c.Blocklist == nil {
		c.Blocklist = blocklist.New(blocklist.LowValueDomains)
	}
}

// Scanner drives the page state machine: claim a pending page, extract
// its citations, process them, and finalize the page. Every page ends in
// completed or error; a claim is never left dangling in scanning.
type Scanner struct {
	repo     store.WikiRepository
	fetcher  crawl.Fetcher
	pipeline Pipeline
	ids      crawl.IDGenerator
	clock    crawl.Clock
	cfg      Config
	logger   *zap.Logger
}

// NewScanner wires a Scanner.
func NewScanner(
	repo store.WikiRepository,
	fetcher crawl.Fetcher,
	pipeline Pipeline,
	ids crawl.IDGenerator,
	clock crawl.Clock,
	cfg Config,
	logger *zap.Logger,
) *Scanner {
	cfg.withDefaults()
	return &Scanner{
		repo:     repo,
		fetcher:  fetcher,
		pipeline: pipeline,
		ids:      ids,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Monitor registers a page for the patch at depth 0.
func (s *Scanner) Monitor(ctx context.Context, patchID, pageURL, title string) (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate page id: %w", err)
	}
	return s.repo.UpsertPage(ctx, store.WikipediaPage{
		ID:         id,
		PatchID:    patchID,
		PageURL:    pageURL,
		PageTitle:  title,
		ScanStatus: store.PagePending,
		CreatedAt:  s.clock.Now(),
	})
}

// ScanNext claims and fully processes one pending page. It returns false
// when no page was pending. A scan failure moves the page to its terminal
// error state and still returns nil: the failure belongs to the page, not
// the caller.
func (s *Scanner) ScanNext(ctx context.Context, patchID string) (bool, error) {
	page, err := s.repo.ClaimPendingPage(ctx, patchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("claim page: %w", err)
	}
	log := s.logger.With(zap.String("page_url", page.PageURL), zap.String("patch_id", patchID))

	result, err := s.fetcher.Fetch(ctx, crawl.FetchRequest{
		URL:           page.PageURL,
		Depth:         page.Depth,
		RespectRobots: true,
	})
	if err != nil {
		s.failPage(ctx, page.ID, fmt.Sprintf("fetch: %v", err))
		return true, ctx.Err()
	}
	if result.Reason != "" {
		log.Warn("wiki page fetch rejected", zap.String("reason", string(result.Reason)))
		s.failPage(ctx, page.ID, fmt.Sprintf("fetch rejected: %s", result.Reason))
		return true, nil
	}

	links, err := ExtractLinks(page.PageURL, result.Body, s.cfg.Blocklist)
	if err != nil {
		s.failPage(ctx, page.ID, fmt.Sprintf("extract: %v", err))
		return true, nil
	}

	found, err := s.insertCitations(ctx, page, links.Citations)
	if err != nil {
		s.failPage(ctx, page.ID, fmt.Sprintf("store citations: %v", err))
		return true, nil
	}

	s.enqueueSubpages(ctx, page, links.Subpages)

	processed, err := s.processCitations(ctx, patchID)
	if err != nil {
		// Context cancellation mid-loop: the page itself did not fail,
		// but it cannot stay in scanning.
		s.failPage(ctx, page.ID, "scan interrupted")
		return true, err
	}

	if err := s.repo.CompletePage(ctx, page.ID, found, processed, s.clock.Now()); err != nil {
		return true, fmt.Errorf("complete page: %w", err)
	}
	log.Info("wiki page scanned", zap.Int("citations_found", found), zap.Int("citations_processed", processed))
	return true, nil
}

func (s *Scanner) insertCitations(ctx context.Context, page store.WikipediaPage, extracted []ExtractedCitation) (int, error) {
	citations := make([]store.WikipediaCitation, 0, len(extracted))
	for _, e := range extracted {
		id, err := s.ids.NewID()
		if err != nil {
			return 0, fmt.Errorf("generate citation id: %w", err)
		}
		canonicalURL, err := canonical.Canonicalize(e.URL, "")
		if err != nil {
			continue
		}
		citations = append(citations, store.WikipediaCitation{
			ID:           id,
			PageID:       page.ID,
			PatchID:      page.PatchID,
			URL:          e.URL,
			CanonicalURL: canonicalURL,
			Title:        e.Title,
			Kind:         e.Kind,
			Depth:        page.Depth + 1,
			ScanStatus:   store.CitationNotScanned,
			Relevance:    store.RelevanceUnknown,
			SaveStatus:   store.CitationNotSaved,
			CreatedAt:    s.clock.Now(),
		})
	}
	return s.repo.InsertCitations(ctx, citations)
}

func (s *Scanner) enqueueSubpages(ctx context.Context, page store.WikipediaPage, subpages []string) {
	if !s.cfg.FollowSubpages || page.Depth+1 > s.cfg.MaxDepth {
		return
	}
	enqueued := 0
	for _, link := range subpages {
		if enqueued >= s.cfg.MaxSubpagesPerScan {
			return
		}
		id, err := s.ids.NewID()
		if err != nil {
			s.logger.Warn("subpage id generation failed", zap.Error(err))
			return
		}
		_, err = s.repo.UpsertPage(ctx, store.WikipediaPage{
			ID:         id,
			PatchID:    page.PatchID,
			PageURL:    link,
			ScanStatus: store.PagePending,
			Depth:      page.Depth + 1,
			CreatedAt:  s.clock.Now(),
		})
		if err != nil {
			s.logger.Warn("subpage enqueue failed", zap.String("url", link), zap.Error(err))
			continue
		}
		enqueued++
	}
}

// processCitations drains the not_scanned queue, bounded per scan pass.
// Every claimed citation gets its three axes recorded exactly once.
func (s *Scanner) processCitations(ctx context.Context, patchID string) (int, error) {
	processed := 0
	for processed < s.cfg.MaxCitationsPerScan {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		citation, err := s.repo.NextCitation(ctx, patchID, s.clock.Now())
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return processed, nil
			}
			return processed, fmt.Errorf("claim citation: %w", err)
		}

		outcome, err := s.pipeline.ProcessURL(ctx, patchID, crawl.Candidate{
			URL:          citation.URL,
			CanonicalURL: citation.CanonicalURL,
			Domain:       canonical.Domain(citation.URL),
			Depth:        citation.Depth,
			Source:       crawl.SourceWikipedia,
			Title:        citation.Title,
		})
		if err != nil {
			s.recordOutcome(ctx, citation.ID, store.CitationScanError, store.RelevanceUnknown, store.CitationNotSaved)
			return processed, err
		}

		scan, relevance, save := citationAxes(outcome)
		s.recordOutcome(ctx, citation.ID, scan, relevance, save)
		processed++
	}
	return processed, nil
}

// citationAxes maps a pipeline outcome onto the citation's three
// independent status axes.
func citationAxes(o crawl.Outcome) (store.CitationScanStatus, store.CitationRelevance, store.CitationSaveStatus) {
	if o.Saved() {
		return store.CitationScanned, store.RelevanceRelevant, store.CitationSaved
	}
	switch o.Reason {
	case crawl.ReasonNotRelevant:
		return store.CitationScanned, store.RelevanceIrrelevant, store.CitationNotSaved
	case crawl.ReasonPersistenceError:
		// Judged relevant; only the save leg failed.
		return store.CitationScanned, store.RelevanceRelevant, store.CitationSaveFailed
	}
	if o.Stage == crawl.StageFetch {
		return store.CitationScanError, store.RelevanceUnknown, store.CitationNotSaved
	}
	return store.CitationScanned, store.RelevanceUnknown, store.CitationNotSaved
}

func (s *Scanner) recordOutcome(ctx context.Context, citationID string, scan store.CitationScanStatus, relevance store.CitationRelevance, save store.CitationSaveStatus) {
	if err := s.repo.SetCitationOutcome(ctx, citationID, scan, relevance, save); err != nil {
		s.logger.Warn("citation outcome update failed",
			zap.String("citation_id", citationID), zap.Error(err))
	}
}

func (s *Scanner) failPage(ctx context.Context, pageID, message string) {
	if err := s.repo.FailPage(ctx, pageID, message, s.clock.Now()); err != nil {
		s.logger.Warn("page error transition failed",
			zap.String("page_id", pageID), zap.Error(err))
	}
}
