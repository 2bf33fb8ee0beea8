// Package save persists scored content and triggers downstream
// enrichment.
package save

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/patchwork-dev/patchcrawl/internal/canonical"
	"github.com/patchwork-dev/patchcrawl/internal/crawl"
	"github.com/patchwork-dev/patchcrawl/internal/metrics"
	"github.com/patchwork-dev/patchcrawl/internal/store"
)

// Config controls downstream triggers and archiving.
type Config struct {
	// HeroImageTopic receives a trigger for hero image generation after
	// every first-time save. Empty disables the trigger.
	HeroImageTopic string
	// AgentMemoryTopic receives a trigger for agent memory ingestion.
	AgentMemoryTopic string
	// ArchiveRawHTML stores the raw page body in the blob store.
	ArchiveRawHTML bool
	// TriggerTimeout bounds each fire-and-forget publish.
	TriggerTimeout time.Duration
}

func (c *Config) withDefaults() {
	if c.TriggerTimeout == 0 {
		c.TriggerTimeout = 10 * time.Second
	}
}

// Coordinator saves content idempotently and fires enrichment triggers.
// Triggers run on background goroutines: their failures are logged, never
// surfaced to the caller, and never block the crawl pipeline.
type Coordinator struct {
	contents  store.ContentRepository
	publisher crawl.Publisher
	blobs     crawl.BlobStore
	ids       crawl.IDGenerator
	clock     crawl.Clock
	logger    *zap.Logger
	cfg       Config

	wg sync.WaitGroup
}

// New wires a Coordinator. publisher and blobs may be nil; the
// corresponding side effects are skipped.
func New(
	contents store.ContentRepository,
	publisher crawl.Publisher,
	blobs crawl.BlobStore,
	ids crawl.IDGenerator,
	clock crawl.Clock,
	cfg Config,
	logger *zap.Logger,
) *Coordinator {
	cfg.withDefaults()
	return &Coordinator{
		contents:  contents,
		publisher: publisher,
		blobs:     blobs,
		ids:       ids,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
	}
}

// Save upserts the payload keyed by (patch, canonical URL). An invalid
// UTF-8 byte sequence that the database rejects is sanitized and the
// write retried once. The bool reports whether a new row was inserted;
// repeat saves of the same pair update in place and fire no triggers.
func (c *Coordinator) Save(ctx context.Context, patchID string, payload crawl.ContentPayload) (store.DiscoveredContent, bool, error) {
	id, err := c.ids.NewID()
	if err != nil {
		return store.DiscoveredContent{}, false, fmt.Errorf("generate content id: %w", err)
	}
	now := c.clock.Now()

	content := store.DiscoveredContent{
		ID:             id,
		PatchID:        patchID,
		URL:            payload.URL,
		CanonicalURL:   payload.CanonicalURL,
		Title:          payload.Title,
		Summary:        payload.Summary,
		TextContent:    payload.TextContent,
		ContentHash:    canonical.ContentHash(payload.TextContent),
		SimHash:        canonical.SimHash64(payload.TextContent),
		RelevanceScore: payload.RelevanceScore,
		QualityScore:   payload.QualityScore,
		Source:         string(payload.Source),
		Facts:          payload.Facts,
		Quotes:         payload.Quotes,
		Metadata:       payload.Metadata,
		DiscoveredAt:   now,
		UpdatedAt:      now,
	}

	storedID, inserted, err := c.contents.Upsert(ctx, content)
	if err != nil {
		sanitized, changed := sanitizeContent(content)
		if !changed {
			return store.DiscoveredContent{}, false, fmt.Errorf("persist content: %w", err)
		}
		c.logger.Warn("retrying save with sanitized text",
			zap.String("canonical_url", content.CanonicalURL), zap.Error(err))
		storedID, inserted, err = c.contents.Upsert(ctx, sanitized)
		if err != nil {
			return store.DiscoveredContent{}, false, fmt.Errorf("persist content after sanitize: %w", err)
		}
		content = sanitized
	}
	content.ID = storedID

	metrics.ObservePersist(content.Source)

	if inserted {
		c.archive(ctx, content, payload.RawBody)
		c.trigger(c.cfg.HeroImageTopic, heroTrigger{
			PatchID:   patchID,
			ContentID: storedID,
			URL:       content.CanonicalURL,
			Title:     content.Title,
		})
		c.trigger(c.cfg.AgentMemoryTopic, memoryTrigger{
			PatchID:   patchID,
			ContentID: storedID,
			Summary:   content.Summary,
			Facts:     content.Facts,
			Quotes:    content.Quotes,
		})
	}

	return content, inserted, nil
}

// Wait blocks until in-flight triggers finish, for shutdown.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

type heroTrigger struct {
	PatchID   string   `json:"patch_id"`
	ContentID string   `json:"content_id"`
	URL       string   `json:"url"`
	Title     string   `json:"title"`
}

type memoryTrigger struct {
	PatchID   string   `json:"patch_id"`
	ContentID string   `json:"content_id"`
	Summary   string   `json:"summary"`
	Facts     []string `json:"facts,omitempty"`
	Quotes    []string `json:"quotes,omitempty"`
}

// trigger publishes fire-and-forget on a detached context: a save must
// survive its enrichment pipeline being down.
func (c *Coordinator) trigger(topic string, payload any) {
	if c.publisher == nil || topic == "" {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.TriggerTimeout)
		defer cancel()
		if _, err := c.publisher.Publish(ctx, topic, payload); err != nil {
			c.logger.Warn("enrichment trigger failed",
				zap.String("topic", topic), zap.Error(err))
		}
	}()
}

func (c *Coordinator) archive(ctx context.Context, content store.DiscoveredContent, rawBody []byte) {
	if c.blobs == nil || !c.cfg.ArchiveRawHTML || len(rawBody) == 0 {
		return
	}
	path := fmt.Sprintf("patches/%s/%s.html", content.PatchID, content.ID)
	if _, err := c.blobs.PutObject(ctx, path, "text/html", rawBody); err != nil {
		// Archiving is best effort; the row already exists.
		c.logger.Warn("raw html archive failed",
			zap.String("path", path), zap.Error(err))
	}
}

// sanitizeContent strips invalid UTF-8 sequences from every text field.
// The second return reports whether anything changed, so a clean payload
// is not retried.
func sanitizeContent(content store.DiscoveredContent) (store.DiscoveredContent, bool) {
	changed := false
	clean := func(s string) string {
		if utf8.ValidString(s) && !strings.ContainsRune(s, 0) {
			return s
		}
		changed = true
		return strings.ReplaceAll(strings.ToValidUTF8(s, ""), "\x00", "")
	}
	content.Title = clean(content.Title)
	content.Summary = clean(content.Summary)
	content.TextContent = clean(content.TextContent)
	for i, f := range content.Facts {
		content.Facts[i] = clean(f)
	}
	for i, q := range content.Quotes {
		content.Quotes[i] = clean(q)
	}
	return content, changed
}
