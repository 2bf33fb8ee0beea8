package postgres

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/patchwork-dev/patchcrawl/internal/store"
)

// ContentStore implements store.ContentRepository on Postgres.
//
// Expected schema:
//
//	CREATE TABLE discovered_content (
//		id UUID PRIMARY KEY,
//		patch_id TEXT NOT NULL,
//		url TEXT NOT NULL,
//		canonical_url TEXT NOT NULL,
//		title TEXT,
//		summary TEXT,
//		text_content TEXT,
//		content_hash TEXT,
//		sim_hash BIGINT,
//		relevance_score INT,
//		quality_score INT,
//		source TEXT,
//		facts JSONB,
//		quotes JSONB,
//		metadata JSONB,
//		discovered_at TIMESTAMPTZ NOT NULL,
//		updated_at TIMESTAMPTZ NOT NULL,
//		UNIQUE (patch_id, canonical_url)
//	);
type ContentStore struct {
	pool Pool
}

// NewContentStore constructs a store over an existing pool.
func NewContentStore(pool Pool) (*ContentStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ContentStore{pool: pool}, nil
}

// Upsert saves content keyed by (patch_id, canonical_url). The conflict
// branch updates mutable fields only; id and discovered_at survive from
// the first save. xmax = 0 distinguishes a fresh insert from an update.
func (s *ContentStore) Upsert(ctx context.Context, content store.DiscoveredContent) (string, bool, error) {
	if content.ID == "" {
		return "", false, fmt.Errorf("content id is required")
	}
	if content.PatchID == "" || content.CanonicalURL == "" {
		return "", false, fmt.Errorf("patch id and canonical url are required")
	}

	facts, err := json.Marshal(content.Facts)
	if err != nil {
		return "", false, fmt.Errorf("marshal facts: %w", err)
	}
	quotes, err := json.Marshal(content.Quotes)
	if err != nil {
		return "", false, fmt.Errorf("marshal quotes: %w", err)
	}
	metadata, err := json.Marshal(content.Metadata)
	if err != nil {
		return "", false, fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		INSERT INTO discovered_content (
			id, patch_id, url, canonical_url, title, summary, text_content,
			content_hash, sim_hash, relevance_score, quality_score, source,
			facts, quotes, metadata, discovered_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$16)
		ON CONFLICT (patch_id, canonical_url) DO UPDATE SET
			title = EXCLUDED.title,
			summary = EXCLUDED.summary,
			text_content = EXCLUDED.text_content,
			content_hash = EXCLUDED.content_hash,
			sim_hash = EXCLUDED.sim_hash,
			relevance_score = EXCLUDED.relevance_score,
			quality_score = EXCLUDED.quality_score,
			facts = EXCLUDED.facts,
			quotes = EXCLUDED.quotes,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
		RETURNING id, (xmax = 0) AS inserted;
	`
	var (
		id       string
		inserted bool
	)
	err = s.pool.QueryRow(ctx, query,
		content.ID,
		content.PatchID,
		content.URL,
		content.CanonicalURL,
		content.Title,
		content.Summary,
		content.TextContent,
		content.ContentHash,
		int64(content.SimHash),
		content.RelevanceScore,
		content.QualityScore,
		content.Source,
		facts,
		quotes,
		metadata,
		content.DiscoveredAt,
	).Scan(&id, &inserted)
	if err != nil {
		return "", false, fmt.Errorf("upsert content: %w", err)
	}
	return id, inserted, nil
}

const contentColumns = `id, patch_id, url, canonical_url, title, summary, text_content,
	content_hash, sim_hash, relevance_score, quality_score, source,
	facts, quotes, metadata, discovered_at, updated_at`

// GetByCanonicalURL loads a single row or returns store.ErrNotFound.
func (s *ContentStore) GetByCanonicalURL(ctx context.Context, patchID, canonicalURL string) (store.DiscoveredContent, error) {
	query := fmt.Sprintf(`SELECT %s FROM discovered_content WHERE patch_id = $1 AND canonical_url = $2;`, contentColumns)
	row := s.pool.QueryRow(ctx, query, patchID, canonicalURL)
	content, err := scanContent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.DiscoveredContent{}, store.ErrNotFound
		}
		return store.DiscoveredContent{}, fmt.Errorf("get content: %w", err)
	}
	return content, nil
}

// ListByPatch pages through a patch's content newest first. The cursor is
// opaque to callers: discovered_at plus id of the last row returned.
func (s *ContentStore) ListByPatch(ctx context.Context, patchID, cursor string, limit int) (store.ContentPage, error) {
	if limit <= 0 {
		limit = 50
	}
	cursorAt, cursorID, err := decodeCursor(cursor)
	if err != nil {
		return store.ContentPage{}, err
	}

	query := fmt.Sprintf(`
		SELECT %s FROM discovered_content
		WHERE patch_id = $1 AND (discovered_at, id) < ($2, $3)
		ORDER BY discovered_at DESC, id DESC
		LIMIT $4;
	`, contentColumns)
	rows, err := s.pool.Query(ctx, query, patchID, cursorAt, cursorID, limit+1)
	if err != nil {
		return store.ContentPage{}, fmt.Errorf("list content: %w", err)
	}
	defer rows.Close()

	var items []store.DiscoveredContent
	for rows.Next() {
		content, err := scanContent(rows)
		if err != nil {
			return store.ContentPage{}, fmt.Errorf("scan content row: %w", err)
		}
		items = append(items, content)
	}
	if err := rows.Err(); err != nil {
		return store.ContentPage{}, fmt.Errorf("iterate content rows: %w", err)
	}

	page := store.ContentPage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		last := page.Items[limit-1]
		page.NextCursor = encodeCursor(last.DiscoveredAt, last.ID)
	}
	return page, nil
}

func scanContent(row pgx.Row) (store.DiscoveredContent, error) {
	var (
		c       store.DiscoveredContent
		simHash int64
		facts   []byte
		quotes  []byte
		meta    []byte
	)
	err := row.Scan(
		&c.ID, &c.PatchID, &c.URL, &c.CanonicalURL, &c.Title, &c.Summary,
		&c.TextContent, &c.ContentHash, &simHash, &c.RelevanceScore,
		&c.QualityScore, &c.Source, &facts, &quotes, &meta,
		&c.DiscoveredAt, &c.UpdatedAt,
	)
	if err != nil {
		return store.DiscoveredContent{}, err
	}
	c.SimHash = uint64(simHash)
	if len(facts) > 0 {
		if err := json.Unmarshal(facts, &c.Facts); err != nil {
			return store.DiscoveredContent{}, fmt.Errorf("unmarshal facts: %w", err)
		}
	}
	if len(quotes) > 0 {
		if err := json.Unmarshal(quotes, &c.Quotes); err != nil {
			return store.DiscoveredContent{}, fmt.Errorf("unmarshal quotes: %w", err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return store.DiscoveredContent{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return c, nil
}

// maxCursorTime seeds an empty cursor so the comparison query needs no
// special case for the first page.
var maxCursorTime = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

func encodeCursor(at time.Time, id string) string {
	raw := at.UTC().Format(time.RFC3339Nano) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	if cursor == "" {
		// Sorts after every real row.
		return maxCursorTime, "ffffffff-ffff-ffff-ffff-ffffffffffff", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("malformed cursor: %w", err)
	}
	at, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return time.Time{}, "", fmt.Errorf("malformed cursor")
	}
	ts, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("malformed cursor timestamp: %w", err)
	}
	return ts, id, nil
}
