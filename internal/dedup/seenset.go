// Package dedup provides cross-run and in-run duplicate membership tests.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
)

const (
	urlKeyPrefix     = "u:"
	contentKeyPrefix = "c:"
)

// SeenSet records URL and content hashes with a TTL. It answers "have we
// attempted this recently", never "is this already saved" — that is the
// discovered-content table's job.
type SeenSet struct {
	cache *bigcache.BigCache
}

// NewSeenSet builds a TTL-backed seen-set. Entries expire after ttl
// (typically 7-14 days) so stale URLs become eligible for re-crawl.
func NewSeenSet(ttl time.Duration) (*SeenSet, error) {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	cfg := bigcache.DefaultConfig(ttl)
	cfg.CleanWindow = 10 * time.Minute
	cache, err := bigcache.New(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("init seen-set cache: %w", err)
	}
	return &SeenSet{cache: cache}, nil
}

// CheckAndMarkURL reports whether the URL hash was already present and
// records it either way, so the first caller wins and later callers skip.
func (s *SeenSet) CheckAndMarkURL(urlHash string) bool {
	return s.checkAndMark(urlKeyPrefix + urlHash)
}

// SeenURL is the non-marking membership test. Enqueue-time priority uses
// it to downrank already-attempted URLs without claiming them.
func (s *SeenSet) SeenURL(urlHash string) bool {
	_, err := s.cache.Get(urlKeyPrefix + urlHash)
	return err == nil
}

// CheckAndMarkContent is the exact-duplicate test over content hashes.
func (s *SeenSet) CheckAndMarkContent(contentHash string) bool {
	return s.checkAndMark(contentKeyPrefix + contentHash)
}

func (s *SeenSet) checkAndMark(key string) bool {
	_, err := s.cache.Get(key)
	if err == nil {
		return true
	}
	if !errors.Is(err, bigcache.ErrEntryNotFound) {
		// Treat a cache fault as unseen; a duplicate fetch is cheaper
		// than a dropped candidate.
		return false
	}
	_ = s.cache.Set(key, []byte{1})
	return false
}

// Close releases the underlying cache.
func (s *SeenSet) Close() error {
	if err := s.cache.Close(); err != nil {
		return fmt.Errorf("close seen-set cache: %w", err)
	}
	return nil
}
