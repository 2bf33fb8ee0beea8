package headless

import (
	"context"
	"errors"

	"github.com/patchwork-dev/patchcrawl/internal/crawl"
)

// ErrDisabled is returned by the Noop fetcher.
var ErrDisabled = errors.New("headless fetching is disabled")

// Noop is used when the headless subsystem is turned off; escalation
// attempts fail fast instead of silently downgrading.
type Noop struct{}

// Fetch always returns ErrDisabled.
func (Noop) Fetch(context.Context, crawl.FetchRequest) (crawl.FetchResult, error) {
	return crawl.FetchResult{}, ErrDisabled
}
