package frontier

import (
	"math/rand"
	"sync"
	"time"
)

// BreakerConfig tunes the reseed circuit breaker.
type BreakerConfig struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

func (c *BreakerConfig) withDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffCap == 0 {
		c.BackoffCap = 5 * time.Second
	}
}

// ReseedBreaker bounds how often a run may reseed its frontier. Once open
// it stays open for the life of the run; the run proceeds with whatever
// frontier it has instead of retrying forever. The breaker is per-run
// state, never shared across runs.
type ReseedBreaker struct {
	mu           sync.Mutex
	cfg          BreakerConfig
	attempts     int
	lastReseedAt time.Time
	opened       bool
}

// NewReseedBreaker builds a breaker with defaults applied.
func NewReseedBreaker(cfg BreakerConfig) *ReseedBreaker {
	cfg.withDefaults()
	return &ReseedBreaker{cfg: cfg}
}

// Allow reports whether a reseed may proceed at time now and, if so,
// claims the attempt. The backoff doubles per attempt with random jitter,
// capped at BackoffCap. Reaching MaxAttempts opens the breaker permanently.
func (b *ReseedBreaker) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.opened {
		return false
	}
	if b.attempts >= b.cfg.MaxAttempts {
		b.opened = true
		return false
	}
	if !b.lastReseedAt.IsZero() && now.Sub(b.lastReseedAt) < b.backoff() {
		return false
	}
	b.attempts++
	b.lastReseedAt = now
	if b.attempts >= b.cfg.MaxAttempts {
		b.opened = true
	}
	return true
}

// Open reports whether the breaker has opened permanently.
func (b *ReseedBreaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened
}

// Attempts returns how many reseeds have been claimed.
func (b *ReseedBreaker) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

func (b *ReseedBreaker) backoff() time.Duration {
	delay := b.cfg.BackoffBase << uint(b.attempts-1)
	if delay > b.cfg.BackoffCap || delay <= 0 {
		delay = b.cfg.BackoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1)) //nolint:gosec // jitter only
	delay += jitter
	if delay > b.cfg.BackoffCap {
		delay = b.cfg.BackoffCap
	}
	return delay
}
