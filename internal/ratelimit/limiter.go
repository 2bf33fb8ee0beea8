// Package ratelimit implements per-domain concurrency and request-rate
// control, independent of the global worker pool size.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/patchwork-dev/patchcrawl/internal/canonical"
	"github.com/patchwork-dev/patchcrawl/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// DefaultRPS is requests per second per domain; <=0 means unlimited.
	DefaultRPS float64
	// DefaultBurst is the token bucket burst size.
	DefaultBurst int
	// MaxConcurrentPerDomain caps simultaneous in-flight requests per
	// domain regardless of rate.
	MaxConcurrentPerDomain int
}

// Limiter manages per-domain token buckets and concurrency slots. One
// instance is shared across runs: politeness is a per-host obligation,
// and concurrent runs hitting the same host must share its budget.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	slots        map[string]chan struct{}
	defaultRate  rate.Limit
	defaultBurst int
	maxPerDomain int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	maxPerDomain := cfg.MaxConcurrentPerDomain
	if maxPerDomain <= 0 {
		maxPerDomain = 2
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		slots:        make(map[string]chan struct{}),
		defaultRate:  r,
		defaultBurst: burst,
		maxPerDomain: maxPerDomain,
	}
}

// Acquire blocks until the domain has both a rate token and a concurrency
// slot, respecting the context. The returned release function must be
// called when the request finishes.
func (l *Limiter) Acquire(ctx context.Context, rawURL string) (func(), error) {
	domain := canonical.Domain(rawURL)
	limiter, slot := l.domainState(domain)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait for %s: %w", domain, err)
	}
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("domain slot wait for %s: %w", domain, ctx.Err())
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(domain, waited)
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-slot })
	}, nil
}

func (l *Limiter) domainState(domain string) (*rate.Limiter, chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[domain]
	if !ok {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[domain] = limiter
	}
	slot, ok := l.slots[domain]
	if !ok {
		slot = make(chan struct{}, l.maxPerDomain)
		l.slots[domain] = slot
	}
	return limiter, slot
}
