package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/patchwork-dev/patchcrawl/internal/blocklist"
	"github.com/patchwork-dev/patchcrawl/internal/crawl"
	"github.com/patchwork-dev/patchcrawl/internal/frontier"
	"github.com/patchwork-dev/patchcrawl/internal/metrics"
	"github.com/patchwork-dev/patchcrawl/internal/source"
	"github.com/patchwork-dev/patchcrawl/internal/store"
	"github.com/patchwork-dev/patchcrawl/internal/wiki"
)

var (
	// errRunComplete signals the supervisor decided the run is done.
	errRunComplete = errors.New("run complete")
	// errRunStalled signals prolonged inactivity; the run is suspended.
	errRunStalled = errors.New("run stalled")
)

// RunnerConfig tunes one run's execution loop.
type RunnerConfig struct {
	Workers           int
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	// StaleAfter is how long without a successful persist before the
	// runner logs a staleness diagnostic with the dominant rejection
	// reasons. Fetch activity alone does not count as progress: a run
	// that fetches forever but saves nothing is exactly the failure mode
	// this catches.
	StaleAfter time.Duration
	// SuspendAfter is how long without a successful persist before the
	// run is parked in suspended status.
	SuspendAfter time.Duration
	Frontier     frontier.Config
	Blocklist    *blocklist.Blocklist
}

func (c *RunnerConfig) withDefaults() {
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = 2 * time.Minute
	}
	if c.SuspendAfter == 0 {
		c.SuspendAfter = 10 * time.Minute
	}
	if c.Blocklist == nil {
		c.Blocklist = blocklist.New(blocklist.LowValueDomains)
	}
}

// Runner executes a single discovery run to completion: it seeds the
// frontier, drives the worker pool and citation scanner, heartbeats the
// run row, and records the terminal status.
type Runner struct {
	run      crawl.Run
	cfg      RunnerConfig
	pipeline *Pipeline
	frontier *frontier.Frontier
	sources  []source.Source
	wiki     *wiki.Scanner
	runs     store.RunRepository
	clock    crawl.Clock
	logger   *zap.Logger

	counters counterSet
	tally    *rejectTally
	inFlight atomic.Int64
	// wikiIdle is set when the citation scanner found nothing pending.
	wikiIdle atomic.Bool
}

// NewRunner assembles a runner for one run. The wiki scanner is optional;
// pass nil when the run has no Wikipedia seeds.
func NewRunner(run crawl.Run, pipeline *Pipeline, sources []source.Source, wikiScanner *wiki.Scanner,
	runs store.RunRepository, clock crawl.Clock, cfg RunnerConfig, logger *zap.Logger) *Runner {
	cfg.withDefaults()
	r := &Runner{
		run:      run,
		cfg:      cfg,
		pipeline: pipeline,
		frontier: frontier.New(cfg.Frontier),
		sources:  sources,
		wiki:     wikiScanner,
		runs:     runs,
		clock:    clock,
		logger:   logger.With(zap.String("run_id", run.ID), zap.String("patch_id", run.PatchID)),
		tally:    newRejectTally(),
	}
	r.wikiIdle.Store(wikiScanner == nil)
	return r
}

// Run executes the run until the frontier is exhausted, MaxPages is
// reached, the run stalls out, or ctx is canceled. The terminal status is
// always recorded; cancellation counts as a clean completion.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info("run starting",
		zap.String("topic", r.run.Config.Topic),
		zap.Int("seeds", len(r.run.Config.SeedURLs)))

	if err := r.seed(ctx); err != nil {
		r.finish(fmt.Errorf("seeding: %w", err))
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Workers; i++ {
		g.Go(func() error { return r.workerLoop(gctx) })
	}
	if r.wiki != nil {
		g.Go(func() error { return r.wikiLoop(gctx) })
	}
	g.Go(func() error { return r.heartbeatLoop(gctx) })
	g.Go(func() error { return r.supervise(gctx) })

	r.finish(g.Wait())
}

// seed performs initial discovery. Wikipedia seeds bypass the frontier
// and register directly with the citation scanner.
func (r *Runner) seed(ctx context.Context) error {
	enqueued := r.reseed(ctx)

	monitored := 0
	if r.wiki != nil {
		for _, seedURL := range r.run.Config.SeedURLs {
			if !source.IsWikipediaURL(seedURL) {
				continue
			}
			if _, err := r.wiki.Monitor(ctx, r.run.PatchID, seedURL, ""); err != nil {
				r.logger.Warn("registering wikipedia seed failed",
					zap.String("url", seedURL), zap.Error(err))
				continue
			}
			monitored++
		}
	}

	if enqueued == 0 && monitored == 0 {
		return errors.New("discovery produced no candidates")
	}
	r.logger.Info("run seeded",
		zap.Int("enqueued", enqueued), zap.Int("wikipedia_pages", monitored))
	return nil
}

// reseed asks every discovery source for candidates and enqueues the new
// ones. Source failures are logged and skipped; one broken source must
// not starve the others.
func (r *Runner) reseed(ctx context.Context) int {
	enqueued := 0
	for _, src := range r.sources {
		candidates, err := src.Discover(ctx, r.run.Config)
		if err != nil {
			r.logger.Warn("discovery source failed",
				zap.String("source", string(src.Kind())), zap.Error(err))
			continue
		}
		for _, c := range candidates {
			if r.frontier.Enqueue(c, r.pipeline.seenBefore(c)) {
				enqueued++
			}
		}
	}
	if enqueued > 0 {
		r.counters.enqueued.Add(int64(enqueued))
	}
	return enqueued
}

func (r *Runner) workerLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		c, ok := r.frontier.DequeueNext()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.cfg.PollInterval):
			}
			continue
		}

		r.inFlight.Add(1)
		metrics.IncActiveWorkers()
		outcome, body, err := r.pipeline.process(ctx, r.run.PatchID, c)
		if err != nil {
			r.inFlight.Add(-1)
			metrics.DecActiveWorkers()
			if ctx.Err() != nil {
				return nil
			}
			r.counters.errors.Add(1)
			r.logger.Warn("pipeline error", zap.String("url", c.URL), zap.Error(err))
			continue
		}

		r.counters.record(outcome)
		r.tally.add(outcome.Reason)
		if outcome.Saved() {
			r.logger.Info("content saved",
				zap.String("url", c.CanonicalURL),
				zap.String("content_id", outcome.ContentID),
				zap.Int("score", outcome.Score))
		}

		if len(body) > 0 && c.Depth+1 <= r.run.Config.MaxDepth {
			r.followLinks(ctx, c, body)
		}
		r.inFlight.Add(-1)
		metrics.DecActiveWorkers()
	}
}

// followLinks enqueues outbound links from a fetched page at the next
// depth. Wikipedia links found on seed-level pages are handed to the
// citation scanner; deeper pages cannot nominate new Wikipedia pages, or
// one hub would fan the scan out without bound.
func (r *Runner) followLinks(ctx context.Context, from crawl.Candidate, body []byte) {
	links := harvestLinks(from.URL, body, from.Depth+1, from.Source, r.cfg.Blocklist)
	enqueued := 0
	for _, link := range links {
		if link.wikipedia {
			if r.wiki != nil && from.Depth == 0 {
				if _, err := r.wiki.Monitor(ctx, r.run.PatchID, link.candidate.URL, link.candidate.Title); err != nil {
					r.logger.Warn("registering discovered wikipedia page failed",
						zap.String("url", link.candidate.URL), zap.Error(err))
				}
			}
			continue
		}
		if r.frontier.Enqueue(link.candidate, r.pipeline.seenBefore(link.candidate)) {
			enqueued++
		}
	}
	if enqueued > 0 {
		r.counters.enqueued.Add(int64(enqueued))
		r.logger.Debug("links enqueued",
			zap.String("from", from.URL), zap.Int("count", enqueued))
	}
}

// wikiLoop drains pending Wikipedia pages one at a time. Scan failures
// are terminal for the page, not the run.
func (r *Runner) wikiLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		scanned, err := r.wiki.ScanNext(ctx, r.run.PatchID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.counters.errors.Add(1)
			r.logger.Warn("citation scan failed", zap.Error(err))
		}
		if scanned {
			r.wikiIdle.Store(false)
			continue
		}
		r.wikiIdle.Store(true)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

func (r *Runner) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			depth := r.frontier.Len()
			metrics.SetFrontierDepth(r.run.ID, depth)
			if err := r.runs.Heartbeat(ctx, r.run.ID, r.counters.snapshot(depth), r.clock.Now()); err != nil {
				r.logger.Warn("heartbeat failed", zap.Error(err))
			}
		}
	}
}

// supervise owns run termination: MaxPages, drain-or-reseed, and the
// staleness circuit. Only the supervisor reseeds, so the breaker sees one
// caller.
func (r *Runner) supervise(ctx context.Context) error {
	const (
		quietRoundsToReseed = 4
		quietRoundsToFinish = 12
	)
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	quiet := 0
	var lastStaleLog time.Time
	lastPersisted := r.counters.persisted.Load()
	lastProgress := r.clock.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		now := r.clock.Now()

		if budget := r.run.Config.MaxPages; budget > 0 && r.counters.persisted.Load() >= int64(budget) {
			r.logger.Info("page budget reached", zap.Int("max_pages", budget))
			return errRunComplete
		}

		// Progress is a grown persist counter, nothing else. Dequeues and
		// fetches that never turn into saved content must not reset the
		// staleness clock.
		if persisted := r.counters.persisted.Load(); persisted > lastPersisted {
			lastPersisted = persisted
			lastProgress = now
		}
		stale := now.Sub(lastProgress)
		if stale > r.cfg.SuspendAfter {
			return errRunStalled
		}
		if stale > r.cfg.StaleAfter && now.Sub(lastStaleLog) > r.cfg.StaleAfter {
			lastStaleLog = now
			r.logStaleness(stale)
		}

		if r.frontier.Len() > 0 || r.inFlight.Load() > 0 || !r.wikiIdle.Load() {
			quiet = 0
			continue
		}
		quiet++
		if quiet < quietRoundsToReseed {
			continue
		}
		if r.frontier.Breaker().Allow(now) {
			if n := r.reseed(ctx); n > 0 {
				metrics.ObserveReseed("refilled")
				r.logger.Info("frontier reseeded",
					zap.Int("candidates", n),
					zap.Int("attempt", r.frontier.Breaker().Attempts()))
				quiet = 0
				continue
			}
			metrics.ObserveReseed("empty")
		}
		if r.frontier.Breaker().Open() || quiet >= quietRoundsToFinish {
			return errRunComplete
		}
	}
}

func (r *Runner) logStaleness(stale time.Duration) {
	fields := []zap.Field{
		zap.Duration("stale_for", stale),
		zap.Int("queue_length", r.frontier.Len()),
		zap.Int64("in_flight", r.inFlight.Load()),
	}
	for _, rc := range r.tally.top(5) {
		fields = append(fields, zap.Int64("rejects_"+string(rc.Reason), rc.Count))
	}
	r.logger.Warn("run is stale", fields...)
}

// finish records the terminal status. The caller's context may already be
// canceled, so persistence runs on a detached context.
func (r *Runner) finish(err error) {
	status := crawl.RunStatusCompleted
	errText := ""
	switch {
	case err == nil || errors.Is(err, errRunComplete) || errors.Is(err, context.Canceled):
	case errors.Is(err, errRunStalled):
		status = crawl.RunStatusSuspended
		errText = "no progress before the staleness deadline"
		if top := r.tally.top(3); len(top) > 0 {
			errText += "; dominant rejections:"
			for _, rc := range top {
				errText += fmt.Sprintf(" %s=%d", rc.Reason, rc.Count)
			}
		}
	default:
		status = crawl.RunStatusError
		errText = err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snapshot := r.counters.snapshot(r.frontier.Len())
	if herr := r.runs.Heartbeat(ctx, r.run.ID, snapshot, r.clock.Now()); herr != nil {
		r.logger.Warn("final heartbeat failed", zap.Error(herr))
	}
	if serr := r.runs.SetStatus(ctx, r.run.ID, status, errText, r.clock.Now()); serr != nil {
		r.logger.Error("recording terminal run status failed",
			zap.String("status", string(status)), zap.Error(serr))
	}
	metrics.DropFrontierDepth(r.run.ID)
	r.logger.Info("run finished",
		zap.String("status", string(status)),
		zap.Int64("fetched", snapshot.Fetched),
		zap.Int64("persisted", snapshot.Persisted),
		zap.Int64("deduped", snapshot.Deduped),
		zap.Int64("errors", snapshot.Errors))
}
