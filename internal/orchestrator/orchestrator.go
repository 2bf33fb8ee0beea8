package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/patchwork-dev/patchcrawl/internal/crawl"
	"github.com/patchwork-dev/patchcrawl/internal/extract"
	"github.com/patchwork-dev/patchcrawl/internal/source"
	"github.com/patchwork-dev/patchcrawl/internal/store"
	"github.com/patchwork-dev/patchcrawl/internal/wiki"
)

// ErrTooManyRuns is returned when a patch already has its full quota of
// live runs.
var ErrTooManyRuns = errors.New("patch already has the maximum number of live runs")

// Config tunes the orchestrator and the runs it launches.
type Config struct {
	MaxLiveRunsPerPatch int
	DefaultMaxDepth     int
	Runner              RunnerConfig
	Wiki                wiki.Config
	Validator           extract.ValidatorConfig
}

func (c *Config) withDefaults() {
	if c.MaxLiveRunsPerPatch == 0 {
		c.MaxLiveRunsPerPatch = 3
	}
	if c.DefaultMaxDepth == 0 {
		c.DefaultMaxDepth = 2
	}
}

// Deps are the shared subsystems behind every run.
type Deps struct {
	Pipeline PipelineDeps
	Runs     store.RunRepository
	WikiRepo store.WikiRepository
	Sources  []source.Source
	IDs      crawl.IDGenerator
	Clock    crawl.Clock
	Logger   *zap.Logger
}

// Orchestrator launches and supervises discovery runs. One orchestrator
// serves all patches; each run gets its own frontier, pipeline, and
// worker pool.
type Orchestrator struct {
	deps Deps
	cfg  Config

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	cfg.withDefaults()
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		active: make(map[string]context.CancelFunc),
	}
}

// StartRun validates the request, persists the run row, and launches the
// run in the background. The returned Run reflects the freshly created
// state.
func (o *Orchestrator) StartRun(ctx context.Context, patchID string, runCfg crawl.RunConfig) (crawl.Run, error) {
	if patchID == "" {
		return crawl.Run{}, errors.New("patch id is required")
	}
	if runCfg.Topic == "" {
		return crawl.Run{}, errors.New("run topic is required")
	}
	if len(runCfg.SeedURLs) == 0 && !o.hasSourceKind(crawl.SourceSearchAPI) {
		return crawl.Run{}, errors.New("run needs seed urls or a configured search source")
	}
	if runCfg.MaxDepth <= 0 {
		runCfg.MaxDepth = o.cfg.DefaultMaxDepth
	}

	live, err := o.deps.Runs.CountLiveRuns(ctx, patchID)
	if err != nil {
		return crawl.Run{}, fmt.Errorf("counting live runs: %w", err)
	}
	if live >= o.cfg.MaxLiveRunsPerPatch {
		return crawl.Run{}, ErrTooManyRuns
	}

	runID, err := o.deps.IDs.NewID()
	if err != nil {
		return crawl.Run{}, fmt.Errorf("generating run id: %w", err)
	}
	now := o.deps.Clock.Now()
	run := crawl.Run{
		ID:          runID,
		PatchID:     patchID,
		Status:      crawl.RunStatusLive,
		StartedAt:   now,
		HeartbeatAt: now,
		Config:      runCfg,
	}
	if err := o.deps.Runs.CreateRun(ctx, run); err != nil {
		return crawl.Run{}, fmt.Errorf("creating run: %w", err)
	}

	runner := o.buildRunner(run)
	runCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.active[runID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		runner.Run(runCtx)
		o.mu.Lock()
		delete(o.active, runID)
		o.mu.Unlock()
	}()
	return run, nil
}

func (o *Orchestrator) buildRunner(run crawl.Run) *Runner {
	pipeline := NewPipeline(o.deps.Pipeline, PipelineConfig{
		Topic:           run.Config.Topic,
		Validator:       o.cfg.Validator,
		HeadlessAllowed: run.Config.HeadlessAllowed,
		RespectRobots:   run.Config.RespectRobots,
	})

	var wikiScanner *wiki.Scanner
	if o.deps.WikiRepo != nil {
		wikiScanner = wiki.NewScanner(o.deps.WikiRepo, o.deps.Pipeline.Fetcher, pipeline,
			o.deps.IDs, o.deps.Clock, o.cfg.Wiki, o.deps.Logger)
	}

	return NewRunner(run, pipeline, o.sourcesFor(run.Config), wikiScanner,
		o.deps.Runs, o.deps.Clock, o.cfg.Runner, o.deps.Logger)
}

// sourcesFor filters the configured sources down to the kinds the run
// asked for. An empty request means every configured source.
func (o *Orchestrator) sourcesFor(runCfg crawl.RunConfig) []source.Source {
	if len(runCfg.Sources) == 0 {
		return o.deps.Sources
	}
	wanted := make(map[crawl.SourceKind]bool, len(runCfg.Sources))
	for _, kind := range runCfg.Sources {
		wanted[kind] = true
	}
	var out []source.Source
	for _, src := range o.deps.Sources {
		if wanted[src.Kind()] {
			out = append(out, src)
		}
	}
	return out
}

func (o *Orchestrator) hasSourceKind(kind crawl.SourceKind) bool {
	for _, src := range o.deps.Sources {
		if src.Kind() == kind {
			return true
		}
	}
	return false
}

// StopRun requests a clean shutdown of a live run. Stopping an already
// terminal run is a no-op; an unknown run returns store.ErrNotFound.
func (o *Orchestrator) StopRun(ctx context.Context, runID string) error {
	o.mu.Lock()
	cancel, ok := o.active[runID]
	o.mu.Unlock()
	if ok {
		cancel()
		return nil
	}

	// Not running here: reconcile against the store. A live row with no
	// local runner is an orphan from an earlier process; close it out.
	run, err := o.deps.Runs.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	switch run.Status {
	case crawl.RunStatusCompleted, crawl.RunStatusError:
		return nil
	default:
		return o.deps.Runs.SetStatus(ctx, runID, crawl.RunStatusCompleted, "", o.deps.Clock.Now())
	}
}

// GetRun loads run state from the store.
func (o *Orchestrator) GetRun(ctx context.Context, runID string) (crawl.Run, error) {
	return o.deps.Runs.GetRun(ctx, runID)
}

// Shutdown cancels every active run and waits for them to record their
// terminal status, then drains pending enrichment triggers.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	for _, cancel := range o.active {
		cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		if o.deps.Pipeline.Saver != nil {
			o.deps.Pipeline.Saver.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}
