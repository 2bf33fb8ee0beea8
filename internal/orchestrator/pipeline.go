// Package orchestrator drives discovery runs: it feeds the frontier,
// pushes candidates through the crawl pipeline, and owns run lifecycle.
package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/patchwork-dev/patchcrawl/internal/canonical"
	"github.com/patchwork-dev/patchcrawl/internal/crawl"
	"github.com/patchwork-dev/patchcrawl/internal/dedup"
	"github.com/patchwork-dev/patchcrawl/internal/extract"
	"github.com/patchwork-dev/patchcrawl/internal/metrics"
	"github.com/patchwork-dev/patchcrawl/internal/ratelimit"
	"github.com/patchwork-dev/patchcrawl/internal/save"
	"github.com/patchwork-dev/patchcrawl/internal/score"
)

// PipelineDeps are the shared stage implementations behind a pipeline.
type PipelineDeps struct {
	Fetcher  crawl.Fetcher
	Headless crawl.Fetcher
	Detector crawl.HeadlessDetector
	Limiter  *ratelimit.Limiter
	Seen     *dedup.SeenSet
	NearDups *dedup.NearDupIndex
	Engine   *score.Engine
	Saver    *save.Coordinator
	Logger   *zap.Logger
}

// PipelineConfig is the per-run tuning of the pipeline.
type PipelineConfig struct {
	Topic           string
	Validator       extract.ValidatorConfig
	HeadlessAllowed bool
	RespectRobots   bool
	// SummaryLength caps the leading-text summary stored with content.
	SummaryLength int
}

// Pipeline pushes one candidate through fetch, extract, dedup, score,
// and save. Every stage records a terminal outcome; nothing is silently
// dropped.
type Pipeline struct {
	deps PipelineDeps
	cfg  PipelineConfig
}

// NewPipeline builds a pipeline for one run.
func NewPipeline(deps PipelineDeps, cfg PipelineConfig) *Pipeline {
	if cfg.SummaryLength == 0 {
		cfg.SummaryLength = 500
	}
	return &Pipeline{deps: deps, cfg: cfg}
}

// ProcessURL runs the full pipeline for a single candidate. The error
// return is reserved for cancellation; every domain failure comes back as
// a classified outcome.
func (p *Pipeline) ProcessURL(ctx context.Context, patchID string, c crawl.Candidate) (crawl.Outcome, error) {
	outcome, _, err := p.process(ctx, patchID, c)
	return outcome, err
}

// process additionally returns the fetched body, so the caller can
// harvest outbound links even from pages the pipeline rejected after the
// fetch stage. Hub pages are rarely relevant themselves but link to pages
// that are.
func (p *Pipeline) process(ctx context.Context, patchID string, c crawl.Candidate) (crawl.Outcome, []byte, error) {
	if c.CanonicalURL == "" {
		canonicalURL, err := canonical.Canonicalize(c.URL, "")
		if err != nil {
			return p.reject(c, crawl.StageFetch, crawl.ReasonDNSError), nil, nil
		}
		c.CanonicalURL = canonicalURL
	}
	if c.Domain == "" {
		c.Domain = canonical.Domain(c.URL)
	}

	if p.deps.Seen.CheckAndMarkURL(canonical.URLHash(c.CanonicalURL)) {
		return p.reject(c, crawl.StageDedup, crawl.ReasonAlreadySeen), nil, nil
	}

	result, err := p.fetch(ctx, c)
	if err != nil {
		return crawl.Outcome{}, nil, err
	}
	if result.Reason != "" {
		return p.reject(c, crawl.StageFetch, result.Reason), nil, nil
	}

	extracted, err := extract.Extract(result.Body)
	if err != nil {
		return p.reject(c, crawl.StageExtract, crawl.ReasonEmptyBody), result.Body, nil
	}
	if reason := extract.Validate(extracted.Text, p.cfg.Validator); reason != "" {
		return p.reject(c, crawl.StageExtract, reason), result.Body, nil
	}

	contentHash := canonical.ContentHash(extracted.Text)
	if p.deps.Seen.CheckAndMarkContent(contentHash) {
		return p.reject(c, crawl.StageDedup, crawl.ReasonDuplicateContent), result.Body, nil
	}
	if p.deps.NearDups.CheckAndAdd(canonical.SimHash64(extracted.Text)) {
		return p.reject(c, crawl.StageDedup, crawl.ReasonDuplicateContent), result.Body, nil
	}

	title := extracted.Title
	if title == "" {
		title = c.Title
	}
	verdict, err := p.deps.Engine.Score(ctx, crawl.ScoreRequest{
		Title: title,
		URL:   c.CanonicalURL,
		Text:  extracted.Text,
		Topic: p.cfg.Topic,
	})
	if err != nil {
		if ctx.Err() != nil {
			return crawl.Outcome{}, nil, ctx.Err()
		}
		p.deps.Logger.Warn("scoring failed terminally",
			zap.String("url", c.CanonicalURL), zap.Error(err))
		return p.reject(c, crawl.StageScore, crawl.ReasonScoringFailure), result.Body, nil
	}
	if !verdict.Relevant {
		outcome := p.reject(c, crawl.StageScore, crawl.ReasonNotRelevant)
		outcome.Score = verdict.Primary.Score
		return outcome, result.Body, nil
	}

	qualityScore := verdict.Primary.Score
	if verdict.Secondary != nil {
		qualityScore = verdict.Secondary.Score
	}
	content, _, err := p.deps.Saver.Save(ctx, patchID, crawl.ContentPayload{
		URL:            c.URL,
		CanonicalURL:   c.CanonicalURL,
		Source:         c.Source,
		Title:          title,
		Summary:        summarize(extracted.Text, p.cfg.SummaryLength),
		TextContent:    extracted.Text,
		RawBody:        result.Body,
		RelevanceScore: verdict.Primary.Score,
		QualityScore:   qualityScore,
		Metadata: map[string]any{
			"extraction_method": extracted.Method,
			"used_headless":     result.UsedHeadless,
			"scoring_reason":    verdict.Primary.Reason,
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return crawl.Outcome{}, nil, ctx.Err()
		}
		p.deps.Logger.Error("save failed",
			zap.String("url", c.CanonicalURL), zap.Error(err))
		return p.reject(c, crawl.StageSave, crawl.ReasonPersistenceError), result.Body, nil
	}

	return crawl.Outcome{
		Candidate: c,
		Stage:     crawl.StageSave,
		ContentID: content.ID,
		Score:     verdict.Primary.Score,
		Method:    extracted.Method,
	}, result.Body, nil
}

// seenBefore reports whether the candidate's canonical URL was attempted
// recently, without marking it. The answer feeds the enqueue-time
// duplicate downrank; the authoritative check-and-mark still happens in
// process.
func (p *Pipeline) seenBefore(c crawl.Candidate) bool {
	key := c.CanonicalURL
	if key == "" {
		canonicalURL, err := canonical.Canonicalize(c.URL, "")
		if err != nil {
			return false
		}
		key = canonicalURL
	}
	return p.deps.Seen.SeenURL(canonical.URLHash(key))
}

// fetch acquires the domain rate-limit slot, runs the standard fetcher,
// and escalates to the headless branch when the detector calls for it.
// A failed headless attempt falls back to the standard result rather than
// discarding it.
func (p *Pipeline) fetch(ctx context.Context, c crawl.Candidate) (crawl.FetchResult, error) {
	release, err := p.deps.Limiter.Acquire(ctx, c.URL)
	if err != nil {
		return crawl.FetchResult{}, fmt.Errorf("acquire rate limit: %w", err)
	}
	defer release()

	request := crawl.FetchRequest{
		URL:           c.URL,
		Depth:         c.Depth,
		RespectRobots: p.cfg.RespectRobots,
	}
	result, err := p.deps.Fetcher.Fetch(ctx, request)
	if err != nil {
		return crawl.FetchResult{}, err
	}

	if p.cfg.HeadlessAllowed && p.deps.Headless != nil && p.deps.Detector != nil &&
		p.deps.Detector.ShouldPromote(result) {
		metrics.ObserveHeadlessPromotion()
		request.UseHeadless = true
		headlessResult, herr := p.deps.Headless.Fetch(ctx, request)
		if herr == nil && headlessResult.Reason == "" && len(headlessResult.Body) > 0 {
			return headlessResult, nil
		}
		if ctx.Err() != nil {
			return crawl.FetchResult{}, ctx.Err()
		}
		p.deps.Logger.Debug("headless promotion did not improve the fetch",
			zap.String("url", c.URL), zap.Error(herr))
	}
	return result, nil
}

func (p *Pipeline) reject(c crawl.Candidate, stage crawl.Stage, reason crawl.Reason) crawl.Outcome {
	metrics.ObserveRejection(string(stage), string(reason))
	return crawl.Rejected(c, stage, reason)
}

func summarize(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := text[:limit]
	// Break at a word boundary when one is near.
	for i := len(cut) - 1; i > limit-40 && i > 0; i-- {
		if cut[i] == ' ' {
			return cut[:i]
		}
	}
	return cut
}
