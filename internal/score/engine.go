package score

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/patchwork-dev/patchcrawl/internal/crawl"
	"github.com/patchwork-dev/patchcrawl/internal/metrics"
)

// Thresholds for the combined decision. The floor is the bar the primary
// score must clear; the low floor is how weak the secondary may be before
// it vetoes a primary pass.
type Thresholds struct {
	RelevanceFloor    int // default 60
	SecondaryLowFloor int // default 20
}

func (t *Thresholds) withDefaults() {
	if t.RelevanceFloor == 0 {
		t.RelevanceFloor = 60
	}
	if t.SecondaryLowFloor == 0 {
		t.SecondaryLowFloor = 20
	}
}

// Verdict is the combined scoring outcome for one page.
type Verdict struct {
	Primary   crawl.ScoreResult
	Secondary *crawl.ScoreResult
	Relevant  bool
}

// Engine runs the primary scorer, asks the secondary for an advisory
// opinion, and combines the two. The primary is authoritative; the
// secondary may only demote a pass, never rescue a fail.
type Engine struct {
	primary    crawl.Scorer
	secondary  crawl.Scorer
	thresholds Thresholds
	logger     *zap.Logger
}

// NewEngine wires the two scorers. secondary may be nil.
func NewEngine(primary, secondary crawl.Scorer, thresholds Thresholds, logger *zap.Logger) *Engine {
	thresholds.withDefaults()
	return &Engine{
		primary:    primary,
		secondary:  secondary,
		thresholds: thresholds,
		logger:     logger,
	}
}

// retryDelay before the single primary retry; transient oracle hiccups
// usually clear immediately.
const retryDelay = 2 * time.Second

// Score produces the combined verdict. A primary failure is retried once;
// a second failure is returned as an error so the page surfaces as a
// scoring failure rather than a silent rejection.
func (e *Engine) Score(ctx context.Context, req crawl.ScoreRequest) (Verdict, error) {
	primary, err := e.primary.Score(ctx, req)
	if err != nil {
		e.logger.Warn("primary scorer failed, retrying once",
			zap.String("url", req.URL), zap.Error(err))
		metrics.ObserveScorerCall("primary", "retry")
		select {
		case <-ctx.Done():
			return Verdict{}, ctx.Err()
		case <-time.After(retryDelay):
		}
		primary, err = e.primary.Score(ctx, req)
	}
	if err != nil {
		metrics.ObserveScorerCall("primary", "failure")
		return Verdict{}, fmt.Errorf("primary scorer: %w", err)
	}
	metrics.ObserveScorerCall("primary", "ok")

	verdict := Verdict{Primary: primary}

	if e.secondary != nil {
		secondary, serr := e.secondary.Score(ctx, req)
		if serr != nil {
			// Advisory only: a broken secondary never blocks the page.
			e.logger.Warn("secondary scorer failed, ignoring",
				zap.String("url", req.URL), zap.Error(serr))
			metrics.ObserveScorerCall("secondary", "failure")
		} else {
			metrics.ObserveScorerCall("secondary", "ok")
			verdict.Secondary = &secondary
		}
	}

	verdict.Relevant = e.decide(primary, verdict.Secondary)
	return verdict, nil
}

func (e *Engine) decide(primary crawl.ScoreResult, secondary *crawl.ScoreResult) bool {
	if !primary.IsRelevant || primary.Score < e.thresholds.RelevanceFloor {
		return false
	}
	if secondary == nil {
		return true
	}
	// Weak veto: only a secondary that both disagrees and scores below
	// the low floor overturns the primary pass.
	return secondary.IsRelevant || secondary.Score >= e.thresholds.SecondaryLowFloor
}
