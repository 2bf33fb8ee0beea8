package orchestrator

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/patchwork-dev/patchcrawl/internal/crawl"
)

// counterSet tracks run progress. Workers update it concurrently; the
// heartbeat loop snapshots it.
type counterSet struct {
	fetched   atomic.Int64
	enqueued  atomic.Int64
	deduped   atomic.Int64
	skipped   atomic.Int64
	persisted atomic.Int64
	errors    atomic.Int64
}

func (c *counterSet) snapshot(queueLength int) crawl.RunCounters {
	return crawl.RunCounters{
		Fetched:     c.fetched.Load(),
		Enqueued:    c.enqueued.Load(),
		Deduped:     c.deduped.Load(),
		Skipped:     c.skipped.Load(),
		Persisted:   c.persisted.Load(),
		Errors:      c.errors.Load(),
		QueueLength: int64(queueLength),
	}
}

// record classifies one pipeline outcome into the counters.
func (c *counterSet) record(o crawl.Outcome) {
	c.fetched.Add(1)
	switch {
	case o.Saved():
		c.persisted.Add(1)
	case o.Reason == crawl.ReasonAlreadySeen || o.Reason == crawl.ReasonDuplicateContent:
		c.deduped.Add(1)
	default:
		c.skipped.Add(1)
	}
}

// reasonCount pairs a rejection reason with how often it occurred.
type reasonCount struct {
	Reason crawl.Reason
	Count  int64
}

// rejectTally accumulates rejection reasons so a stalled run can report
// what it has been rejecting instead of a bare "no progress".
type rejectTally struct {
	mu     sync.Mutex
	counts map[crawl.Reason]int64
}

func newRejectTally() *rejectTally {
	return &rejectTally{counts: make(map[crawl.Reason]int64)}
}

func (t *rejectTally) add(reason crawl.Reason) {
	if reason == "" {
		return
	}
	t.mu.Lock()
	t.counts[reason]++
	t.mu.Unlock()
}

// top returns the n most frequent reasons, most frequent first.
func (t *rejectTally) top(n int) []reasonCount {
	t.mu.Lock()
	out := make([]reasonCount, 0, len(t.counts))
	for reason, count := range t.counts {
		out = append(out, reasonCount{Reason: reason, Count: count})
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
