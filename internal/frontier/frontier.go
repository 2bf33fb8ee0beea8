package frontier

import (
	"container/heap"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/patchwork-dev/patchcrawl/internal/crawl"
)

// Config controls frontier behavior. The zero value gets sane defaults.
type Config struct {
	Priority PriorityConfig
	Breaker  BreakerConfig
	// MaxPerDomainWindow is the most candidates from one domain allowed in
	// any DiversityWindow consecutive dequeues.
	MaxPerDomainWindow int
	// DiversityWindow is the dequeue window the domain cap applies over.
	DiversityWindow int
	// ExpectedURLs sizes the membership filter.
	ExpectedURLs uint
}

func (c *Config) withDefaults() {
	if c.MaxPerDomainWindow == 0 {
		c.MaxPerDomainWindow = 3
	}
	if c.DiversityWindow == 0 {
		c.DiversityWindow = 10
	}
	if c.ExpectedURLs == 0 {
		c.ExpectedURLs = 100_000
	}
}

// Frontier is the priority-ordered set of not-yet-fetched candidates for a
// single run. Dequeue is claim-then-remove under one lock, so two workers
// never receive the same candidate. All state is per-run; construct one per
// run and discard it at teardown.
type Frontier struct {
	mu            sync.Mutex
	cfg           Config
	heap          candidateHeap
	member        *bloom.BloomFilter
	recentDomains []string
	sourceCounts  map[crawl.SourceKind]int
	breaker       *ReseedBreaker
}

// New builds an empty Frontier.
func New(cfg Config) *Frontier {
	cfg.withDefaults()
	return &Frontier{
		cfg:          cfg,
		member:       bloom.NewWithEstimates(cfg.ExpectedURLs, 0.001),
		sourceCounts: make(map[crawl.SourceKind]int),
		breaker:      NewReseedBreaker(cfg.Breaker),
	}
}

// Enqueue scores and inserts a candidate. It returns false when the
// canonical URL is already a member of this run's frontier (or was already
// dequeued), keeping the frontier loop-free without a visited list rescan.
func (f *Frontier) Enqueue(c crawl.Candidate, seenBefore bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := []byte(c.CanonicalURL)
	if f.member.Test(key) {
		return false
	}
	f.member.Add(key)

	c.Priority = Score(c, seenBefore, f.sourceCounts[c.Source], f.cfg.Priority)
	f.sourceCounts[c.Source]++
	heap.Push(&f.heap, c)
	return true
}

// DequeueNext claims and removes the best eligible candidate. A domain that
// already filled its slots in the recent-dequeue window is passed over; if
// every queued candidate is capped, the least-recently-used domain wins so
// a single-domain frontier cannot stall forever.
func (f *Frontier) DequeueNext() (crawl.Candidate, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.heap.Len() == 0 {
		return crawl.Candidate{}, false
	}

	var deferred []crawl.Candidate
	var picked crawl.Candidate
	found := false
	for f.heap.Len() > 0 {
		c := heap.Pop(&f.heap).(crawl.Candidate)
		if f.domainWindowCount(c.Domain) < f.cfg.MaxPerDomainWindow {
			picked = c
			found = true
			break
		}
		deferred = append(deferred, c)
	}
	if !found {
		// Everything is capped; the least-recently-dequeued domain wins.
		// deferred is in priority order, so ties keep the best candidate.
		idx := 0
		best := f.lastDequeueIndex(deferred[0].Domain)
		for i := 1; i < len(deferred); i++ {
			if last := f.lastDequeueIndex(deferred[i].Domain); last < best {
				best = last
				idx = i
			}
		}
		picked = deferred[idx]
		deferred = append(deferred[:idx], deferred[idx+1:]...)
	}
	for _, c := range deferred {
		heap.Push(&f.heap, c)
	}

	f.recordDequeue(picked.Domain)
	return picked, true
}

// Len returns the number of queued candidates.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heap.Len()
}

// NeedsReseed reports whether the frontier has drained.
func (f *Frontier) NeedsReseed() bool {
	return f.Len() == 0
}

// Breaker exposes the run's reseed circuit breaker.
func (f *Frontier) Breaker() *ReseedBreaker {
	return f.breaker
}

// lastDequeueIndex reports where in the recent window a domain was last
// dequeued, -1 when absent.
func (f *Frontier) lastDequeueIndex(domain string) int {
	for i := len(f.recentDomains) - 1; i >= 0; i-- {
		if f.recentDomains[i] == domain {
			return i
		}
	}
	return -1
}

func (f *Frontier) domainWindowCount(domain string) int {
	count := 0
	for _, d := range f.recentDomains {
		if d == domain {
			count++
		}
	}
	return count
}

func (f *Frontier) recordDequeue(domain string) {
	f.recentDomains = append(f.recentDomains, domain)
	if len(f.recentDomains) > f.cfg.DiversityWindow {
		f.recentDomains = f.recentDomains[1:]
	}
}

// candidateHeap is a max-heap over candidate priority.
type candidateHeap []crawl.Candidate

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return h[i].Priority > h[j].Priority }
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)         { *h = append(*h, x.(crawl.Candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}
