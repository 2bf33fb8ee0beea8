package dedup

import (
	"sync"

	"github.com/patchwork-dev/patchcrawl/internal/canonical"
)

// NearDupIndex keeps a bounded rolling window of recent SimHash
// fingerprints and answers near-duplicate queries by Hamming distance.
// One instance is shared across runs; the bounded window means older
// runs' fingerprints age out on their own.
type NearDupIndex struct {
	mu        sync.Mutex
	ring      []uint64
	next      int
	filled    bool
	threshold int
}

// NewNearDupIndex builds an index over a window of windowSize fingerprints
// with the given Hamming threshold (0 values fall back to 1000 and 7).
func NewNearDupIndex(windowSize, threshold int) *NearDupIndex {
	if windowSize <= 0 {
		windowSize = 1000
	}
	if threshold <= 0 {
		threshold = 7
	}
	return &NearDupIndex{
		ring:      make([]uint64, windowSize),
		threshold: threshold,
	}
}

// CheckAndAdd reports whether hash is within the Hamming threshold of any
// fingerprint in the window, and records it when it is not. The check and
// the insert are one critical section so two workers never both pass with
// near-identical texts.
func (n *NearDupIndex) CheckAndAdd(hash uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	limit := n.next
	if n.filled {
		limit = len(n.ring)
	}
	for i := 0; i < limit; i++ {
		if canonical.HammingDistance(n.ring[i], hash) <= n.threshold {
			return true
		}
	}

	n.ring[n.next] = hash
	n.next++
	if n.next == len(n.ring) {
		n.next = 0
		n.filled = true
	}
	return false
}

// Len returns how many fingerprints the window currently holds.
func (n *NearDupIndex) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.filled {
		return len(n.ring)
	}
	return n.next
}
