package ratelimit

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchwork-dev/patchcrawl/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

func TestAcquireReleases(t *testing.T) {
	t.Parallel()

	l := New(Config{MaxConcurrentPerDomain: 1})
	release, err := l.Acquire(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	release()
	release() // double release must be harmless

	release2, err := l.Acquire(context.Background(), "https://example.com/b")
	require.NoError(t, err)
	release2()
}

func TestPerDomainConcurrencyCap(t *testing.T) {
	t.Parallel()

	l := New(Config{MaxConcurrentPerDomain: 2})

	var inFlight, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "https://busy.example/p")
			if err != nil {
				t.Error(err)
				return
			}
			cur := atomic.AddInt64(&inFlight, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
			release()
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2),
		"no more than two simultaneous requests per domain")
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{MaxConcurrentPerDomain: 1})
	release, err := l.Acquire(context.Background(), "https://slow.example/a")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "https://slow.example/b")
	assert.Error(t, err, "blocked acquire must fail once the context expires")
}

func TestDomainsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{MaxConcurrentPerDomain: 1})
	releaseA, err := l.Acquire(context.Background(), "https://a.example/x")
	require.NoError(t, err)
	defer releaseA()

	// A saturated a.example must not block b.example.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	releaseB, err := l.Acquire(ctx, "https://b.example/x")
	require.NoError(t, err)
	releaseB()
}
