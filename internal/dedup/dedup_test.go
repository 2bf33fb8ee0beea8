package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchwork-dev/patchcrawl/internal/canonical"
)

func TestSeenSetCheckAndMark(t *testing.T) {
	t.Parallel()

	set, err := NewSeenSet(time.Hour)
	require.NoError(t, err)
	defer set.Close() //nolint:errcheck

	hash := canonical.URLHash("https://example.com/article")
	assert.False(t, set.CheckAndMarkURL(hash), "first sighting must report unseen")
	assert.True(t, set.CheckAndMarkURL(hash), "second sighting must report seen")

	// URL and content namespaces are independent.
	assert.False(t, set.CheckAndMarkContent(hash))
	assert.True(t, set.CheckAndMarkContent(hash))
}

func TestSeenSetLookupDoesNotMark(t *testing.T) {
	t.Parallel()

	set, err := NewSeenSet(time.Hour)
	require.NoError(t, err)
	defer set.Close() //nolint:errcheck

	hash := canonical.URLHash("https://example.com/later")
	assert.False(t, set.SeenURL(hash))
	assert.False(t, set.CheckAndMarkURL(hash), "a lookup must not claim the URL")
	assert.True(t, set.SeenURL(hash))
}

func TestNearDupIndexRejectsWithinThreshold(t *testing.T) {
	t.Parallel()

	idx := NewNearDupIndex(100, 7)

	base := uint64(0xF0F0F0F0F0F0F0F0)
	within := base ^ 0x7 // distance 3
	beyond := base ^ 0xFF0F // distance 10

	assert.False(t, idx.CheckAndAdd(base), "first fingerprint is never a duplicate")
	assert.True(t, idx.CheckAndAdd(within), "distance 3 must be flagged with threshold 7")
	assert.False(t, idx.CheckAndAdd(beyond), "distance 10 must pass with threshold 7")
	assert.Equal(t, 2, idx.Len(), "flagged fingerprints must not be stored")
}

func TestNearDupIndexWindowEviction(t *testing.T) {
	t.Parallel()

	idx := NewNearDupIndex(4, 0)

	// Distinct fingerprints far apart from one another.
	hashes := []uint64{
		0x0000000000000000,
		0xFFFFFFFFFFFFFFFF,
		0x00000000FFFFFFFF,
		0xFFFFFFFF00000000,
		0x0F0F0F0F0F0F0F0F,
	}
	for _, h := range hashes {
		assert.False(t, idx.CheckAndAdd(h))
	}
	// The first entry rolled out of the window, so it is accepted again.
	assert.False(t, idx.CheckAndAdd(hashes[0]))
	assert.Equal(t, 4, idx.Len())
}

func TestNearDupIndexDefaults(t *testing.T) {
	t.Parallel()

	idx := NewNearDupIndex(0, 0)
	assert.False(t, idx.CheckAndAdd(42))
	assert.True(t, idx.CheckAndAdd(42^0x3), "default threshold must be 7")
}
