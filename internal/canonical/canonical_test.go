package canonical

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeNormalizes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases scheme and host", "HTTPS://Example.COM/Path", "https://example.com/Path"},
		{"strips default port", "http://example.com:80/a", "http://example.com/a"},
		{"strips https default port", "https://example.com:443/a", "https://example.com/a"},
		{"drops fragment", "https://example.com/a#section-2", "https://example.com/a"},
		{"strips tracking params", "https://example.com/a?utm_source=x&id=5&fbclid=abc", "https://example.com/a?id=5"},
		{"sorts query params", "https://example.com/a?b=2&a=1", "https://example.com/a?a=1&b=2"},
		{"trims root slash", "https://example.com/", "https://example.com"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Canonicalize(tc.in, "")
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	t.Parallel()

	urls := []string{
		"HTTPS://Example.COM:443/News/Article?utm_campaign=x&z=1&a=2#top",
		"http://site.org/page",
		"https://en.wikipedia.org/wiki/Go_(programming_language)",
	}
	for _, raw := range urls {
		once, err := Canonicalize(raw, "")
		require.NoError(t, err)
		twice, err := Canonicalize(once, "")
		require.NoError(t, err)
		assert.Equal(t, once, twice, "canonicalize must be idempotent for %q", raw)
	}
}

func TestCanonicalizeResolvesRelative(t *testing.T) {
	t.Parallel()

	got, err := Canonicalize("../other/page", "https://example.com/news/today/")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/news/other/page", got)

	_, err = Canonicalize("/rooted", "")
	assert.Error(t, err, "relative url without base must fail")
}

func TestDomain(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "example.com", Domain("https://Example.com/a/b"))
	assert.Equal(t, "example.com", Domain("example.com/a"))
	assert.Equal(t, "unknown", Domain("://bad"))
}

func TestSimHashNearDuplicates(t *testing.T) {
	t.Parallel()

	// Article-length inputs, matching what the validation gates let through
	// to dedup. Short snippets shift too many bits per edit to be useful
	// SimHash subjects.
	base := strings.Join([]string{
		"The city council approved the new transit budget on Thursday after a lengthy public hearing. " +
			"Supporters argued the expanded bus network would cut commute times for thousands of riders, " +
			"while critics questioned the projected maintenance costs over the coming decade.",
		"Planners presented ridership models drawn from three comparable cities and fielded questions " +
			"from residents for nearly two hours. The final vote passed by a narrow margin, with two " +
			"members abstaining after raising concerns about the financing schedule.",
		"Construction on the first corridor is expected to begin early next spring, starting with " +
			"dedicated lanes along the riverfront and signal upgrades at fourteen intersections. " +
			"Officials said a second corridor would follow once federal matching funds are confirmed.",
		"A citizen oversight board will publish quarterly progress reports and audit contractor " +
			"spending against the approved schedule. The transit agency has committed to holding open " +
			"workshops in each affected neighborhood before any street closures take effect.",
	}, "\n\n")
	nearDup := strings.Replace(base, "on Thursday", "on Friday", 1)
	unrelated := "Migration patterns of arctic terns have shifted northward over the past decade according " +
		"to a long-running tracking study of tagged birds across the polar circle. Researchers " +
		"attached lightweight geolocators to several hundred birds at colonies in Greenland and " +
		"Iceland, recording round trips that spanned more than seventy thousand kilometers. The " +
		"data suggest earlier departures from wintering grounds and new stopover sites along the " +
		"mid-Atlantic ridge, changes the team links to shifting prey distributions in warming " +
		"surface waters. Similar shifts have now been documented in skuas and several species of " +
		"petrel, hinting at a broader rearrangement of seabird foraging ranges."

	h1 := SimHash64(base)
	h2 := SimHash64(nearDup)
	h3 := SimHash64(unrelated)

	assert.LessOrEqual(t, HammingDistance(h1, h2), 7, "one-word edit should stay within threshold")
	assert.Greater(t, HammingDistance(h1, h3), 7, "unrelated text should exceed threshold")
}

func TestSimHashDeterministic(t *testing.T) {
	t.Parallel()

	text := "repeatable input text for hashing across calls and runs"
	assert.Equal(t, SimHash64(text), SimHash64(text))
	assert.Zero(t, SimHash64(""))
}

func TestContentHash(t *testing.T) {
	t.Parallel()

	a := ContentHash("alpha")
	b := ContentHash("beta")
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, ContentHash("alpha"))
}
