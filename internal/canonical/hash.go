package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"math/bits"
	"strings"
	"unicode"
)

// ContentHash returns the hex SHA-256 digest of the text, used for exact
// duplicate detection and for gating re-crawl updates.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// URLHash returns the hex SHA-256 digest of a canonical URL, the key used
// by the seen-set and as the idempotency key for concurrent saves.
func URLHash(canonicalURL string) string {
	return ContentHash(canonicalURL)
}

const shingleSize = 4

// SimHash64 computes a 64-bit SimHash over word 4-gram shingles of the
// normalized text. Texts differing only in small edits land within a few
// bits of each other; Hamming distance under the configured threshold
// marks a near-duplicate. Calibrated for article-length input: below a
// hundred words or so, a single edit touches a large fraction of the
// shingles and the distance loses meaning.
func SimHash64(text string) uint64 {
	words := tokenize(text)
	if len(words) == 0 {
		return 0
	}

	var weights [64]int
	addShingle := func(shingle string) {
		h := fnv64(shingle)
		for i := 0; i < 64; i++ {
			if h&(1<<uint(i)) != 0 {
				weights[i]++
			} else {
				weights[i]--
			}
		}
	}

	if len(words) < shingleSize {
		addShingle(strings.Join(words, " "))
	} else {
		for i := 0; i+shingleSize <= len(words); i++ {
			addShingle(strings.Join(words[i:i+shingleSize], " "))
		}
	}

	var hash uint64
	for i := 0; i < 64; i++ {
		if weights[i] > 0 {
			hash |= 1 << uint(i)
		}
	}
	return hash
}

// HammingDistance counts the differing bits between two SimHash values.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// fnv64 is the FNV-1a 64-bit hash, inlined to keep shingle hashing
// allocation-free.
func fnv64(s string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}
