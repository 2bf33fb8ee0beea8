// Package blocklist matches hostnames against exact and wildcard domain
// patterns.
package blocklist

import "strings"

// Blocklist stores exact hosts and suffix wildcards derived from
// configuration. A nil Blocklist blocks nothing.
type Blocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// New builds a Blocklist from patterns. "example.com" matches exactly;
// "*.example.com" and ".example.com" match the domain and all subdomains.
// Returns nil when no usable pattern is given.
func New(patterns []string) *Blocklist {
	matcher := &Blocklist{
		exact: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			suffix := strings.TrimPrefix(value, "*.")
			if suffix != "" {
				matcher.addSuffix(suffix)
			}
		case strings.HasPrefix(value, "."):
			suffix := strings.TrimPrefix(value, ".")
			if suffix != "" {
				matcher.addSuffix(suffix)
			}
		default:
			matcher.exact[value] = struct{}{}
		}
	}
	if len(matcher.exact) == 0 && len(matcher.suffixes) == 0 {
		return nil
	}
	return matcher
}

// LowValueDomains are hosts whose pages are almost never citable
// articles: social platforms, shorteners, and retail. Used as the default
// filter for citation targets.
var LowValueDomains = []string{
	"*.facebook.com",
	"*.twitter.com",
	"*.x.com",
	"*.instagram.com",
	"*.tiktok.com",
	"*.pinterest.com",
	"*.youtube.com",
	"youtu.be",
	"t.co",
	"bit.ly",
	"tinyurl.com",
	"goo.gl",
	"*.amazon.com",
	"*.ebay.com",
	"*.linkedin.com",
	"*.reddit.com",
}

func (b *Blocklist) addSuffix(suffix string) {
	for _, existing := range b.suffixes {
		if existing == suffix {
			return
		}
	}
	b.suffixes = append(b.suffixes, suffix)
}

// IsBlocked reports whether the host matches any pattern.
func (b *Blocklist) IsBlocked(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, exact := b.exact[host]; exact {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
