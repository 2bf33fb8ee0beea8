package collyfetcher

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

const robotsCacheTTL = time.Hour

// robotsEntry caches one host's parsed robots.txt.
type robotsEntry struct {
	group     *robotstxt.Group
	fetchedAt time.Time
}

// RobotsGate answers "may this agent fetch this URL" with a per-host cache.
// A host whose robots.txt cannot be retrieved or parsed is treated as
// allow-all; an unreachable robots file must not block an otherwise
// reachable page.
type RobotsGate struct {
	mu        sync.Mutex
	client    *http.Client
	userAgent string
	entries   map[string]robotsEntry
}

// NewRobotsGate builds a gate that fetches robots.txt with the given client.
func NewRobotsGate(client *http.Client, userAgent string) *RobotsGate {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RobotsGate{
		client:    client,
		userAgent: userAgent,
		entries:   make(map[string]robotsEntry),
	}
}

// Allowed reports whether the target URL may be fetched.
func (g *RobotsGate) Allowed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}
	group := g.groupFor(u.Scheme, u.Host)
	if group == nil {
		return true
	}
	return group.Test(u.Path)
}

func (g *RobotsGate) groupFor(scheme, host string) *robotstxt.Group {
	g.mu.Lock()
	entry, ok := g.entries[host]
	g.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < robotsCacheTTL {
		return entry.group
	}

	group := g.fetchGroup(scheme, host)
	g.mu.Lock()
	g.entries[host] = robotsEntry{group: group, fetchedAt: time.Now()}
	g.mu.Unlock()
	return group
}

func (g *RobotsGate) fetchGroup(scheme, host string) *robotstxt.Group {
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", scheme, host)
	req, err := http.NewRequest(http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil
	}
	robots, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil
	}
	return robots.FindGroup(g.userAgent)
}
