// Package collyfetcher implements the plain-HTTP fetch branch using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/patchwork-dev/patchcrawl/internal/canonical"
	"github.com/patchwork-dev/patchcrawl/internal/crawl"
	"github.com/patchwork-dev/patchcrawl/internal/metrics"
)

// Config controls collector behavior.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// MaxBodyBytes truncates oversized responses; <=0 keeps colly's default.
	MaxBodyBytes int64
	// GetFirstDomains lists hosts known to reject HEAD; the verification
	// probe is skipped for them and the fetch goes straight to GET.
	GetFirstDomains []string
}

// Fetcher implements crawl.Fetcher with a HEAD-probe-then-GET strategy.
// A verification probe failure is never terminal on its own: the GET always
// runs, and a 2xx body always wins.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	probeClient   *http.Client
	robots        *RobotsGate
	retry         *retryPolicy
	baseCollector *colly.Collector
	getFirst      map[string]struct{}
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	transport := newHTTPTransport()
	probeClient := &http.Client{Transport: transport, Timeout: cfg.Timeout}

	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(transport)
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = int(cfg.MaxBodyBytes)
	}

	getFirst := make(map[string]struct{}, len(cfg.GetFirstDomains))
	for _, d := range cfg.GetFirstDomains {
		getFirst[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		probeClient:   probeClient,
		robots:        NewRobotsGate(probeClient, cfg.UserAgent),
		retry:         newRetryPolicy(cfg.MaxRetries, cfg.BackoffBase, cfg.BackoffCap),
		baseCollector: c,
		getFirst:      getFirst,
	}
}

// Fetch resolves a URL to raw bytes. Terminal classifications (robots,
// 4xx, empty body, exhausted retries) are returned in FetchResult.Reason;
// the error return is reserved for context cancellation.
func (f *Fetcher) Fetch(ctx context.Context, request crawl.FetchRequest) (crawl.FetchResult, error) {
	if request.RespectRobots && !f.robots.Allowed(request.URL) {
		return crawl.FetchResult{URL: request.URL, Reason: crawl.ReasonRobotsBlocked}, nil
	}

	f.probe(ctx, request)

	var lastReason crawl.Reason
	for attempt := 0; ; attempt++ {
		result, err := f.get(ctx, request)
		if err == nil {
			if result.Reason == "" || !result.Reason.Retryable() {
				metrics.ObserveFetch(result.StatusCode, false)
				return result, nil
			}
			lastReason = result.Reason
		} else {
			if ctx.Err() != nil {
				return crawl.FetchResult{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
			}
			lastReason = crawl.ClassifyFetchError(err)
			if !f.retry.ShouldRetry(err, attempt) && !lastReason.Retryable() {
				break
			}
		}
		if attempt >= f.retry.maxAttempts {
			break
		}
		if err := sleepWithContext(ctx, f.retry.Backoff(attempt)); err != nil {
			return crawl.FetchResult{}, err
		}
	}

	metrics.ObserveFetch(0, false)
	return crawl.FetchResult{URL: request.URL, Reason: lastReason}, nil
}

// probe issues the lightweight verification request. Its outcome is
// advisory only; the caller proceeds to GET regardless, per the rule that
// verification failure is a classification input, not an early return.
func (f *Fetcher) probe(ctx context.Context, request crawl.FetchRequest) {
	domain := canonical.Domain(request.URL)
	if _, skip := f.getFirst[domain]; skip {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, request.URL, nil)
	if err != nil {
		return
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	resp, err := f.probeClient.Do(req)
	if err != nil {
		return
	}
	_ = resp.Body.Close()
}

func (f *Fetcher) get(ctx context.Context, request crawl.FetchRequest) (crawl.FetchResult, error) {
	var (
		result   crawl.FetchResult
		fetchErr error
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	// Robots is enforced by the gate above so the same decision covers
	// both fetch branches.
	collector.IgnoreRobotsTxt = true
	// Clones share visited-URL storage; without this a retry of the same
	// URL aborts as "already visited" before reaching the network.
	collector.AllowURLRevisit = true
	if f.cfg.MaxBodyBytes > 0 {
		collector.MaxBodySize = int(f.cfg.MaxBodyBytes)
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(f.transport)

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range request.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		result = crawl.FetchResult{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			result = crawl.FetchResult{
				URL:        request.URL,
				StatusCode: r.StatusCode,
				Duration:   time.Since(start),
				Reason:     crawl.ClassifyStatus(r.StatusCode),
			}
			return
		}
		fetchErr = err
	})

	// colly's Visit surfaces HTTP error statuses as errors too; a captured
	// status result takes precedence over that redundant error.
	visitErr := f.visit(ctx, collector, request.URL)
	if result.StatusCode == 0 {
		if visitErr != nil {
			return crawl.FetchResult{}, visitErr
		}
		if fetchErr != nil {
			return crawl.FetchResult{}, fetchErr
		}
	}
	if result.Reason == "" {
		result.Reason = classifyBody(result)
	}
	return result, nil
}

func (f *Fetcher) visit(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit: %w", err)
		}
		return nil
	}
}

// classifyBody finalizes a successful transport exchange: a 2xx with a
// non-empty body is the success case, an empty 2xx is terminal.
func classifyBody(result crawl.FetchResult) crawl.Reason {
	if reason := crawl.ClassifyStatus(result.StatusCode); reason != "" {
		return reason
	}
	if len(result.Body) == 0 {
		return crawl.ReasonEmptyBody
	}
	return ""
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
