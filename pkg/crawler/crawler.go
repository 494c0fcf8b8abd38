// Package crawler implements the bounded BFS crawl over a site's link
// graph: starting from a seed URL, it fetches and parses pages in
// breadth-first order, staying within a Scope Policy, until it hits
// max_depth or max_pages.
package crawler

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vulnscan/scanengine/pkg/defaults"
	"github.com/vulnscan/scanengine/pkg/fetcher"
	"github.com/vulnscan/scanengine/pkg/model"
	"github.com/vulnscan/scanengine/pkg/pageparser"
	"github.com/vulnscan/scanengine/pkg/scope"
)

// Config controls crawl bounds and scope tie-breaks.
type Config struct {
	MaxDepth int
	MaxPages int
	// IncludeTokens, when non-empty, enables §4.3 tie-break 5: a candidate
	// URL is only in scope if it contains one of these tokens or its path is
	// "/" or empty. scope.Policy.InScope has no separate relevant-keyword
	// check. Empty (the default) leaves every in-domain, non-excluded URL
	// in scope.
	IncludeTokens []string
}

// DefaultConfig returns the §6 defaults: depth 3, 20 pages.
func DefaultConfig() Config {
	return Config{MaxDepth: 3, MaxPages: 20}
}

// CrawlFatal means the seed itself could not be fetched; the scan
// transitions to failed.
type CrawlFatal struct {
	Seed  string
	Cause error
}

func (e *CrawlFatal) Error() string { return "crawl fatal: seed " + e.Seed + " unreachable: " + e.Cause.Error() }
func (e *CrawlFatal) Unwrap() error  { return e.Cause }

// ProgressFunc is invoked once per discovered page, after it is appended
// to the result set but before the next queue item is processed.
type ProgressFunc func(pagesFound int, page model.Page)

// Option configures a Crawler.
type Option func(*Crawler)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Crawler) { c.logger = l }
}

// WithOnProgress registers a callback fired after each page is appended.
func WithOnProgress(fn ProgressFunc) Option {
	return func(c *Crawler) { c.onProgress = fn }
}

// WithTracer starts one span per page fetch, named "crawl.fetch_page" and
// tagged with the page's URL and depth. Nil (the default) disables
// tracing.
func WithTracer(t trace.Tracer) Option {
	return func(c *Crawler) { c.tracer = t }
}

// CrawlStats summarises one completed Crawl call, matching the §6 Scan
// record's `crawlStats` field.
type CrawlStats struct {
	TotalPages      int
	TotalForms      int
	TotalLinks      int
	VisitedUrls     int
	MaxDepthReached int
}

// Crawler runs one bounded BFS crawl per call to Crawl. It is not safe for
// concurrent reuse across crawls (its visited set is single-crawl scoped);
// build a new Crawler, or call Crawl sequentially, per scan.
type Crawler struct {
	cfg        Config
	fetcher    *fetcher.Fetcher
	logger     *slog.Logger
	onProgress ProgressFunc
	tracer     trace.Tracer
	lastStats  CrawlStats
}

// Stats returns the CrawlStats for the most recently completed Crawl call.
// It is the zero value before the first Crawl returns.
func (c *Crawler) Stats() CrawlStats { return c.lastStats }

// New builds a Crawler. f performs the actual HTTP fetches; the Crawler
// itself never issues requests outside of it. Crawl fetches are not paced
// by the Worker Pool's rate limiter or counted against its concurrency cap.
// Config fields are used exactly as given, including the zero value: a
// caller that wants max_pages=0 (the "crawl nothing" boundary case) gets
// it. Use DefaultConfig() explicitly to get the documented defaults.
func New(cfg Config, f *fetcher.Fetcher, opts ...Option) *Crawler {
	c := &Crawler{cfg: cfg, fetcher: f, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c
}

type queueItem struct {
	url   string
	depth int
}

// Crawl runs the BFS from seed and returns pages in discovery order. A
// CrawlFatal is returned only when the seed is not an absolute http(s) URL
// or the seed itself is unreachable; per-page fetch errors are logged and
// the page is skipped.
func (c *Crawler) Crawl(ctx context.Context, seed string) ([]model.Page, error) {
	policy, err := scope.New(seed, scope.WithIncludeTokens(c.cfg.IncludeTokens))
	if err != nil {
		return nil, &CrawlFatal{Seed: seed, Cause: err}
	}

	var results []model.Page
	visited := make(map[string]bool)
	queue := []queueItem{{url: canonicalize(seed), depth: 0}}
	visited[queue[0].url] = true

	seedFailed := false
	for len(queue) > 0 {
		if ctx.Err() != nil {
			break
		}
		item := queue[0]
		queue = queue[1:]

		if item.depth > c.cfg.MaxDepth {
			continue
		}
		if !policy.InScope(item.url) {
			continue
		}
		// Once max_pages is reached, the remaining queued URLs are dequeued
		// and skipped without being fetched, so no new URLs are discovered
		// and the result holds at most max_pages pages, in BFS order.
		if len(results) >= c.cfg.MaxPages {
			continue
		}

		fetchCtx := ctx
		var fetchSpan trace.Span
		if c.tracer != nil {
			fetchCtx, fetchSpan = c.tracer.Start(ctx, "crawl.fetch_page", trace.WithAttributes(
				attribute.String("url", item.url), attribute.Int("depth", item.depth)))
		}
		page, ferr := c.fetchPage(fetchCtx, item.url, item.depth, policy, visited, &queue)
		if fetchSpan != nil {
			if ferr != nil {
				fetchSpan.RecordError(ferr)
			}
			fetchSpan.End()
		}
		if ferr != nil {
			c.logger.Warn("crawl: page fetch failed", slog.String("url", item.url), slog.Any("error", ferr))
			if item.url == canonicalize(seed) {
				seedFailed = true
			}
			continue
		}

		results = append(results, page)
		if c.onProgress != nil {
			c.onProgress(len(results), page)
		}
	}

	if seedFailed && len(results) == 0 {
		return nil, &CrawlFatal{Seed: seed, Cause: errSeedUnreachable}
	}

	stats := CrawlStats{TotalPages: len(results), VisitedUrls: len(visited)}
	for _, p := range results {
		stats.TotalForms += len(p.Forms)
		stats.TotalLinks += len(p.Links)
		if p.Depth > stats.MaxDepthReached {
			stats.MaxDepthReached = p.Depth
		}
	}
	c.lastStats = stats

	return results, nil
}

func (c *Crawler) fetchPage(ctx context.Context, pageURL string, depth int, policy interface{ InScope(string) bool }, visited map[string]bool, queue *[]queueItem) (model.Page, error) {
	resp, err := c.fetcher.Get(ctx, pageURL, nil)
	if err != nil {
		return model.Page{}, err
	}

	base, err := url.Parse(resp.FinalURL)
	if err != nil {
		base, _ = url.Parse(pageURL)
	}

	contentType := resp.Headers.Get("Content-Type")
	var parsed pageparser.Parsed
	if contentType == "" || strings.Contains(strings.ToLower(contentType), defaults.ContentTypeHTML) {
		parsed = pageparser.Parse(resp.Body, base)
	}

	var inScopeLinks []string
	for _, link := range parsed.Links {
		canon := canonicalize(link)
		if !policy.InScope(canon) {
			continue
		}
		inScopeLinks = append(inScopeLinks, canon)
		if !visited[canon] {
			visited[canon] = true
			*queue = append(*queue, queueItem{url: canon, depth: depth + 1})
		}
	}

	page := model.Page{
		URL:   canonicalize(pageURL),
		Title: parsed.Title,
		Depth: depth,
		Links: inScopeLinks,
		Forms: parsed.Forms,
	}
	return page, nil
}

var errSeedUnreachable = &seedUnreachableErr{}

type seedUnreachableErr struct{}

func (*seedUnreachableErr) Error() string { return "seed unreachable" }

// canonicalize lower-cases scheme and host, strips the fragment and a
// default port, and preserves the query string verbatim.
func canonicalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	if strings.HasSuffix(host, ":80") && u.Scheme == "http" {
		host = strings.TrimSuffix(host, ":80")
	}
	if strings.HasSuffix(host, ":443") && u.Scheme == "https" {
		host = strings.TrimSuffix(host, ":443")
	}
	u.Host = host
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}
