package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vulnscan/scanengine/pkg/crawler"
	"github.com/vulnscan/scanengine/pkg/model"
	"github.com/vulnscan/scanengine/pkg/progressbus"
	"github.com/vulnscan/scanengine/pkg/telemetry"
)

type fakeCrawl struct {
	pages []model.Page
	err   error
	stats crawler.CrawlStats
}

func (f *fakeCrawl) Crawl(ctx context.Context, seed string) ([]model.Page, error) {
	return f.pages, f.err
}
func (f *fakeCrawl) Stats() crawler.CrawlStats { return f.stats }

type fakePool struct {
	results []model.WorkerResult
}

func (f *fakePool) ScanPages(ctx context.Context, scanID model.ScanId, pages []model.Page) []model.WorkerResult {
	return f.results
}

func TestRunCompletesNormallyAndAggregatesCounters(t *testing.T) {
	bus := progressbus.New()
	crawl := &fakeCrawl{pages: []model.Page{{URL: "http://t/"}, {URL: "http://t/a"}}}
	pool := &fakePool{results: []model.WorkerResult{
		{TaskID: "1", Outcome: model.WorkerOutcome{OK: true, FormsFound: 1, EndpointsTested: 2, Findings: []model.Finding{
			model.NewFinding("Reflected XSS", model.CategoryXSS, model.SeverityHigh, "d", "l", "i"),
		}}},
		{TaskID: "2", Outcome: model.WorkerOutcome{OK: false, Err: errors.New("boom")}},
	}}
	c := New("scan-1", "http://t/", crawl, pool, bus)

	final := c.Run(context.Background())
	require.Equal(t, StatusCompleted, final.Status)
	require.Equal(t, 2, final.TotalPages)
	require.Equal(t, 2, final.PagesScanned)
	require.Equal(t, 1, final.VulnerabilitiesFound)
	require.Equal(t, 1, final.FormsFound)
	require.Equal(t, 100, final.Progress())
}

func TestRunEmptyCrawlCompletesImmediately(t *testing.T) {
	bus := progressbus.New()
	crawl := &fakeCrawl{pages: nil}
	pool := &fakePool{}
	c := New("scan-2", "http://t/", crawl, pool, bus)

	final := c.Run(context.Background())
	require.Equal(t, StatusCompleted, final.Status)
	require.Equal(t, 0, final.TotalPages)
	require.Empty(t, final.Findings)
}

func TestRunCrawlFatalTransitionsToFailedWithSyntheticFinding(t *testing.T) {
	bus := progressbus.New()
	crawl := &fakeCrawl{err: &crawler.CrawlFatal{Seed: "http://t/", Cause: errors.New("unreachable")}}
	pool := &fakePool{}
	c := New("scan-3", "http://t/", crawl, pool, bus)

	final := c.Run(context.Background())
	require.Equal(t, StatusFailed, final.Status)
	require.Len(t, final.Findings, 1)
	require.Equal(t, model.SeverityLow, final.Findings[0].Severity)
}

func TestRunRecordsMetricsAndTraces(t *testing.T) {
	bus := progressbus.New()
	crawl := &fakeCrawl{pages: []model.Page{{URL: "http://t/"}}}
	pool := &fakePool{results: []model.WorkerResult{
		{TaskID: "1", Outcome: model.WorkerOutcome{OK: true, EndpointsTested: 3, Findings: []model.Finding{
			model.NewFinding("SQL Injection", model.CategorySQLInjection, model.SeverityCritical, "d", "l", "i"),
		}}},
	}}
	tel, err := telemetry.New(context.Background(), telemetry.DefaultConfig())
	require.NoError(t, err)
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	c := New("scan-4", "http://t/", crawl, pool, bus, WithMetrics(tel.Metrics), WithTracer(tp.Tracer("test")))

	final := c.Run(context.Background())
	require.Equal(t, StatusCompleted, final.Status)
	require.Len(t, sr.Ended(), 3) // scan, crawl, scan_pages

	require.Equal(t, float64(1), testutil.ToFloat64(tel.Metrics.PagesScanned))
	require.Equal(t, float64(3), testutil.ToFloat64(tel.Metrics.EndpointsTested))
	require.Equal(t, float64(1), testutil.ToFloat64(tel.Metrics.VulnerabilitiesFound.WithLabelValues(
		string(model.CategorySQLInjection), string(model.SeverityCritical))))
}

func TestRunLogsInvariantViolationWithoutCrashing(t *testing.T) {
	bus := progressbus.New()
	crawl := &fakeCrawl{pages: []model.Page{{URL: "http://t/"}}}
	pool := &fakePool{results: []model.WorkerResult{
		{TaskID: "1", Outcome: model.WorkerOutcome{OK: true}},
		{TaskID: "2", Outcome: model.WorkerOutcome{OK: true}},
	}}
	c := New("scan-5", "http://t/", crawl, pool, bus)

	final := c.Run(context.Background())
	require.Equal(t, StatusCompleted, final.Status)
	require.Equal(t, 2, final.PagesScanned)
	require.Equal(t, 1, final.TotalPages)
}

func TestProgressDuringCrawlingIsFixedAt30OnceAnyPageFound(t *testing.T) {
	s := ScanState{Status: StatusCrawling, PagesFound: 0}
	require.Equal(t, 0, s.Progress())
	s.PagesFound = 1
	require.Equal(t, 30, s.Progress())
}

func TestProgressDuringScanningInterpolatesFrom30To100(t *testing.T) {
	s := ScanState{Status: StatusScanning, TotalPages: 10, PagesScanned: 5}
	require.Equal(t, 65, s.Progress())
}
