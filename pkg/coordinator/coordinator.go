// Package coordinator owns one scan's lifecycle: it drives the Crawler,
// enqueues discovered pages into the Worker Pool, aggregates WorkerResults
// into ScanState, and publishes ProgressEvents. ScanState is written only
// by the goroutine that owns the Coordinator's Run call, under a mutex so
// that Snapshot can read it from other goroutines.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vulnscan/scanengine/pkg/crawler"
	"github.com/vulnscan/scanengine/pkg/model"
	"github.com/vulnscan/scanengine/pkg/progressbus"
	"github.com/vulnscan/scanengine/pkg/telemetry"
)

// Status is one of the five ScanState lifecycle states. It is monotonic
// except that Failed is terminal and unreachable from Scanning.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCrawling  Status = "crawling"
	StatusScanning  Status = "scanning"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ScanState is the Coordinator's live view of one scan. Read it only via
// Coordinator.Snapshot; the Coordinator's own goroutine is the sole writer.
type ScanState struct {
	ScanID                model.ScanId
	Status                Status
	StartTime             time.Time
	CompletedAt           time.Time
	TotalPages            int
	PagesFound            int
	PagesScanned          int
	FormsFound            int
	EndpointsTested       int
	VulnerabilitiesFound  int
	Findings              []model.Finding
	CrawlStats            crawler.CrawlStats
}

// Progress computes the §4.8 progress percentage for the current state.
func (s ScanState) Progress() int {
	switch s.Status {
	case StatusCompleted:
		return 100
	case StatusCrawling:
		denominator := s.PagesFound
		if denominator < 1 {
			denominator = 1
		}
		return int(math.Round(float64(s.PagesFound) / float64(denominator) * 30))
	case StatusScanning:
		if s.TotalPages == 0 {
			return 30
		}
		return 30 + int(math.Round(float64(s.PagesScanned)/float64(s.TotalPages)*70))
	default:
		return 0
	}
}

// Crawl is the minimal surface the Coordinator drives: run a bounded BFS
// and return its pages, or a *crawler.CrawlFatal on seed failure.
type Crawl interface {
	Crawl(ctx context.Context, seed string) ([]model.Page, error)
	Stats() crawler.CrawlStats
}

// Pool is the minimal surface the Coordinator drives on the Worker Pool.
type Pool interface {
	ScanPages(ctx context.Context, scanID model.ScanId, pages []model.Page) []model.WorkerResult
}

// Coordinator runs one scan end to end.
type Coordinator struct {
	scanID  model.ScanId
	seed    string
	crawl   Crawl
	pool    Pool
	bus     *progressbus.Bus
	logger  *slog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer

	mu    sync.RWMutex
	state ScanState
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithMetrics records per-scan counters (pages scanned, findings by
// category/severity, endpoints tested, scan duration) on the given
// telemetry.Metrics as the scan progresses. Nil (the default) disables
// metrics recording.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithTracer starts one "scan" span per Run call, with child "crawl" and
// "scan_pages" spans for each phase. Nil (the default) disables tracing.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) { c.tracer = t }
}

// New builds a Coordinator for one scan. crawl and pool are the Crawler and
// Worker Pool collaborators; bus receives every ProgressEvent this scan
// emits.
func New(scanID model.ScanId, seed string, crawl Crawl, pool Pool, bus *progressbus.Bus, opts ...Option) *Coordinator {
	c := &Coordinator{
		scanID: scanID,
		seed:   seed,
		crawl:  crawl,
		pool:   pool,
		bus:    bus,
		logger: slog.Default(),
		state:  ScanState{ScanID: scanID, Status: StatusPending, StartTime: time.Now()},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Snapshot returns a copy of the current ScanState, safe to read
// concurrently with Run.
func (c *Coordinator) Snapshot() ScanState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := c.state
	cp.Findings = append([]model.Finding(nil), c.state.Findings...)
	return cp
}

// Run drives the full pending → crawling → scanning → completed/failed
// state machine, publishing a ProgressEvent after every transition that
// changes visible counters. It returns once the scan reaches a terminal
// state.
func (c *Coordinator) Run(ctx context.Context) ScanState {
	scanCtx := ctx
	var scanSpan trace.Span
	if c.tracer != nil {
		scanCtx, scanSpan = c.tracer.Start(ctx, "scan", trace.WithAttributes(attribute.String("scan.id", c.scanID)))
		defer scanSpan.End()
	}

	c.transition(func(s *ScanState) { s.Status = StatusCrawling })
	c.publish()

	crawlCtx := scanCtx
	var crawlSpan trace.Span
	if c.tracer != nil {
		crawlCtx, crawlSpan = c.tracer.Start(scanCtx, "crawl")
	}
	pages, err := c.crawl.Crawl(crawlCtx, c.seed)
	if crawlSpan != nil {
		if err != nil {
			crawlSpan.RecordError(err)
		}
		crawlSpan.End()
	}
	if err != nil {
		c.logger.Error("coordinator: crawl fatal", slog.String("scan_id", c.scanID), slog.Any("error", err))
		finding := model.NewFinding(
			"Unable to scan the target",
			model.CategoryInformationDisclosure,
			model.SeverityLow,
			"Unable to scan the target",
			c.seed,
			"The scan could not proceed because the seed URL could not be reached.",
		)
		c.transition(func(s *ScanState) {
			s.Status = StatusFailed
			s.Findings = append(s.Findings, finding)
			s.VulnerabilitiesFound++
			s.CompletedAt = time.Now()
		})
		c.recordScanDuration()
		c.publishError(err.Error())
		c.publish()
		return c.Snapshot()
	}

	c.transition(func(s *ScanState) {
		s.Status = StatusScanning
		s.TotalPages = len(pages)
		s.PagesFound = len(pages)
		s.CrawlStats = c.crawl.Stats()
	})
	c.publish()

	if len(pages) == 0 {
		c.transition(func(s *ScanState) {
			s.Status = StatusCompleted
			s.CompletedAt = time.Now()
		})
		c.recordScanDuration()
		c.publish()
		return c.Snapshot()
	}

	scanPagesCtx := scanCtx
	var scanPagesSpan trace.Span
	if c.tracer != nil {
		scanPagesCtx, scanPagesSpan = c.tracer.Start(scanCtx, "scan_pages", trace.WithAttributes(attribute.Int("pages", len(pages))))
	}
	results := c.pool.ScanPages(scanPagesCtx, c.scanID, pages)
	for _, r := range results {
		c.applyResult(r)
		c.publish()
	}
	if scanPagesSpan != nil {
		scanPagesSpan.End()
	}

	if snap := c.Snapshot(); snap.PagesScanned > snap.TotalPages {
		violation := &model.InternalInvariantViolation{
			Invariant: "pages_scanned <= total_pages",
			Detail:    fmt.Sprintf("pages_scanned=%d total_pages=%d", snap.PagesScanned, snap.TotalPages),
		}
		c.logger.Error("coordinator: invariant violated", slog.String("scan_id", c.scanID), slog.Any("error", violation))
	}

	c.transition(func(s *ScanState) {
		s.Status = StatusCompleted
		s.CompletedAt = time.Now()
	})
	c.recordScanDuration()
	c.publish()
	return c.Snapshot()
}

// recordScanDuration observes the wall-clock time from scan start to now
// on the scan_duration_seconds histogram, if metrics are configured.
func (c *Coordinator) recordScanDuration() {
	if c.metrics == nil {
		return
	}
	snap := c.Snapshot()
	c.metrics.ScanDuration.Observe(time.Since(snap.StartTime).Seconds())
}

// OnPageFound is wired as the Crawler's ProgressFunc option so each
// discovered page advances pages_found and emits a progress event during
// the crawling phase, per §4.4's "CrawlProgress event after each page".
func (c *Coordinator) OnPageFound(pagesFound int, _ model.Page) {
	c.transition(func(s *ScanState) { s.PagesFound = pagesFound })
	c.publish()
}

// applyResult aggregates one settled WorkerResult into ScanState. A failed
// task (outcome.OK == false) still advances pages_scanned — the page was
// attempted — but contributes zero findings, per §4.7's failure policy.
func (c *Coordinator) applyResult(r model.WorkerResult) {
	c.transition(func(s *ScanState) {
		s.PagesScanned++
		if !r.Outcome.OK {
			return
		}
		s.FormsFound += r.Outcome.FormsFound
		s.EndpointsTested += r.Outcome.EndpointsTested
		s.Findings = append(s.Findings, r.Outcome.Findings...)
		s.VulnerabilitiesFound += len(r.Outcome.Findings)
	})
	if c.metrics == nil {
		return
	}
	c.metrics.PagesScanned.Inc()
	if !r.Outcome.OK {
		return
	}
	c.metrics.EndpointsTested.Add(float64(r.Outcome.EndpointsTested))
	for _, f := range r.Outcome.Findings {
		c.metrics.VulnerabilitiesFound.WithLabelValues(string(f.Category), string(f.Severity)).Inc()
	}
}

func (c *Coordinator) transition(mutate func(s *ScanState)) {
	c.mu.Lock()
	mutate(&c.state)
	c.mu.Unlock()
}

func (c *Coordinator) publish() {
	s := c.Snapshot()
	var eta int
	if s.Status == StatusScanning && s.PagesScanned > 0 {
		elapsed := time.Since(s.StartTime).Seconds()
		rate := elapsed / float64(s.PagesScanned)
		remaining := s.TotalPages - s.PagesScanned
		eta = int(math.Round(rate * float64(remaining)))
	}
	c.bus.Publish(c.scanID, progressbus.ProgressEvent{
		ScanID:                 c.scanID,
		Status:                 string(s.Status),
		Progress:               s.Progress(),
		PagesScanned:           s.PagesScanned,
		TotalPages:             s.TotalPages,
		VulnerabilitiesFound:   s.VulnerabilitiesFound,
		FormsFound:             s.FormsFound,
		EndpointsTested:        s.EndpointsTested,
		EstimatedTimeRemaining: eta,
		StartTime:              s.StartTime,
		CurrentStage:           string(s.Status),
		Vulnerabilities:        s.Findings,
	})
}

func (c *Coordinator) publishError(message string) {
	c.bus.Publish(c.scanID, progressbus.ProgressEvent{
		ScanID:       c.scanID,
		Status:       string(StatusFailed),
		CurrentStage: message,
	})
}
