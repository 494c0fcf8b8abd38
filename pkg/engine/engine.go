// Package engine is the facade an embedding HTTP/WebSocket front-end calls:
// StartScan validates a seed URL, persists a pending Scan record, and hands
// off to a Coordinator running in its own goroutine, tied to a
// cancellation token rather than the source's event-loop timer (spec.md §9
// "Fire-and-forget background scan"). Subscribe lets the front-end join
// that scan's Progress Bus topic.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vulnscan/scanengine/pkg/coordinator"
	"github.com/vulnscan/scanengine/pkg/crawler"
	"github.com/vulnscan/scanengine/pkg/envconfig"
	"github.com/vulnscan/scanengine/pkg/fetcher"
	"github.com/vulnscan/scanengine/pkg/model"
	"github.com/vulnscan/scanengine/pkg/pagescanner"
	"github.com/vulnscan/scanengine/pkg/progressbus"
	"github.com/vulnscan/scanengine/pkg/scope"
	"github.com/vulnscan/scanengine/pkg/storage"
	"github.com/vulnscan/scanengine/pkg/telemetry"
	"github.com/vulnscan/scanengine/pkg/workerpool"
)

// urlPattern mirrors §6's home-page URL regex exactly, including its
// permissiveness (it accepts strings like "foo.ba" that aren't real
// hostnames) — kept for compatibility with the external contract. Scope
// enforcement during the crawl itself never relies on this regex; it uses
// the fully parsed URL (pkg/scope).
var urlPattern = regexp.MustCompile(`^(https?://)?([\da-z.-]+)\.([a-z.]{2,6})([/\w .-]*)*/?$`)

// Engine owns every running scan's Coordinator and wires each to its own
// Worker Pool and to the Engine's shared Progress Bus and Store.
type Engine struct {
	cfg       envconfig.Config
	bus       *progressbus.Bus
	store     storage.Store
	logger    *slog.Logger
	telemetry *telemetry.Telemetry

	mu        sync.Mutex
	cancelFns map[model.ScanId]context.CancelFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithStore overrides the default in-memory storage.Store.
func WithStore(s storage.Store) Option {
	return func(e *Engine) { e.store = s }
}

// New builds an Engine from cfg (see envconfig.Load) and a Progress Bus the
// caller keeps a reference to for its own subscriptions.
func New(cfg envconfig.Config, bus *progressbus.Bus, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		bus:       bus,
		store:     storage.NewMemStore(),
		logger:    slog.Default(),
		cancelFns: make(map[model.ScanId]context.CancelFunc),
	}
	for _, o := range opts {
		o(e)
	}

	tel, err := telemetry.New(context.Background(), telemetry.Config{
		Namespace:    "scanengine",
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPInsecure: cfg.OTLPInsecure,
	})
	if err != nil {
		e.logger.Error("engine: otlp exporter unavailable, tracing disabled", slog.Any("error", err))
		tel, _ = telemetry.New(context.Background(), telemetry.DefaultConfig())
	}
	e.telemetry = tel
	return e
}

// Handler serves this Engine's Prometheus metrics for scraping.
func (e *Engine) Handler() http.Handler { return e.telemetry.Handler() }

// Shutdown flushes the Engine's tracer provider, if tracing was configured.
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.telemetry.Shutdown(ctx)
}

// NormalizeSeedURL replicates §6's `POST /api/scans` validation exactly:
// rawURL must match the (deliberately permissive) scan URL pattern, and a
// missing scheme is prefixed with "https://". This is what an embedding
// HTTP front-end calls before it ever reaches StartScan; StartScan itself
// does not re-apply this regex (see prefixScheme), since the core's own
// scope rules (pkg/scope) are what actually gate crawl behavior.
func NormalizeSeedURL(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if !urlPattern.MatchString(trimmed) {
		return "", &model.InvalidInput{Input: rawURL, Reason: "does not match the scan URL pattern"}
	}
	return prefixScheme(trimmed), nil
}

func prefixScheme(raw string) string {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return "https://" + raw
}

// StartScan validates seedURL, persists a pending Scan record, and starts
// the scan's Coordinator in a new goroutine whose lifetime is tied to
// ctx. It returns as soon as the record is persisted; the caller observes
// progress via Subscribe.
func (e *Engine) StartScan(ctx context.Context, seedURL string) (model.ScanId, error) {
	normalized := prefixScheme(strings.TrimSpace(seedURL))
	if _, err := scope.New(normalized); err != nil {
		return "", &model.InvalidInput{Input: seedURL, Reason: fmt.Sprintf("not a usable seed: %v", err)}
	}

	scanID := uuid.NewString()
	now := time.Now()
	if err := e.store.Create(ctx, storage.Scan{
		ID:        scanID,
		URL:       normalized,
		Status:    string(coordinator.StatusPending),
		CreatedAt: now,
	}); err != nil {
		return "", fmt.Errorf("engine: persist pending scan: %w", err)
	}

	scanCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancelFns[scanID] = cancel
	e.mu.Unlock()

	go e.runScan(scanCtx, scanID, normalized)
	return scanID, nil
}

// Cancel requests cooperative shutdown of a running scan's Coordinator. It
// is a no-op if the scan already finished or does not exist.
func (e *Engine) Cancel(scanID model.ScanId) {
	e.mu.Lock()
	cancel, ok := e.cancelFns[scanID]
	delete(e.cancelFns, scanID)
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// Subscribe joins scanID's Progress Bus topic.
func (e *Engine) Subscribe(scanID model.ScanId) *progressbus.Subscription {
	return e.bus.Subscribe(scanID)
}

// Scan returns the persisted record for scanID.
func (e *Engine) Scan(ctx context.Context, scanID model.ScanId) (storage.Scan, error) {
	return e.store.Get(ctx, scanID)
}

func (e *Engine) runScan(ctx context.Context, scanID model.ScanId, seedURL string) {
	defer func() {
		e.mu.Lock()
		delete(e.cancelFns, scanID)
		e.mu.Unlock()
	}()

	inScope, err := scope.New(seedURL, scope.WithIncludeTokens(e.cfg.ScopeIncludeTokens))
	if err != nil {
		e.logger.Error("engine: scope setup failed", slog.String("scan_id", scanID), slog.Any("error", err))
		return
	}

	fetchCfg := fetcher.DefaultConfig()
	fetchCfg.Timeout = e.cfg.HTTPTimeout
	fetchCfg.MaxBodyBytes = e.cfg.HTTPMaxBodyBytes
	fetchCfg.UserAgent = e.cfg.UserAgent
	fetchCfg.InScope = inScope.InScope
	f := fetcher.New(fetchCfg)

	poolCfg := workerpool.Config{
		WorkerCount:           e.cfg.WorkerCount,
		RateLimitDelay:        e.cfg.RateLimitDelay,
		MaxConcurrentRequests: e.cfg.MaxConcurrentRequests,
	}
	pool := workerpool.New(ctx, poolCfg, func(taskCtx context.Context, task model.ScanTask) model.WorkerOutcome {
		result := pagescanner.Scan(taskCtx, f, task.Page, e.logger)
		return model.WorkerOutcome{
			OK:              true,
			Findings:        result.Findings,
			FormsFound:      result.FormsFound,
			EndpointsTested: result.EndpointsTested,
			PageURL:         task.Page.URL,
		}
	}, workerpool.WithLogger(e.logger), workerpool.WithMetrics(e.telemetry.Metrics))
	defer pool.Shutdown(10 * time.Second)

	// The Coordinator's OnPageFound is the Crawler's progress callback, but
	// the Crawler must exist before the Coordinator does (the Coordinator
	// takes it as a constructor argument). co is assigned after the
	// Crawler, but the callback only fires once Run() drives the crawl,
	// by which point co is set.
	var co *coordinator.Coordinator
	cr := crawler.New(crawler.Config{
		MaxDepth:      e.cfg.MaxCrawlDepth,
		MaxPages:      e.cfg.MaxCrawlPages,
		IncludeTokens: e.cfg.ScopeIncludeTokens,
	}, f,
		crawler.WithLogger(e.logger),
		crawler.WithOnProgress(func(n int, p model.Page) { co.OnPageFound(n, p) }),
		crawler.WithTracer(e.telemetry.Tracer()))
	co = coordinator.New(scanID, seedURL, cr, pool, e.bus,
		coordinator.WithLogger(e.logger),
		coordinator.WithMetrics(e.telemetry.Metrics),
		coordinator.WithTracer(e.telemetry.Tracer()))

	final := co.Run(ctx)

	completedAt := final.CompletedAt
	e.persistFinal(ctx, scanID, seedURL, final, &completedAt)
	e.bus.Close(scanID)
}

func (e *Engine) persistFinal(ctx context.Context, scanID model.ScanId, seedURL string, final coordinator.ScanState, completedAt *time.Time) {
	record := storage.Scan{
		ID:              scanID,
		URL:             seedURL,
		Status:          string(final.Status),
		Vulnerabilities: final.Findings,
		PagesScanned:    final.PagesScanned,
		FormsFound:      final.FormsFound,
		EndpointsTested: final.EndpointsTested,
		CrawlStats:      storage.FromCrawlerStats(final.CrawlStats),
		CreatedAt:       final.StartTime,
		CompletedAt:     completedAt,
	}
	if err := e.store.Update(ctx, record); err != nil {
		e.logger.Error("engine: persist final scan failed", slog.String("scan_id", scanID), slog.Any("error", err))
	}
}
