package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/vulnscan/scanengine/pkg/model"
	"github.com/vulnscan/scanengine/pkg/telemetry"
	"github.com/vulnscan/scanengine/pkg/testutil"
)

func okWork(ctx context.Context, task model.ScanTask) model.WorkerOutcome {
	return model.WorkerOutcome{OK: true, PageURL: task.Page.URL}
}

func TestScanPagesCompletesAllTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := DefaultConfig()
	cfg.RateLimitDelay = time.Millisecond
	p := New(ctx, cfg, okWork)
	defer p.Shutdown(time.Second)

	pages := make([]model.Page, 12)
	for i := range pages {
		pages[i] = model.Page{URL: "http://t/" + string(rune('a'+i))}
	}

	results := p.ScanPages(context.Background(), "scan-1", pages)
	require.Len(t, results, len(pages))
}

func TestInFlightNeverExceedsMaxConcurrentRequests(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var current, peak int32
	slow := func(ctx context.Context, task model.ScanTask) model.WorkerOutcome {
		n := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return model.WorkerOutcome{OK: true, PageURL: task.Page.URL}
	}

	cfg := Config{WorkerCount: 8, RateLimitDelay: time.Millisecond, MaxConcurrentRequests: 3}
	p := New(ctx, cfg, slow)
	defer p.Shutdown(time.Second)

	pages := make([]model.Page, 20)
	for i := range pages {
		pages[i] = model.Page{URL: "http://t/x"}
	}
	results := p.ScanPages(context.Background(), "scan-2", pages)
	require.Len(t, results, len(pages))
	require.LessOrEqual(t, int(atomic.LoadInt32(&peak)), 3)
}

func TestWorkerCrashIsIsolatedAndPoolContinues(t *testing.T) {
	tracker := testutil.TrackGoroutines()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	crashOnce := func(ctx context.Context, task model.ScanTask) model.WorkerOutcome {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("simulated worker crash")
		}
		return model.WorkerOutcome{OK: true, PageURL: task.Page.URL}
	}

	cfg := Config{WorkerCount: 5, RateLimitDelay: time.Millisecond, MaxConcurrentRequests: 5}
	p := New(ctx, cfg, crashOnce)
	defer p.Shutdown(time.Second)

	pages := make([]model.Page, 10)
	for i := range pages {
		pages[i] = model.Page{URL: "http://t/y"}
	}
	futures := make([]*Future, len(pages))
	for i, page := range pages {
		futures[i] = p.Submit(model.NewScanTask("scan-3", i, page, 1), 1)
	}

	var crashed, ok int
	for _, fut := range futures {
		r, err := fut.Wait(context.Background())
		require.NoError(t, err)
		if r.Outcome.OK {
			ok++
		} else {
			crashed++
			var wc *WorkerCrashed
			require.ErrorAs(t, r.Outcome.Err, &wc)
		}
	}
	require.Equal(t, 1, crashed)
	require.Equal(t, 9, ok)
	require.Equal(t, 5, p.Stats().WorkerCount)
	require.GreaterOrEqual(t, p.Stats().WorkerRestarts, int32(1))

	p.Shutdown(time.Second)
	tracker.CheckLeaks(t, 2)
}

func TestWithMetricsRecordsInFlightAndRestarts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tel, err := telemetry.New(context.Background(), telemetry.DefaultConfig())
	require.NoError(t, err)

	var calls int32
	crashOnce := func(ctx context.Context, task model.ScanTask) model.WorkerOutcome {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("simulated worker crash")
		}
		return model.WorkerOutcome{OK: true, PageURL: task.Page.URL}
	}

	cfg := Config{WorkerCount: 2, RateLimitDelay: time.Millisecond, MaxConcurrentRequests: 2}
	p := New(ctx, cfg, crashOnce, WithMetrics(tel.Metrics))
	defer p.Shutdown(time.Second)

	pages := []model.Page{{URL: "http://t/a"}, {URL: "http://t/b"}}
	results := p.ScanPages(context.Background(), "scan-metrics", pages)
	require.Len(t, results, len(pages))

	require.Equal(t, float64(0), promtestutil.ToFloat64(tel.Metrics.InFlightRequests))
	require.Equal(t, float64(1), promtestutil.ToFloat64(tel.Metrics.WorkerRestarts))
}

func TestSubmitRespectsPriorityOrdering(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	release := make(chan struct{})
	started := make(chan struct{})
	order := make(chan int, 4)
	first := true
	record := func(ctx context.Context, task model.ScanTask) model.WorkerOutcome {
		if first {
			first = false
			close(started)
			<-release // hold the only worker so the next 3 submits all queue up first
			return model.WorkerOutcome{OK: true, PageURL: task.Page.URL}
		}
		order <- task.Priority
		return model.WorkerOutcome{OK: true, PageURL: task.Page.URL}
	}

	cfg := Config{WorkerCount: 1, RateLimitDelay: time.Nanosecond, MaxConcurrentRequests: 1}
	p := New(ctx, cfg, record)
	defer p.Shutdown(time.Second)

	page := model.Page{URL: "http://t/z"}
	p.Submit(model.NewScanTask("scan-4", 0, page, 0), 0) // warmup task, occupies the worker
	<-started                                            // wait until it's actually running and blocked on release

	p.Submit(model.NewScanTask("scan-4", 1, page, 1), 1)
	p.Submit(model.NewScanTask("scan-4", 2, page, 5), 5)
	p.Submit(model.NewScanTask("scan-4", 3, page, 3), 3)
	close(release)

	var next int
	testutil.AssertTimeout(t, "priority ordering", time.Second, func() {
		next = <-order
	})
	require.Equal(t, 5, next)
}
