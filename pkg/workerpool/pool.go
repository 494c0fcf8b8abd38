// Package workerpool runs ScanTasks across a fixed set of workers. Tasks are
// served highest-priority-first, dispatch is paced by a token-bucket rate
// limiter so at most one new task starts per rate_limit_delay (the HTTP
// requests a task issues are not paced individually), and the number of
// in-flight tasks never exceeds
// max_concurrent_requests regardless of worker_count. A worker that panics
// while running a task is replaced at the same slot; only the task it was
// holding fails, with WorkerCrashed, and the pool keeps running.
package workerpool

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/vulnscan/scanengine/pkg/model"
	"github.com/vulnscan/scanengine/pkg/telemetry"
)

// Config controls pool sizing and pacing. See DefaultConfig for the
// documented defaults.
type Config struct {
	WorkerCount           int
	RateLimitDelay        time.Duration
	MaxConcurrentRequests int
}

// DefaultConfig returns worker_count=5, rate_limit_delay=500ms,
// max_concurrent_requests=10.
func DefaultConfig() Config {
	return Config{
		WorkerCount:           5,
		RateLimitDelay:        500 * time.Millisecond,
		MaxConcurrentRequests: 10,
	}
}

// WorkerCrashed is returned on the WorkerOutcome of a task that was being
// executed by a worker when that worker panicked.
type WorkerCrashed struct {
	WorkerIndex int
	Cause       error
}

func (e *WorkerCrashed) Error() string {
	return fmt.Sprintf("workerpool: worker %d crashed: %v", e.WorkerIndex, e.Cause)
}

func (e *WorkerCrashed) Unwrap() error { return e.Cause }

// WorkFunc executes one ScanTask and returns its outcome. It must not panic
// for expected failures (network errors, timeouts) — those belong in
// WorkerOutcome.Err. A panic is treated as a worker crash.
type WorkFunc func(ctx context.Context, task model.ScanTask) model.WorkerOutcome

// Snapshot is a point-in-time view of pool activity, returned by Stats.
type Snapshot struct {
	WorkerCount    int
	Queued         int
	InFlight       int
	Dispatched     int64
	WorkerRestarts int32
	LastDispatchAt time.Time
}

// Future is a handle to a task's eventual WorkerResult.
type Future struct {
	ch chan model.WorkerResult
}

func newFuture() *Future {
	return &Future{ch: make(chan model.WorkerResult, 1)}
}

func (f *Future) complete(r model.WorkerResult) {
	f.ch <- r
}

// Wait blocks until the task settles or ctx is done.
func (f *Future) Wait(ctx context.Context) (model.WorkerResult, error) {
	select {
	case r := <-f.ch:
		return r, nil
	case <-ctx.Done():
		return model.WorkerResult{}, ctx.Err()
	}
}

type pqItem struct {
	task     model.ScanTask
	future   *Future
	priority int
	seq      int64
	index    int
}

type priorityQueue []*pqItem

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].priority != pq[j].priority {
		return pq[i].priority > pq[j].priority // higher priority first
	}
	return pq[i].seq < pq[j].seq // FIFO among equal priorities
}
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index, pq[j].index = i, j
}
func (pq *priorityQueue) Push(x any) {
	item := x.(*pqItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}

type workItem struct {
	task   model.ScanTask
	future *Future
}

// Pool dispatches ScanTasks to a fixed set of workers.
type Pool struct {
	cfg     Config
	work    WorkFunc
	logger  *slog.Logger
	limiter *rate.Limiter
	metrics *telemetry.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	cond *sync.Cond
	pq   priorityQueue
	seq  int64

	sem   chan struct{}
	idle  chan int
	tasks []chan workItem

	shuttingDown   int32
	inFlight       int32
	dispatched     int64
	restarts       int32
	lastDispatchAt int64 // unix nanoseconds, 0 until the first dispatch

	driverStopped chan struct{}
	wg            sync.WaitGroup
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithLogger sets a custom structured logger for the pool.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithMetrics records in-flight request count and worker-restart count on
// the given telemetry.Metrics. Nil (the default) disables metrics
// recording.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// New starts cfg.WorkerCount workers plus the dispatch loop, all tied to
// ctx's lifetime. work is called once per dispatched ScanTask.
func New(ctx context.Context, cfg Config, work WorkFunc, opts ...Option) *Pool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultConfig().WorkerCount
	}
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = DefaultConfig().MaxConcurrentRequests
	}

	poolCtx, cancel := context.WithCancel(ctx)
	p := &Pool{
		cfg:           cfg,
		work:          work,
		logger:        slog.Default(),
		limiter:       rate.NewLimiter(rate.Every(cfg.RateLimitDelay), 1),
		ctx:           poolCtx,
		cancel:        cancel,
		sem:           make(chan struct{}, cfg.MaxConcurrentRequests),
		idle:          make(chan int, cfg.WorkerCount),
		tasks:         make([]chan workItem, cfg.WorkerCount),
		driverStopped: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}

	for i := 0; i < cfg.WorkerCount; i++ {
		p.tasks[i] = make(chan workItem)
		p.wg.Add(1)
		go p.runWorker(i)
	}
	go p.drive()
	return p
}

// Submit enqueues task at the given priority (higher runs sooner) and
// returns a Future for its result. Submit after Shutdown returns a future
// that never settles from the pool itself; callers should not submit after
// calling Shutdown.
func (p *Pool) Submit(task model.ScanTask, priority int) *Future {
	fut := newFuture()
	p.mu.Lock()
	p.seq++
	heap.Push(&p.pq, &pqItem{task: task, future: fut, priority: priority, seq: p.seq})
	p.cond.Signal()
	p.mu.Unlock()
	return fut
}

// ScanPages submits one task per page at uniform priority and waits for all
// of them to settle. A crashed or failed task still yields a WorkerResult
// with Outcome.OK false — the Coordinator treats that as a page attempted
// but not scanned, never as a page silently dropped. A Future that never
// settles because ctx was cancelled is the only case omitted.
func (p *Pool) ScanPages(ctx context.Context, scanID model.ScanId, pages []model.Page) []model.WorkerResult {
	futures := make([]*Future, len(pages))
	for i, page := range pages {
		futures[i] = p.Submit(model.NewScanTask(scanID, i, page, 1), 1)
	}
	results := make([]model.WorkerResult, 0, len(pages))
	for _, fut := range futures {
		r, err := fut.Wait(ctx)
		if err != nil {
			continue
		}
		results = append(results, r)
	}
	return results
}

// Stats returns a point-in-time snapshot of pool activity.
func (p *Pool) Stats() Snapshot {
	p.mu.Lock()
	queued := len(p.pq)
	p.mu.Unlock()
	var lastDispatch time.Time
	if ns := atomic.LoadInt64(&p.lastDispatchAt); ns != 0 {
		lastDispatch = time.Unix(0, ns)
	}
	return Snapshot{
		WorkerCount:    p.cfg.WorkerCount,
		Queued:         queued,
		InFlight:       int(atomic.LoadInt32(&p.inFlight)),
		Dispatched:     atomic.LoadInt64(&p.dispatched),
		WorkerRestarts: atomic.LoadInt32(&p.restarts),
		LastDispatchAt: lastDispatch,
	}
}

// Shutdown stops accepting new dispatches, waits up to drain for queued and
// in-flight work to settle, then tears down workers. It is safe to call
// once; a second call is a no-op.
func (p *Pool) Shutdown(drain time.Duration) {
	if !atomic.CompareAndSwapInt32(&p.shuttingDown, 0, 1) {
		return
	}
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()

	select {
	case <-p.driverStopped:
	case <-time.After(drain):
	}
	p.cancel()
	for _, ch := range p.tasks {
		close(ch)
	}
	p.wg.Wait()
}

// incInFlight and decInFlight keep p.inFlight and, when configured, the
// in_flight_requests gauge in sync at every site that changes in-flight
// count.
func (p *Pool) incInFlight() {
	atomic.AddInt32(&p.inFlight, 1)
	if p.metrics != nil {
		p.metrics.InFlightRequests.Inc()
	}
}

func (p *Pool) decInFlight() {
	atomic.AddInt32(&p.inFlight, -1)
	if p.metrics != nil {
		p.metrics.InFlightRequests.Dec()
	}
}

// drive is the single goroutine that pops the highest-priority queued task,
// waits for pacing and capacity, and hands it to an idle worker.
func (p *Pool) drive() {
	defer close(p.driverStopped)
	for {
		p.mu.Lock()
		for len(p.pq) == 0 {
			if atomic.LoadInt32(&p.shuttingDown) == 1 {
				p.mu.Unlock()
				return
			}
			p.cond.Wait()
		}
		item := heap.Pop(&p.pq).(*pqItem)
		p.mu.Unlock()

		if err := p.limiter.Wait(p.ctx); err != nil {
			item.future.complete(model.WorkerResult{
				TaskID:  item.task.TaskID,
				Outcome: model.WorkerOutcome{OK: false, PageURL: item.task.Page.URL, Err: err},
			})
			continue
		}

		select {
		case p.sem <- struct{}{}:
		case <-p.ctx.Done():
			item.future.complete(model.WorkerResult{
				TaskID:  item.task.TaskID,
				Outcome: model.WorkerOutcome{OK: false, PageURL: item.task.Page.URL, Err: p.ctx.Err()},
			})
			continue
		}

		var idx int
		select {
		case idx = <-p.idle:
		case <-p.ctx.Done():
			<-p.sem
			item.future.complete(model.WorkerResult{
				TaskID:  item.task.TaskID,
				Outcome: model.WorkerOutcome{OK: false, PageURL: item.task.Page.URL, Err: p.ctx.Err()},
			})
			continue
		}

		// A higher-priority task may have been queued while this one waited
		// for pacing and capacity; re-select so the task handed to the idle
		// worker is the highest-priority one queued at this moment.
		p.mu.Lock()
		heap.Push(&p.pq, item)
		item = heap.Pop(&p.pq).(*pqItem)
		p.mu.Unlock()

		p.incInFlight()
		atomic.AddInt64(&p.dispatched, 1)
		atomic.StoreInt64(&p.lastDispatchAt, time.Now().UnixNano())

		select {
		case p.tasks[idx] <- workItem{task: item.task, future: item.future}:
		case <-p.ctx.Done():
			p.decInFlight()
			<-p.sem
			item.future.complete(model.WorkerResult{
				TaskID:  item.task.TaskID,
				Outcome: model.WorkerOutcome{OK: false, PageURL: item.task.Page.URL, Err: p.ctx.Err()},
			})
		}
	}
}

// runWorker is the body of worker slot idx. On a normal return it never
// restarts itself; on a recovered panic it spawns its replacement before
// exiting, so the slot is always either running or about to be.
func (p *Pool) runWorker(idx int) {
	defer p.wg.Done()
	p.idle <- idx
	for wi := range p.tasks[idx] {
		outcome, crashed := p.runTask(wi.task, idx)
		p.decInFlight()
		<-p.sem
		wi.future.complete(model.WorkerResult{TaskID: wi.task.TaskID, WorkerID: idx, Outcome: outcome})
		if crashed {
			atomic.AddInt32(&p.restarts, 1)
			if p.metrics != nil {
				p.metrics.WorkerRestarts.Inc()
			}
			p.wg.Add(1)
			go p.runWorker(idx)
			return
		}
		p.idle <- idx
	}
}

func (p *Pool) runTask(task model.ScanTask, idx int) (outcome model.WorkerOutcome, crashed bool) {
	defer func() {
		if r := recover(); r != nil {
			crashed = true
			outcome = model.WorkerOutcome{
				OK:      false,
				PageURL: task.Page.URL,
				Err:     &WorkerCrashed{WorkerIndex: idx, Cause: fmt.Errorf("%v", r)},
			}
			p.logger.Error("workerpool: worker crashed, replacing",
				slog.Int("worker", idx), slog.String("task_id", task.TaskID), slog.Any("panic", r))
		}
	}()
	return p.work(p.ctx, task), false
}
