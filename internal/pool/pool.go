package pool

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/wagiedev/workerpool-go/internal/channel"
	"github.com/wagiedev/workerpool-go/internal/config"
	"github.com/wagiedev/workerpool-go/internal/errors"
	"github.com/wagiedev/workerpool-go/internal/event"
	"github.com/wagiedev/workerpool-go/internal/worker"
)

// ForkFunc starts a new child process.
type ForkFunc func(ctx context.Context) (worker.Native, error)

// record is the pool's bookkeeping for one attached worker.
type record struct {
	w           *worker.Process
	taskCount   int
	idle        *time.Timer
	idleGen     uint64
	unsubscribe func()
	gone        bool
}

type taskResult struct {
	res *channel.Result
	err error
}

type task struct {
	ctx    context.Context
	method string
	args   []any
	result chan taskResult
}

// Pool runs calls on a dynamic set of workers.
//
// All bookkeeping lives under one mutex. Choosing a worker and charging it a
// task happen in the same critical section, so two calls can never race onto
// one slot. Worker starts and kills happen outside it.
type Pool struct {
	log     *slog.Logger
	fork    ForkFunc
	opts    config.Options
	limiter *rate.Limiter
	events  event.Emitter[Event]

	mu         sync.Mutex
	workers    []*record
	queue      []*task
	pending    int
	running    int
	badWorkers int
	quitting   bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a pool that starts workers with fork. A nil opts uses the
// defaults. If MinWorkers is set, that many workers are started right away.
func New(log *slog.Logger, fork ForkFunc, opts *config.Options) (*Pool, error) {
	var o config.Options
	if opts != nil {
		o = *opts
	}

	o.ApplyDefaults()

	if err := o.Validate(); err != nil {
		return nil, err
	}

	if fork == nil {
		return nil, fmt.Errorf("%w: fork function is required", errors.ErrInvalidConfig)
	}

	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	limit := rate.Inf
	if o.SpawnRate > 0 {
		limit = rate.Limit(o.SpawnRate)
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		log:     log.With("component", "pool"),
		fork:    fork,
		opts:    o,
		limiter: rate.NewLimiter(limit, o.SpawnBurst),
		ctx:     ctx,
		cancel:  cancel,
	}

	p.log.Debug("Pool created",
		"min_workers", o.MinWorkers,
		"max_workers", o.MaxWorkers,
		"max_tasks_per_worker", o.MaxTasksPerWorker,
	)

	if o.MinWorkers > 0 {
		go p.ensureTargetWorkers()
	}

	return p, nil
}

// Remote returns the pool's combined worker interface.
func (p *Pool) Remote() *Remote {
	return &Remote{pool: p}
}

// Subscribe registers fn for pool events.
func (p *Pool) Subscribe(fn func(Event)) func() {
	return p.events.Subscribe(fn)
}

// QueueTask runs method on a worker and waits for its result.
//
// It fails with ErrPoolShutdown once the pool has shut down. Cancelling ctx
// withdraws a call that is still queued and abandons one that is running.
func (p *Pool) QueueTask(ctx context.Context, method string, args ...any) (*channel.Result, error) {
	t := &task{
		ctx:    ctx,
		method: method,
		args:   args,
		result: make(chan taskResult, 1),
	}

	p.mu.Lock()

	if p.quitting {
		p.mu.Unlock()

		return nil, errors.ErrPoolShutdown
	}

	p.queue = append(p.queue, t)
	p.mu.Unlock()

	p.runQueue()

	select {
	case r := <-t.result:
		return r.res, r.err

	case <-ctx.Done():
		if p.withdraw(t) {
			p.log.Debug("Queued task withdrawn", "method", method)

			return nil, ctx.Err()
		}

		r := <-t.result

		return r.res, r.err
	}
}

// withdraw removes t from the queue. It reports false if t already left it.
func (p *Pool) withdraw(t *task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := slices.Index(p.queue, t)
	if i < 0 {
		return false
	}

	p.queue = slices.Delete(p.queue, i, i+1)

	return true
}

// runQueue dispatches queued tasks while there is capacity.
func (p *Pool) runQueue() {
	p.mu.Lock()

	for p.canRunTaskLocked() && len(p.queue) > 0 {
		rec, spawn := p.selectWorkerLocked()

		if spawn {
			p.pending++

			go func() {
				if err := p.spawnWorker(); err != nil {
					p.log.Warn("Failed to start worker", "error", err)
				}
			}()

			continue
		}

		if rec == nil {
			break
		}

		p.dispatchLocked(rec)
	}

	queued := len(p.queue)
	p.mu.Unlock()

	p.events.Emit(Event{Type: EventQueueLength, QueueLength: queued})
}

func (p *Pool) canRunTaskLocked() bool {
	if p.quitting {
		return false
	}

	capacity := p.opts.TaskCapacity()

	return capacity == 0 || p.running < capacity
}

// selectWorkerLocked picks the worker for the task at the head of the queue.
//
// The least loaded worker wins, earliest in the list on ties. If it is busy
// and the pool has room, a new worker is started instead (spawn is true);
// each worker being started is reserved for one queued task. A nil record
// without spawn means the queue must wait for a worker being started.
func (p *Pool) selectWorkerLocked() (best *record, spawn bool) {
	for _, rec := range p.workers {
		if best == nil || rec.taskCount < best.taskCount {
			best = rec
		}
	}

	if best != nil && best.taskCount == 0 {
		return best, false
	}

	if len(p.workers)+p.pending < p.opts.MaxWorkers {
		if p.pending < len(p.queue) {
			return nil, true
		}

		return nil, false
	}

	if p.pending > 0 {
		return nil, false
	}

	return best, false
}

// dispatchLocked hands queued tasks to rec until one is accepted. Tasks for
// methods rec does not offer are rejected.
func (p *Pool) dispatchLocked(rec *record) {
	for len(p.queue) > 0 {
		t := p.queue[0]
		p.queue = p.queue[1:]

		if !rec.w.Remote().Has(t.method) {
			p.log.Debug("Rejecting task for unknown method", "method", t.method)
			t.result <- taskResult{err: &errors.UnknownMethodError{Method: t.method}}

			continue
		}

		rec.taskCount++
		p.running++
		rec.idleGen++

		if rec.idle != nil {
			rec.idle.Stop()
		}

		// Move to the back so equally loaded workers take turns.
		if i := slices.Index(p.workers, rec); i >= 0 {
			p.workers = append(slices.Delete(p.workers, i, i+1), rec)
		}

		go p.execute(rec, t)

		return
	}
}

// execute runs t on rec and settles it.
func (p *Pool) execute(rec *record, t *task) {
	res, err := rec.w.Remote().Call(t.ctx, t.method, t.args...)

	p.mu.Lock()

	if !rec.gone {
		rec.taskCount--
		p.running--

		if rec.taskCount == 0 {
			p.armIdleLocked(rec)
		}
	}

	p.mu.Unlock()

	t.result <- taskResult{res: res, err: err}

	p.runQueue()
}

// spawnWorker starts one reserved worker and registers it.
func (p *Pool) spawnWorker() error {
	w, err := p.createWorker()
	if err != nil {
		p.mu.Lock()
		p.pending--
		p.mu.Unlock()

		return err
	}

	rec := &record{w: w}
	unsubscribe := w.Subscribe(func(e worker.Event) {
		if e.Type == worker.EventDisconnect {
			p.handleDisconnect(rec)
		}
	})

	p.mu.Lock()
	p.pending--
	rec.unsubscribe = unsubscribe

	if p.quitting {
		rec.gone = true
		p.mu.Unlock()

		unsubscribe()
		p.log.Debug("Pool shut down while worker was starting", "worker_id", w.ID())
		p.killWorker(w)

		return errors.ErrPoolShutdown
	}

	// The worker may have gone before it was registered.
	if rec.gone || w.Disconnected() {
		rec.gone = true
		p.mu.Unlock()

		unsubscribe()
		p.log.Debug("Worker went away while starting", "worker_id", w.ID())

		go p.ensureTargetWorkers()

		p.runQueue()

		return nil
	}

	p.workers = append(p.workers, rec)
	p.armIdleLocked(rec)
	p.mu.Unlock()

	p.log.Info("Worker added", "worker_id", w.ID(), "pid", w.Pid())

	p.runQueue()

	return nil
}

// createWorker forks and attaches a worker, retrying failures. After
// MaxBadWorkers consecutive failures the pool shuts down.
func (p *Pool) createWorker() (*worker.Process, error) {
	for {
		if err := p.limiter.Wait(p.ctx); err != nil {
			return nil, err
		}

		w, err := p.attach()
		if err == nil {
			p.mu.Lock()
			p.badWorkers = 0
			p.mu.Unlock()

			return w, nil
		}

		if p.ctx.Err() != nil {
			return nil, err
		}

		p.mu.Lock()
		p.badWorkers++
		bad := p.badWorkers
		p.mu.Unlock()

		p.log.Warn("Worker failed to start", "error", err, "consecutive_failures", bad)

		if bad >= config.MaxBadWorkers {
			p.log.Error("Too many worker failures, shutting down pool")
			p.shutdown(context.Background(), errors.ErrTooManyWorkerFailures)

			return nil, errors.ErrTooManyWorkerFailures
		}
	}
}

func (p *Pool) attach() (*worker.Process, error) {
	native, err := p.fork(p.ctx)
	if err != nil {
		return nil, err
	}

	return worker.Attach(p.ctx, p.log, native, p.opts.Local,
		worker.WithReadyTimeout(p.opts.ReadyTimeout),
		worker.WithConnectTimeout(p.opts.ConnectTimeout),
		worker.WithCallTimeout(p.opts.CallTimeout),
		worker.WithKillTimeout(p.opts.KillTimeout),
	)
}

// handleDisconnect forgets a worker that went away and refills the pool.
func (p *Pool) handleDisconnect(rec *record) {
	p.mu.Lock()

	if rec.gone {
		p.mu.Unlock()

		return
	}

	p.removeLocked(rec)
	quitting := p.quitting
	unsubscribe := rec.unsubscribe
	p.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	p.log.Info("Worker removed", "worker_id", rec.w.ID())

	if quitting {
		return
	}

	go p.ensureTargetWorkers()

	p.runQueue()
}

// removeLocked drops rec from the pool. Its running tasks stop counting
// toward the pool's load.
func (p *Pool) removeLocked(rec *record) {
	rec.gone = true
	rec.idleGen++

	if rec.idle != nil {
		rec.idle.Stop()
	}

	p.running -= rec.taskCount
	rec.taskCount = 0

	if i := slices.Index(p.workers, rec); i >= 0 {
		p.workers = slices.Delete(p.workers, i, i+1)
	}
}

// ensureTargetWorkers starts workers until MinWorkers are live or starting.
func (p *Pool) ensureTargetWorkers() {
	p.mu.Lock()

	missing := p.opts.MinWorkers - len(p.workers) - p.pending
	if p.quitting || missing <= 0 {
		p.mu.Unlock()

		return
	}

	p.pending += missing
	p.mu.Unlock()

	p.log.Debug("Starting workers to reach minimum", "missing", missing)

	var g errgroup.Group

	for range missing {
		g.Go(p.spawnWorker)
	}

	if err := g.Wait(); err != nil && !stderrors.Is(err, errors.ErrPoolShutdown) {
		p.log.Warn("Failed to reach minimum workers", "error", err)
	}
}

// armIdleLocked starts rec's idle countdown.
func (p *Pool) armIdleLocked(rec *record) {
	rec.idleGen++
	gen := rec.idleGen

	if rec.idle != nil {
		rec.idle.Stop()
	}

	rec.idle = time.AfterFunc(p.opts.IdleTimeout, func() { p.idleExpired(rec, gen) })
}

// idleExpired retires rec if it is still idle and the pool can spare it.
func (p *Pool) idleExpired(rec *record, gen uint64) {
	p.mu.Lock()

	if rec.gone || rec.taskCount > 0 || rec.idleGen != gen || p.quitting {
		p.mu.Unlock()

		return
	}

	if len(p.workers)-1 < p.opts.MinWorkers {
		p.mu.Unlock()

		return
	}

	p.removeLocked(rec)
	unsubscribe := rec.unsubscribe
	p.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	p.log.Info("Retiring idle worker", "worker_id", rec.w.ID(), "idle_timeout", p.opts.IdleTimeout)
	p.killWorker(rec.w)
}

func (p *Pool) killWorker(w *worker.Process) {
	if err := w.Kill(context.Background(), p.opts.KillSignal); err != nil {
		p.log.Warn("Failed to kill worker", "worker_id", w.ID(), "error", err)
	}
}

// Shutdown rejects every queued call with ErrPoolShutdown and kills every
// worker. Calls already running settle on their own. Kill failures are
// logged. It is safe to call Shutdown multiple times; later calls return
// immediately. The returned error is ctx's if it ended before every worker
// was gone.
func (p *Pool) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx, errors.ErrPoolShutdown)
}

// shutdown rejects queued tasks with cause.
func (p *Pool) shutdown(ctx context.Context, cause error) error {
	p.mu.Lock()

	if p.quitting {
		p.mu.Unlock()

		return nil
	}

	p.quitting = true
	queued := p.queue
	p.queue = nil
	workers := p.workers
	p.workers = nil
	unsubscribes := make([]func(), 0, len(workers))

	for _, rec := range workers {
		p.removeLocked(rec)
		unsubscribes = append(unsubscribes, rec.unsubscribe)
	}

	p.mu.Unlock()

	p.log.Info("Shutting down pool", "workers", len(workers), "queued", len(queued))

	// Abort worker starts in progress.
	p.cancel()

	for _, t := range queued {
		t.result <- taskResult{err: cause}
	}

	for _, unsubscribe := range unsubscribes {
		if unsubscribe != nil {
			unsubscribe()
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, rec := range workers {
		g.Go(func() error {
			if err := rec.w.Kill(gctx, p.opts.KillSignal); err != nil {
				p.log.Warn("Failed to kill worker", "worker_id", rec.w.ID(), "error", err)
			}

			return nil
		})
	}

	_ = g.Wait()

	p.events.Emit(Event{Type: EventShutdown})

	return ctx.Err()
}

// WorkerCount returns the number of attached workers.
func (p *Pool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.workers)
}

// RunningTasks returns the number of calls running on workers.
func (p *Pool) RunningTasks() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.running
}

// QueueLength returns the number of calls waiting for a worker.
func (p *Pool) QueueLength() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.queue)
}

// Stats returns a consistent snapshot of the pool's load.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Workers:  len(p.workers),
		Starting: p.pending,
		Running:  p.running,
		Queued:   len(p.queue),
	}
}
