package sched

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/baxromumarov/flux"
	"github.com/baxromumarov/flux/lfq"
)

// Pool is a fixed-size thread-pool scheduler. Workers share one
// FIFO queue for Schedule submissions and one lock-free ring for
// TrySchedule submissions. Submissions after Shutdown are absorbed
// silently; work accepted before Shutdown, in the FIFO queue or the
// ring, is run before the workers exit.
type Pool struct {
	mu          sync.Mutex
	cond        *sync.Cond
	queue       []func()
	ring        *lfq.Queue[func()]
	ringHasWork atomic.Bool
	stop        bool

	workers sync.WaitGroup
	size    int
	logger  *slog.Logger

	// Observability counters.
	submitted atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
	inFlight  atomic.Int64
}

// PoolOption configures a [Pool].
type PoolOption func(*Pool)

// WithPoolLogger registers a logger for worker lifecycle events.
// Panics if logger is nil.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	if logger == nil {
		panic("sched: WithPoolLogger requires a non-nil logger")
	}
	return func(p *Pool) { p.logger = logger }
}

// NewPool starts a pool with n workers. n <= 0 selects
// runtime.NumCPU().
func NewPool(n int, opts ...PoolOption) *Pool {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	p := &Pool{
		ring: lfq.New[func()](ringCapacity),
		size: n,
	}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}

	p.workers.Add(n)
	for i := 0; i < n; i++ {
		go p.worker(i)
	}
	return p
}

// Shutdown stops the workers and waits for them to exit. Workers run
// the queued FIFO work until the queue is empty, then each drains the
// ring once more before exiting.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.stop = true
	p.mu.Unlock()
	p.cond.Broadcast()
	p.workers.Wait()
}

// Workers returns the fixed worker count.
func (p *Pool) Workers() int { return p.size }

// PoolStats is a point-in-time snapshot of pool activity.
type PoolStats struct {
	Submitted  int64 // tasks accepted for execution
	Completed  int64 // tasks finished
	Rejected   int64 // try-submissions refused with a full ring
	InFlight   int64 // tasks currently executing
	QueueDepth int   // tasks waiting in the FIFO queue
	Workers    int   // worker count, fixed at creation
}

// Stats returns a best-effort snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	depth := len(p.queue)
	p.mu.Unlock()
	return PoolStats{
		Submitted:  p.submitted.Load(),
		Completed:  p.completed.Load(),
		Rejected:   p.rejected.Load(),
		InFlight:   p.inFlight.Load(),
		QueueDepth: depth,
		Workers:    p.size,
	}
}

func (p *Pool) worker(id int) {
	defer p.workers.Done()
	if p.logger != nil {
		p.logger.Debug("pool worker started", "worker", id)
		defer p.logger.Debug("pool worker stopped", "worker", id)
	}

	for {
		if task, ok := p.ring.TryPop(); ok {
			p.ringHasWork.Store(false)
			p.execute(task)
			continue
		}

		var task func()
		p.mu.Lock()
		for !p.stop && len(p.queue) == 0 && !p.ringHasWork.Load() {
			p.cond.Wait()
		}
		if p.stop && len(p.queue) == 0 {
			p.mu.Unlock()
			for {
				t, ok := p.ring.TryPop()
				if !ok {
					return
				}
				p.execute(t)
			}
		}
		if len(p.queue) > 0 {
			task = p.queue[0]
			p.queue = p.queue[1:]
		}
		p.mu.Unlock()

		if task != nil {
			p.execute(task)
		}
		// No FIFO task: loop back to re-check the ring.
	}
}

func (p *Pool) execute(task func()) {
	p.inFlight.Add(1)
	task()
	p.inFlight.Add(-1)
	p.completed.Add(1)
}

// submit enqueues task for execution. Submission to a stopped pool is
// a silent no-op.
func (p *Pool) submit(task func()) {
	p.mu.Lock()
	if p.stop {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, task)
	p.mu.Unlock()
	p.submitted.Add(1)
	p.cond.Signal()
}

// trySubmit enqueues through the ring without blocking.
func (p *Pool) trySubmit(task func()) bool {
	if !p.ring.TryPush(task) {
		p.rejected.Add(1)
		return false
	}
	p.submitted.Add(1)
	p.ringHasWork.Store(true)
	// Lock barrier so a worker between its predicate check and Wait
	// cannot miss the flag.
	p.mu.Lock()
	p.mu.Unlock() //nolint:staticcheck
	p.cond.Signal()
	return true
}

// Scheduler returns the pool's comparable scheduler handle.
func (p *Pool) Scheduler() PoolScheduler {
	return PoolScheduler{pool: p}
}

// PoolScheduler is a copyable handle to a [Pool]. Handles of the same
// pool compare equal.
type PoolScheduler struct {
	pool *Pool
}

// Schedule returns a sender completing on one of the pool's workers.
func (s PoolScheduler) Schedule() flux.Sender[flux.Unit] {
	return poolSender{pool: s.pool}
}

// TrySchedule returns a non-blocking scheduling sender completing
// with flux.ErrWouldBlock when the ring is full.
func (s PoolScheduler) TrySchedule() flux.Sender[flux.Unit] {
	return poolTrySender{pool: s.pool}
}

// ForwardProgress reports the parallel guarantee.
func (PoolScheduler) ForwardProgress() flux.ForwardProgress {
	return flux.ProgressParallel
}

type poolSender struct {
	pool *Pool
}

func (s poolSender) Connect(r flux.Receiver[flux.Unit]) flux.Operation {
	started := &atomic.Bool{}
	return flux.OperationFunc(func() {
		if started.Swap(true) {
			return
		}
		s.pool.submit(func() { r.SetValue(flux.Unit{}) })
	})
}

func (poolSender) Signatures(flux.Env) flux.Signatures {
	return flux.Signatures{Value: true}
}

type poolTrySender struct {
	pool *Pool
}

func (s poolTrySender) Connect(r flux.Receiver[flux.Unit]) flux.Operation {
	started := &atomic.Bool{}
	return flux.OperationFunc(func() {
		if started.Swap(true) {
			return
		}
		if !s.pool.trySubmit(func() { r.SetValue(flux.Unit{}) }) {
			r.SetError(flux.ErrWouldBlock)
		}
	})
}

func (poolTrySender) Signatures(flux.Env) flux.Signatures {
	return flux.Signatures{Value: true, Error: true}
}
