package sched

import (
	"log/slog"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/baxromumarov/flux"
)

// Work-stealing scheduler constants, matching the Go runtime's design
// this scheduler mirrors.
const (
	// localQueueMax bounds each processor's deque.
	localQueueMax = 256

	// workBatchSize is how many local tasks a worker runs per
	// iteration before re-checking the other sources.
	workBatchSize = 32

	// globalPollInterval is the fairness counter: every 61 executed
	// tasks the global queue is polled once, preventing starvation.
	// Tuneable, chosen to match Go's runtime empirically.
	globalPollInterval = 61

	// stealAttempts is how many victims a worker tries per idle
	// iteration.
	stealAttempts = 4

	// parkTimeout bounds how long an idle worker sleeps, so steal
	// opportunities missed in race windows are picked up promptly.
	parkTimeout = 100 * time.Microsecond
)

// task is the scheduler's unit of work (G in the runtime analogy).
type task struct {
	work      func()
	seq       uint64
	cancelled atomic.Bool
}

// processor is a logical processor owning a bounded local deque
// (P in the runtime analogy). Tasks are appended at the back; the
// owner pops from the front (FIFO) while stealers take from the back,
// reducing contention with the owner.
type processor struct {
	mu      sync.Mutex
	deque   []*task
	nextSeq uint64

	// rng selects steal victims; touched only by the owning worker.
	rng *rand.Rand

	stats procStats
}

type procStats struct {
	tasksExecuted   atomic.Uint64
	localPops       atomic.Uint64
	globalPops      atomic.Uint64
	stealsAttempted atomic.Uint64
	stealsSucceeded atomic.Uint64
}

// tryPushLocal fails fast instead of blocking: on lock contention or
// a full deque the caller falls back to the global queue.
func (p *processor) tryPushLocal(t *task) bool {
	if !p.mu.TryLock() {
		return false
	}
	if len(p.deque) >= localQueueMax {
		p.mu.Unlock()
		return false
	}
	t.seq = p.nextSeq
	p.nextSeq++
	p.deque = append(p.deque, t)
	p.mu.Unlock()
	return true
}

// popLocal pops from the front (FIFO for cache locality). Owner only.
func (p *processor) popLocal() *task {
	p.mu.Lock()
	if len(p.deque) == 0 {
		p.mu.Unlock()
		return nil
	}
	t := p.deque[0]
	p.deque = p.deque[1:]
	p.mu.Unlock()
	return t
}

// trySteal pops from the back, returning nil on contention.
func (p *processor) trySteal() *task {
	if !p.mu.TryLock() {
		return nil
	}
	if len(p.deque) == 0 {
		p.mu.Unlock()
		return nil
	}
	t := p.deque[len(p.deque)-1]
	p.deque = p.deque[:len(p.deque)-1]
	p.mu.Unlock()
	return t
}

func (p *processor) hasWork() bool {
	p.mu.Lock()
	n := len(p.deque)
	p.mu.Unlock()
	return n > 0
}

func (p *processor) randomVictim(numProcs, self int) int {
	v := p.rng.IntN(numProcs)
	if v == self && numProcs > 1 {
		v = (v + 1) % numProcs
	}
	return v
}

// globalQueue is the unbounded shared overflow FIFO.
type globalQueue struct {
	mu      sync.Mutex
	queue   []*task
	hasWork atomic.Bool
}

func (g *globalQueue) push(t *task) {
	g.mu.Lock()
	g.queue = append(g.queue, t)
	g.hasWork.Store(true)
	g.mu.Unlock()
}

func (g *globalQueue) tryPop() *task {
	if !g.mu.TryLock() {
		return nil
	}
	if len(g.queue) == 0 {
		g.mu.Unlock()
		return nil
	}
	t := g.queue[0]
	g.queue = g.queue[1:]
	if len(g.queue) == 0 {
		g.hasWork.Store(false)
	}
	g.mu.Unlock()
	return t
}

// WorkStealing is a scheduler modelled on Go's G/P/M runtime design:
// one worker goroutine (M) per logical processor (P), each with a
// bounded local deque, plus a shared unbounded global queue for
// overflow. Idle workers steal from random victims' deque backs and
// park with a bounded timeout when no work is visible.
type WorkStealing struct {
	procs    []*processor
	global   globalQueue
	stop     atomic.Bool
	stopCh   chan struct{}
	wake     chan struct{}
	nextProc atomic.Uint64
	workers  sync.WaitGroup
	logger   *slog.Logger
}

// WorkStealingOption configures a [WorkStealing] scheduler.
type WorkStealingOption func(*WorkStealing)

// WithLogger registers a logger for worker lifecycle events.
// Panics if logger is nil.
func WithLogger(logger *slog.Logger) WorkStealingOption {
	if logger == nil {
		panic("sched: WithLogger requires a non-nil logger")
	}
	return func(ws *WorkStealing) { ws.logger = logger }
}

// NewWorkStealing starts a scheduler with n processors, one worker
// each. n <= 0 selects runtime.NumCPU().
func NewWorkStealing(n int, opts ...WorkStealingOption) *WorkStealing {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	ws := &WorkStealing{
		procs:  make([]*processor, n),
		stopCh: make(chan struct{}),
		wake:   make(chan struct{}, n),
	}
	for _, opt := range opts {
		opt(ws)
	}
	for i := range ws.procs {
		ws.procs[i] = &processor{
			rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		}
	}

	ws.workers.Add(n)
	for i := 0; i < n; i++ {
		go ws.worker(i)
	}
	return ws
}

// Shutdown stops the workers and waits for them to exit. Each worker
// drains its own deque once before exiting; global-queue work may be
// dropped.
func (ws *WorkStealing) Shutdown() {
	ws.stop.Store(true)
	close(ws.stopCh)
	ws.workers.Wait()
}

// NumProcs returns the processor count.
func (ws *WorkStealing) NumProcs() int { return len(ws.procs) }

// WorkStealingStats is a best-effort snapshot of one processor's
// counters. Counters use relaxed accounting; cross-counter
// consistency is not guaranteed.
type WorkStealingStats struct {
	TasksExecuted   uint64
	LocalPops       uint64
	GlobalPops      uint64
	StealsAttempted uint64
	StealsSucceeded uint64
}

// Stats returns the counters for processor id, or zeros for an
// out-of-range id.
func (ws *WorkStealing) Stats(id int) WorkStealingStats {
	if id < 0 || id >= len(ws.procs) {
		return WorkStealingStats{}
	}
	s := &ws.procs[id].stats
	return WorkStealingStats{
		TasksExecuted:   s.tasksExecuted.Load(),
		LocalPops:       s.localPops.Load(),
		GlobalPops:      s.globalPops.Load(),
		StealsAttempted: s.stealsAttempted.Load(),
		StealsSucceeded: s.stealsSucceeded.Load(),
	}
}

func (ws *WorkStealing) notifyOne() {
	select {
	case ws.wake <- struct{}{}:
	default:
	}
}

// submit places work on a random processor's deque, overflowing to
// the global queue, then wakes one parked worker. Submission to a
// stopped scheduler is a silent no-op.
func (ws *WorkStealing) submit(work func()) {
	if ws.stop.Load() {
		return
	}
	t := &task{work: work}
	pid := rand.IntN(len(ws.procs))
	if !ws.procs[pid].tryPushLocal(t) {
		ws.global.push(t)
	}
	ws.notifyOne()
}

// trySubmit scans every processor round-robin for deque space and
// fails rather than touch the global queue, whose mutex may block.
func (ws *WorkStealing) trySubmit(work func()) bool {
	if ws.stop.Load() {
		return false
	}
	t := &task{work: work}
	n := len(ws.procs)
	start := int(ws.nextProc.Add(1)-1) % n
	for i := 0; i < n; i++ {
		if ws.procs[(start+i)%n].tryPushLocal(t) {
			ws.notifyOne()
			return true
		}
	}
	return false
}

func (ws *WorkStealing) anyProcHasWork(exclude int) bool {
	for i, p := range ws.procs {
		if i != exclude && p.hasWork() {
			return true
		}
	}
	return false
}

func (ws *WorkStealing) worker(id int) {
	defer ws.workers.Done()
	if ws.logger != nil {
		ws.logger.Debug("worker started", "proc", id)
		defer ws.logger.Debug("worker stopped", "proc", id)
	}

	proc := ws.procs[id]
	stats := &proc.stats
	numProcs := len(ws.procs)

	parkTimer := time.NewTimer(parkTimeout)
	defer parkTimer.Stop()

	for !ws.stop.Load() {
		processed := 0

		// Phase 1: local deque, FIFO, up to a batch.
		for processed < workBatchSize {
			t := proc.popLocal()
			if t == nil {
				break
			}
			if !t.cancelled.Load() {
				t.work()
				stats.tasksExecuted.Add(1)
				stats.localPops.Add(1)
			}
			processed++
		}

		// Phase 2: fairness poll of the global queue.
		if stats.tasksExecuted.Load()%globalPollInterval == 0 && ws.global.hasWork.Load() {
			if t := ws.global.tryPop(); t != nil {
				if !t.cancelled.Load() {
					t.work()
					stats.tasksExecuted.Add(1)
					stats.globalPops.Add(1)
				}
				processed++
			}
		}

		// Phase 3: steal only when the local phase found nothing.
		if processed == 0 && numProcs > 1 {
			for attempt := 0; attempt < stealAttempts; attempt++ {
				stats.stealsAttempted.Add(1)
				victim := proc.randomVictim(numProcs, id)
				stolen := ws.procs[victim].trySteal()
				if stolen == nil {
					continue
				}
				stats.stealsSucceeded.Add(1)
				if !stolen.cancelled.Load() {
					stolen.work()
					stats.tasksExecuted.Add(1)
				}
				processed++
				break
			}
		}

		// An idle worker falls back to the global queue regardless
		// of the fairness counter; overflow work must not wait for
		// the next multiple of the poll interval.
		if processed == 0 {
			if t := ws.global.tryPop(); t != nil {
				if !t.cancelled.Load() {
					t.work()
					stats.tasksExecuted.Add(1)
					stats.globalPops.Add(1)
				}
				processed++
			}
		}

		// Phase 4: park with a bounded timeout.
		if processed == 0 {
			if proc.hasWork() || ws.global.hasWork.Load() || ws.anyProcHasWork(id) {
				continue
			}
			if !parkTimer.Stop() {
				select {
				case <-parkTimer.C:
				default:
				}
			}
			parkTimer.Reset(parkTimeout)
			select {
			case <-ws.wake:
			case <-ws.stopCh:
			case <-parkTimer.C:
			}
		}
	}

	// Shutdown: drain remaining local work once.
	for {
		t := proc.popLocal()
		if t == nil {
			return
		}
		if !t.cancelled.Load() {
			t.work()
			stats.tasksExecuted.Add(1)
		}
	}
}

// Scheduler returns the comparable scheduler handle.
func (ws *WorkStealing) Scheduler() WorkStealingScheduler {
	return WorkStealingScheduler{ws: ws}
}

// WorkStealingScheduler is a copyable handle to a [WorkStealing]
// scheduler. Handles of the same scheduler compare equal.
type WorkStealingScheduler struct {
	ws *WorkStealing
}

// Schedule returns a sender completing on one of the workers.
func (s WorkStealingScheduler) Schedule() flux.Sender[flux.Unit] {
	return wsSender{ws: s.ws}
}

// TrySchedule returns a non-blocking scheduling sender completing
// with flux.ErrWouldBlock when every local deque is full.
func (s WorkStealingScheduler) TrySchedule() flux.Sender[flux.Unit] {
	return wsTrySender{ws: s.ws}
}

// ForwardProgress reports the parallel guarantee.
func (WorkStealingScheduler) ForwardProgress() flux.ForwardProgress {
	return flux.ProgressParallel
}

type wsSender struct {
	ws *WorkStealing
}

func (s wsSender) Connect(r flux.Receiver[flux.Unit]) flux.Operation {
	started := &atomic.Bool{}
	return flux.OperationFunc(func() {
		if started.Swap(true) {
			return
		}
		s.ws.submit(func() { r.SetValue(flux.Unit{}) })
	})
}

func (wsSender) Signatures(flux.Env) flux.Signatures {
	return flux.Signatures{Value: true}
}

type wsTrySender struct {
	ws *WorkStealing
}

func (s wsTrySender) Connect(r flux.Receiver[flux.Unit]) flux.Operation {
	started := &atomic.Bool{}
	return flux.OperationFunc(func() {
		if started.Swap(true) {
			return
		}
		if !s.ws.trySubmit(func() { r.SetValue(flux.Unit{}) }) {
			r.SetError(flux.ErrWouldBlock)
		}
	})
}

func (wsTrySender) Signatures(flux.Env) flux.Signatures {
	return flux.Signatures{Value: true, Error: true}
}
