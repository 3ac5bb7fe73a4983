package sched

import (
	"sync"
	"sync/atomic"

	"github.com/baxromumarov/flux"
	"github.com/baxromumarov/flux/lfq"
)

// ringCapacity is the size of the non-blocking submission ring shared
// by RunLoop and Pool.
const ringCapacity = 1024

// RunLoop is a single-threaded cooperative scheduler: work submitted
// through its scheduler handle executes on whichever goroutine calls
// [RunLoop.Run]. Submissions through Schedule preserve FIFO order
// among themselves; TrySchedule submissions travel through a separate
// lock-free ring and carry no ordering relative to Schedule
// submissions.
type RunLoop struct {
	mu          sync.Mutex
	cond        *sync.Cond
	queue       []func()
	ring        *lfq.Queue[func()]
	ringHasWork atomic.Bool
	stopped     atomic.Bool
}

// NewRunLoop returns a loop ready for Run.
func NewRunLoop() *RunLoop {
	rl := &RunLoop{ring: lfq.New[func()](ringCapacity)}
	rl.cond = sync.NewCond(&rl.mu)
	return rl
}

// Run processes submissions on the calling goroutine until
// [RunLoop.Finish] is observed; FIFO work still queued at that point
// is dropped. The ring is drained once more before Run returns.
func (rl *RunLoop) Run() {
	for !rl.stopped.Load() {
		if task, ok := rl.ring.TryPop(); ok {
			rl.ringHasWork.Store(false)
			task()
			continue
		}

		rl.mu.Lock()
		for len(rl.queue) == 0 && !rl.stopped.Load() && !rl.ringHasWork.Load() {
			rl.cond.Wait()
		}

		if rl.ringHasWork.Load() {
			rl.mu.Unlock()
			continue // outer loop pops the ring
		}

		if rl.stopped.Load() && len(rl.queue) == 0 {
			rl.mu.Unlock()
			if task, ok := rl.ring.TryPop(); ok {
				task()
				continue
			}
			break
		}

		task := rl.queue[0]
		rl.queue = rl.queue[1:]
		rl.mu.Unlock()
		task()
	}

	for {
		task, ok := rl.ring.TryPop()
		if !ok {
			return
		}
		task()
	}
}

// Finish stops the loop. A task popped while stopping completes as
// stopped; remaining FIFO work is dropped. The ring is drained once
// more before Run returns.
func (rl *RunLoop) Finish() {
	rl.mu.Lock()
	rl.stopped.Store(true)
	rl.mu.Unlock()
	rl.cond.Broadcast()
}

func (rl *RunLoop) push(task func()) {
	rl.mu.Lock()
	rl.queue = append(rl.queue, task)
	rl.mu.Unlock()
	rl.cond.Signal()
}

func (rl *RunLoop) tryPush(task func()) bool {
	if !rl.ring.TryPush(task) {
		return false
	}
	rl.ringHasWork.Store(true)
	// Lock barrier so a loop between its predicate check and Wait
	// cannot miss the flag.
	rl.mu.Lock()
	rl.mu.Unlock() //nolint:staticcheck
	rl.cond.Signal()
	return true
}

// Scheduler returns the loop's comparable scheduler handle.
func (rl *RunLoop) Scheduler() RunLoopScheduler {
	return RunLoopScheduler{loop: rl}
}

// RunLoopScheduler is a copyable handle to a [RunLoop]. Handles of the
// same loop compare equal.
type RunLoopScheduler struct {
	loop *RunLoop
}

// Schedule returns a sender completing on the loop's Run goroutine.
// Submission may block briefly on the queue mutex under contention.
func (s RunLoopScheduler) Schedule() flux.Sender[flux.Unit] {
	return runLoopSender{loop: s.loop}
}

// TrySchedule returns a non-blocking scheduling sender: it completes
// with flux.ErrWouldBlock when the ring is full, and the work is
// never queued in that case.
func (s RunLoopScheduler) TrySchedule() flux.Sender[flux.Unit] {
	return runLoopTrySender{loop: s.loop}
}

// ForwardProgress reports the parallel guarantee.
func (RunLoopScheduler) ForwardProgress() flux.ForwardProgress {
	return flux.ProgressParallel
}

type runLoopSender struct {
	loop *RunLoop
}

func (s runLoopSender) Connect(r flux.Receiver[flux.Unit]) flux.Operation {
	return flux.OperationFunc(func() {
		s.loop.push(func() {
			if s.loop.stopped.Load() {
				r.SetStopped()
				return
			}
			r.SetValue(flux.Unit{})
		})
	})
}

func (runLoopSender) Signatures(flux.Env) flux.Signatures {
	return flux.Signatures{Value: true, Stopped: true}
}

type runLoopTrySender struct {
	loop *RunLoop
}

func (s runLoopTrySender) Connect(r flux.Receiver[flux.Unit]) flux.Operation {
	return flux.OperationFunc(func() {
		ok := s.loop.tryPush(func() {
			if s.loop.stopped.Load() {
				r.SetStopped()
				return
			}
			r.SetValue(flux.Unit{})
		})
		if !ok {
			r.SetError(flux.ErrWouldBlock)
		}
	})
}

func (runLoopTrySender) Signatures(flux.Env) flux.Signatures {
	return flux.Signatures{Value: true, Error: true, Stopped: true}
}
