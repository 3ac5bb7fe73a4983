package sched

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baxromumarov/flux"
)

func TestWorkStealing_ExecutesSubmittedWork(t *testing.T) {
	ws := NewWorkStealing(4)
	defer ws.Shutdown()

	v, ok, err := flux.SyncWait(flux.Then(flux.Schedule(ws.Scheduler()), func(flux.Unit) (int, error) {
		return 7, nil
	}))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestWorkStealing_AllTasksRunExactlyOnce(t *testing.T) {
	ws := NewWorkStealing(4)
	defer ws.Shutdown()

	const n = 2000
	var hits [n]atomic.Int32
	var done sync.WaitGroup
	done.Add(n)
	for i := 0; i < n; i++ {
		i := i
		op := ws.Scheduler().Schedule().Connect(flux.FuncReceiver[flux.Unit]{
			OnValue: func(flux.Unit) {
				hits[i].Add(1)
				done.Done()
			},
		})
		op.Start()
	}
	done.Wait()

	for i := range hits {
		assert.Equal(t, int32(1), hits[i].Load(), "task %d", i)
	}
}

func TestWorkStealing_BalancesLoadAcrossWorkers(t *testing.T) {
	const workers = 8
	ws := NewWorkStealing(workers)
	defer ws.Shutdown()

	const n = 500
	var done sync.WaitGroup
	done.Add(n)
	for i := 0; i < n; i++ {
		op := ws.Scheduler().Schedule().Connect(flux.FuncReceiver[flux.Unit]{
			OnValue: func(flux.Unit) {
				// Comparable-cost CPU-bound work.
				acc := 0
				for j := 0; j < 100_000; j++ {
					acc += j % 7
				}
				_ = acc
				done.Done()
			},
		})
		op.Start()
	}
	done.Wait()

	// Execution counters are bumped after the task body returns, a step
	// behind the receiver callbacks; poll briefly.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		var executed uint64
		for id := 0; id < ws.NumProcs(); id++ {
			executed += ws.Stats(id).TasksExecuted
		}
		if executed == n {
			break
		}
		time.Sleep(time.Millisecond)
	}

	var total, minTasks, maxTasks uint64
	minTasks = ^uint64(0)
	for id := 0; id < ws.NumProcs(); id++ {
		executed := ws.Stats(id).TasksExecuted
		total += executed
		if executed < minTasks {
			minTasks = executed
		}
		if executed > maxTasks {
			maxTasks = executed
		}
	}
	assert.Equal(t, uint64(n), total, "every task accounted exactly once")

	// Gross imbalance detection, not a strict bound.
	require.Greater(t, maxTasks, uint64(0))
	ratio := float64(minTasks) / float64(maxTasks)
	assert.GreaterOrEqual(t, ratio, 0.1, "min=%d max=%d", minTasks, maxTasks)
}

func TestWorkStealing_SaturationExercisesStealOrGlobalPaths(t *testing.T) {
	ws := NewWorkStealing(4)
	defer ws.Shutdown()

	// Saturate submission so deques overflow and idle workers must
	// steal or hit the global queue.
	const n = 4000
	var done sync.WaitGroup
	done.Add(n)
	for i := 0; i < n; i++ {
		op := ws.Scheduler().Schedule().Connect(flux.FuncReceiver[flux.Unit]{
			OnValue: func(flux.Unit) {
				time.Sleep(10 * time.Microsecond)
				done.Done()
			},
		})
		op.Start()
	}
	done.Wait()

	var steals, globalPops uint64
	for id := 0; id < ws.NumProcs(); id++ {
		s := ws.Stats(id)
		steals += s.StealsSucceeded
		globalPops += s.GlobalPops
	}
	assert.Positive(t, steals+globalPops, "load balancing paths were exercised")
}

func TestWorkStealing_TrySubmitWouldBlockWhenDequesFull(t *testing.T) {
	ws := NewWorkStealing(1)
	defer ws.Shutdown()

	// Stall the single worker, then fill its deque past the bound.
	block := make(chan struct{})
	op := ws.Scheduler().Schedule().Connect(flux.FuncReceiver[flux.Unit]{
		OnValue: func(flux.Unit) { <-block },
	})
	op.Start()
	time.Sleep(5 * time.Millisecond)

	rejected := false
	for i := 0; i < localQueueMax+64 && !rejected; i++ {
		tryOp := ws.Scheduler().TrySchedule().Connect(flux.FuncReceiver[flux.Unit]{
			OnError: func(err error) {
				require.ErrorIs(t, err, flux.ErrWouldBlock)
				rejected = true
			},
		})
		tryOp.Start()
	}
	assert.True(t, rejected, "full deques reject try-submissions")
	close(block)
}

func TestWorkStealing_SubmitAfterShutdownIsAbsorbed(t *testing.T) {
	ws := NewWorkStealing(2)
	ws.Shutdown()

	var completed atomic.Bool
	op := ws.Scheduler().Schedule().Connect(flux.FuncReceiver[flux.Unit]{
		OnValue: func(flux.Unit) { completed.Store(true) },
	})
	assert.NotPanics(t, op.Start)
	time.Sleep(5 * time.Millisecond)
	assert.False(t, completed.Load())
}

func TestWorkStealing_StatsOutOfRange(t *testing.T) {
	ws := NewWorkStealing(2)
	defer ws.Shutdown()
	assert.Equal(t, WorkStealingStats{}, ws.Stats(-1))
	assert.Equal(t, WorkStealingStats{}, ws.Stats(99))
}

func TestWorkStealing_HandlesCompareEqual(t *testing.T) {
	ws := NewWorkStealing(2)
	defer ws.Shutdown()
	assert.Equal(t, ws.Scheduler(), ws.Scheduler())
	assert.Equal(t, flux.ProgressParallel, flux.GetForwardProgress(ws.Scheduler()))
}

func TestProcessor_DequeBound(t *testing.T) {
	p := &processor{}
	for i := 0; i < localQueueMax; i++ {
		require.True(t, p.tryPushLocal(&task{work: func() {}}))
	}
	assert.False(t, p.tryPushLocal(&task{work: func() {}}), "deque rejects past the bound")
}

func TestProcessor_OwnerPopsFrontStealerTakesBack(t *testing.T) {
	p := &processor{}
	first := &task{work: func() {}}
	middle := &task{work: func() {}}
	last := &task{work: func() {}}
	require.True(t, p.tryPushLocal(first))
	require.True(t, p.tryPushLocal(middle))
	require.True(t, p.tryPushLocal(last))

	assert.Same(t, last, p.trySteal(), "stealers take the back")
	assert.Same(t, first, p.popLocal(), "owner pops the front")
	assert.Same(t, middle, p.popLocal())
	assert.Nil(t, p.popLocal())
	assert.Nil(t, p.trySteal())
}

func TestTask_SequenceNumbersAssigned(t *testing.T) {
	p := &processor{}
	a := &task{work: func() {}}
	b := &task{work: func() {}}
	require.True(t, p.tryPushLocal(a))
	require.True(t, p.tryPushLocal(b))
	assert.Equal(t, uint64(0), a.seq)
	assert.Equal(t, uint64(1), b.seq)
}

func TestTask_CancelledTaskIsSkipped(t *testing.T) {
	ws := NewWorkStealing(1)
	defer ws.Shutdown()

	// Stall the worker, enqueue a task, cancel it before the worker
	// reaches it.
	block := make(chan struct{})
	stall := ws.Scheduler().Schedule().Connect(flux.FuncReceiver[flux.Unit]{
		OnValue: func(flux.Unit) { <-block },
	})
	stall.Start()
	time.Sleep(5 * time.Millisecond)

	var ran atomic.Bool
	cancelled := &task{work: func() { ran.Store(true) }}
	cancelled.cancelled.Store(true)
	require.True(t, ws.procs[0].tryPushLocal(cancelled))

	close(block)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, ran.Load(), "cancelled tasks are honoured")
}
