package flux

import (
	"math"
	"sync"
	"time"
)

// Retry re-runs s whenever it completes with an error, indefinitely.
// Value and stopped completions are forwarded; retry never retries on
// stopped. The sender must be reconnectable, which every sender built
// from this package's factories and adaptors is.
func Retry[T any](s Sender[T]) Sender[T] {
	return retrySender[T]{
		src:    s,
		decide: func(int, error) (bool, error) { return true, nil },
	}
}

// RetryN runs s up to n attempts; after the n-th error the last error
// is surfaced. RetryN(s, 1) is observationally equivalent to s.
// It panics if n < 1.
func RetryN[T any](s Sender[T], n int) Sender[T] {
	if n < 1 {
		panic("flux: RetryN requires n >= 1")
	}
	return retrySender[T]{
		src: s,
		decide: func(attempt int, err error) (bool, error) {
			if attempt < n {
				return true, nil
			}
			return false, err
		},
	}
}

// RetryIf retries while pred returns true for the attempt's error;
// otherwise the error is surfaced. A panic in pred surfaces the
// captured [*PanicError] instead.
func RetryIf[T any](s Sender[T], pred func(error) bool) Sender[T] {
	if pred == nil {
		panic("flux: RetryIf requires a non-nil predicate")
	}
	return retrySender[T]{
		src: s,
		decide: func(_ int, inErr error) (retry bool, surface error) {
			var perr error
			func() {
				defer recoverToError(&perr)
				retry = pred(inErr)
			}()
			if perr != nil {
				return false, perr
			}
			if retry {
				return true, nil
			}
			return false, inErr
		},
	}
}

// RetryWithBackoff runs s up to n attempts, delaying between attempts
// by initial, then initial×mult capped at max, and so on. The delay is
// a timer wake-up whose resumption hops through sch, so the retried
// attempt starts on sch's context; the outer completion observes at
// least the cumulative delay. It panics on non-positive durations,
// mult < 1, n < 1, or a nil scheduler.
func RetryWithBackoff[T any](s Sender[T], sch Scheduler, initial, max time.Duration, mult float64, n int) Sender[T] {
	if sch == nil {
		panic("flux: RetryWithBackoff requires a non-nil scheduler")
	}
	if initial <= 0 || max <= 0 {
		panic("flux: RetryWithBackoff requires positive durations")
	}
	if mult < 1 {
		panic("flux: RetryWithBackoff requires mult >= 1")
	}
	if n < 1 {
		panic("flux: RetryWithBackoff requires n >= 1")
	}
	return retrySender[T]{
		src: s,
		decide: func(attempt int, err error) (bool, error) {
			if attempt < n {
				return true, nil
			}
			return false, err
		},
		delay: func(attempt int) time.Duration {
			d := float64(initial) * math.Pow(mult, float64(attempt-1))
			if d > float64(max) {
				return max
			}
			return time.Duration(d)
		},
		sch: sch,
	}
}

type retrySender[T any] struct {
	src    Sender[T]
	decide func(attempt int, err error) (retry bool, surface error)
	delay  func(attempt int) time.Duration // nil: retry immediately
	sch    Scheduler
}

func (s retrySender[T]) Connect(r Receiver[T]) Operation {
	return &retryOp[T]{next: r, s: s}
}

func (s retrySender[T]) Signatures(env Env) Signatures {
	return SignaturesOf(s.src, env)
}

// retryOp rebuilds the nested operation for each attempt. The mutex
// guards the rebuild; the guard flag defers synchronous error
// completions arriving during Start of a fresh attempt so they are
// handled by the launch loop instead of recursing.
type retryOp[T any] struct {
	next Receiver[T]
	s    retrySender[T]

	mu      sync.Mutex
	guard   bool
	pending bool
	attempt int
	cur     Operation // current nested attempt, type-erased
	delayOp Operation // in-flight backoff hop, kept alive until it fires
}

func (op *retryOp[T]) Start() { op.launch() }

// launch builds and starts attempts until one of them completes
// asynchronously or terminally.
func (op *retryOp[T]) launch() {
	for {
		op.mu.Lock()
		op.guard = true
		op.attempt++
		prev := op.cur
		var inner Operation
		var err error
		func() {
			defer recoverToError(&err)
			inner = op.s.src.Connect(retryReceiver[T]{op: op})
		}()
		if err != nil {
			op.guard = false
			op.mu.Unlock()
			op.next.SetError(err)
			return
		}
		op.cur = inner
		_ = prev // the old attempt stays alive until the new one is installed
		op.mu.Unlock()

		inner.Start()

		op.mu.Lock()
		op.guard = false
		if !op.pending {
			op.mu.Unlock()
			return
		}
		op.pending = false
		op.mu.Unlock()
	}
}

func (op *retryOp[T]) currentAttempt() int {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.attempt
}

func (op *retryOp[T]) onError(err error) {
	retry, surface := op.s.decide(op.currentAttempt(), err)
	if !retry {
		op.next.SetError(surface)
		return
	}

	if op.s.delay != nil {
		d := op.s.delay(op.currentAttempt())
		time.AfterFunc(d, func() {
			op.mu.Lock()
			op.delayOp = Schedule(op.s.sch).Connect(FuncReceiver[Unit]{
				OnValue:     func(Unit) { op.launch() },
				OnError:     op.next.SetError,
				OnStopped:   op.next.SetStopped,
				Environment: op.next.Env(),
			})
			hop := op.delayOp
			op.mu.Unlock()
			hop.Start()
		})
		return
	}

	op.mu.Lock()
	if op.guard {
		// Synchronous completion during Start of this attempt:
		// defer to the launch loop rather than recurse.
		op.pending = true
		op.mu.Unlock()
		return
	}
	op.mu.Unlock()
	op.launch()
}

type retryReceiver[T any] struct {
	op *retryOp[T]
}

func (r retryReceiver[T]) SetValue(v T)       { r.op.next.SetValue(v) }
func (r retryReceiver[T]) SetError(err error) { r.op.onError(err) }
func (r retryReceiver[T]) SetStopped()        { r.op.next.SetStopped() }
func (r retryReceiver[T]) Env() Env           { return r.op.next.Env() }
