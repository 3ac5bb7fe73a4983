package flux

import (
	"sync"
	"sync/atomic"
)

// WhenAll starts all children and completes with their values in
// declaration order once every child has value-completed. The first
// child to error or stop wins; remaining children still run to
// completion, but their results are ignored. WhenAll with no children
// completes immediately with an empty slice.
func WhenAll[T any](senders ...Sender[T]) Sender[[]T] {
	return whenAllSender[T]{children: senders}
}

type whenAllSender[T any] struct {
	children []Sender[T]
}

func (s whenAllSender[T]) Connect(r Receiver[[]T]) Operation {
	n := len(s.children)
	op := &whenAllOp[T]{next: r, results: make([]T, n)}
	op.remaining.Store(int64(n))
	op.ops = make([]Operation, n)
	for i, child := range s.children {
		op.ops[i] = child.Connect(whenAllReceiver[T]{op: op, index: i})
	}
	return op
}

func (s whenAllSender[T]) Signatures(env Env) Signatures {
	sig := Signatures{Value: true}
	for _, c := range s.children {
		sig = sig.Union(SignaturesOf(c, env))
	}
	return sig
}

type whenAllOp[T any] struct {
	next      Receiver[[]T]
	ops       []Operation
	mu        sync.Mutex // guards result-slot writes against torn aggregation
	results   []T
	remaining atomic.Int64
	failed    atomic.Bool
	failErr   error // set by the CAS winner only
	failStop  bool
}

func (op *whenAllOp[T]) Start() {
	if len(op.ops) == 0 {
		op.next.SetValue([]T{})
		return
	}
	for _, child := range op.ops {
		child.Start()
	}
}

func (op *whenAllOp[T]) childDone() {
	if op.remaining.Add(-1) != 0 {
		return
	}
	if op.failed.Load() {
		if op.failStop {
			op.next.SetStopped()
			return
		}
		op.next.SetError(op.failErr)
		return
	}
	op.mu.Lock()
	results := op.results
	op.mu.Unlock()
	op.next.SetValue(results)
}

type whenAllReceiver[T any] struct {
	op    *whenAllOp[T]
	index int
}

func (r whenAllReceiver[T]) SetValue(v T) {
	r.op.mu.Lock()
	r.op.results[r.index] = v
	r.op.mu.Unlock()
	r.op.childDone()
}

func (r whenAllReceiver[T]) SetError(err error) {
	if r.op.failed.CompareAndSwap(false, true) {
		r.op.failErr = err
	}
	r.op.childDone()
}

func (r whenAllReceiver[T]) SetStopped() {
	if r.op.failed.CompareAndSwap(false, true) {
		r.op.failStop = true
	}
	r.op.childDone()
}

func (r whenAllReceiver[T]) Env() Env { return r.op.next.Env() }

// toAny erases a sender's value type for heterogeneous aggregation.
func toAny[T any](s Sender[T]) Sender[any] {
	return Then(s, func(v T) (any, error) { return v, nil })
}

// WhenAll2 aggregates two senders of different value types into a
// [Pair], with WhenAll's completion semantics.
func WhenAll2[A, B any](sa Sender[A], sb Sender[B]) Sender[Pair[A, B]] {
	return Then(WhenAll(toAny(sa), toAny(sb)), func(vs []any) (Pair[A, B], error) {
		return Pair[A, B]{First: vs[0].(A), Second: vs[1].(B)}, nil
	})
}

// WhenAll3 aggregates three senders of different value types into a
// [Triple], with WhenAll's completion semantics.
func WhenAll3[A, B, C any](sa Sender[A], sb Sender[B], sc Sender[C]) Sender[Triple[A, B, C]] {
	return Then(WhenAll(toAny(sa), toAny(sb), toAny(sc)), func(vs []any) (Triple[A, B, C], error) {
		return Triple[A, B, C]{First: vs[0].(A), Second: vs[1].(B), Third: vs[2].(C)}, nil
	})
}
