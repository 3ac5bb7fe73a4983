package flux

import (
	"sync/atomic"
)

// WhenAny starts all children and completes with the first child
// completion on any channel. The winner is chosen by compare-and-swap;
// it then requests stop on an internal stop source observed by the
// remaining children (active cancellation). The last child to return
// drives delivery. If the outer environment's stop token is stopped by
// delivery time, the completion is downgraded to stopped. WhenAny
// panics when called with no children.
func WhenAny[T any](senders ...Sender[T]) Sender[T] {
	if len(senders) == 0 {
		panic("flux: WhenAny requires at least one sender")
	}
	return whenAnySender[T]{children: senders}
}

type whenAnySender[T any] struct {
	children []Sender[T]
}

func (s whenAnySender[T]) Connect(r Receiver[T]) Operation {
	op := &whenAnyOp[T]{next: r}
	op.remaining.Store(int64(len(s.children)))
	op.ops = make([]Operation, len(s.children))
	childEnv := WithStopToken(r.Env(), op.stop.Token())
	for i, child := range s.children {
		op.ops[i] = child.Connect(whenAnyReceiver[T]{op: op, env: childEnv})
	}
	return op
}

func (s whenAnySender[T]) Signatures(env Env) Signatures {
	var sig Signatures
	for _, c := range s.children {
		sig = sig.Union(SignaturesOf(c, env))
	}
	sig.Stopped = true // external stop downgrades delivery
	return sig
}

type whenAnyOp[T any] struct {
	next      Receiver[T]
	ops       []Operation
	stop      InplaceStopSource
	completed atomic.Bool
	remaining atomic.Int64
	result    Completion[T] // written by the CAS winner only
	cancelCB  func()
}

func (op *whenAnyOp[T]) Start() {
	// Outer cancellation propagates to the internal source so
	// well-behaved children abort promptly.
	op.cancelCB = GetStopToken(op.next.Env()).OnStop(func() {
		op.stop.RequestStop()
	})

	if op.stop.StopRequested() {
		op.cancelCB()
		op.next.SetStopped()
		return
	}
	for _, child := range op.ops {
		child.Start()
	}
}

// win records c as the winning completion if no child has won yet; the
// winner also requests stop on the peers.
func (op *whenAnyOp[T]) win(c Completion[T]) {
	if op.completed.CompareAndSwap(false, true) {
		op.result = c
		op.stop.RequestStop()
	}
	if op.remaining.Add(-1) == 0 {
		op.deliver()
	}
}

func (op *whenAnyOp[T]) deliver() {
	if op.cancelCB != nil {
		op.cancelCB()
	}
	if GetStopToken(op.next.Env()).StopRequested() {
		op.next.SetStopped()
		return
	}
	op.result.Deliver(op.next)
}

type whenAnyReceiver[T any] struct {
	op  *whenAnyOp[T]
	env Env
}

func (r whenAnyReceiver[T]) SetValue(v T)       { r.op.win(ValueCompletion(v)) }
func (r whenAnyReceiver[T]) SetError(err error) { r.op.win(ErrorCompletion[T](err)) }
func (r whenAnyReceiver[T]) SetStopped()        { r.op.win(StoppedCompletion[T]()) }
func (r whenAnyReceiver[T]) Env() Env           { return r.env }

// WhenAny2 races two senders of different value types; the result is
// an [Either] holding whichever child won.
func WhenAny2[A, B any](sa Sender[A], sb Sender[B]) Sender[Either[A, B]] {
	left := Then(sa, func(v A) (Either[A, B], error) { return Left[A, B](v), nil })
	right := Then(sb, func(v B) (Either[A, B], error) { return Right[A, B](v), nil })
	return WhenAny(left, right)
}
