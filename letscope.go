package flux

import "sync"

// LetAsyncScope runs fn with a scope token when s value-completes.
// Work spawned through the token is accounted to an embedded
// [CountingScope]; the returned sender completes only after that
// scope has joined. The first error — whether returned by fn, panicked
// inside it, or produced by a spawned sender — wins, requests the
// scope's stop so still-running spawns observe cancellation, and is
// delivered on the error channel after the join. With no error the
// sender value-completes with no value. Error and stopped completions
// of s are forwarded without running fn.
func LetAsyncScope[T any](s Sender[T], fn func(ScopeToken, T) error) Sender[Unit] {
	if fn == nil {
		panic("flux: LetAsyncScope requires a non-nil function")
	}
	return letScopeSender[T]{src: s, fn: fn}
}

type letScopeSender[T any] struct {
	src Sender[T]
	fn  func(ScopeToken, T) error
}

func (s letScopeSender[T]) Connect(r Receiver[Unit]) Operation {
	// The child receiver holds a back-pointer into the operation, so
	// the operation is allocated first and the child connected from
	// Start, once the address is pinned.
	return &letScopeOp[T]{next: r, s: s, state: &letScopeState{scope: NewCountingScope()}}
}

func (s letScopeSender[T]) Signatures(env Env) Signatures {
	sig := SignaturesOf(s.src, env)
	sig.Error = true
	return sig
}

// letScopeState aggregates errors across fn and its spawns: the first
// error wins and requests the scope's stop.
type letScopeState struct {
	scope *CountingScope
	mu    sync.Mutex
	err   error
	has   bool
}

func (st *letScopeState) storeError(err error) {
	st.mu.Lock()
	first := !st.has
	if first {
		st.has = true
		st.err = err
	}
	st.mu.Unlock()
	if first {
		st.scope.RequestStop()
	}
}

func (st *letScopeState) firstError() (error, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err, st.has
}

// letScopeToken is the token handed to fn: it delegates accounting to
// the embedded scope and intercepts spawn errors into the shared slot.
type letScopeToken struct {
	st *letScopeState
}

func (t letScopeToken) TryAssociate() bool   { return t.st.scope.core.tryAssociate() }
func (t letScopeToken) Disassociate()        { t.st.scope.core.disassociate() }
func (t letScopeToken) StopToken() StopToken { return t.st.scope.GetStopToken() }

func (t letScopeToken) interceptSpawnError(err error) { t.st.storeError(err) }

type letScopeOp[T any] struct {
	next    Receiver[Unit]
	s       letScopeSender[T]
	state   *letScopeState
	childOp Operation
	joinOp  Operation
}

func (op *letScopeOp[T]) Start() {
	op.childOp = op.s.src.Connect(letScopeReceiver[T]{op: op})
	op.childOp.Start()
}

func (op *letScopeOp[T]) startJoin() {
	op.joinOp = op.state.scope.Join().Connect(FuncReceiver[Unit]{
		OnValue: func(Unit) { op.completeAfterJoin() },
	})
	op.joinOp.Start()
}

func (op *letScopeOp[T]) completeAfterJoin() {
	if err, ok := op.state.firstError(); ok {
		op.next.SetError(err)
		return
	}
	op.next.SetValue(Unit{})
}

type letScopeReceiver[T any] struct {
	op *letScopeOp[T]
}

func (r letScopeReceiver[T]) SetValue(v T) {
	op := r.op
	var err error
	func() {
		defer recoverToError(&err)
		err = op.s.fn(letScopeToken{st: op.state}, v)
	}()
	if err != nil {
		op.state.storeError(err)
	}
	op.startJoin()
}

func (r letScopeReceiver[T]) SetError(err error) { r.op.next.SetError(err) }
func (r letScopeReceiver[T]) SetStopped()        { r.op.next.SetStopped() }
func (r letScopeReceiver[T]) Env() Env           { return r.op.next.Env() }
