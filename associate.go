package flux

import "sync/atomic"

// ScopeToken accounts work against an async scope. TryAssociate
// reserves one unit of in-flight work and fails once the scope has
// closed; Disassociate releases it. StopToken exposes the scope's
// cancellation signal, or [NeverStopToken] for scopes that do not
// cancel. Associations are not transferable across scopes.
type ScopeToken interface {
	TryAssociate() bool
	Disassociate()
	StopToken() StopToken
}

// Associate ties s's lifetime to the scope behind tok. Connecting the
// returned sender attempts an association: if the scope is closed the
// operation completes with stopped on start; otherwise the downstream
// receiver is wrapped to disassociate exactly once before forwarding
// any completion. When the scope carries a stop token, it is injected
// into the child environment, and a value completion arriving after
// the scope has been stopped is downgraded to stopped.
func Associate[T any](s Sender[T], tok ScopeToken) Sender[T] {
	if tok == nil {
		panic("flux: Associate requires a non-nil token")
	}
	return associateSender[T]{src: s, tok: tok}
}

type associateSender[T any] struct {
	src Sender[T]
	tok ScopeToken
}

func (s associateSender[T]) Connect(r Receiver[T]) Operation {
	if !s.tok.TryAssociate() {
		return OperationFunc(r.SetStopped)
	}
	ar := &associatedReceiver[T]{next: r, tok: s.tok}
	scopeStop := s.tok.StopToken()
	if scopeStop.StopPossible() {
		ar.scopeStop = scopeStop
		ar.env = WithStopToken(r.Env(), scopeStop)
	} else {
		ar.env = r.Env()
	}
	return s.src.Connect(ar)
}

func (s associateSender[T]) Signatures(env Env) Signatures {
	sig := SignaturesOf(s.src, env)
	sig.Stopped = true // closed scope or scope stop
	return sig
}

type associatedReceiver[T any] struct {
	next      Receiver[T]
	tok       ScopeToken
	scopeStop StopToken // nil when the scope cannot stop
	env       Env
	released  atomic.Bool
}

// release disassociates exactly once, before any completion is
// forwarded.
func (r *associatedReceiver[T]) release() {
	if r.released.CompareAndSwap(false, true) {
		r.tok.Disassociate()
	}
}

func (r *associatedReceiver[T]) SetValue(v T) {
	r.release()
	if r.scopeStop != nil && r.scopeStop.StopRequested() {
		r.next.SetStopped()
		return
	}
	r.next.SetValue(v)
}

func (r *associatedReceiver[T]) SetError(err error) {
	r.release()
	r.next.SetError(err)
}

func (r *associatedReceiver[T]) SetStopped() {
	r.release()
	r.next.SetStopped()
}

func (r *associatedReceiver[T]) Env() Env { return r.env }
