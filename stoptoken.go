package flux

import (
	"context"
	"sync"
	"sync/atomic"
)

// StopToken observes cooperative cancellation. A stop request does not
// preempt work; callees query the token or register callbacks.
type StopToken interface {
	// StopRequested reports whether stop has been requested.
	StopRequested() bool

	// StopPossible reports whether a stop request can ever arrive.
	StopPossible() bool

	// OnStop registers fn to be invoked synchronously from the
	// thread calling RequestStop, or immediately when stop was
	// already requested at registration time. The returned cancel
	// unregisters fn; it is a no-op once fn has been detached for
	// firing.
	OnStop(fn func()) (cancel func())
}

// NeverStopToken is the token of an operation that can never be
// stopped. It is the default for environments with no stop binding.
type NeverStopToken struct{}

func (NeverStopToken) StopRequested() bool           { return false }
func (NeverStopToken) StopPossible() bool            { return false }
func (NeverStopToken) OnStop(func()) (cancel func()) { return func() {} }

// stopNode is one registered callback in an intrusive doubly-linked
// list. Unlink is O(1).
type stopNode struct {
	fn         func()
	prev, next *stopNode
	linked     bool
}

// InplaceStopSource is a non-allocating stop source with an intrusive
// callback list. The zero value is ready to use. It must not be
// copied after first use.
type InplaceStopSource struct {
	mu      sync.Mutex
	head    *stopNode
	stopped atomic.Bool
}

// RequestStop requests stop and fires registered callbacks
// synchronously on the calling goroutine. It reports whether this
// call performed the transition.
func (s *InplaceStopSource) RequestStop() bool {
	if !s.stopped.CompareAndSwap(false, true) {
		return false
	}
	for {
		s.mu.Lock()
		n := s.head
		if n == nil {
			s.mu.Unlock()
			return true
		}
		s.detach(n)
		s.mu.Unlock()
		n.fn()
	}
}

// StopRequested reports whether stop has been requested.
func (s *InplaceStopSource) StopRequested() bool {
	return s.stopped.Load()
}

// Token returns a token observing this source. The source must
// outlive every token and callback derived from it.
func (s *InplaceStopSource) Token() StopToken {
	return inplaceToken{src: s}
}

func (s *InplaceStopSource) detach(n *stopNode) {
	if !n.linked {
		return
	}
	n.linked = false
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		s.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	n.prev, n.next = nil, nil
}

func (s *InplaceStopSource) register(fn func()) func() {
	s.mu.Lock()
	if s.stopped.Load() {
		s.mu.Unlock()
		fn()
		return func() {}
	}
	n := &stopNode{fn: fn, next: s.head, linked: true}
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		s.detach(n)
		s.mu.Unlock()
	}
}

type inplaceToken struct {
	src *InplaceStopSource
}

func (t inplaceToken) StopRequested() bool              { return t.src.StopRequested() }
func (t inplaceToken) StopPossible() bool               { return true }
func (t inplaceToken) OnStop(fn func()) (cancel func()) { return t.src.register(fn) }

// StopSource is the shared-state stop source. Copies of a StopSource
// and the tokens it hands out all refer to the same state.
type StopSource struct {
	st *InplaceStopSource
}

// NewStopSource allocates a fresh stop state.
func NewStopSource() StopSource {
	return StopSource{st: &InplaceStopSource{}}
}

// RequestStop requests stop; see [InplaceStopSource.RequestStop].
func (s StopSource) RequestStop() bool { return s.st.RequestStop() }

// StopRequested reports whether stop has been requested.
func (s StopSource) StopRequested() bool { return s.st.StopRequested() }

// Token returns a token observing this source.
func (s StopSource) Token() StopToken { return s.st.Token() }

// ctxToken adapts a context.Context into a StopToken.
type ctxToken struct {
	ctx context.Context
}

func (t ctxToken) StopRequested() bool { return t.ctx.Err() != nil }
func (t ctxToken) StopPossible() bool  { return t.ctx.Done() != nil }

func (t ctxToken) OnStop(fn func()) (cancel func()) {
	stop := context.AfterFunc(t.ctx, fn)
	return func() { stop() }
}

// TokenFromContext adapts ctx into a [StopToken]. Callbacks fire on
// the goroutine that observes the context's cancellation.
func TokenFromContext(ctx context.Context) StopToken {
	return ctxToken{ctx: ctx}
}

// ContextWithToken derives a context that is cancelled when tok
// requests stop. The returned cancel releases the registration and
// the context's resources.
func ContextWithToken(parent context.Context, tok StopToken) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	unregister := tok.OnStop(func() { cancel() })
	return ctx, func() {
		unregister()
		cancel()
	}
}
