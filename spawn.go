package flux

import (
	"fmt"
	"sync/atomic"
)

// spawnErrorSink is implemented by tokens that intercept errors from
// spawned work instead of letting Spawn terminate the process.
// LetAsyncScope's token records the first error and requests the
// scope's stop through this hook.
type spawnErrorSink interface {
	interceptSpawnError(err error)
}

// Spawn associates s with tok, connects it to a fire-and-forget
// receiver, and starts it. Value and stopped completions are
// discarded. An error completion is unobservable and terminates the
// process, unless the token intercepts spawn errors (as the token
// passed to a [LetAsyncScope] body does). If the scope is already
// closed the work never runs.
func Spawn[T any](tok ScopeToken, s Sender[T]) {
	SpawnWith[T](EmptyEnv{}, tok, s)
}

// SpawnWith is Spawn with the fire-and-forget receiver's environment
// set to env.
func SpawnWith[T any](env Env, tok ScopeToken, s Sender[T]) {
	op := Associate(s, tok).Connect(spawnReceiver[T]{env: env, tok: tok})
	op.Start()
}

type spawnReceiver[T any] struct {
	env Env
	tok ScopeToken
}

func (spawnReceiver[T]) SetValue(T)  {}
func (spawnReceiver[T]) SetStopped() {}

func (r spawnReceiver[T]) SetError(err error) {
	if sink, ok := r.tok.(spawnErrorSink); ok {
		sink.interceptSpawnError(err)
		return
	}
	panic(fmt.Sprintf("flux: unhandled error in spawned operation: %v", err))
}

func (r spawnReceiver[T]) Env() Env {
	if r.env == nil {
		return EmptyEnv{}
	}
	return r.env
}

// SpawnFuture starts s detached against tok, like [Spawn], but routes
// the completion into a shared state referenced by the returned future
// sender. Starting the future sender multiplexes on the state's
// current contents: a stored completion is delivered as-is; if the
// spawned work has not completed yet, the future completes with
// stopped. The future may be connected any number of times.
func SpawnFuture[T any](tok ScopeToken, s Sender[T]) Sender[T] {
	return SpawnFutureWith(EmptyEnv{}, tok, s)
}

// SpawnFutureWith is SpawnFuture with the spawned receiver's
// environment set to env.
func SpawnFutureWith[T any](env Env, tok ScopeToken, s Sender[T]) Sender[T] {
	st := &futureState[T]{}
	op := Associate(s, tok).Connect(futureReceiver[T]{st: st, env: env})
	op.Start()
	return futureSender[T]{st: st}
}

type futureState[T any] struct {
	completed atomic.Bool
	result    Completion[T] // written before completed is published
}

type futureReceiver[T any] struct {
	st  *futureState[T]
	env Env
}

func (r futureReceiver[T]) SetValue(v T) {
	r.st.result = ValueCompletion(v)
	r.st.completed.Store(true)
}

func (r futureReceiver[T]) SetError(err error) {
	r.st.result = ErrorCompletion[T](err)
	r.st.completed.Store(true)
}

func (r futureReceiver[T]) SetStopped() {
	r.st.result = StoppedCompletion[T]()
	r.st.completed.Store(true)
}

func (r futureReceiver[T]) Env() Env {
	if r.env == nil {
		return EmptyEnv{}
	}
	return r.env
}

type futureSender[T any] struct {
	st *futureState[T]
}

func (s futureSender[T]) Connect(r Receiver[T]) Operation {
	return OperationFunc(func() {
		if s.st.completed.Load() {
			s.st.result.Deliver(r)
			return
		}
		r.SetStopped()
	})
}
