package sched

import "github.com/baxromumarov/flux"

// Inline is the scheduler that runs work immediately on the calling
// goroutine: its scheduling sender completes synchronously inside
// Start. Forward progress is weakly parallel. The zero value is ready
// to use, and all Inline values compare equal.
type Inline struct{}

// Schedule returns a sender completing immediately on the caller.
func (Inline) Schedule() flux.Sender[flux.Unit] {
	return inlineSender{}
}

// ForwardProgress reports the weakly-parallel guarantee.
func (Inline) ForwardProgress() flux.ForwardProgress {
	return flux.ProgressWeaklyParallel
}

type inlineSender struct{}

func (inlineSender) Connect(r flux.Receiver[flux.Unit]) flux.Operation {
	return flux.OperationFunc(func() { r.SetValue(flux.Unit{}) })
}

func (inlineSender) Signatures(flux.Env) flux.Signatures {
	return flux.Signatures{Value: true}
}
