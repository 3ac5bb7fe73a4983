package flux

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Policy is the execution-policy tag for bulk iteration.
type Policy uint8

const (
	// Seq requires sequential execution in iteration order.
	Seq Policy = iota

	// Unseq permits vectorisation within one agent.
	Unseq

	// Par permits concurrent agents.
	Par

	// ParUnseq permits both concurrency and vectorisation.
	ParUnseq
)

func (p Policy) parallel() bool { return p == Par || p == ParUnseq }

func (p Policy) String() string {
	switch p {
	case Seq:
		return "seq"
	case Unseq:
		return "unseq"
	case Par:
		return "par"
	case ParUnseq:
		return "par_unseq"
	default:
		return "unknown"
	}
}

// BulkChunked invokes fn over a partition of [0, shape) into
// contiguous chunks when s value-completes, then forwards the original
// value unchanged. The chunk count is implementation-defined but at
// least 1 when shape > 0; parallel policies run one agent per chunk.
// The first error (returned or panicked) wins and is delivered on the
// error channel. BulkChunked panics if shape is negative or fn is nil.
func BulkChunked[T any](s Sender[T], pol Policy, shape int, fn func(begin, end int, v T) error) Sender[T] {
	if shape < 0 {
		panic("flux: BulkChunked requires shape >= 0")
	}
	if fn == nil {
		panic("flux: BulkChunked requires a non-nil function")
	}
	return bulkSender[T]{src: s, pol: pol, shape: shape, fn: fn}
}

// BulkUnchunked invokes fn once per index in [0, shape), one logical
// agent per iteration, then forwards the original value. Seq runs in
// index order; Par and ParUnseq permit concurrent agents.
func BulkUnchunked[T any](s Sender[T], pol Policy, shape int, fn func(i int, v T) error) Sender[T] {
	if shape < 0 {
		panic("flux: BulkUnchunked requires shape >= 0")
	}
	if fn == nil {
		panic("flux: BulkUnchunked requires a non-nil function")
	}
	return bulkSender[T]{src: s, pol: pol, shape: shape, unchunked: true,
		fn: func(begin, end int, v T) error {
			for i := begin; i < end; i++ {
				if err := fn(i, v); err != nil {
					return err
				}
			}
			return nil
		}}
}

// Bulk is BulkUnchunked expressed through BulkChunked: a
// single-iteration loop body over implementation-chosen chunks.
// Implementations may fuse iterations within a chunk.
func Bulk[T any](s Sender[T], pol Policy, shape int, fn func(i int, v T) error) Sender[T] {
	if shape < 0 {
		panic("flux: Bulk requires shape >= 0")
	}
	if fn == nil {
		panic("flux: Bulk requires a non-nil function")
	}
	return BulkChunked(s, pol, shape, func(begin, end int, v T) error {
		for i := begin; i < end; i++ {
			if err := fn(i, v); err != nil {
				return err
			}
		}
		return nil
	})
}

type bulkSender[T any] struct {
	src       Sender[T]
	pol       Policy
	shape     int
	unchunked bool
	fn        func(begin, end int, v T) error
}

func (s bulkSender[T]) Connect(r Receiver[T]) Operation {
	return s.src.Connect(bulkReceiver[T]{next: r, s: s})
}

func (s bulkSender[T]) Signatures(env Env) Signatures {
	sig := SignaturesOf(s.src, env)
	sig.Error = true
	return sig
}

type bulkReceiver[T any] struct {
	next Receiver[T]
	s    bulkSender[T]
}

func (r bulkReceiver[T]) SetValue(v T) {
	if err := r.s.run(v); err != nil {
		r.next.SetError(err)
		return
	}
	r.next.SetValue(v)
}

func (r bulkReceiver[T]) SetError(err error) { r.next.SetError(err) }
func (r bulkReceiver[T]) SetStopped()        { r.next.SetStopped() }
func (r bulkReceiver[T]) Env() Env           { return r.next.Env() }

func (s bulkSender[T]) run(v T) error {
	if s.shape == 0 {
		return nil
	}
	if !s.pol.parallel() {
		return runChunk(s.fn, 0, s.shape, v)
	}

	chunks := chunkBounds(s.shape, s.chunkCount())
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, c := range chunks {
		c := c
		g.Go(func() error {
			return runChunk(s.fn, c[0], c[1], v)
		})
	}
	return g.Wait()
}

func (s bulkSender[T]) chunkCount() int {
	n := runtime.GOMAXPROCS(0)
	if s.unchunked {
		// One agent per iteration.
		return s.shape
	}
	if n > s.shape {
		n = s.shape
	}
	return n
}

func runChunk[T any](fn func(int, int, T) error, begin, end int, v T) (err error) {
	defer recoverToError(&err)
	return fn(begin, end, v)
}

// chunkBounds partitions [0, shape) into n contiguous [begin, end)
// ranges, front-loading the remainder.
func chunkBounds(shape, n int) [][2]int {
	if n < 1 {
		n = 1
	}
	if n > shape {
		n = shape
	}
	out := make([][2]int, 0, n)
	base, rem := shape/n, shape%n
	begin := 0
	for i := 0; i < n; i++ {
		size := base
		if i < rem {
			size++
		}
		out = append(out, [2]int{begin, begin + size})
		begin += size
	}
	return out
}
