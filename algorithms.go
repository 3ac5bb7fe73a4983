package flux

// ParallelFor executes fn for each index in [0, n) on sch and waits
// for completion. The first error wins and cancels nothing that has
// already started; remaining iterations run to completion. A nil
// return means every iteration succeeded.
//
//	err := flux.ParallelFor(pool.Scheduler(), len(urls), func(i int) error {
//	    return fetch(urls[i])
//	})
func ParallelFor(sch Scheduler, n int, fn func(i int) error) error {
	if fn == nil {
		panic("flux: ParallelFor requires a non-nil function")
	}
	s := BulkUnchunked(Schedule(sch), Par, n, func(i int, _ Unit) error {
		return fn(i)
	})
	_, _, err := SyncWait(s)
	return err
}

// ParallelTransform applies fn to every item concurrently on sch and
// collects the results in input order. On error it returns nil and
// the first error observed.
//
//	prices, err := flux.ParallelTransform(pool.Scheduler(), products, fetchPrice)
func ParallelTransform[T, U any](sch Scheduler, items []T, fn func(T) (U, error)) ([]U, error) {
	if fn == nil {
		panic("flux: ParallelTransform requires a non-nil function")
	}
	results := make([]U, len(items))
	s := BulkUnchunked(Schedule(sch), Par, len(items), func(i int, _ Unit) error {
		r, err := fn(items[i])
		if err != nil {
			return err
		}
		results[i] = r // safe: each agent writes a unique index
		return nil
	})
	if _, _, err := SyncWait(s); err != nil {
		return nil, err
	}
	return results, nil
}

// Race is [WhenAny] under the name the rest of the API family uses for
// first-wins composition: the first child to complete on any channel
// wins and the peers are actively cancelled.
func Race[T any](senders ...Sender[T]) Sender[T] {
	return WhenAny(senders...)
}
