// Package flux provides a structured asynchronous execution framework
// built on a sender/receiver pipeline model.
//
// A [Sender] is a lazy description of asynchronous work. Connecting it
// to a [Receiver] produces an [Operation]; starting the operation
// eventually delivers exactly one completion on one of three channels:
// value, error, or stopped. Pipelines are built by composing adaptors
// over senders and are driven by a consumer such as [SyncWait] or
// [StartDetached].
//
//	v, ok, err := flux.SyncWait(
//	    flux.Then(flux.Just(21), func(x int) (int, error) {
//	        return x * 2, nil
//	    }))
//	// v == 42, ok == true, err == nil
//
// # Factories
//
//   - [Just], [JustErr], [JustStopped]: immediate completions.
//   - [JustFunc]: defer a computation to start time.
//   - [Schedule], [TrySchedule]: hop onto a [Scheduler]'s context.
//
// # Adaptors
//
//   - [Then]: transform the value channel.
//   - [UponError], [UponStopped]: convert error/stopped into values.
//   - [LetValue], [LetError], [LetStopped]: continue with a new sender
//     produced from the completion.
//   - [Bulk], [BulkChunked], [BulkUnchunked]: policy-aware iteration.
//   - [Transfer]: move value completions onto another scheduler.
//   - [WhenAll]: aggregate all children in declaration order.
//   - [WhenAny]: first completion wins, peers are actively cancelled.
//   - [Retry], [RetryN], [RetryIf], [RetryWithBackoff]: re-run a
//     sender on error.
//
// # Schedulers
//
// Execution contexts live in the sched subpackage: an inline
// scheduler, a single-threaded run loop, a fixed thread pool, and a
// work-stealing scheduler modelled on Go's runtime. Schedulers that
// implement [TryScheduler] additionally offer non-blocking submission
// whose sender completes with [ErrWouldBlock] instead of ever
// blocking the caller.
//
// # Structured concurrency
//
// [CountingScope] accounts in-flight work and joins it
// deterministically. [Spawn] and [SpawnFuture] launch senders against
// a scope token; [LetAsyncScope] ties a dynamic group of spawns to a
// pipeline stage, surfacing the first error after the scope has
// joined. Cancellation is cooperative throughout, carried by
// [StopToken] values threaded through receiver environments.
package flux
