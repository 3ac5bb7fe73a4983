// Package sched provides the execution contexts for flux sender
// pipelines: an inline scheduler, a single-threaded cooperative run
// loop, a fixed thread pool, and a work-stealing scheduler modelled on
// the Go runtime's G/P/M design.
//
// Every scheduler hands out a small comparable handle implementing
// [github.com/baxromumarov/flux.Scheduler]. RunLoop, Pool, and
// WorkStealing additionally implement flux.TryScheduler: their
// TrySchedule senders never block on submission and complete with
// flux.ErrWouldBlock when the non-blocking queue is saturated.
package sched
