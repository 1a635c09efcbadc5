// Package worker provides a bounded goroutine pool for concurrent job execution.
//
// The Pool owns a fixed number of long-lived worker goroutines that consume
// jobs from a shared FIFO queue. Claiming a job from the queue is mutually
// exclusive across workers, but the exclusive section ends before the job
// runs, so a slow job occupies only its own worker.
//
// # Basic Usage
//
//	pool, err := worker.NewPool(4) // 4 workers, started immediately
//	if err != nil {
//	    return err // worker.ErrInvalidSize for size < 1
//	}
//
//	for i := 0; i < 100; i++ {
//	    if err := pool.Submit(func() {
//	        // do work
//	    }); err != nil {
//	        return err // worker.ErrQueueClosed after shutdown began
//	    }
//	}
//
//	// closes submission, runs every queued job, joins workers in id order
//	if err := pool.Shutdown(); err != nil {
//	    return err
//	}
//
// # Configuration
//
// Use NewPoolWithConfig for custom settings:
//
//	pool, err := worker.NewPoolWithConfig(worker.PoolConfig{
//	    NumWorkers:    8,
//	    QueueCapacity: 256,              // 0 = unbounded (default)
//	    Mode:          worker.ModePool,  // or ModeInline, ModeSpawn
//	    Bus:           bus,              // lifecycle events, optional
//	    Metrics:       collector,        // Prometheus collector, optional
//	})
//
// The queue is unbounded by default: submitting faster than the workers can
// drain grows it without limit. Set QueueCapacity to make Submit fail fast
// with ErrQueueFull, or use SubmitWait to block until there is room.
//
// # Execution Modes
//
//   - ModePool: N worker goroutines share the queue.
//   - ModeInline: no workers; Submit runs the job in the caller, one at a time.
//   - ModeSpawn: one goroutine per job, unbounded concurrency.
//
// All modes share the Submit / Shutdown contract.
//
// # Failure Containment
//
// A panic inside a job (or a job calling runtime.Goexit) is recovered at the
// worker boundary, logged, published as a job_failed event and counted. The
// worker keeps serving, so the pool never loses capacity to a bad job.
//
// # Graceful Shutdown
//
// Shutdown closes the producer side exactly once, waits for every job queued
// before the close, and joins workers in ascending id order. Later calls are
// no-ops. ShutdownContext bounds the wait and reports unjoined workers in a
// *ShutdownError. Claimed jobs are never cancelled.
package worker
