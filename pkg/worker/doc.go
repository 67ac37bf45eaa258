// Package worker provides a generic priority worker pool.
//
// The pool drains four queues in strict priority order (critical, high,
// medium, low): a higher-priority queue is always emptied before any item
// from a lower one is picked up. Each priority has its own bounded queue;
// submission is non-blocking and returns ErrQueueFull when the target
// queue is at capacity.
//
// # Basic Usage
//
//	pool := worker.NewPool(4, 256, func(ctx context.Context, job CompileJob) error {
//		return compile(ctx, job)
//	})
//	if err := pool.Start(ctx); err != nil {
//		return err
//	}
//	defer pool.Stop(5 * time.Second)
//
//	// Fire and forget at low priority.
//	if err := pool.Submit(job, types.PriorityLow); err != nil {
//		log.Warn("job dropped", "error", err)
//	}
//
//	// Block until a critical job completes.
//	if err := pool.SubmitWait(ctx, job, types.PriorityCritical); err != nil {
//		return err
//	}
//
// # Metrics
//
// With a metric.MetricsRegistry supplied via WithMetricsRegistry the pool
// exports per-priority queue depth and submission counters plus processing
// duration histograms. Statistics are always tracked internally and
// available from Stats() regardless of metrics configuration.
//
// # Shutdown
//
// Stop waits up to the given timeout for in-flight work to finish and
// returns ErrStopTimeout if workers are still busy. Queued but unprocessed
// items are abandoned; callers blocked in SubmitWait observe their context
// cancellation.
package worker
