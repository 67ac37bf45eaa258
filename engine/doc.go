// Package engine composes the resource subsystems into one process-local
// runtime.
//
// # Overview
//
// An Engine owns one budget.Tracker and builds every other subsystem around
// it: the shader pipeline manager, the vector batch processor, the texture
// streaming service, the transform cache, the optional multi-tier result
// cache and the priority dispatch pool. Nothing is global, so a test can
// construct as many engines as it needs with independent budgets and
// metrics.
//
// # Lifecycle
//
//	cfg, err := config.Load(path)
//	eng, err := engine.New(cfg, engine.WithLogger(logger))
//	err = eng.Start(ctx)   // starts the pool, compiles the pipeline
//	defer eng.Stop(5 * time.Second)
//
// Start compiles the configured pipeline up front because execution never
// compiles on demand; a pipeline that cannot compile fails Start rather
// than the first batch.
//
// # Batch paths
//
// ProcessBatch is the synchronous path, with an optional result cache keyed
// by the exact batch contents. SubmitBatch queues work on the priority
// dispatch pool for asynchronous processing.
package engine
