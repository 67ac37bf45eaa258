// Package gpukit provides budget-aware GPU resource management and vector
// batch processing for compute workloads.
//
// # Architecture
//
// Everything hangs off one memory budget. The budget tracker owns a pool
// per backend; every cache, texture bank and pipeline resource allocates
// through it, so pressure in one subsystem is visible to all of them.
//
//	┌──────────────────────── engine ────────────────────────┐
//	│                                                        │
//	│  shader.Manager    vector.Processor   texture.Service  │
//	│  (pipelines,       (quantization,     (LOD banks,      │
//	│   GC, resources)    stability)         bank switches)  │
//	│         │                 │                  │         │
//	│         └────────┬────────┴──────────────────┘         │
//	│                  ▼                                     │
//	│           budget.Tracker  (one pool per backend)       │
//	│                                                        │
//	│  transform.Lib   pkg/cache.MultiTierCache   pkg/worker │
//	└────────────────────────────────────────────────────────┘
//
// # Packages
//
// Domain:
//   - budget: per-backend memory budget accounting
//   - shader: pipeline compilation cache and resource lifecycle
//   - vector: quantized batch processing with stability tracking
//   - texture: banked texture streaming with LOD selection
//   - transform: memoized 2D transform generation
//
// Infrastructure:
//   - engine: dependency-injected composition root
//   - config: layered file/env configuration
//   - pkg/cache: generic hot/warm/cold tiered cache
//   - pkg/worker: priority dispatch pool
//   - pkg/buffer: bounded ring buffer
//   - pkg/retry: backoff retry helpers
//   - telemetry: best-effort event sinks (slog, NATS, ring)
//   - metric: Prometheus registry and core metrics
//   - errors: classified error wrapping
//   - health: subsystem health aggregation
//   - natsclient: managed NATS connection
//   - types: shared backend and priority types
//
// # Usage
//
// Construct an engine per process or test; nothing is global:
//
//	cfg, err := config.Load("gpukit.json")
//	eng, err := engine.New(cfg, engine.WithLogger(logger))
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(30 * time.Second)
//
//	out, err := eng.ProcessBatch(ctx, vectors)
//
// The cmd/gpukitd binary wraps this lifecycle with metrics, health and
// stats endpoints.
package gpukit
