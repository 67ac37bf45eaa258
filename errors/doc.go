// Package errors provides standardized error handling patterns for gpukit components.
//
// # Overview
//
// The errors package implements a three-class error classification system for
// resource-managed GPU processing: Transient (temporary, retryable after
// eviction or backoff), Invalid (bad input or caller bug, non-retryable), and
// Fatal (unrecoverable, stop processing).
//
// The classification drives the recovery discipline used throughout gpukit:
// budget and timeout errors are recovered locally once (single retry after
// eviction/backoff) before surfacing; compilation and dimension errors
// propagate immediately with full diagnostic text.
//
// # Error Classification
//
//   - Transient: budget pressure, execution timeouts, tier unavailability (retry once)
//   - Invalid: rejected shader source, dimension mismatches, bad configuration (do not retry)
//   - Fatal: backend unavailable, accounting violations, resource exhaustion (stop)
//
// The system integrates with Go's standard error handling, supporting
// errors.Is(), errors.As(), and error wrapping chains.
//
// # Quick Start
//
// Use standard error variables for known conditions:
//
//	if allocated+size > budget {
//	    return errors.ErrBudgetExceeded
//	}
//
// Wrap errors with component context:
//
//	if err := pool.Free(size); err != nil {
//	    return errors.WrapFatal(err, "PipelineCache", "DestroyBuffer", "budget release")
//	}
//
// Check classification for retry logic:
//
//	if errors.IsTransient(err) {
//	    cache.GarbageCollect(backend)
//	    return tryAgainOnce()
//	}
package errors
