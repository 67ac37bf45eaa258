// Package shader compiles and caches compute pipelines and tracks backend
// resources against a shared memory budget.
//
// The Manager keys compiled pipelines by (name, backend) and guarantees at
// most one compilation in flight per key: concurrent callers wait on the
// in-flight compile rather than duplicating it. A compile failure is
// sticky; the stored CompilationError is returned until Invalidate clears
// the slot. Execution never compiles on demand.
//
// Resource creation goes through budget.Tracker. When an allocation hits
// the budget, the manager garbage collects that backend's resources unused
// past the configured age and retries exactly once before surfacing
// BudgetExceeded.
//
// Two platforms ship with the package: NagaPlatform compiles WGSL to
// SPIR-V for GPU backends, and CPUPlatform is the software fallback.
package shader
