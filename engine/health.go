package engine

import (
	"fmt"

	"github.com/c360/gpukit/health"
	"github.com/c360/gpukit/shader"
	"github.com/c360/gpukit/vector"
)

// Health reports the engine's aggregate health. The engine is degraded when
// it is still serving but under memory pressure or reduced precision, and
// unhealthy when the configured pipeline cannot run at all.
func (e *Engine) Health() health.Status {
	subs := []health.Status{
		e.budgetHealth(),
		e.shaderHealth(),
		e.vectorHealth(),
	}
	return health.Aggregate("engine", subs)
}

func (e *Engine) budgetHealth() health.Status {
	pressure := e.tracker.MemoryPressure(e.cfg.PrimaryBackend())
	if pressure > 0.9 {
		return health.NewDegraded("budget",
			fmt.Sprintf("memory pressure %.2f on %s", pressure, e.cfg.Backend))
	}
	return health.NewHealthy("budget",
		fmt.Sprintf("memory pressure %.2f on %s", pressure, e.cfg.Backend))
}

func (e *Engine) shaderHealth() health.Status {
	state := e.shaders.State(e.cfg.Vector.PipelineName, e.cfg.PrimaryBackend())
	switch state {
	case shader.StateCompiled:
		return health.NewHealthy("shader",
			fmt.Sprintf("pipeline %s compiled", e.cfg.Vector.PipelineName))
	case shader.StateCompileFailed:
		return health.NewUnhealthy("shader",
			fmt.Sprintf("pipeline %s failed to compile", e.cfg.Vector.PipelineName))
	default:
		// Uncompiled or still compiling: not serving batches yet.
		return health.NewDegraded("shader",
			fmt.Sprintf("pipeline %s is %s", e.cfg.Vector.PipelineName, state))
	}
}

func (e *Engine) vectorHealth() health.Status {
	snapshot := e.vectors.Stability()
	if snapshot.CurrentLevel == vector.Degraded {
		return health.NewDegraded("vector",
			fmt.Sprintf("stability degraded after %d consecutive failures",
				snapshot.ConsecutiveFailures))
	}
	return health.NewHealthy("vector",
		fmt.Sprintf("stability %s, %d stable operations",
			snapshot.CurrentLevel, snapshot.StableOperations))
}
