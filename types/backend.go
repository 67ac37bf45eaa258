// Package types contains shared domain types used across the gpukit platform
package types

import (
	"fmt"

	"github.com/c360/gpukit/errors"
)

// Backend identifies a compute backend that owns a memory pool and executes
// compiled pipelines. Each backend has exactly one logical owner; sharing a
// backend across processes requires external synchronization.
type Backend string

// Backend constants
const (
	// PrimaryGPU is the preferred GPU device
	PrimaryGPU Backend = "primary-gpu"
	// FallbackGPU is a secondary GPU device used when the primary is unavailable
	FallbackGPU Backend = "fallback-gpu"
	// CPU is the software fallback backend
	CPU Backend = "cpu"
)

// Validate ensures the backend identifier is one of the known backends
func (b Backend) Validate() error {
	switch b {
	case PrimaryGPU, FallbackGPU, CPU:
		return nil
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Backend", "Validate",
			fmt.Sprintf("unknown backend: %s", b))
	}
}

// String returns the backend identifier
func (b Backend) String() string {
	return string(b)
}

// Priority orders work in the dispatch queue. Critical work preempts
// everything queued at lower priorities.
type Priority int

// Priority constants, highest first
const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
)

// String returns the priority name
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Validate ensures the priority is within the defined range
func (p Priority) Validate() error {
	if p < PriorityCritical || p > PriorityLow {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Priority", "Validate",
			fmt.Sprintf("priority out of range: %d", p))
	}
	return nil
}
