package shader

import (
	"fmt"
	"hash/fnv"
	"time"

	"github.com/c360/gpukit/errors"
	"github.com/c360/gpukit/types"
)

// Bundle is a shader program source bundle. Where the source text came from
// (disk, network, literal string) is irrelevant here.
type Bundle struct {
	Name       string
	Backend    types.Backend
	EntryPoint string
	SourceCode string
}

// Validate checks the bundle has everything compilation needs.
func (b Bundle) Validate() error {
	if b.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "shader", "Validate", "bundle name is required")
	}
	if err := b.Backend.Validate(); err != nil {
		return err
	}
	if b.EntryPoint == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "shader", "Validate", "entry point is required")
	}
	if b.SourceCode == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "shader", "Validate", "source code is required")
	}
	return nil
}

// SourceHash returns a content hash of the bundle source. Used to detect
// source changes across recompiles, not for security.
func (b Bundle) SourceHash() string {
	h := fnv.New64a()
	h.Write([]byte(b.EntryPoint))
	h.Write([]byte{0})
	h.Write([]byte(b.SourceCode))
	return fmt.Sprintf("%016x", h.Sum64())
}

// PipelineState is the lifecycle state of a pipeline cache entry.
type PipelineState int

// Pipeline states
const (
	StateUncompiled PipelineState = iota
	StateCompiling
	StateCompiled
	StateCompileFailed
)

// String returns the state name
func (s PipelineState) String() string {
	switch s {
	case StateUncompiled:
		return "uncompiled"
	case StateCompiling:
		return "compiling"
	case StateCompiled:
		return "compiled"
	case StateCompileFailed:
		return "compile-failed"
	default:
		return "unknown"
	}
}

// CompiledPipeline is a cached, ready-to-execute pipeline. The Handle is
// owned by the platform that compiled it and must be released through that
// platform, symmetrically with its creation.
type CompiledPipeline struct {
	ID              string
	Name            string
	Backend         types.Backend
	SourceHash      string
	Handle          Handle
	CompilationTime time.Duration
	LastUsedAt      time.Time
}
