package shader

import (
	"context"
	"fmt"

	"github.com/gogpu/naga"

	"github.com/c360/gpukit/errors"
	"github.com/c360/gpukit/types"
)

// NagaPlatform compiles WGSL bundles to SPIR-V for a GPU backend. The
// compiled module is retained on the handle for device submission; batch
// dispatch runs the bound host kernel.
type NagaPlatform struct {
	backend types.Backend
}

// nagaPipeline is the compiled handle: the SPIR-V module plus the host
// kernel bound to the bundle's entry point.
type nagaPipeline struct {
	spirv      []uint32
	entryPoint string
	kernel     kernelFunc
}

// NewNagaPlatform creates a platform for the given GPU backend.
func NewNagaPlatform(backend types.Backend) (*NagaPlatform, error) {
	if backend != types.PrimaryGPU && backend != types.FallbackGPU {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "NagaPlatform", "New",
			fmt.Sprintf("backend %s is not a GPU backend", backend))
	}
	return &NagaPlatform{backend: backend}, nil
}

// Backend implements Platform.
func (p *NagaPlatform) Backend() types.Backend { return p.backend }

// Compile implements Platform. WGSL source is compiled to SPIR-V; a
// rejected source surfaces the compiler diagnostic verbatim.
func (p *NagaPlatform) Compile(ctx context.Context, bundle Bundle) (Handle, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	spirvBytes, err := naga.Compile(bundle.SourceCode)
	if err != nil {
		return nil, fmt.Errorf("wgsl compilation: %w", err)
	}

	kernel, err := lookupKernel(bundle.EntryPoint)
	if err != nil {
		return nil, err
	}

	// SPIR-V is little-endian 32-bit words.
	spirv := make([]uint32, len(spirvBytes)/4)
	for i := range spirv {
		spirv[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}

	return &nagaPipeline{
		spirv:      spirv,
		entryPoint: bundle.EntryPoint,
		kernel:     kernel,
	}, nil
}

// Dispatch implements Platform.
func (p *NagaPlatform) Dispatch(ctx context.Context, handle Handle, input []float32, dim int) ([]float32, error) {
	pipe, ok := handle.(*nagaPipeline)
	if !ok || pipe.kernel == nil {
		return nil, errors.WrapInvalid(errors.ErrPipelineNotFound, "NagaPlatform", "Dispatch",
			"handle was not compiled by this platform")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return pipe.kernel(input, dim), nil
}

// Release implements Platform.
func (p *NagaPlatform) Release(handle Handle) error {
	pipe, ok := handle.(*nagaPipeline)
	if !ok {
		return errors.WrapInvalid(errors.ErrInvalidData, "NagaPlatform", "Release",
			"handle was not compiled by this platform")
	}
	pipe.spirv = nil
	pipe.kernel = nil
	return nil
}
