package shader

import (
	"context"

	"github.com/c360/gpukit/errors"
	"github.com/c360/gpukit/types"
)

// CPUPlatform is the software fallback backend. It skips source
// translation entirely and binds the bundle entry point straight to a host
// kernel, so it accepts any source text a kernel exists for.
type CPUPlatform struct{}

type cpuPipeline struct {
	entryPoint string
	kernel     kernelFunc
}

// NewCPUPlatform creates the software fallback platform.
func NewCPUPlatform() *CPUPlatform { return &CPUPlatform{} }

// Backend implements Platform.
func (p *CPUPlatform) Backend() types.Backend { return types.CPU }

// Compile implements Platform.
func (p *CPUPlatform) Compile(_ context.Context, bundle Bundle) (Handle, error) {
	kernel, err := lookupKernel(bundle.EntryPoint)
	if err != nil {
		return nil, err
	}
	return &cpuPipeline{entryPoint: bundle.EntryPoint, kernel: kernel}, nil
}

// Dispatch implements Platform.
func (p *CPUPlatform) Dispatch(ctx context.Context, handle Handle, input []float32, dim int) ([]float32, error) {
	pipe, ok := handle.(*cpuPipeline)
	if !ok || pipe.kernel == nil {
		return nil, errors.WrapInvalid(errors.ErrPipelineNotFound, "CPUPlatform", "Dispatch",
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
func (p *CPUPlatform) Release(handle Handle) error {
	if pipe, ok := handle.(*cpuPipeline); ok {
		pipe.kernel = nil
	}
	return nil
}
