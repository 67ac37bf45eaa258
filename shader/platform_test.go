package shader

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gpukit/errors"
	"github.com/c360/gpukit/types"
)

func TestLookupKernelUnknownEntryPoint(t *testing.T) {
	_, err := lookupKernel("raytrace")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCompilationFailed)
}

func TestNormalizeKernel(t *testing.T) {
	out := normalizeKernel([]float32{3, 4, 0, 0}, 2)
	require.Len(t, out, 4)
	assert.InDelta(t, 0.6, out[0], 1e-6)
	assert.InDelta(t, 0.8, out[1], 1e-6)
	// Zero vector passes through.
	assert.Equal(t, float32(0), out[2])
	assert.Equal(t, float32(0), out[3])

	norm := math.Sqrt(float64(out[0]*out[0] + out[1]*out[1]))
	assert.InDelta(t, 1.0, norm, 1e-6)
}

func TestScaleUnitKernel(t *testing.T) {
	out := scaleUnitKernel([]float32{2, 4, 6, 5, 5, 5}, 3)
	require.Len(t, out, 6)
	assert.InDelta(t, 0.0, out[0], 1e-6)
	assert.InDelta(t, 0.5, out[1], 1e-6)
	assert.InDelta(t, 1.0, out[2], 1e-6)
	// Constant vector maps to zeros.
	for _, v := range out[3:] {
		assert.Equal(t, float32(0), v)
	}
}

func TestCPUPlatformCompileAndDispatch(t *testing.T) {
	p := NewCPUPlatform()
	assert.Equal(t, types.CPU, p.Backend())

	handle, err := p.Compile(context.Background(), Bundle{
		Name:       "norm",
		Backend:    types.CPU,
		EntryPoint: "normalize",
		SourceCode: "any",
	})
	require.NoError(t, err)

	out, err := p.Dispatch(context.Background(), handle, []float32{3, 4}, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, out[0], 1e-6)

	require.NoError(t, p.Release(handle))
	_, err = p.Dispatch(context.Background(), handle, []float32{3, 4}, 2)
	assert.Error(t, err)
}

func TestCPUPlatformRejectsUnknownEntryPoint(t *testing.T) {
	p := NewCPUPlatform()
	_, err := p.Compile(context.Background(), Bundle{
		Name:       "x",
		Backend:    types.CPU,
		EntryPoint: "raytrace",
		SourceCode: "any",
	})
	assert.ErrorIs(t, err, errors.ErrCompilationFailed)
}

func TestNagaPlatformRequiresGPUBackend(t *testing.T) {
	_, err := NewNagaPlatform(types.CPU)
	assert.Error(t, err)

	p, err := NewNagaPlatform(types.PrimaryGPU)
	require.NoError(t, err)
	assert.Equal(t, types.PrimaryGPU, p.Backend())
}

func TestNagaPlatformCompilesWGSL(t *testing.T) {
	p, err := NewNagaPlatform(types.PrimaryGPU)
	require.NoError(t, err)

	handle, err := p.Compile(context.Background(), Bundle{
		Name:       "noop",
		Backend:    types.PrimaryGPU,
		EntryPoint: "main",
		SourceCode: "@compute @workgroup_size(1)\nfn main() {\n}\n",
	})
	require.NoError(t, err)

	pipe, ok := handle.(*nagaPipeline)
	require.True(t, ok)
	assert.NotEmpty(t, pipe.spirv)
	// SPIR-V magic number in the first word.
	assert.Equal(t, uint32(0x07230203), pipe.spirv[0])

	out, err := p.Dispatch(context.Background(), handle, []float32{1, 2, 3}, 3)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, out)

	require.NoError(t, p.Release(handle))
}

func TestNagaPlatformRejectsBadSource(t *testing.T) {
	p, err := NewNagaPlatform(types.PrimaryGPU)
	require.NoError(t, err)

	_, err = p.Compile(context.Background(), Bundle{
		Name:       "broken",
		Backend:    types.PrimaryGPU,
		EntryPoint: "main",
		SourceCode: "fn main( {",
	})
	assert.Error(t, err)
}

func TestBundleValidate(t *testing.T) {
	valid := Bundle{Name: "n", Backend: types.CPU, EntryPoint: "main", SourceCode: "src"}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Bundle)
	}{
		{"missing name", func(b *Bundle) { b.Name = "" }},
		{"bad backend", func(b *Bundle) { b.Backend = "tpu" }},
		{"missing entry point", func(b *Bundle) { b.EntryPoint = "" }},
		{"missing source", func(b *Bundle) { b.SourceCode = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := valid
			tt.mutate(&b)
			assert.Error(t, b.Validate())
		})
	}
}

func TestSourceHashChangesWithSource(t *testing.T) {
	a := Bundle{Name: "n", Backend: types.CPU, EntryPoint: "main", SourceCode: "src-a"}
	b := a
	b.SourceCode = "src-b"
	assert.NotEqual(t, a.SourceHash(), b.SourceHash())
	assert.Equal(t, a.SourceHash(), a.SourceHash())
}
