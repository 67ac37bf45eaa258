package shader

import (
	"fmt"
	"math"

	"github.com/c360/gpukit/errors"
)

// kernelFunc is a host-side vector kernel operating on a packed batch of
// dim-length vectors.
type kernelFunc func(input []float32, dim int) []float32

// lookupKernel maps a shader entry point to its host kernel.
func lookupKernel(entryPoint string) (kernelFunc, error) {
	switch entryPoint {
	case "main", "identity":
		return identityKernel, nil
	case "normalize", "normalize_l2":
		return normalizeKernel, nil
	case "scale_unit":
		return scaleUnitKernel, nil
	default:
		return nil, errors.WrapInvalid(errors.ErrCompilationFailed, "shader", "lookupKernel",
			fmt.Sprintf("no kernel bound to entry point %q", entryPoint))
	}
}

func identityKernel(input []float32, _ int) []float32 {
	out := make([]float32, len(input))
	copy(out, input)
	return out
}

// normalizeKernel L2-normalizes each vector in the batch. Zero vectors are
// passed through unchanged.
func normalizeKernel(input []float32, dim int) []float32 {
	out := make([]float32, len(input))
	for off := 0; off < len(input); off += dim {
		var sum float64
		for i := 0; i < dim; i++ {
			v := float64(input[off+i])
			sum += v * v
		}
		norm := math.Sqrt(sum)
		if norm == 0 {
			copy(out[off:off+dim], input[off:off+dim])
			continue
		}
		for i := 0; i < dim; i++ {
			out[off+i] = float32(float64(input[off+i]) / norm)
		}
	}
	return out
}

// scaleUnitKernel min-max scales each vector into [0,1]. Constant vectors
// map to all zeros.
func scaleUnitKernel(input []float32, dim int) []float32 {
	out := make([]float32, len(input))
	for off := 0; off < len(input); off += dim {
		lo, hi := input[off], input[off]
		for i := 1; i < dim; i++ {
			v := input[off+i]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		span := hi - lo
		for i := 0; i < dim; i++ {
			if span == 0 {
				out[off+i] = 0
				continue
			}
			out[off+i] = (input[off+i] - lo) / span
		}
	}
	return out
}
