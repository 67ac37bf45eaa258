package engine

import (
	"fmt"

	"github.com/c360/gpukit/shader"
	"github.com/c360/gpukit/types"
)

// Built-in WGSL sources for the stock pipelines. The host-side kernels do
// the arithmetic during dispatch; these sources exist so the GPU platforms
// have a real module to compile and validate.
const (
	identitySource = `@group(0) @binding(0) var<storage, read> input: array<f32>;
@group(0) @binding(1) var<storage, read_write> output: array<f32>;

@compute @workgroup_size(64)
fn identity(@builtin(global_invocation_id) gid: vec3<u32>) {
    let i = gid.x;
    if (i < arrayLength(&input)) {
        output[i] = input[i];
    }
}
`

	normalizeSource = `@group(0) @binding(0) var<storage, read> input: array<f32>;
@group(0) @binding(1) var<storage, read_write> output: array<f32>;
@group(0) @binding(2) var<uniform> dim: u32;

@compute @workgroup_size(64)
fn normalize_l2(@builtin(global_invocation_id) gid: vec3<u32>) {
    let base = gid.x * dim;
    if (base >= arrayLength(&input)) {
        return;
    }
    var sum = 0.0;
    for (var i = 0u; i < dim; i = i + 1u) {
        let v = input[base + i];
        sum = sum + v * v;
    }
    let norm = sqrt(sum);
    for (var i = 0u; i < dim; i = i + 1u) {
        if (norm > 0.0) {
            output[base + i] = input[base + i] / norm;
        } else {
            output[base + i] = input[base + i];
        }
    }
}
`

	scaleUnitSource = `@group(0) @binding(0) var<storage, read> input: array<f32>;
@group(0) @binding(1) var<storage, read_write> output: array<f32>;
@group(0) @binding(2) var<uniform> dim: u32;

@compute @workgroup_size(64)
fn scale_unit(@builtin(global_invocation_id) gid: vec3<u32>) {
    let base = gid.x * dim;
    if (base >= arrayLength(&input)) {
        return;
    }
    var lo = input[base];
    var hi = input[base];
    for (var i = 1u; i < dim; i = i + 1u) {
        lo = min(lo, input[base + i]);
        hi = max(hi, input[base + i]);
    }
    let span = hi - lo;
    for (var i = 0u; i < dim; i = i + 1u) {
        if (span > 0.0) {
            output[base + i] = (input[base + i] - lo) / span;
        } else {
            output[base + i] = 0.0;
        }
    }
}
`
)

// builtinBundle returns the bundle for a stock pipeline name. Unknown names
// fall through with the name as entry point, so the compile error names the
// missing kernel rather than a missing bundle.
func builtinBundle(name string, backend types.Backend) shader.Bundle {
	entry := name
	source := fmt.Sprintf("@compute @workgroup_size(64)\nfn %s() {\n}\n", name)
	switch name {
	case "identity", "main":
		entry = "identity"
		source = identitySource
	case "normalize", "normalize_l2":
		entry = "normalize_l2"
		source = normalizeSource
	case "scale_unit":
		entry = "scale_unit"
		source = scaleUnitSource
	}
	return shader.Bundle{
		Name:       name,
		Backend:    backend,
		EntryPoint: entry,
		SourceCode: source,
	}
}
