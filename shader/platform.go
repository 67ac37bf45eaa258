package shader

import (
	"context"

	"github.com/c360/gpukit/types"
)

// Handle is an opaque compiled-pipeline handle owned by a Platform.
type Handle interface{}

// Platform is a backend-specific compiler and executor. One Platform owns
// one backend; the cache never shares a handle across platforms.
type Platform interface {
	// Backend reports which backend this platform drives.
	Backend() types.Backend

	// Compile translates a source bundle into an executable handle.
	// A rejected source returns an error carrying the backend diagnostic.
	Compile(ctx context.Context, bundle Bundle) (Handle, error)

	// Dispatch executes a compiled pipeline over a packed batch of
	// dim-length vectors, returning output with identical layout. Dispatch
	// must honor ctx cancellation.
	Dispatch(ctx context.Context, handle Handle, input []float32, dim int) ([]float32, error)

	// Release frees a compiled handle.
	Release(handle Handle) error
}
