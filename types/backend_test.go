package types_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	pkgerrors "github.com/c360/gpukit/errors"
	"github.com/c360/gpukit/types"
)

func TestBackendValidate(t *testing.T) {
	tests := []struct {
		name        string
		backend     types.Backend
		expectError bool
	}{
		{"primary gpu", types.PrimaryGPU, false},
		{"fallback gpu", types.FallbackGPU, false},
		{"cpu", types.CPU, false},
		{"unknown", types.Backend("tpu"), true},
		{"empty", types.Backend(""), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.backend.Validate()
			if tt.expectError {
				assert.Error(t, err)
				assert.True(t, pkgerrors.IsInvalid(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPriorityString(t *testing.T) {
	assert.Equal(t, "critical", types.PriorityCritical.String())
	assert.Equal(t, "high", types.PriorityHigh.String())
	assert.Equal(t, "medium", types.PriorityMedium.String())
	assert.Equal(t, "low", types.PriorityLow.String())
	assert.Equal(t, "unknown", types.Priority(42).String())
}

func TestPriorityValidate(t *testing.T) {
	assert.NoError(t, types.PriorityCritical.Validate())
	assert.NoError(t, types.PriorityLow.Validate())
	assert.Error(t, types.Priority(-1).Validate())
	assert.Error(t, types.Priority(7).Validate())
}
