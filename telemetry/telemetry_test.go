package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrNop(t *testing.T) {
	assert.IsType(t, NopSink{}, OrNop(nil))

	sink := NewSlogSink(nil)
	assert.Equal(t, sink, OrNop(sink))
}

func TestNopSinkEmit(t *testing.T) {
	// Must not panic with any input.
	NopSink{}.Emit(context.Background(), "batch.processed", time.Second, true, nil)
}

func TestSlogSinkEmit(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewSlogSink(logger)

	sink.Emit(context.Background(), "pipeline.compiled", 42*time.Millisecond, true,
		map[string]any{"backend": "cpu"})

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, "pipeline.compiled")
	assert.Contains(t, out, "backend")

	// Failures log at warn level.
	buf.Reset()
	sink.Emit(context.Background(), "pipeline.compiled", time.Millisecond, false, nil)
	assert.Contains(t, buf.String(), "WARN")
}

func TestNATSSinkNilConnection(t *testing.T) {
	sink := NewNATSSink(nil, "core", nil)
	// Degrades silently with no connection.
	sink.Emit(context.Background(), "batch.processed", time.Millisecond, true, nil)
}

func TestNATSSinkCancelledContext(t *testing.T) {
	sink := NewNATSSink(nil, "core", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Emit(ctx, "batch.processed", time.Millisecond, true, nil)
}

func TestNATSSinkSubject(t *testing.T) {
	sink := NewNATSSink(nil, "vector", nil)
	assert.Equal(t, "telemetry.vector", sink.subject)

	sink = NewNATSSink(nil, "", nil)
	assert.Equal(t, "telemetry.gpukit", sink.subject)
}
