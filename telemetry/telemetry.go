// Package telemetry defines the event sink contract the processing core
// emits into. The core never depends on a specific backend being present:
// a nil or absent sink degrades silently to a no-op.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Event is a single telemetry record emitted after an operation completes.
type Event struct {
	Timestamp  string         `json:"timestamp"` // RFC3339 format
	EventType  string         `json:"event_type"`
	DurationMs float64        `json:"duration_ms"`
	Success    bool           `json:"success"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Sink accepts telemetry events. Implementations must never block the
// caller on downstream failures; emitting is always best effort.
type Sink interface {
	Emit(ctx context.Context, eventType string, duration time.Duration, success bool, metadata map[string]any)
}

// NopSink discards every event.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(context.Context, string, time.Duration, bool, map[string]any) {}

// SlogSink writes events to a structured logger.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink wraps a logger as a telemetry sink. A nil logger uses
// slog.Default().
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Emit implements Sink.
func (s *SlogSink) Emit(ctx context.Context, eventType string, duration time.Duration, success bool, metadata map[string]any) {
	attrs := []any{
		"event_type", eventType,
		"duration_ms", float64(duration.Microseconds()) / 1000.0,
		"success", success,
	}
	for k, v := range metadata {
		attrs = append(attrs, k, v)
	}
	if success {
		s.logger.DebugContext(ctx, "telemetry event", attrs...)
	} else {
		s.logger.WarnContext(ctx, "telemetry event", attrs...)
	}
}

// NATSSink publishes events to a NATS subject for remote consumption.
// Publishing is best effort: marshal or publish failures are logged
// locally and never surfaced to the emitting operation.
type NATSSink struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
	enabled bool
}

// NewNATSSink creates a sink publishing to telemetry.{source}. A nil
// connection yields a sink that silently drops every event.
func NewNATSSink(nc *nats.Conn, source string, logger *slog.Logger) *NATSSink {
	if logger == nil {
		logger = slog.Default()
	}
	if source == "" {
		source = "gpukit"
	}
	return &NATSSink{
		nc:      nc,
		subject: fmt.Sprintf("telemetry.%s", source),
		logger:  logger,
		enabled: nc != nil,
	}
}

// Emit implements Sink.
func (s *NATSSink) Emit(ctx context.Context, eventType string, duration time.Duration, success bool, metadata map[string]any) {
	if !s.enabled {
		return
	}

	// Check context before performing I/O
	select {
	case <-ctx.Done():
		return
	default:
	}

	event := Event{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		EventType:  eventType,
		DurationMs: float64(duration.Microseconds()) / 1000.0,
		Success:    success,
		Metadata:   metadata,
	}

	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to marshal telemetry event", "error", err)
		return
	}

	nc := s.nc
	if nc == nil {
		return
	}
	if err := nc.Publish(s.subject, data); err != nil {
		s.logger.Warn("failed to publish telemetry event", "subject", s.subject, "error", err)
	}
}

// OrNop returns the sink unchanged, or a NopSink when nil. Callers use this
// at construction so emit paths never nil-check.
func OrNop(sink Sink) Sink {
	if sink == nil {
		return NopSink{}
	}
	return sink
}
