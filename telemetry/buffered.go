package telemetry

import (
	"context"
	"time"

	"github.com/c360/gpukit/pkg/buffer"
)

// BufferedSink wraps another sink and retains the most recent events in a
// ring, so diagnostics can show what the process was doing without a
// telemetry consumer attached. The oldest events are dropped under load.
type BufferedSink struct {
	next Sink
	ring *buffer.Ring[Event]
}

// NewBufferedSink wraps next with a ring holding up to capacity events.
func NewBufferedSink(next Sink, capacity int) (*BufferedSink, error) {
	ring, err := buffer.NewRing[Event](capacity)
	if err != nil {
		return nil, err
	}
	return &BufferedSink{next: OrNop(next), ring: ring}, nil
}

// Emit records the event in the ring and forwards it to the wrapped sink.
func (s *BufferedSink) Emit(ctx context.Context, eventType string, duration time.Duration, success bool, metadata map[string]any) {
	s.ring.Write(Event{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		EventType:  eventType,
		DurationMs: float64(duration.Microseconds()) / 1000.0,
		Success:    success,
		Metadata:   metadata,
	})
	s.next.Emit(ctx, eventType, duration, success, metadata)
}

// Recent returns the buffered events oldest-first.
func (s *BufferedSink) Recent() []Event {
	return s.ring.Snapshot()
}

// Stats returns ring activity counters.
func (s *BufferedSink) Stats() buffer.Statistics {
	return s.ring.Stats()
}
