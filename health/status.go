// Package health provides health reporting for engine subsystems.
package health

import (
	"time"
)

// Health state strings, used in JSON payloads and log fields.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// Status is the health of one subsystem or of the whole engine.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"` // healthy, degraded, unhealthy
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// IsHealthy returns true if the status is healthy.
func (s Status) IsHealthy() bool {
	return s.Status == StateHealthy
}

// IsDegraded returns true if the status is degraded.
func (s Status) IsDegraded() bool {
	return s.Status == StateDegraded
}

// IsUnhealthy returns true if the status is unhealthy.
func (s Status) IsUnhealthy() bool {
	return s.Status == StateUnhealthy
}

// NewHealthy creates a healthy status.
func NewHealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    StateHealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewDegraded creates a degraded status. Degraded subsystems still serve
// requests but under reduced capacity or precision.
func NewDegraded(component, message string) Status {
	return Status{
		Component: component,
		Status:    StateDegraded,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewUnhealthy creates an unhealthy status.
func NewUnhealthy(component, message string) Status {
	return Status{
		Component: component,
		Status:    StateUnhealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Aggregate rolls subsystem statuses up into one: unhealthy if any
// subsystem is unhealthy, degraded if any is degraded, healthy otherwise.
func Aggregate(component string, subStatuses []Status) Status {
	agg := NewHealthy(component, "all subsystems healthy")
	agg.SubStatuses = subStatuses

	degraded := 0
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			agg.Healthy = false
			agg.Status = StateUnhealthy
			agg.Message = sub.Component + ": " + sub.Message
			return agg
		case sub.IsDegraded():
			degraded++
		}
	}
	if degraded > 0 {
		agg.Healthy = false
		agg.Status = StateDegraded
		agg.Message = "subsystems degraded"
	}
	return agg
}
