// Package texture is a banked cache for texture-like byte blobs with a
// level-of-detail manager that trades resolution for memory under
// pressure.
//
// Storage is split across four named banks, each an independently capped
// map. When a bank is full, a bank switch evicts the lowest-priority
// quarter of its entries before the new one is admitted. Levels of detail
// run 0 (full fidelity) through 3; each step halves the payload.
package texture

import (
	"fmt"
	"time"

	"github.com/c360/gpukit/errors"
)

// Bank names a texture storage bank.
type Bank string

// Storage banks
const (
	// PatternBank holds reusable pattern data.
	PatternBank Bank = "pattern"
	// ProgramBank holds program-owned textures.
	ProgramBank Bank = "program"
	// PersistentBank holds textures that survive scene switches.
	PersistentBank Bank = "persistent"
	// ActiveBank holds the working set of the current scene.
	ActiveBank Bank = "active"
)

// Banks lists every bank in lookup order.
func Banks() []Bank {
	return []Bank{PatternBank, ProgramBank, PersistentBank, ActiveBank}
}

// Validate ensures the bank name is known.
func (b Bank) Validate() error {
	switch b {
	case PatternBank, ProgramBank, PersistentBank, ActiveBank:
		return nil
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "texture", "Validate",
			fmt.Sprintf("unknown bank %q", b))
	}
}

// Priority biases LOD selection for an entry.
type Priority string

// Entry priorities
const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Validate ensures the priority is one of the defined values.
func (p Priority) Validate() error {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return nil
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "texture", "Validate",
			fmt.Sprintf("unknown priority %q", p))
	}
}

// LOD bounds
const (
	// MinLevel is full fidelity.
	MinLevel = 0
	// MaxLevel is the coarsest level.
	MaxLevel = 3
)

// Entry is a stored texture with its LOD bookkeeping.
type Entry struct {
	ID             string
	Bank           Bank
	Level          int
	Priority       Priority
	HitCount       int64
	CreatedAt      time.Time
	LastAccessedAt time.Time

	data []byte
}

// SizeBytes returns the stored payload size.
func (e *Entry) SizeBytes() int64 { return int64(len(e.data)) }

// evictionScore ranks an entry for bank-switch eviction: access count plus
// seconds since last access, lowest evicted first.
func (e *Entry) evictionScore(now time.Time) float64 {
	return float64(e.HitCount) + now.Sub(e.LastAccessedAt).Seconds()
}

// Rescale converts a payload between LOD levels. Each level halves the
// bytes; moving toward fidelity duplicates them. Level 0 data rescaled to
// its own level comes back as a copy.
func Rescale(data []byte, fromLevel, toLevel int) []byte {
	if len(data) == 0 || fromLevel == toLevel {
		out := make([]byte, len(data))
		copy(out, data)
		return out
	}
	if toLevel > fromLevel {
		stride := 1 << (toLevel - fromLevel)
		out := make([]byte, 0, (len(data)+stride-1)/stride)
		for i := 0; i < len(data); i += stride {
			out = append(out, data[i])
		}
		return out
	}
	factor := 1 << (fromLevel - toLevel)
	out := make([]byte, 0, len(data)*factor)
	for _, b := range data {
		for i := 0; i < factor; i++ {
			out = append(out, b)
		}
	}
	return out
}

func clampLevel(level int) int {
	if level < MinLevel {
		return MinLevel
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}
