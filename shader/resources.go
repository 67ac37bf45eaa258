package shader

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/gpukit/budget"
	"github.com/c360/gpukit/errors"
	"github.com/c360/gpukit/types"
)

// ResourceKind distinguishes tracked backend resources.
type ResourceKind string

// Resource kinds
const (
	KindBuffer    ResourceKind = "buffer"
	KindTexture   ResourceKind = "texture"
	KindBindGroup ResourceKind = "bind-group"
)

// Resource is a budget-tracked backend allocation. The budget reservation
// is the source of truth for its size; freeing the resource always releases
// the reservation, even when the platform-level destroy fails.
type Resource struct {
	ID         string
	Kind       ResourceKind
	Backend    types.Backend
	SizeBytes  int64
	CreatedAt  time.Time
	LastUsedAt time.Time

	reservation *budget.Reservation

	// destroy releases the platform-level object, when one exists.
	destroy func() error
}

// resourceSet is the bookkeeping map for tracked resources of one manager.
type resourceSet struct {
	mu        sync.Mutex
	resources map[string]*Resource
	now       func() time.Time
}

func newResourceSet(now func() time.Time) *resourceSet {
	return &resourceSet{
		resources: make(map[string]*Resource),
		now:       now,
	}
}

func (s *resourceSet) add(r *Resource) {
	s.mu.Lock()
	s.resources[r.ID] = r
	s.mu.Unlock()
}

// touch refreshes a resource's last-used timestamp so it survives the next
// garbage collection pass.
func (s *resourceSet) touch(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[id]
	if !ok {
		return false
	}
	r.LastUsedAt = s.now()
	return true
}

func (s *resourceSet) get(id string) (*Resource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[id]
	return r, ok
}

// remove frees a resource. Budget accounting is released first; the
// platform destroy runs afterwards and its failure never leaks budget.
func (s *resourceSet) remove(id string) error {
	s.mu.Lock()
	r, ok := s.resources[id]
	if !ok {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrInvalidData, "shader", "remove",
			fmt.Sprintf("unknown resource %s", id))
	}
	delete(s.resources, id)
	s.mu.Unlock()

	if err := r.reservation.Release(); err != nil {
		return err
	}
	if r.destroy != nil {
		if err := r.destroy(); err != nil {
			return errors.WrapTransient(err, "shader", "remove",
				fmt.Sprintf("platform destroy of %s %s", r.Kind, r.ID))
		}
	}
	return nil
}

// collect frees every resource of the given backend unused for at least
// maxAge and returns the number reclaimed.
func (s *resourceSet) collect(backend types.Backend, maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)

	s.mu.Lock()
	var stale []*Resource
	for id, r := range s.resources {
		if r.Backend == backend && r.LastUsedAt.Before(cutoff) {
			stale = append(stale, r)
			delete(s.resources, id)
		}
	}
	s.mu.Unlock()

	for _, r := range stale {
		_ = r.reservation.Release()
		if r.destroy != nil {
			_ = r.destroy()
		}
	}
	return len(stale)
}

// countByKind returns per-kind resource counts for stats snapshots.
func (s *resourceSet) countByKind() map[ResourceKind]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[ResourceKind]int)
	for _, r := range s.resources {
		counts[r.Kind]++
	}
	return counts
}

func newResourceID(kind ResourceKind) string {
	return string(kind) + "-" + uuid.NewString()
}
