// Package registry holds the set of managed services.
//
// A Registry is not safe for concurrent use. The orchestrator goroutine is
// its only caller; readers outside the loop consume snapshots instead.
package registry

import (
	"fmt"
	"sort"
	"time"

	"github.com/MrSnakeDoc/stackwatch/internal/domain"
)

type Registry struct {
	services map[string]*domain.Service
	now      func() time.Time
}

func New() *Registry {
	return &Registry{
		services: make(map[string]*domain.Service),
		now:      time.Now,
	}
}

// Upsert registers name in StateDiscovered, or returns the existing entry.
// created reports whether a new entry was made. The path of an existing
// entry is updated.
func (r *Registry) Upsert(name, path string) (svc *domain.Service, created bool) {
	now := r.now()
	if svc, ok := r.services[name]; ok {
		if svc.Path != path {
			svc.Path = path
			svc.UpdatedAt = now
		}
		return svc, false
	}
	svc = &domain.Service{
		Name:      name,
		Path:      path,
		State:     domain.StateDiscovered,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.services[name] = svc
	return svc, true
}

// Remove erases name. It reports whether the entry existed.
func (r *Registry) Remove(name string) bool {
	if _, ok := r.services[name]; !ok {
		return false
	}
	delete(r.services, name)
	return true
}

// Get returns the entry for name. The pointer stays owned by the registry.
func (r *Registry) Get(name string) (*domain.Service, bool) {
	svc, ok := r.services[name]
	return svc, ok
}

func (r *Registry) SetState(name string, state domain.State) error {
	svc, ok := r.services[name]
	if !ok {
		return fmt.Errorf("unknown service %q", name)
	}
	if svc.State != state {
		svc.State = state
		svc.UpdatedAt = r.now()
	}
	return nil
}

// SetResult records the outcome of the latest action.
func (r *Registry) SetResult(name string, res domain.Result) error {
	svc, ok := r.services[name]
	if !ok {
		return fmt.Errorf("unknown service %q", name)
	}
	svc.LastResult = &res
	svc.UpdatedAt = r.now()
	return nil
}

// List returns the entries sorted by name.
func (r *Registry) List() []*domain.Service {
	out := make([]*domain.Service, 0, len(r.services))
	for _, svc := range r.services {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Len() int { return len(r.services) }

// CountByState tallies entries per state name, including zero counts.
func (r *Registry) CountByState() map[string]int {
	counts := make(map[string]int, len(domain.AllStates()))
	for _, st := range domain.AllStates() {
		counts[st.String()] = 0
	}
	for _, svc := range r.services {
		counts[svc.State.String()]++
	}
	return counts
}
