package index

import (
	"sort"
	"sync"
	"time"

	"github.com/MrSnakeDoc/stackwatch/internal/domain"
)

// MemoryIndex holds the latest status snapshot of every service.
// The orchestrator writes it; the status server and the redis jobs read it.
type MemoryIndex struct {
	mu         sync.RWMutex
	services   map[string]domain.Snapshot // Name -> Snapshot
	lastUpdate time.Time                  // Timestamp of the last write
}

// NewMemoryIndex creates a new memory index
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		services: make(map[string]domain.Snapshot),
	}
}

// UpdateServices replaces all services in the index
func (idx *MemoryIndex) UpdateServices(snaps []domain.Snapshot) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	// Clear and rebuild
	idx.services = make(map[string]domain.Snapshot, len(snaps))
	for _, snap := range snaps {
		idx.services[snap.Name] = snap
	}
	idx.lastUpdate = time.Now()
}

// GetService retrieves a snapshot by service name
func (idx *MemoryIndex) GetService(name string) (domain.Snapshot, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	snap, ok := idx.services[name]
	return snap, ok
}

// GetAllServices returns a copy of every snapshot, sorted by name
func (idx *MemoryIndex) GetAllServices() []domain.Snapshot {
	idx.mu.RLock()
	snaps := make([]domain.Snapshot, 0, len(idx.services))
	for _, snap := range idx.services {
		snaps = append(snaps, snap)
	}
	idx.mu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps
}

// AddService adds or updates a single snapshot
func (idx *MemoryIndex) AddService(snap domain.Snapshot) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.services[snap.Name] = snap
	idx.lastUpdate = time.Now()
}

// DeleteService removes a service from the index
func (idx *MemoryIndex) DeleteService(name string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	delete(idx.services, name)
	idx.lastUpdate = time.Now()
}

// Names returns the set of indexed service names
func (idx *MemoryIndex) Names() map[string]struct{} {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	names := make(map[string]struct{}, len(idx.services))
	for name := range idx.services {
		names[name] = struct{}{}
	}
	return names
}

// Count returns the number of services in the index
func (idx *MemoryIndex) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return len(idx.services)
}

// GetLastUpdate returns the timestamp of the last write
func (idx *MemoryIndex) GetLastUpdate() time.Time {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.lastUpdate
}
