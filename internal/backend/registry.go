package backend

import (
	"fmt"
	"sort"
	"sync"

	"github.com/seantiz/beamlab/internal/model"
)

// BackendInfo pairs a venue with the capabilities of its backend.
type BackendInfo struct {
	Venue        model.Venue  `json:"venue"`
	Capabilities Capabilities `json:"capabilities"`
}

// Registry holds the backend registered for each venue.
type Registry struct {
	mu       sync.RWMutex
	backends map[model.Venue]Backend
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[model.Venue]Backend),
	}
}

// Register sets the backend for a venue, replacing any previous one.
func (r *Registry) Register(venue model.Venue, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[venue] = b
}

// Resolve returns the backend registered for venue.
func (r *Registry) Resolve(venue model.Venue) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[venue]
	if !ok {
		return nil, fmt.Errorf("no backend registered for venue %q", venue)
	}
	return b, nil
}

// List returns information about all registered backends, sorted by venue
// for a stable API response.
func (r *Registry) List() []BackendInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]BackendInfo, 0, len(r.backends))
	for venue, b := range r.backends {
		infos = append(infos, BackendInfo{
			Venue:        venue,
			Capabilities: b.Capabilities(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Venue < infos[j].Venue
	})
	return infos
}
