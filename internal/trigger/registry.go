package trigger

import (
	"sort"
	"sync"

	"github.com/coverbound/triggerd/internal/domain"
)

// Registry manages the triggers hosted by this service, keyed by trigger
// ID. It is safe for concurrent use.
type Registry struct {
	triggers map[string]*OracleTrigger
	mu       sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		triggers: make(map[string]*OracleTrigger),
	}
}

// Register adds a trigger under its ID. An existing trigger with the same
// ID is replaced.
func (r *Registry) Register(t *OracleTrigger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers[t.ID()] = t
}

// Get retrieves a trigger by ID. It returns domain.ErrNotFound when the ID
// is unknown.
func (r *Registry) Get(id string) (*OracleTrigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.triggers[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return t, nil
}

// List returns all registered triggers ordered by ID.
func (r *Registry) List() []*OracleTrigger {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*OracleTrigger, 0, len(r.triggers))
	for _, t := range r.triggers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
