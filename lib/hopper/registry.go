package hopper

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/xerrors"
)

type ID string

// Hopper is a physical candy compartment. Rings refer to hoppers by ID.
type Hopper struct {
	ID    ID
	Label string
	Color string
}

// Registry owns the hoppers known to a dispenser.
type Registry struct {
	mu      sync.RWMutex
	hoppers map[ID]Hopper
}

func NewRegistry() *Registry {
	return &Registry{
		hoppers: make(map[ID]Hopper),
	}
}

// Register stores h and returns it. An empty ID is replaced by a random one.
func (r *Registry) Register(h Hopper) (Hopper, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h.ID == "" {
		h.ID = ID(uuid.New().String())
	}
	if _, ok := r.hoppers[h.ID]; ok {
		return Hopper{}, xerrors.Errorf("register %q: %w", h.ID, ErrDuplicateID)
	}
	r.hoppers[h.ID] = h
	return h, nil
}

func (r *Registry) Lookup(id ID) (Hopper, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hoppers[id]
	return h, ok
}

func (r *Registry) Unregister(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hoppers, id)
}

// Resolve maps ring handles to their hoppers. Unknown IDs resolve to a
// hopper carrying only the ID.
func (r *Registry) Resolve(ids []ID) []Hopper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Hopper, len(ids))
	for i, id := range ids {
		h, ok := r.hoppers[id]
		if !ok {
			h = Hopper{ID: id}
		}
		out[i] = h
	}
	return out
}
