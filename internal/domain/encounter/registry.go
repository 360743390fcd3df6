package encounter

import "sync"

// Registry keeps one composer per patient for the lifetime of its session.
type Registry struct {
	deps Deps

	mu        sync.Mutex
	composers map[string]*Composer
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{deps: deps, composers: make(map[string]*Composer)}
}

// Acquire returns the patient's composer, creating it if needed.
func (r *Registry) Acquire(patientID string) *Composer {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.composers[patientID]
	if !ok {
		c = NewComposer(patientID, r.deps)
		r.composers[patientID] = c
	}
	return c
}

func (r *Registry) Get(patientID string) (*Composer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.composers[patientID]
	return c, ok
}

// Release forgets the patient's composer if it is closed.
func (r *Registry) Release(patientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.composers[patientID]; ok && c.State() == StateClosed {
		delete(r.composers, patientID)
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.composers)
}
