package engine

import (
	"context"
	"sync"
)

type handle struct {
	gen    uint64
	cancel context.CancelFunc
}

// Registry maps task ids to the cancellation handle of the engine run
// driving them. At most one live handle exists per id, which is what
// guarantees a single writer per destination file. Pause and delete act
// through Take so cancellation happens at most once; a finished run
// drops its own entry through Remove with the generation it was
// registered under, so it can never evict a successor run's handle.
type Registry struct {
	mu      sync.Mutex
	nextGen uint64
	handles map[string]handle
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]handle)}
}

// Register stores the cancellation handle for a run and returns the
// generation to pass to Remove. A previous handle for the same id is
// cancelled first; the registry never tracks two live runs for one task.
func (r *Registry) Register(id string, cancel context.CancelFunc) uint64 {
	r.mu.Lock()
	prev, hadPrev := r.handles[id]
	r.nextGen++
	gen := r.nextGen
	r.handles[id] = handle{gen: gen, cancel: cancel}
	r.mu.Unlock()

	if hadPrev {
		prev.cancel()
	}
	return gen
}

// Take removes and returns the handle for id. Returns false if no run
// is registered.
func (r *Registry) Take(id string) (context.CancelFunc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[id]
	if ok {
		delete(r.handles, id)
	}
	return h.cancel, ok
}

// Remove drops the entry for id if it still belongs to the given
// generation. A no-op when the entry was already taken or replaced by
// a newer run.
func (r *Registry) Remove(id string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[id]; ok && h.gen == gen {
		delete(r.handles, id)
	}
}

// CancelAll cancels and drops every registered handle.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]handle)
	r.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
