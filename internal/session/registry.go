package session

import "sync"

// Registry tracks the live binding per user. It satisfies the lifecycle's
// session check: a user counts as connected while a binding is registered.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]*Binding
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]*Binding)}
}

// Connected reports whether the user has a live device session.
func (r *Registry) Connected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bindings[userID]
	return ok
}

// Lookup returns the user's current binding.
func (r *Registry) Lookup(userID string) (*Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[userID]
	return b, ok
}

// Count reports the number of live bindings.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}

// swap installs a binding and returns the one it replaced, if any.
func (r *Registry) swap(userID string, b *Binding) *Binding {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.bindings[userID]
	r.bindings[userID] = b
	return old
}

// remove drops the user's binding if it is still the given one.
func (r *Registry) remove(userID string, b *Binding) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bindings[userID] != b {
		return false
	}
	delete(r.bindings, userID)
	return true
}
