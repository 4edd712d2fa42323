package validation

import "sync"

// identified is anything registered by ID.
type identified interface {
	ID() string
}

// registry is an insertion-ordered set of values keyed by ID.
type registry[T identified] struct {
	mu    sync.RWMutex
	items []T
}

// add inserts or replaces the value with the same ID, keeping its position.
func (r *registry[T]) add(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.items {
		if existing.ID() == item.ID() {
			r.items[i] = item
			return
		}
	}
	r.items = append(r.items, item)
}

// remove deletes the value with id and reports whether it existed.
func (r *registry[T]) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.items {
		if existing.ID() == id {
			r.items = append(r.items[:i:i], r.items[i+1:]...)
			return true
		}
	}
	return false
}

// snapshot returns a copy of the registered values in insertion order.
func (r *registry[T]) snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]T(nil), r.items...)
}

func (r *registry[T]) ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.items))
	for i, item := range r.items {
		out[i] = item.ID()
	}
	return out
}
