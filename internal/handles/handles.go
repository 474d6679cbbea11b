// Package handles maps opaque integer handles to registered instances.
// Binding layers hold the integer instead of a Go pointer, so any host
// language can keep a stable reference across the FFI boundary.
package handles

import "sync"

// Registry hands out monotonically increasing uint64 handles. Handle zero
// is never issued and always resolves to the zero value.
type Registry[T any] struct {
	mu    sync.RWMutex
	next  uint64
	items map[uint64]T
}

// NewRegistry returns an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{items: make(map[uint64]T)}
}

// Register stores item and returns its handle.
func (r *Registry[T]) Register(item T) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.items[r.next] = item
	return r.next
}

// Get resolves a handle. ok is false for unknown or released handles.
func (r *Registry[T]) Get(handle uint64) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[handle]
	return item, ok
}

// Release forgets a handle. Releasing an unknown handle is a no-op.
func (r *Registry[T]) Release(handle uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, handle)
}

// Len reports how many handles are live.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
