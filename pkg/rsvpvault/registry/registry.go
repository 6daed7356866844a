package registry

import (
	"container/list"
	"sync"
)

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Registry maps keys to values and remembers the order keys were added in.
// It is safe for concurrent use.
type Registry[K comparable, V any] struct {
	mu      sync.RWMutex
	index   map[K]*list.Element
	ordered *list.List
}

// New creates an empty registry.
func New[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{
		index:   make(map[K]*list.Element),
		ordered: list.New(),
	}
}

// Add inserts value under key if key is absent and reports whether it did.
// An existing entry is never overwritten.
func (r *Registry[K, V]) Add(key K, value V) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[key]; ok {
		return false
	}
	r.index[key] = r.ordered.PushBack(entry[K, V]{key: key, value: value})
	return true
}

// Get returns the value under key.
func (r *Registry[K, V]) Get(key K) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	el, ok := r.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	return el.Value.(entry[K, V]).value, true
}

// Has reports whether key is present.
func (r *Registry[K, V]) Has(key K) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.index[key]
	return ok
}

// Remove deletes key and reports whether it was present. A key added again
// later goes to the end.
func (r *Registry[K, V]) Remove(key K) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	el, ok := r.index[key]
	if !ok {
		return false
	}
	r.ordered.Remove(el)
	delete(r.index, key)
	return true
}

// Keys returns a copy of the keys in insertion order.
func (r *Registry[K, V]) Keys() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]K, 0, r.ordered.Len())
	for el := r.ordered.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(entry[K, V]).key)
	}
	return keys
}

// Len returns the number of entries.
func (r *Registry[K, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.index)
}
