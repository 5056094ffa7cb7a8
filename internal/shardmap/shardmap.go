// Package shardmap provides a lock-striped map for integer keys.
//
// Every key hashes to exactly one stripe. Operations on keys that land in
// different stripes never contend, and all operations on a single key are
// serialized by that key's stripe lock.
package shardmap

import (
	"sync"
)

// DefaultStripes is used when New is given a non-positive stripe count.
const DefaultStripes = 64

// Key is the set of key types the map can hash without allocation.
type Key interface {
	~uint16 | ~uint32 | ~uint64 | ~int
}

type stripe[K Key, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

// Map is a concurrent map with per-stripe locking.
type Map[K Key, V any] struct {
	stripes []stripe[K, V]
	mask    uint64
}

// New creates a map with the given number of stripes, rounded up to a power of two.
func New[K Key, V any](stripes int) *Map[K, V] {
	if stripes <= 0 {
		stripes = DefaultStripes
	}
	n := 1
	for n < stripes {
		n <<= 1
	}

	m := &Map[K, V]{
		stripes: make([]stripe[K, V], n),
		mask:    uint64(n - 1),
	}
	for i := range m.stripes {
		m.stripes[i].items = make(map[K]V)
	}
	return m
}

// stripeFor picks the stripe with Fibonacci hashing so sequential ids spread evenly.
func (m *Map[K, V]) stripeFor(key K) *stripe[K, V] {
	h := uint64(key) * 0x9E3779B97F4A7C15
	return &m.stripes[(h>>32)&m.mask]
}

// Load returns the value stored under key.
func (m *Map[K, V]) Load(key K) (V, bool) {
	s := m.stripeFor(key)
	s.mu.RLock()
	v, ok := s.items[key]
	s.mu.RUnlock()
	return v, ok
}

// LoadOrStore stores value under key iff the key is absent.
// It returns the value now associated with key and whether it was already present.
func (m *Map[K, V]) LoadOrStore(key K, value V) (V, bool) {
	s := m.stripeFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.items[key]; ok {
		return existing, true
	}
	s.items[key] = value
	return value, false
}

// Update runs fn with the current value for key while holding the key's stripe lock.
// If fn returns nil the returned value is stored; otherwise the map is left
// unchanged and the error is returned to the caller.
func (m *Map[K, V]) Update(key K, fn func(current V, exists bool) (V, error)) error {
	s := m.stripeFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.items[key]
	next, err := fn(current, exists)
	if err != nil {
		return err
	}
	s.items[key] = next
	return nil
}

// Range calls fn for every entry until fn returns false. Each stripe is
// read-locked while it is visited, so fn must not call back into the map.
func (m *Map[K, V]) Range(fn func(key K, value V) bool) {
	for i := range m.stripes {
		s := &m.stripes[i]
		s.mu.RLock()
		for k, v := range s.items {
			if !fn(k, v) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Len returns the number of entries across all stripes.
func (m *Map[K, V]) Len() int {
	total := 0
	for i := range m.stripes {
		s := &m.stripes[i]
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}
