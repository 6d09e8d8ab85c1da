package telemetry

import (
	"sort"
	"sync"
)

type storeKey struct {
	equipment int
	kind      Kind
	sub       string
}

// Store is a thread-safe latest-value map for one telemetry kind. Writes
// replace, never append; a key holds at most one point at a time.
type Store[V Point] struct {
	mu    sync.RWMutex
	items map[storeKey]V
	less  func(a, b V) bool
}

// NewStore constructs an empty store. The less function orders All results
// by sub-key ascending for the stored kind.
func NewStore[V Point](less func(a, b V) bool) *Store[V] {
	return &Store[V]{
		items: make(map[storeKey]V),
		less:  less,
	}
}

func keyOf(p Point) storeKey {
	return storeKey{equipment: p.EquipmentID(), kind: p.PointKind(), sub: p.SubKey()}
}

// Set unconditionally replaces the stored value for the point's key.
// Last writer wins under concurrent same-key writes.
func (s *Store[V]) Set(v V) {
	key := keyOf(v)
	s.mu.Lock()
	s.items[key] = v
	s.mu.Unlock()
}

// Get returns the current value for the key, or false when absent.
func (s *Store[V]) Get(equipment int, kind Kind, sub string) (V, bool) {
	s.mu.RLock()
	v, ok := s.items[storeKey{equipment: equipment, kind: kind, sub: sub}]
	s.mu.RUnlock()
	return v, ok
}

// All returns a snapshot of every value stored for the equipment, ordered
// by the store's comparator. Writes landing concurrently with the scan may
// or may not be included.
func (s *Store[V]) All(equipment int) []V {
	s.mu.RLock()
	out := make([]V, 0, 16)
	for key, v := range s.items {
		if key.equipment == equipment {
			out = append(out, v)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return s.less(out[i], out[j]) })
	return out
}

// Remove deletes the value for the key. Removing an absent key is a no-op.
func (s *Store[V]) Remove(equipment int, kind Kind, sub string) {
	s.mu.Lock()
	delete(s.items, storeKey{equipment: equipment, kind: kind, sub: sub})
	s.mu.Unlock()
}

// RemoveEquipment deletes every value stored for the equipment and reports
// how many were removed.
func (s *Store[V]) RemoveEquipment(equipment int) int {
	s.mu.Lock()
	removed := 0
	for key := range s.items {
		if key.equipment == equipment {
			delete(s.items, key)
			removed++
		}
	}
	s.mu.Unlock()
	return removed
}

// Len reports the total number of stored values across all equipment.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	n := len(s.items)
	s.mu.RUnlock()
	return n
}

// Clear drops every stored value.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	s.items = make(map[storeKey]V)
	s.mu.Unlock()
}

// Count reports the number of values stored for one equipment.
func (s *Store[V]) Count(equipment int) int {
	s.mu.RLock()
	n := 0
	for key := range s.items {
		if key.equipment == equipment {
			n++
		}
	}
	s.mu.RUnlock()
	return n
}

// NewChannelStore builds a store ordered by channel number.
func NewChannelStore() *Store[ChannelReading] {
	return NewStore(func(a, b ChannelReading) bool { return a.ChannelNumber < b.ChannelNumber })
}

// NewSignalStore builds a store ordered by signal name.
func NewSignalStore() *Store[SignalReading] {
	return NewStore(func(a, b SignalReading) bool { return a.Name < b.Name })
}

// NewSensorStore builds a store ordered by sensor id.
func NewSensorStore() *Store[SensorReading] {
	return NewStore(func(a, b SensorReading) bool { return a.SensorID < b.SensorID })
}
