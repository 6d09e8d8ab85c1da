package telemetry

import (
	"sort"
	"sync"
	"time"
)

// LivenessTracker records the last telemetry receive time per equipment and
// derives online/offline from it. Equipment never touched is offline.
type LivenessTracker struct {
	mu       sync.RWMutex
	lastSeen map[int]time.Time
	offline  time.Duration
	now      func() time.Time
}

// NewLivenessTracker constructs a tracker with the given offline threshold.
func NewLivenessTracker(offline time.Duration) *LivenessTracker {
	return &LivenessTracker{
		lastSeen: make(map[int]time.Time),
		offline:  offline,
		now:      time.Now,
	}
}

// Touch records a telemetry receive for the equipment.
func (t *LivenessTracker) Touch(equipment int) {
	now := t.now()
	t.mu.Lock()
	t.lastSeen[equipment] = now
	t.mu.Unlock()
}

// LastSeen returns the last receive time, or false when never touched.
func (t *LivenessTracker) LastSeen(equipment int) (time.Time, bool) {
	t.mu.RLock()
	ts, ok := t.lastSeen[equipment]
	t.mu.RUnlock()
	return ts, ok
}

// Online reports whether the equipment was touched within the offline
// threshold.
func (t *LivenessTracker) Online(equipment int) bool {
	t.mu.RLock()
	ts, ok := t.lastSeen[equipment]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	return t.now().Sub(ts) < t.offline
}

// OnlineIDs returns all equipment currently within the offline threshold,
// ascending by id.
func (t *LivenessTracker) OnlineIDs() []int {
	now := t.now()
	t.mu.RLock()
	ids := make([]int, 0, len(t.lastSeen))
	for id, ts := range t.lastSeen {
		if now.Sub(ts) < t.offline {
			ids = append(ids, id)
		}
	}
	t.mu.RUnlock()
	sort.Ints(ids)
	return ids
}

// StaleIDs returns all equipment whose last receive is older than the given
// cutoff duration, ascending by id.
func (t *LivenessTracker) StaleIDs(olderThan time.Duration) []int {
	cutoff := t.now().Add(-olderThan)
	t.mu.RLock()
	ids := make([]int, 0)
	for id, ts := range t.lastSeen {
		if ts.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	t.mu.RUnlock()
	sort.Ints(ids)
	return ids
}

// Remove drops the liveness entry for the equipment. Removing an untracked
// equipment is a no-op.
func (t *LivenessTracker) Remove(equipment int) {
	t.mu.Lock()
	delete(t.lastSeen, equipment)
	t.mu.Unlock()
}

// Clear drops every liveness entry.
func (t *LivenessTracker) Clear() {
	t.mu.Lock()
	t.lastSeen = make(map[int]time.Time)
	t.mu.Unlock()
}

// Len reports the number of tracked equipment.
func (t *LivenessTracker) Len() int {
	t.mu.RLock()
	n := len(t.lastSeen)
	t.mu.RUnlock()
	return n
}
