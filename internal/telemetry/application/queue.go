package application

import (
	"strconv"
	"sync"

	telemetry "battmon-cloud/internal/telemetry/domain"
)

// BatchQueue buffers channel readings awaiting durable persistence. It is
// bounded: when an enqueue would exceed capacity the oldest excess items are
// dropped from the persistence path only; the in-memory stores are not
// affected. Multi-producer, drained by a single flusher.
type BatchQueue struct {
	mu       sync.Mutex
	items    []telemetry.ChannelReading
	capacity int
}

// NewBatchQueue constructs a queue with the given capacity.
func NewBatchQueue(capacity int) *BatchQueue {
	if capacity <= 0 {
		capacity = 10000
	}
	return &BatchQueue{capacity: capacity}
}

// Enqueue appends a reading and reports how many old items were dropped to
// stay within capacity.
func (q *BatchQueue) Enqueue(r telemetry.ChannelReading) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, r)
	over := len(q.items) - q.capacity
	if over <= 0 {
		return 0
	}
	q.items = append(q.items[:0], q.items[over:]...)
	return over
}

// Dequeue removes and returns up to max items in arrival order.
func (q *BatchQueue) Dequeue(max int) []telemetry.ChannelReading {
	q.mu.Lock()
	defer q.mu.Unlock()

	if max <= 0 || max > len(q.items) {
		max = len(q.items)
	}
	if max == 0 {
		return nil
	}
	out := make([]telemetry.ChannelReading, max)
	copy(out, q.items[:max])
	q.items = append(q.items[:0], q.items[max:]...)
	return out
}

// Len reports the number of buffered items.
func (q *BatchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// latestSet coalesces pending writes to their latest value per sub-key.
// Used for the best-effort signal/sensor persistence shadow.
type latestSet[V telemetry.Point] struct {
	mu    sync.Mutex
	items map[string]V
}

func newLatestSet[V telemetry.Point]() *latestSet[V] {
	return &latestSet[V]{items: make(map[string]V)}
}

func (s *latestSet[V]) put(v V) {
	key := string(v.PointKind()) + "/" + v.SubKey()
	s.mu.Lock()
	s.items[itemKey(v.EquipmentID(), key)] = v
	s.mu.Unlock()
}

func (s *latestSet[V]) takeAll() []V {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return nil
	}
	out := make([]V, 0, len(s.items))
	for _, v := range s.items {
		out = append(out, v)
	}
	s.items = make(map[string]V)
	return out
}

func itemKey(equipment int, sub string) string {
	return "eq_" + strconv.Itoa(equipment) + "_" + sub
}
