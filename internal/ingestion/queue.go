package ingestion

import (
	"sync"
	"sync/atomic"

	"soundscape-monitor/internal/models"
)

// DefaultCapacity holds ten minutes of records at ten slices per second.
const DefaultCapacity = 6000

// Queue is a bounded FIFO of feature records.
// When full, appending evicts the oldest record and counts a drop.
// head and tail are monotonic sequence numbers; a record's slot is seq % capacity.
type Queue struct {
	mu       sync.Mutex
	data     []models.FeatureRecord
	head     int64 // Sequence of the next append
	tail     int64 // Sequence of the oldest queued record
	capacity int64

	appended atomic.Int64
	dropped  atomic.Int64
}

// NewQueue creates a queue holding at most capacity records.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		data:     make([]models.FeatureRecord, capacity),
		capacity: int64(capacity),
	}
}

// Append adds rec at the tail of the queue.
// Returns true if the oldest record was evicted to make room.
func (q *Queue) Append(rec models.FeatureRecord) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := false
	if q.head-q.tail >= q.capacity {
		q.data[q.tail%q.capacity] = models.FeatureRecord{}
		q.tail++
		q.dropped.Add(1)
		evicted = true
	}

	q.data[q.head%q.capacity] = rec
	q.head++
	q.appended.Add(1)
	return evicted
}

// Snapshot copies every queued record in arrival order without removing them.
// upTo is the sequence just past the last copied record, for use with Commit.
func (q *Queue) Snapshot() (records []models.FeatureRecord, upTo int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.head - q.tail
	if n == 0 {
		return nil, q.head
	}

	records = make([]models.FeatureRecord, n)
	for i := int64(0); i < n; i++ {
		records[i] = q.data[(q.tail+i)%q.capacity]
	}
	return records, q.head
}

// Commit removes every record with a sequence below upTo that is still queued.
// Records evicted since the snapshot are already gone and are not counted again.
// Returns the number of records removed.
func (q *Queue) Commit(upTo int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if upTo > q.head {
		upTo = q.head
	}
	if upTo <= q.tail {
		return 0
	}

	n := upTo - q.tail
	for seq := q.tail; seq < upTo; seq++ {
		q.data[seq%q.capacity] = models.FeatureRecord{}
	}
	q.tail = upTo
	return int(n)
}

// Drain removes and returns every queued record.
func (q *Queue) Drain() []models.FeatureRecord {
	records, upTo := q.Snapshot()
	q.Commit(upTo)
	return records
}

// Len returns the number of queued records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(q.head - q.tail)
}

// Cap returns the capacity of the queue.
func (q *Queue) Cap() int {
	return int(q.capacity)
}

// UsageRatio returns the current fill level (0.0 - 1.0).
func (q *Queue) UsageRatio() float64 {
	return float64(q.Len()) / float64(q.capacity)
}

// Appended returns the total number of records ever appended.
func (q *Queue) Appended() int64 {
	return q.appended.Load()
}

// Dropped returns the total number of records evicted by backpressure.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}
