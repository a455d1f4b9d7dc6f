package ingestion

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soundscape-monitor/internal/models"
)

var base = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func record(i int) models.FeatureRecord {
	return models.FeatureRecord{
		Timestamp:    base.Add(time.Duration(i) * 100 * time.Millisecond),
		SensorID:     "s1",
		LocationID:   "park",
		DecibelLevel: -float64(i),
	}
}

func TestQueue(t *testing.T) {
	t.Run("fifo_order", func(t *testing.T) {
		q := NewQueue(5)
		for i := 0; i < 3; i++ {
			assert.False(t, q.Append(record(i)))
		}
		assert.Equal(t, 3, q.Len())

		records := q.Drain()
		require.Len(t, records, 3)
		for i, r := range records {
			assert.Equal(t, record(i).Timestamp, r.Timestamp)
		}
		assert.Equal(t, 0, q.Len())
	})

	t.Run("evicts_oldest_when_full", func(t *testing.T) {
		q := NewQueue(3)
		for i := 0; i < 5; i++ {
			q.Append(record(i))
		}
		assert.Equal(t, 3, q.Len())
		assert.Equal(t, int64(2), q.Dropped())
		assert.Equal(t, int64(5), q.Appended())

		records := q.Drain()
		require.Len(t, records, 3)
		assert.Equal(t, record(2).Timestamp, records[0].Timestamp)
		assert.Equal(t, record(4).Timestamp, records[2].Timestamp)
	})

	t.Run("snapshot_does_not_remove", func(t *testing.T) {
		q := NewQueue(4)
		q.Append(record(0))
		q.Append(record(1))

		records, upTo := q.Snapshot()
		assert.Len(t, records, 2)
		assert.Equal(t, 2, q.Len())
		assert.Equal(t, int64(2), upTo)
	})

	t.Run("commit_keeps_later_appends", func(t *testing.T) {
		q := NewQueue(4)
		q.Append(record(0))
		q.Append(record(1))
		_, upTo := q.Snapshot()

		q.Append(record(2))
		assert.Equal(t, 2, q.Commit(upTo))

		records := q.Drain()
		require.Len(t, records, 1)
		assert.Equal(t, record(2).Timestamp, records[0].Timestamp)
	})

	t.Run("commit_after_eviction", func(t *testing.T) {
		q := NewQueue(2)
		q.Append(record(0))
		q.Append(record(1))
		_, upTo := q.Snapshot()

		// Evicts record 0 and 1 while the snapshot is in flight
		q.Append(record(2))
		q.Append(record(3))

		assert.Equal(t, 0, q.Commit(upTo))
		assert.Equal(t, 2, q.Len())
		assert.Equal(t, int64(2), q.Dropped())
	})

	t.Run("default_capacity", func(t *testing.T) {
		assert.Equal(t, DefaultCapacity, NewQueue(0).Cap())
	})

	t.Run("concurrent_append", func(t *testing.T) {
		q := NewQueue(100)
		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					q.Append(record(i))
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(200), q.Appended())
		assert.Equal(t, 100, q.Len())
		assert.Equal(t, int64(100), q.Dropped())
	})
}
