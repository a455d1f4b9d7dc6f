package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soundscape-monitor/internal/archive"
	"soundscape-monitor/internal/ingestion"
	"soundscape-monitor/internal/models"
)

type spoolStore struct {
	mu      sync.Mutex
	down    bool
	records []models.FeatureRecord
}

func (s *spoolStore) UpsertSensor(ctx context.Context, sensor *models.Sensor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return errors.New("connection refused")
	}
	return nil
}

func (s *spoolStore) InsertFeatures(ctx context.Context, records []models.FeatureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return errors.New("connection refused")
	}
	s.records = append(s.records, records...)
	return nil
}

func spilledRecords(n int) []models.FeatureRecord {
	start := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	records := make([]models.FeatureRecord, n)
	for i := range records {
		records[i] = models.FeatureRecord{
			Timestamp:    start.Add(time.Duration(i) * 100 * time.Millisecond),
			SensorID:     "a1b2c3d4",
			LocationID:   "park",
			DecibelLevel: -30,
		}
	}
	return records
}

func TestAttachSpool(t *testing.T) {
	cfg := ingestion.Config{Capacity: 20, FlushThreshold: 10}

	t.Run("storage_down_keeps_backlog_on_disk", func(t *testing.T) {
		dir := t.TempDir()
		spool, err := archive.NewSpool(dir)
		require.NoError(t, err)
		_, err = spool.Spill(spilledRecords(50))
		require.NoError(t, err)

		store := &spoolStore{down: true}
		ingest := ingestion.NewService(store, cfg)
		require.NoError(t, attachSpool(context.Background(), dir, ingest))

		assert.Equal(t, 0, ingest.Len())
		assert.Equal(t, int64(0), ingest.Stats().Dropped)

		pending, err := spool.Pending()
		require.NoError(t, err)
		require.Len(t, pending, 1)
		kept, err := archive.ReadFile(pending[0])
		require.NoError(t, err)
		assert.Len(t, kept, 50)

		// Next start with storage back
		store.down = false
		ingest = ingestion.NewService(store, cfg)
		require.NoError(t, attachSpool(context.Background(), dir, ingest))

		assert.Len(t, store.records, 50)
		assert.Equal(t, int64(0), ingest.Stats().Dropped)
		pending, err = spool.Pending()
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("final_flush_spills_into_dir", func(t *testing.T) {
		dir := t.TempDir()
		store := &spoolStore{down: true}
		ingest := ingestion.NewService(store, cfg)
		require.NoError(t, attachSpool(context.Background(), dir, ingest))

		for _, rec := range spilledRecords(5) {
			ingest.Append(rec)
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.NoError(t, ingest.Run(ctx))

		spool, err := archive.NewSpool(dir)
		require.NoError(t, err)
		pending, err := spool.Pending()
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})
}
