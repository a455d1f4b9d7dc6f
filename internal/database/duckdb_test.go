package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soundscape-monitor/internal/models"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := Open(context.Background(), Options{Driver: DriverDuckDB})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testSensor() *models.Sensor {
	return &models.Sensor{
		SensorID:    "a1b2c3d4",
		LocationID:  "park",
		Description: "Sensor at park",
		InstalledAt: time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC),
	}
}

func testRecord(start time.Time, i int, db float64) models.FeatureRecord {
	var bands models.BandLevels
	for b := range bands {
		bands[b] = float64(b + 1)
	}
	bands[models.Mid] = float64(i)
	return models.FeatureRecord{
		Timestamp:      start.Add(time.Duration(i) * 100 * time.Millisecond),
		SensorID:       "a1b2c3d4",
		LocationID:     "park",
		DecibelLevel:   db,
		FrequencyBands: bands,
	}
}

func TestDuckDBStore(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	t.Run("schema_is_idempotent", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.InitSchema(ctx))
		require.NoError(t, store.InitSchema(ctx))
	})

	t.Run("upsert_sensor_twice", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.UpsertSensor(ctx, testSensor()))
		require.NoError(t, store.UpsertSensor(ctx, testSensor()))

		updated := testSensor()
		updated.Description = "north gate"
		require.NoError(t, store.UpsertSensor(ctx, updated))

		var desc string
		row := store.(*DuckDBStore).db.QueryRowContext(ctx,
			"SELECT description FROM sound_sensors WHERE sensor_id = ?", updated.SensorID)
		require.NoError(t, row.Scan(&desc))
		assert.Equal(t, "north gate", desc)
	})

	t.Run("rejects_unknown_sensor", func(t *testing.T) {
		store := newTestStore(t)
		err := store.InsertFeatures(ctx, []models.FeatureRecord{testRecord(start, 0, -20)})
		assert.Error(t, err)
	})

	t.Run("batch_is_all_or_nothing", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.UpsertSensor(ctx, testSensor()))

		bad := testRecord(start, 1, -20)
		bad.SensorID = "unknown"
		err := store.InsertFeatures(ctx, []models.FeatureRecord{testRecord(start, 0, -20), bad})
		require.Error(t, err)

		var n int
		row := store.(*DuckDBStore).db.QueryRowContext(ctx, "SELECT count(*) FROM sound_metrics")
		require.NoError(t, row.Scan(&n))
		assert.Equal(t, 0, n)
	})

	t.Run("retry_does_not_duplicate", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.UpsertSensor(ctx, testSensor()))

		batch := []models.FeatureRecord{testRecord(start, 0, -20), testRecord(start, 1, -20)}
		require.NoError(t, store.InsertFeatures(ctx, batch))
		require.NoError(t, store.InsertFeatures(ctx, batch))

		var n int
		row := store.(*DuckDBStore).db.QueryRowContext(ctx, "SELECT count(*) FROM sound_metrics")
		require.NoError(t, row.Scan(&n))
		assert.Equal(t, 2, n)
	})

	t.Run("minute_rollups", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.UpsertSensor(ctx, testSensor()))

		// 600 slices in minute 0, 300 in minute 1
		var records []models.FeatureRecord
		for i := 0; i < 900; i++ {
			db := -30.0
			if i%2 == 1 {
				db = -10.0
			}
			records = append(records, testRecord(start, i%600, db))
			if i >= 600 {
				records[i].Timestamp = start.Add(time.Minute + time.Duration(i-600)*100*time.Millisecond)
			}
		}
		require.NoError(t, store.InsertFeatures(ctx, records))

		rollups, err := store.MinuteRollups(ctx, "a1b2c3d4", start, start.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, rollups, 2)

		first := rollups[0]
		assert.True(t, start.Equal(first.Bucket))
		assert.Equal(t, uint64(600), first.Count)
		assert.InDelta(t, -20.0, first.AvgDecibel, 1e-9)
		assert.Equal(t, -30.0, first.MinDecibel)
		assert.Equal(t, -10.0, first.MaxDecibel)
		assert.InDelta(t, 1.0, first.AvgBands[models.SubBass], 1e-9)
		assert.InDelta(t, 299.5, first.AvgBands[models.Mid], 1e-9)

		assert.True(t, start.Add(time.Minute).Equal(rollups[1].Bucket))
		assert.Equal(t, uint64(300), rollups[1].Count)

		none, err := store.MinuteRollups(ctx, "other", start, start.Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("persists_to_file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "soundscape.duckdb")

		store, err := Open(ctx, Options{Driver: DriverDuckDB, DuckDBPath: path})
		require.NoError(t, err)
		require.NoError(t, store.UpsertSensor(ctx, testSensor()))
		require.NoError(t, store.InsertFeatures(ctx, []models.FeatureRecord{testRecord(start, 0, -20)}))
		require.NoError(t, store.Close())

		store, err = Open(ctx, Options{Driver: DriverDuckDB, DuckDBPath: path})
		require.NoError(t, err)
		defer store.Close()

		rollups, err := store.MinuteRollups(ctx, "a1b2c3d4", start, start.Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, rollups, 1)
		assert.Equal(t, uint64(1), rollups[0].Count)
	})
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "postgres"})
	assert.ErrorContains(t, err, "unknown storage driver")
}

func TestClickHouseTables(t *testing.T) {
	tables := ClickHouseTables()
	require.Len(t, tables, 4)
	assert.Contains(t, tables[0], "ReplacingMergeTree")
	assert.Contains(t, tables[1], "Map(String, Float64)")
	assert.Contains(t, tables[3], "TO sound_metrics_1m")
}

func TestDuckRollupView(t *testing.T) {
	sql := duckRollupViewSQL()
	for _, def := range models.BandDefinitions() {
		assert.Contains(t, sql, def.Name+"_sum")
	}
}
