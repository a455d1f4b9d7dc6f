package database

import (
	"context"
	"fmt"
	"time"

	"soundscape-monitor/internal/models"
)

// Store persists sensors and their feature records.
type Store interface {
	// InitSchema creates tables and rollup views if they do not exist.
	InitSchema(ctx context.Context) error
	// UpsertSensor registers a sensor. Repeating it with the same id is harmless.
	UpsertSensor(ctx context.Context, sensor *models.Sensor) error
	// InsertFeatures writes records in one batch, all or nothing.
	InsertFeatures(ctx context.Context, records []models.FeatureRecord) error
	// MinuteRollups returns per-minute aggregates for a sensor in [from, to).
	MinuteRollups(ctx context.Context, sensorID string, from, to time.Time) ([]models.Rollup, error)
	Close() error
}

// Driver names accepted by Open.
const (
	DriverClickHouse = "clickhouse"
	DriverDuckDB     = "duckdb"
)

// Options selects and configures a storage backend.
type Options struct {
	Driver string

	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string

	DuckDBPath string // Empty means in-memory
}

// Open connects to the configured backend and bootstraps its schema.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		store Store
		err   error
	)
	switch opts.Driver {
	case DriverClickHouse:
		store, err = NewClickHouseStore(ctx, opts.ClickHouseAddr, opts.ClickHouseDatabase, opts.ClickHouseUser, opts.ClickHousePassword)
	case DriverDuckDB:
		store, err = NewDuckDBStore(ctx, opts.DuckDBPath)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := store.InitSchema(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// rollupFromSums builds a Rollup from summed columns.
func rollupFromSums(bucket time.Time, sensorID, locationID string, count uint64, dbSum, dbMin, dbMax float64, bandSums map[string]float64) models.Rollup {
	r := models.Rollup{
		Bucket:     bucket.UTC(),
		SensorID:   sensorID,
		LocationID: locationID,
		Count:      count,
		MinDecibel: dbMin,
		MaxDecibel: dbMax,
	}
	if count == 0 {
		return r
	}
	r.AvgDecibel = dbSum / float64(count)
	for _, def := range models.BandDefinitions() {
		r.AvgBands[def.Band] = bandSums[def.Name] / float64(count)
	}
	return r
}
