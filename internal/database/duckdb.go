package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"soundscape-monitor/internal/logging"
	"soundscape-monitor/internal/models"
)

// DuckDBStore is an embedded Store for single-node deployments and tests.
// Unlike ClickHouse it enforces the sensor foreign key.
type DuckDBStore struct {
	db   *sql.DB
	path string
}

// NewDuckDBStore opens the database file at path, or an in-memory database if path is empty.
func NewDuckDBStore(ctx context.Context, path string) (*DuckDBStore, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	name := path
	if name == "" {
		name = ":memory:"
	}
	logging.Component("database").WithField("path", name).Info("Opened DuckDB")

	return &DuckDBStore{db: db, path: path}, nil
}

// InitSchema creates the tables and the rollup view.
func (s *DuckDBStore) InitSchema(ctx context.Context) error {
	for _, stmt := range DuckDBTables() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	logging.Component("database").Info("DuckDB schema initialized")
	return nil
}

// UpsertSensor inserts a sensor, or updates its location and description
// when they changed. The key and installation time are never rewritten.
func (s *DuckDBStore) UpsertSensor(ctx context.Context, sensor *models.Sensor) error {
	return s.transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sound_sensors (sensor_id, location_id, description, installed_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (sensor_id) DO NOTHING
		`, sensor.SensorID, sensor.LocationID, sensor.Description, sensor.InstalledAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert sensor: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE sound_sensors SET location_id = ?, description = ?
			WHERE sensor_id = ? AND (location_id <> ? OR description <> ?)
		`, sensor.LocationID, sensor.Description, sensor.SensorID, sensor.LocationID, sensor.Description)
		if err != nil {
			return fmt.Errorf("failed to update sensor: %w", err)
		}
		return nil
	})
}

// InsertFeatures writes records in a single transaction. Rows already stored
// for the same (time, sensor) are skipped so a retried batch is harmless.
func (s *DuckDBStore) InsertFeatures(ctx context.Context, records []models.FeatureRecord) error {
	if len(records) == 0 {
		return nil
	}

	return s.transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO sound_metrics (time, sensor_id, location_id, decibel_level, frequency_bands)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for i := range records {
			rec := &records[i]
			bands, err := json.Marshal(rec.FrequencyBands)
			if err != nil {
				return fmt.Errorf("failed to encode bands: %w", err)
			}
			if _, err := stmt.ExecContext(ctx,
				rec.Timestamp.UTC(),
				rec.SensorID,
				rec.LocationID,
				rec.DecibelLevel,
				string(bands),
			); err != nil {
				return fmt.Errorf("failed to insert record %d of %d: %w", i+1, len(records), err)
			}
		}
		return nil
	})
}

// MinuteRollups reads the sound_metrics_1m view.
func (s *DuckDBStore) MinuteRollups(ctx context.Context, sensorID string, from, to time.Time) ([]models.Rollup, error) {
	defs := models.BandDefinitions()
	cols := make([]string, len(defs))
	for i, def := range defs {
		cols[i] = def.Name + "_sum"
	}

	query := fmt.Sprintf(`
		SELECT bucket, sensor_id, location_id, samples, decibel_sum, decibel_min, decibel_max, %s
		FROM sound_metrics_1m
		WHERE sensor_id = ? AND bucket >= ? AND bucket < ?
		ORDER BY bucket, location_id
	`, strings.Join(cols, ", "))

	rows, err := s.db.QueryContext(ctx, query, sensorID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query rollups: %w", err)
	}
	defer rows.Close()

	var rollups []models.Rollup
	for rows.Next() {
		var (
			bucket              time.Time
			sensor, location    string
			count               int64
			dbSum, dbMin, dbMax float64
		)
		sums := make([]float64, len(defs))
		dest := []any{&bucket, &sensor, &location, &count, &dbSum, &dbMin, &dbMax}
		for i := range sums {
			dest = append(dest, &sums[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan rollup: %w", err)
		}

		bandSums := make(map[string]float64, len(defs))
		for i, def := range defs {
			bandSums[def.Name] = sums[i]
		}
		rollups = append(rollups, rollupFromSums(bucket, sensor, location, uint64(count), dbSum, dbMin, dbMax, bandSums))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rollups: %w", err)
	}
	return rollups, nil
}

// Close closes the database.
func (s *DuckDBStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close DuckDB: %w", err)
	}
	return nil
}

func (s *DuckDBStore) transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
