package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"soundscape-monitor/internal/logging"
	"soundscape-monitor/internal/models"
)

// ClickHouseStore is the production Store backed by ClickHouse.
type ClickHouseStore struct {
	conn driver.Conn
}

// NewClickHouseStore creates a new ClickHouse database connection
func NewClickHouseStore(ctx context.Context, addr, database, username, password string) (*ClickHouseStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	logging.Component("database").WithField("addr", addr).Info("Connected to ClickHouse")
	return &ClickHouseStore{conn: conn}, nil
}

// InitSchema creates the necessary tables if they don't exist
func (db *ClickHouseStore) InitSchema(ctx context.Context) error {
	for _, tableSQL := range ClickHouseTables() {
		if err := db.conn.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	logging.Component("database").Info("ClickHouse schema initialized")
	return nil
}

// UpsertSensor inserts or replaces a sensor in the registry
func (db *ClickHouseStore) UpsertSensor(ctx context.Context, sensor *models.Sensor) error {
	query := `
		INSERT INTO sound_sensors (sensor_id, location_id, description, installed_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		sensor.SensorID,
		sensor.LocationID,
		sensor.Description,
		sensor.InstalledAt.UTC(),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sensor: %w", err)
	}

	return nil
}

// InsertFeatures sends all records as one native batch
func (db *ClickHouseStore) InsertFeatures(ctx context.Context, records []models.FeatureRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := db.conn.PrepareBatch(ctx, "INSERT INTO sound_metrics (time, sensor_id, location_id, decibel_level, frequency_bands)")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for i := range records {
		rec := &records[i]
		if err := batch.Append(
			rec.Timestamp.UTC(),
			rec.SensorID,
			rec.LocationID,
			rec.DecibelLevel,
			rec.FrequencyBands.Map(),
		); err != nil {
			batch.Abort()
			return fmt.Errorf("failed to append record: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch of %d records: %w", len(records), err)
	}
	return nil
}

// MinuteRollups merges the partial aggregates of sound_metrics_1m
func (db *ClickHouseStore) MinuteRollups(ctx context.Context, sensorID string, from, to time.Time) ([]models.Rollup, error) {
	query := `
		SELECT
			bucket,
			sensor_id,
			location_id,
			sum(samples),
			sum(decibel_sum),
			min(decibel_min),
			max(decibel_max),
			sumMapMerge(band_sums)
		FROM sound_metrics_1m
		WHERE sensor_id = ? AND bucket >= ? AND bucket < ?
		GROUP BY bucket, sensor_id, location_id
		ORDER BY bucket
	`

	rows, err := db.conn.Query(ctx, query, sensorID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query rollups: %w", err)
	}
	defer rows.Close()

	var rollups []models.Rollup
	for rows.Next() {
		var (
			bucket              time.Time
			sensor, location    string
			count               uint64
			dbSum, dbMin, dbMax float64
			bandSums            map[string]float64
		)
		if err := rows.Scan(&bucket, &sensor, &location, &count, &dbSum, &dbMin, &dbMax, &bandSums); err != nil {
			return nil, fmt.Errorf("failed to scan rollup: %w", err)
		}
		rollups = append(rollups, rollupFromSums(bucket, sensor, location, count, dbSum, dbMin, dbMax, bandSums))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rollups: %w", err)
	}

	return rollups, nil
}

// Close closes the ClickHouse connection
func (db *ClickHouseStore) Close() error {
	if db.conn != nil {
		if err := db.conn.Close(); err != nil {
			return fmt.Errorf("failed to close ClickHouse connection: %w", err)
		}
		logging.Component("database").Info("ClickHouse connection closed")
	}
	return nil
}
