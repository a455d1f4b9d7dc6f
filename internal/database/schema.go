package database

import (
	"fmt"
	"strings"

	"soundscape-monitor/internal/models"
)

// ClickHouse schemas

const (
	// SoundSensorsTableSQL creates the sensor registry. Re-inserting a sensor
	// replaces the previous row on merge.
	SoundSensorsTableSQL = `
		CREATE TABLE IF NOT EXISTS sound_sensors (
			sensor_id String,
			location_id String,
			description String,
			installed_at DateTime64(3, 'UTC'),
			updated_at DateTime64(3, 'UTC')
		) ENGINE = ReplacingMergeTree(updated_at)
		ORDER BY sensor_id
	`

	// SoundMetricsTableSQL creates the per-slice feature table
	SoundMetricsTableSQL = `
		CREATE TABLE IF NOT EXISTS sound_metrics (
			time DateTime64(3, 'UTC'),
			sensor_id String,
			location_id String,
			decibel_level Float64,
			frequency_bands Map(String, Float64)
		) ENGINE = MergeTree()
		PARTITION BY toDate(time)
		ORDER BY (sensor_id, time)
	`

	// SoundMetrics1mTableSQL holds minute rollups as partial aggregates
	SoundMetrics1mTableSQL = `
		CREATE TABLE IF NOT EXISTS sound_metrics_1m (
			bucket DateTime('UTC'),
			sensor_id String,
			location_id String,
			samples SimpleAggregateFunction(sum, UInt64),
			decibel_sum SimpleAggregateFunction(sum, Float64),
			decibel_min SimpleAggregateFunction(min, Float64),
			decibel_max SimpleAggregateFunction(max, Float64),
			band_sums AggregateFunction(sumMap, Map(String, Float64))
		) ENGINE = AggregatingMergeTree()
		PARTITION BY toYYYYMM(bucket)
		ORDER BY (sensor_id, location_id, bucket)
	`

	// SoundMetrics1mViewSQL feeds sound_metrics_1m on every insert into sound_metrics
	SoundMetrics1mViewSQL = `
		CREATE MATERIALIZED VIEW IF NOT EXISTS sound_metrics_1m_mv TO sound_metrics_1m AS
		SELECT
			toStartOfMinute(time) AS bucket,
			sensor_id,
			location_id,
			count() AS samples,
			sum(decibel_level) AS decibel_sum,
			min(decibel_level) AS decibel_min,
			max(decibel_level) AS decibel_max,
			sumMapState(frequency_bands) AS band_sums
		FROM sound_metrics
		GROUP BY bucket, sensor_id, location_id
	`
)

// ClickHouseTables returns the ClickHouse DDL in creation order.
func ClickHouseTables() []string {
	return []string{
		SoundSensorsTableSQL,
		SoundMetricsTableSQL,
		SoundMetrics1mTableSQL,
		SoundMetrics1mViewSQL,
	}
}

// DuckDB schemas

const (
	duckSensorsTableSQL = `
		CREATE TABLE IF NOT EXISTS sound_sensors (
			sensor_id VARCHAR PRIMARY KEY,
			location_id VARCHAR NOT NULL,
			description VARCHAR NOT NULL DEFAULT '',
			installed_at TIMESTAMP NOT NULL
		)
	`

	duckMetricsTableSQL = `
		CREATE TABLE IF NOT EXISTS sound_metrics (
			time TIMESTAMP NOT NULL,
			sensor_id VARCHAR NOT NULL REFERENCES sound_sensors (sensor_id),
			location_id VARCHAR NOT NULL,
			decibel_level DOUBLE NOT NULL,
			frequency_bands JSON NOT NULL,
			PRIMARY KEY (time, sensor_id)
		)
	`
)

// duckRollupViewSQL builds the minute rollup view with one averaged column per band.
func duckRollupViewSQL() string {
	var cols []string
	for _, def := range models.BandDefinitions() {
		cols = append(cols, fmt.Sprintf(
			"sum(CAST(frequency_bands->>'$.%s' AS DOUBLE)) AS %s_sum", def.Name, def.Name))
	}

	return fmt.Sprintf(`
		CREATE OR REPLACE VIEW sound_metrics_1m AS
		SELECT
			date_trunc('minute', time) AS bucket,
			sensor_id,
			location_id,
			count(*) AS samples,
			sum(decibel_level) AS decibel_sum,
			min(decibel_level) AS decibel_min,
			max(decibel_level) AS decibel_max,
			%s
		FROM sound_metrics
		GROUP BY ALL
	`, strings.Join(cols, ",\n\t\t\t"))
}

// DuckDBTables returns the DuckDB DDL in creation order.
func DuckDBTables() []string {
	return []string{
		duckSensorsTableSQL,
		duckMetricsTableSQL,
		duckRollupViewSQL(),
	}
}
