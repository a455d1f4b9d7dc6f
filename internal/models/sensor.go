package models

import "time"

// Sensor represents a registered sound sensor
type Sensor struct {
	SensorID    string    `json:"sensor_id"`
	LocationID  string    `json:"location_id"`
	Description string    `json:"description"`
	InstalledAt time.Time `json:"installed_at"`
}

// FeatureRecord is the per-slice feature row persisted to storage.
// Records are built once by the features package and passed by value afterwards.
type FeatureRecord struct {
	Timestamp      time.Time  `json:"timestamp"` // Slice start, UTC
	SensorID       string     `json:"sensor_id"`
	LocationID     string     `json:"location_id"`
	DecibelLevel   float64    `json:"decibel_level"`
	FrequencyBands BandLevels `json:"frequency_bands"`
}

// Rollup is one minute-level aggregate as materialized by the store
type Rollup struct {
	Bucket     time.Time  `json:"bucket"`
	SensorID   string     `json:"sensor_id"`
	LocationID string     `json:"location_id"`
	Count      uint64     `json:"count"`
	AvgDecibel float64    `json:"avg_decibel"`
	MinDecibel float64    `json:"min_decibel"`
	MaxDecibel float64    `json:"max_decibel"`
	AvgBands   BandLevels `json:"avg_bands"`
}

// LevelSummary describes the sound levels observed over one reporting window.
// L10/L50/L90 are the levels exceeded 10%, 50% and 90% of the time.
type LevelSummary struct {
	SensorID    string    `json:"sensor_id"`
	LocationID  string    `json:"location_id"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Slices      int64     `json:"slices"`
	Leq         float64   `json:"leq"`
	Lmin        float64   `json:"lmin"`
	Lmax        float64   `json:"lmax"`
	L10         float64   `json:"l10"`
	L50         float64   `json:"l50"`
	L90         float64   `json:"l90"`
	Dropped     int64     `json:"dropped"`   // Records evicted by backpressure since the previous summary
	Malformed   int64     `json:"malformed"` // Slices skipped as malformed
	Padded      int64     `json:"padded"`    // Slices padded after a capture underrun
}
