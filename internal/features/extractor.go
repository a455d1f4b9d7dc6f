// Package features turns audio slices into feature records: a loudness level
// and the energy distribution over seven frequency bands.
package features

import (
	"fmt"

	"soundscape-monitor/internal/models"
)

// Extractor runs the decibel estimator and band analyzer over a slice and
// builds the resulting record for one sensor.
type Extractor struct {
	SensorID   string
	LocationID string

	decibels *DecibelEstimator
	bands    *BandAnalyzer
}

// NewExtractor creates an extractor for slices of size samples at sampleRate.
func NewExtractor(sensorID, locationID string, sampleRate, size int, config DecibelConfig) (*Extractor, error) {
	analyzer, err := NewBandAnalyzer(sampleRate, size)
	if err != nil {
		return nil, err
	}
	return &Extractor{
		SensorID:   sensorID,
		LocationID: locationID,
		decibels:   NewDecibelEstimator(config),
		bands:      analyzer,
	}, nil
}

// Extract computes the features of one slice. Errors wrap ErrMalformedRecord.
func (e *Extractor) Extract(slice models.Slice) (models.FeatureRecord, error) {
	level := e.decibels.Level(slice.Samples)

	bands, err := e.bands.Analyze(slice.Samples)
	if err != nil {
		return models.FeatureRecord{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	return BuildRecord(slice.Start, e.SensorID, e.LocationID, level, bands)
}
