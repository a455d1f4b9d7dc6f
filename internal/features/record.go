package features

import (
	"errors"
	"fmt"
	"math"
	"time"

	"soundscape-monitor/internal/models"
)

// ErrMalformedRecord marks a slice whose features cannot form a valid record.
// The slice is skipped; the stream continues.
var ErrMalformedRecord = errors.New("malformed feature record")

// BuildRecord combines one slice's features into a FeatureRecord.
// The band mapping must contain exactly the seven band keys with finite,
// non-negative values, and the decibel level must be finite.
func BuildRecord(start time.Time, sensorID, locationID string, decibel float64, bands map[string]float64) (models.FeatureRecord, error) {
	if start.IsZero() {
		return models.FeatureRecord{}, fmt.Errorf("%w: zero timestamp", ErrMalformedRecord)
	}
	if sensorID == "" {
		return models.FeatureRecord{}, fmt.Errorf("%w: empty sensor id", ErrMalformedRecord)
	}
	if math.IsNaN(decibel) || math.IsInf(decibel, 0) {
		return models.FeatureRecord{}, fmt.Errorf("%w: decibel level %v", ErrMalformedRecord, decibel)
	}

	levels, err := models.BandLevelsFromMap(bands)
	if err != nil {
		return models.FeatureRecord{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	for i, v := range levels {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return models.FeatureRecord{}, fmt.Errorf("%w: band %s = %v", ErrMalformedRecord, models.Band(i), v)
		}
	}

	return models.FeatureRecord{
		Timestamp:      start.UTC(),
		SensorID:       sensorID,
		LocationID:     locationID,
		DecibelLevel:   decibel,
		FrequencyBands: levels,
	}, nil
}
