package features

import (
	"math"
)

// DecibelConfig holds configuration for loudness estimation
type DecibelConfig struct {
	Reference float64 // Amplitude that maps to 0 dB (1.0 = full scale for normalized samples)
	Floor     float64 // Level reported for silence; lower levels are clamped to it
}

// DefaultDecibelFloor approximates the dynamic range of 16-bit audio.
const DefaultDecibelFloor = -96.0

// DefaultDecibelConfig returns default loudness configuration
func DefaultDecibelConfig() DecibelConfig {
	return DecibelConfig{
		Reference: 1.0,
		Floor:     DefaultDecibelFloor,
	}
}

// DecibelEstimator converts a slice of samples into a single dB level.
type DecibelEstimator struct {
	config DecibelConfig
}

// NewDecibelEstimator creates an estimator. A non-positive reference falls back to 1.0.
func NewDecibelEstimator(config DecibelConfig) *DecibelEstimator {
	if config.Reference <= 0 {
		config.Reference = 1.0
	}
	return &DecibelEstimator{config: config}
}

// Level returns 20*log10(rms/reference), or the floor for silent input.
// Non-finite samples yield a non-finite level, which the record builder rejects.
func (e *DecibelEstimator) Level(samples []float64) float64 {
	return calculateDecibels(calculateRMS(samples), e.config.Reference, e.config.Floor)
}

// Floor returns the configured silence level.
func (e *DecibelEstimator) Floor() float64 {
	return e.config.Floor
}

// calculateRMS returns the root-mean-square amplitude of samples.
func calculateRMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSquares float64
	for _, s := range samples {
		sumSquares += s * s
	}
	return math.Sqrt(sumSquares / float64(len(samples)))
}

// calculateDecibels converts RMS value to decibels
// Formula: dB = 20 * log10(RMS / reference)
func calculateDecibels(rms, reference, floor float64) float64 {
	if rms == 0 {
		return floor
	}
	db := 20.0 * math.Log10(rms/reference)
	if db < floor {
		return floor
	}
	return db
}
