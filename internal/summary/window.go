// Package summary computes statistical noise levels over a reporting window.
//
// Leq is the energy-equivalent level, 10·log10 of the mean of 10^(L/10).
// L10, L50 and L90 are the levels exceeded 10%, 50% and 90% of the time,
// i.e. the 90th, 50th and 10th percentiles of the slice levels. Percentiles
// come from a DDSketch with 1% relative accuracy, so memory stays bounded
// however long the window is.
package summary

import (
	"fmt"
	"math"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"soundscape-monitor/internal/models"
)

// RelativeAccuracy of the percentile sketch.
const RelativeAccuracy = 0.01

// Window accumulates slice levels for one sensor. It is not safe for
// concurrent use.
type Window struct {
	sensorID   string
	locationID string
	start      time.Time

	count  int64
	energy float64
	min    float64
	max    float64
	sketch *ddsketch.DDSketch

	malformed int64
	padded    int64
}

// NewWindow creates an empty window starting at start.
func NewWindow(sensorID, locationID string, start time.Time) (*Window, error) {
	sketch, err := ddsketch.NewDefaultDDSketch(RelativeAccuracy)
	if err != nil {
		return nil, fmt.Errorf("create sketch: %w", err)
	}
	return &Window{
		sensorID:   sensorID,
		locationID: locationID,
		start:      start.UTC(),
		min:        math.MaxFloat64,
		max:        -math.MaxFloat64,
		sketch:     sketch,
	}, nil
}

// Add records one slice level in dB.
func (w *Window) Add(level float64) {
	if math.IsNaN(level) || math.IsInf(level, 0) {
		return
	}
	if err := w.sketch.Add(level); err != nil {
		return
	}

	w.count++
	w.energy += math.Pow(10, level/10)
	if level < w.min {
		w.min = level
	}
	if level > w.max {
		w.max = level
	}
}

// AddMalformed counts a slice skipped as malformed.
func (w *Window) AddMalformed() { w.malformed++ }

// AddPadded counts a slice padded after an underrun.
func (w *Window) AddPadded() { w.padded++ }

// Empty reports whether nothing at all was recorded.
func (w *Window) Empty() bool {
	return w.count == 0 && w.malformed == 0 && w.padded == 0
}

// Count returns the number of levels added.
func (w *Window) Count() int64 { return w.count }

// Start returns the window start.
func (w *Window) Start() time.Time { return w.start }

// Summary closes the window at end. dropped is the number of records evicted
// by backpressure during the window. Level fields are zero for an empty window.
func (w *Window) Summary(end time.Time, dropped int64) models.LevelSummary {
	s := models.LevelSummary{
		SensorID:    w.sensorID,
		LocationID:  w.locationID,
		WindowStart: w.start,
		WindowEnd:   end.UTC(),
		Slices:      w.count,
		Dropped:     dropped,
		Malformed:   w.malformed,
		Padded:      w.padded,
	}
	if w.count == 0 {
		return s
	}

	s.Leq = 10 * math.Log10(w.energy/float64(w.count))
	s.Lmin = w.min
	s.Lmax = w.max
	s.L10 = w.quantile(0.90)
	s.L50 = w.quantile(0.50)
	s.L90 = w.quantile(0.10)
	return s
}

// Reset empties the window and moves its start.
func (w *Window) Reset(start time.Time) {
	w.start = start.UTC()
	w.count = 0
	w.energy = 0
	w.min = math.MaxFloat64
	w.max = -math.MaxFloat64
	w.malformed = 0
	w.padded = 0

	// Fresh sketch with the same mapping
	if sketch, err := ddsketch.NewDefaultDDSketch(RelativeAccuracy); err == nil {
		w.sketch = sketch
	}
}

// quantile clamps the sketch estimate to the observed range.
func (w *Window) quantile(q float64) float64 {
	v, err := w.sketch.GetValueAtQuantile(q)
	if err != nil {
		return math.NaN()
	}
	return math.Max(w.min, math.Min(w.max, v))
}
