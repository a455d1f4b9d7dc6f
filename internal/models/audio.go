package models

import "time"

// Slice is one fixed-duration window of mono samples, the unit of feature extraction.
// Slices are consumed by the feature extractors and discarded; they are never stored.
type Slice struct {
	Index      int64         // Position in the stream, starting at 0
	Start      time.Time     // Origin + Index*Duration, UTC
	Duration   time.Duration // Nominal slice duration
	SampleRate int           // Hz
	Samples    []float64     // Normalized amplitudes, nominally [-1, 1]
	Padded     bool          // True if the capture source underran and zeros were appended
}

// End returns the start of the next slice.
func (s Slice) End() time.Time {
	return s.Start.Add(s.Duration)
}
