// Package slicer cuts a continuous sample stream into fixed-duration slices.
//
// Slice i starts at origin + i*duration, computed from the index rather than
// accumulated, so timestamps do not drift however long the stream runs. The
// origin is truncated to a multiple of the duration, which aligns slices with
// wall-clock deciseconds at the default duration.
//
// The sample count per slice is round(sampleRate * duration.Seconds()). At
// 44100 Hz and 100 ms that is exactly 4410 samples.
//
// When the source underruns, the slice is zero-padded and flagged as Padded
// so the decisecond cadence is preserved.
package slicer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"soundscape-monitor/internal/capture"
	"soundscape-monitor/internal/models"
)

// DefaultDuration is the standard slice length.
const DefaultDuration = 100 * time.Millisecond

// Slicer produces consecutive slices from a Source. It is not safe for
// concurrent use; recreate it to restart a stream.
type Slicer struct {
	src      capture.Source
	duration time.Duration
	size     int
	origin   time.Time
	index    int64
	ended    bool
}

// SampleCount returns the number of samples in one slice.
func SampleCount(sampleRate int, duration time.Duration) int {
	return int(math.Round(float64(sampleRate) * duration.Seconds()))
}

// New creates a Slicer over src. A zero origin means now.
func New(src capture.Source, duration time.Duration, origin time.Time) (*Slicer, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("invalid slice duration %s", duration)
	}
	size := SampleCount(src.SampleRate(), duration)
	if size < 1 {
		return nil, fmt.Errorf("slice of %s at %d Hz holds no samples", duration, src.SampleRate())
	}
	if origin.IsZero() {
		origin = time.Now()
	}
	return &Slicer{
		src:      src,
		duration: duration,
		size:     size,
		origin:   origin.UTC().Truncate(duration),
	}, nil
}

// Size returns the number of samples per slice.
func (s *Slicer) Size() int { return s.size }

// Origin returns the start time of slice 0.
func (s *Slicer) Origin() time.Time { return s.origin }

// Next blocks until the next slice is available.
//
// It returns capture.ErrEndOfStream once a finite source is exhausted, the
// context error on cancellation, and an error wrapping capture.ErrCaptureFailure
// for anything else the source reports.
func (s *Slicer) Next(ctx context.Context) (models.Slice, error) {
	if s.ended {
		return models.Slice{}, capture.ErrEndOfStream
	}

	samples := make([]float64, s.size)
	n, err := s.src.Read(ctx, samples)
	if n > s.size {
		n = s.size
	}

	switch {
	case err == nil, errors.Is(err, capture.ErrUnderrun):
	case errors.Is(err, capture.ErrEndOfStream):
		s.ended = true
		if n == 0 {
			return models.Slice{}, capture.ErrEndOfStream
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return models.Slice{}, err
	case errors.Is(err, capture.ErrCaptureFailure):
		return models.Slice{}, err
	default:
		return models.Slice{}, fmt.Errorf("%w: %v", capture.ErrCaptureFailure, err)
	}

	padded := n < s.size
	for i := n; i < s.size; i++ {
		samples[i] = 0
	}

	slice := models.Slice{
		Index:      s.index,
		Start:      s.origin.Add(time.Duration(s.index) * s.duration),
		Duration:   s.duration,
		SampleRate: s.src.SampleRate(),
		Samples:    samples,
		Padded:     padded,
	}
	s.index++
	return slice, nil
}
