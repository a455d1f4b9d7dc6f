// Package capture provides the mono sample sources the monitor reads from.
package capture

import (
	"context"
	"errors"
)

var (
	// ErrCaptureFailure marks a fatal source error such as a disconnected device.
	ErrCaptureFailure = errors.New("capture failure")

	// ErrUnderrun reports that fewer samples than requested were available,
	// or that the device lost samples. The returned count is valid; the caller
	// decides how to fill the gap.
	ErrUnderrun = errors.New("capture underrun")

	// ErrEndOfStream reports that a finite source is exhausted.
	ErrEndOfStream = errors.New("end of stream")
)

// Source is a blocking reader of normalized mono samples at a fixed rate.
type Source interface {
	// SampleRate returns the fixed sampling rate in Hz.
	SampleRate() int

	// Read fills buf with the next samples and returns how many were written.
	// A short read is accompanied by ErrUnderrun or ErrEndOfStream. Live
	// sources block for at most a bounded time before failing.
	Read(ctx context.Context, buf []float64) (int, error)

	// Close releases the underlying device or file.
	Close() error
}
