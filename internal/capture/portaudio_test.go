package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStream fills the shared buffer with the read number on every Read.
type fakeStream struct {
	buffer []float32
	errs   []error // Result of each Read, nil past the end
	avail  int
	reads  int
}

func (f *fakeStream) Read() error {
	f.reads++
	for i := range f.buffer {
		f.buffer[i] = float32(f.reads)
	}
	if f.reads <= len(f.errs) {
		return f.errs[f.reads-1]
	}
	return nil
}

func (f *fakeStream) AvailableToRead() (int, error) { return f.avail, nil }
func (f *fakeStream) Stop() error { return nil }
func (f *fakeStream) Close() error { return nil }

func newFakeSource(stream *fakeStream) *PortAudioSource {
	stream.buffer = make([]float32, 4)
	if stream.avail == 0 {
		stream.avail = len(stream.buffer)
	}
	src := newPortAudioSource(stream, stream.buffer, 8000, "fake")
	src.stallTimeout = 20 * time.Millisecond
	return src
}

func TestPortAudioSource_Read(t *testing.T) {
	t.Run("fills_across_device_buffers", func(t *testing.T) {
		src := newFakeSource(&fakeStream{})
		buf := make([]float64, 6)

		n, err := src.Read(context.Background(), buf)
		require.NoError(t, err)
		assert.Equal(t, 6, n)
		assert.Equal(t, []float64{1, 1, 1, 1, 2, 2}, buf)

		n, err = src.Read(context.Background(), buf)
		require.NoError(t, err)
		assert.Equal(t, 6, n)
		assert.Equal(t, []float64{2, 2, 3, 3, 3, 3}, buf)
	})

	t.Run("overflow_returns_underrun", func(t *testing.T) {
		src := newFakeSource(&fakeStream{errs: []error{nil, portaudio.InputOverflowed}})
		buf := make([]float64, 8)

		n, err := src.Read(context.Background(), buf)
		assert.ErrorIs(t, err, ErrUnderrun)
		assert.Equal(t, 4, n)
		assert.Equal(t, []float64{1, 1, 1, 1}, buf[:4])

		// Samples read with the overflow start the next slice
		n, err = src.Read(context.Background(), buf)
		require.NoError(t, err)
		assert.Equal(t, 8, n)
		assert.Equal(t, []float64{2, 2, 2, 2, 3, 3, 3, 3}, buf)
	})

	t.Run("overflow_at_slice_start", func(t *testing.T) {
		src := newFakeSource(&fakeStream{errs: []error{portaudio.InputOverflowed}})
		n, err := src.Read(context.Background(), make([]float64, 4))
		assert.ErrorIs(t, err, ErrUnderrun)
		assert.Equal(t, 0, n)
	})

	t.Run("device_error_is_capture_failure", func(t *testing.T) {
		src := newFakeSource(&fakeStream{errs: []error{errors.New("device unplugged")}})
		_, err := src.Read(context.Background(), make([]float64, 4))
		assert.ErrorIs(t, err, ErrCaptureFailure)
	})

	t.Run("stalled_device_fails", func(t *testing.T) {
		stream := &fakeStream{avail: 1}
		src := newFakeSource(stream)

		start := time.Now()
		_, err := src.Read(context.Background(), make([]float64, 4))
		assert.ErrorIs(t, err, ErrCaptureFailure)
		assert.ErrorContains(t, err, "no input")
		assert.Less(t, time.Since(start), time.Second)
		assert.Equal(t, 0, stream.reads)
	})

	t.Run("cancel_while_waiting", func(t *testing.T) {
		src := newFakeSource(&fakeStream{avail: 1})
		src.stallTimeout = time.Minute

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := src.Read(ctx, make([]float64, 4))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestNewPortAudioSourceTimings(t *testing.T) {
	// 4410 frames at 44.1 kHz is 100 ms per device read
	src := newPortAudioSource(&fakeStream{}, make([]float32, 4410), 44100, "fake")
	assert.Equal(t, time.Second, src.stallTimeout)
	assert.Equal(t, 25*time.Millisecond, src.pollInterval)
}
