package capture

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToneSource(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects_frequency_above_nyquist", func(t *testing.T) {
		_, err := NewToneSource(30000, 0.5, 44100)
		assert.Error(t, err)
	})

	t.Run("phase_is_continuous_across_reads", func(t *testing.T) {
		src, err := NewToneSource(440, 0.5, 44100)
		require.NoError(t, err)

		first := make([]float64, 100)
		second := make([]float64, 100)
		_, err = src.Read(ctx, first)
		require.NoError(t, err)
		_, err = src.Read(ctx, second)
		require.NoError(t, err)

		step := 2 * math.Pi * 440 / 44100
		assert.InDelta(t, 0.5*math.Sin(step*100), second[0], 1e-12)
		assert.InDelta(t, 0.5*math.Sin(step*199), second[99], 1e-12)
	})

	t.Run("duration_limit_ends_stream", func(t *testing.T) {
		src, err := NewToneSource(440, 0.5, 1000, WithDuration(150*time.Millisecond))
		require.NoError(t, err)

		buf := make([]float64, 100)
		n, err := src.Read(ctx, buf)
		require.NoError(t, err)
		assert.Equal(t, 100, n)

		n, err = src.Read(ctx, buf)
		assert.ErrorIs(t, err, ErrEndOfStream)
		assert.Equal(t, 50, n)

		n, err = src.Read(ctx, buf)
		assert.ErrorIs(t, err, ErrEndOfStream)
		assert.Zero(t, n)
	})

	t.Run("cancelled_context", func(t *testing.T) {
		src, err := NewToneSource(440, 0.5, 44100)
		require.NoError(t, err)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err = src.Read(cctx, make([]float64, 10))
		assert.ErrorIs(t, err, context.Canceled)
	})
}
