package capture

import (
	"context"
	"fmt"
	"math"
	"time"
)

// ToneSource generates a continuous sine wave. It stands in for a microphone
// in dry runs and tests.
type ToneSource struct {
	frequency  float64
	amplitude  float64
	sampleRate int
	limit      int64 // Total samples before ErrEndOfStream; 0 means unbounded
	realtime   bool

	n       int64
	started time.Time
}

// ToneOption configures a ToneSource.
type ToneOption func(*ToneSource)

// WithDuration ends the stream after d worth of samples.
func WithDuration(d time.Duration) ToneOption {
	return func(s *ToneSource) {
		s.limit = int64(math.Round(d.Seconds() * float64(s.sampleRate)))
	}
}

// WithRealtime paces reads to the wall clock, like a capture device would.
func WithRealtime() ToneOption {
	return func(s *ToneSource) { s.realtime = true }
}

// NewToneSource creates a sine generator of the given frequency (Hz) and peak amplitude.
func NewToneSource(frequency, amplitude float64, sampleRate int, opts ...ToneOption) (*ToneSource, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if frequency < 0 || frequency > float64(sampleRate)/2 {
		return nil, fmt.Errorf("tone frequency %.1f Hz outside [0, %d]", frequency, sampleRate/2)
	}
	s := &ToneSource{
		frequency:  frequency,
		amplitude:  amplitude,
		sampleRate: sampleRate,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SampleRate returns the generator's rate in Hz.
func (s *ToneSource) SampleRate() int { return s.sampleRate }

// Read writes the next len(buf) samples of the tone.
func (s *ToneSource) Read(ctx context.Context, buf []float64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	want := len(buf)
	if s.limit > 0 {
		remaining := s.limit - s.n
		if remaining <= 0 {
			return 0, ErrEndOfStream
		}
		if int64(want) > remaining {
			want = int(remaining)
		}
	}

	step := 2 * math.Pi * s.frequency / float64(s.sampleRate)
	for i := 0; i < want; i++ {
		// Phase from the absolute sample index keeps the wave continuous across reads.
		buf[i] = s.amplitude * math.Sin(step*float64(s.n+int64(i)))
	}
	s.n += int64(want)

	if s.realtime {
		if err := s.pace(ctx); err != nil {
			return want, err
		}
	}

	if want < len(buf) {
		return want, ErrEndOfStream
	}
	return want, nil
}

// pace sleeps until the wall clock catches up with the samples produced so far.
func (s *ToneSource) pace(ctx context.Context) error {
	if s.started.IsZero() {
		s.started = time.Now()
	}
	due := s.started.Add(time.Duration(s.n) * time.Second / time.Duration(s.sampleRate))
	wait := time.Until(due)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Close is a no-op.
func (s *ToneSource) Close() error { return nil }
