package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/sirupsen/logrus"

	"soundscape-monitor/internal/logging"
)

// inputStream is the part of *portaudio.Stream the source reads from.
type inputStream interface {
	Read() error
	AvailableToRead() (int, error)
	Stop() error
	Close() error
}

// PortAudioSource captures mono float samples from an input device using
// PortAudio's blocking read API.
//
// Each device read waits until a full buffer is available, for at most
// stallTimeout; a device that delivers nothing for that long is a capture
// failure. When PortAudio reports an input overflow the lost samples cannot
// be recovered, so Read returns what it has so far with ErrUnderrun and the
// slice is zero-padded and flagged.
type PortAudioSource struct {
	stream     inputStream
	buffer     []float32
	pending    []float32
	sampleRate int
	device     string
	terminate  func() error

	stallTimeout time.Duration
	pollInterval time.Duration
	log          *logrus.Entry
}

// OpenPortAudio initializes PortAudio and starts an input stream on the named
// device, or the default input device when name is empty. framesPerBuffer is
// the number of samples delivered by each device read.
func OpenPortAudio(name string, sampleRate, framesPerBuffer int) (*PortAudioSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initialize PortAudio: %v", ErrCaptureFailure, err)
	}

	device, err := findInputDevice(name)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	params := portaudio.LowLatencyParameters(device, nil)
	params.Input.Channels = 1
	params.Output.Channels = 0
	params.SampleRate = float64(sampleRate)
	params.FramesPerBuffer = framesPerBuffer

	buffer := make([]float32, framesPerBuffer)
	stream, err := portaudio.OpenStream(params, buffer)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: open input stream on %q: %v", ErrCaptureFailure, device.Name, err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: start input stream: %v", ErrCaptureFailure, err)
	}

	src := newPortAudioSource(stream, buffer, sampleRate, device.Name)
	src.terminate = portaudio.Terminate
	src.log.WithFields(logrus.Fields{
		"device":      device.Name,
		"sample_rate": sampleRate,
		"frames":      framesPerBuffer,
		"stall":       src.stallTimeout,
	}).Info("PortAudio input stream started")
	return src, nil
}

func newPortAudioSource(stream inputStream, buffer []float32, sampleRate int, device string) *PortAudioSource {
	bufferTime := time.Duration(len(buffer)) * time.Second / time.Duration(sampleRate)
	stall := 4 * bufferTime
	if stall < time.Second {
		stall = time.Second
	}
	poll := bufferTime / 4
	if poll < time.Millisecond {
		poll = time.Millisecond
	}
	return &PortAudioSource{
		stream:       stream,
		buffer:       buffer,
		sampleRate:   sampleRate,
		device:       device,
		stallTimeout: stall,
		pollInterval: poll,
		log:          logging.Component("capture"),
	}
}

func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: no default input device: %v", ErrCaptureFailure, err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: list devices: %v", ErrCaptureFailure, err)
	}
	for _, d := range devices {
		if d.Name == name && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: input device %q not found", ErrCaptureFailure, name)
}

// SampleRate returns the stream rate in Hz.
func (p *PortAudioSource) SampleRate() int { return p.sampleRate }

// Read fills buf from the device. It returns a short count with ErrUnderrun
// after an input overflow, and an error wrapping ErrCaptureFailure when the
// device fails or stalls.
func (p *PortAudioSource) Read(ctx context.Context, buf []float64) (int, error) {
	filled := 0
	for filled < len(buf) {
		if len(p.pending) == 0 {
			if err := p.waitForInput(ctx); err != nil {
				return filled, err
			}

			err := p.stream.Read()
			switch {
			case err == nil:
				p.pending = p.buffer
			case errors.Is(err, portaudio.InputOverflowed):
				// The buffer holds valid samples taken after the gap; they
				// start the next read.
				p.pending = p.buffer
				p.log.WithField("filled", filled).Warn("PortAudio input overflowed, samples lost")
				return filled, ErrUnderrun
			default:
				return filled, fmt.Errorf("%w: read %q: %v", ErrCaptureFailure, p.device, err)
			}
		}

		n := copy32(buf[filled:], p.pending)
		p.pending = p.pending[n:]
		filled += n
	}
	return filled, nil
}

// waitForInput returns once a full device buffer can be read without blocking.
func (p *PortAudioSource) waitForInput(ctx context.Context) error {
	deadline := time.Now().Add(p.stallTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		avail, err := p.stream.AvailableToRead()
		if err != nil {
			return fmt.Errorf("%w: query %q: %v", ErrCaptureFailure, p.device, err)
		}
		if avail >= len(p.buffer) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: no input from %q for %s", ErrCaptureFailure, p.device, p.stallTimeout)
		}

		t := time.NewTimer(p.pollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func copy32(dst []float64, src []float32) int {
	n := len(src)
	if len(dst) < n {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = float64(src[i])
	}
	return n
}

// Close stops the stream and terminates PortAudio.
func (p *PortAudioSource) Close() error {
	if p.stream == nil {
		return nil
	}
	stopErr := p.stream.Stop()
	closeErr := p.stream.Close()
	p.stream = nil
	var termErr error
	if p.terminate != nil {
		termErr = p.terminate()
	}

	for _, err := range []error{stopErr, closeErr, termErr} {
		if err != nil {
			return fmt.Errorf("close PortAudio stream: %w", err)
		}
	}
	p.log.Info("PortAudio input stream closed")
	return nil
}
