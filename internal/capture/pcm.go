package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// PCMSource reads raw signed 16-bit little-endian mono PCM, e.g. piped from
// arecord or a recording converted with sox.
type PCMSource struct {
	r          io.Reader
	closer     io.Closer
	sampleRate int
	raw        []byte
}

// NewPCMSource wraps r. The caller keeps ownership of r.
func NewPCMSource(r io.Reader, sampleRate int) (*PCMSource, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	return &PCMSource{r: r, sampleRate: sampleRate}, nil
}

// OpenPCMFile opens path for reading; "-" reads from stdin.
func OpenPCMFile(path string, sampleRate int) (*PCMSource, error) {
	if path == "-" {
		return NewPCMSource(os.Stdin, sampleRate)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrCaptureFailure, path, err)
	}
	src, err := NewPCMSource(f, sampleRate)
	if err != nil {
		f.Close()
		return nil, err
	}
	src.closer = f
	return src, nil
}

// SampleRate returns the declared rate of the stream.
func (s *PCMSource) SampleRate() int { return s.sampleRate }

// Read decodes up to len(buf) samples, scaling int16 to [-1, 1).
func (s *PCMSource) Read(ctx context.Context, buf []float64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	need := 2 * len(buf)
	if cap(s.raw) < need {
		s.raw = make([]byte, need)
	}
	raw := s.raw[:need]

	n, err := io.ReadFull(s.r, raw)
	samples := n / 2
	for i := 0; i < samples; i++ {
		v := int16(binary.LittleEndian.Uint16(raw[2*i:]))
		buf[i] = float64(v) / 32768.0
	}

	switch {
	case err == nil:
		return samples, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return samples, ErrEndOfStream
	default:
		return samples, fmt.Errorf("%w: read pcm: %v", ErrCaptureFailure, err)
	}
}

// Close closes the file opened by OpenPCMFile.
func (s *PCMSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
