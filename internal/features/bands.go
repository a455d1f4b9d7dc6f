package features

import (
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"soundscape-monitor/internal/models"
)

// BandAnalyzer computes the mean FFT magnitude of each frequency band.
//
// Every slice is multiplied by a symmetric Hann window before the real FFT.
// Bin k has centre frequency k*sampleRate/size, so a 4410-sample slice at
// 44.1 kHz resolves 10 Hz per bin: sub_bass gets 4 bins while brilliance
// gets 1400. Bands narrower than a bin report 0.
//
// A BandAnalyzer reuses internal buffers and is not safe for concurrent use.
type BandAnalyzer struct {
	sampleRate int
	size       int

	fft     *fourier.FFT
	hann    []float64
	scratch []float64
	coeffs  []complex128

	// ranges[b] is the half-open bin interval whose centres lie inside band b.
	ranges [models.BandCount][2]int
}

// NewBandAnalyzer prepares an analyzer for slices of size samples.
func NewBandAnalyzer(sampleRate, size int) (*BandAnalyzer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if size < 2 {
		return nil, fmt.Errorf("slice of %d samples is too short for spectral analysis", size)
	}

	hann := make([]float64, size)
	for i := range hann {
		hann[i] = 1
	}
	window.Hann(hann)

	a := &BandAnalyzer{
		sampleRate: sampleRate,
		size:       size,
		fft:        fourier.NewFFT(size),
		hann:       hann,
		scratch:    make([]float64, size),
		coeffs:     make([]complex128, size/2+1),
	}

	for _, def := range models.BandDefinitions() {
		lo, hi := -1, -1
		for k := 0; k < len(a.coeffs); k++ {
			if def.Contains(a.BinFrequency(k)) {
				if lo < 0 {
					lo = k
				}
				hi = k + 1
			}
		}
		if lo < 0 {
			lo, hi = 0, 0
		}
		a.ranges[def.Band] = [2]int{lo, hi}
	}

	return a, nil
}

// BinFrequency returns the centre frequency of FFT bin k in Hz.
func (a *BandAnalyzer) BinFrequency(k int) float64 {
	return a.fft.Freq(k) * float64(a.sampleRate)
}

// BinCount returns how many FFT bins fall into band b.
func (a *BandAnalyzer) BinCount(b models.Band) int {
	r := a.ranges[b]
	return r[1] - r[0]
}

// Analyze returns the mean magnitude per band keyed by band name.
func (a *BandAnalyzer) Analyze(samples []float64) (map[string]float64, error) {
	if len(samples) != a.size {
		return nil, fmt.Errorf("expected %d samples, got %d", a.size, len(samples))
	}

	for i, s := range samples {
		a.scratch[i] = s * a.hann[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.scratch)

	bands := make(map[string]float64, models.BandCount)
	for _, def := range models.BandDefinitions() {
		r := a.ranges[def.Band]
		if r[1] == r[0] {
			bands[def.Name] = 0
			continue
		}
		var sum float64
		for k := r[0]; k < r[1]; k++ {
			sum += cmplx.Abs(a.coeffs[k])
		}
		bands[def.Name] = sum / float64(r[1]-r[0])
	}
	return bands, nil
}
