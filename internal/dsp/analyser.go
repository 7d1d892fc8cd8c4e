// SPDX-License-Identifier: MIT

// Package dsp turns raw capture samples into the spectral frames the
// detection pipeline consumes. An Analyser keeps a sliding window of the
// most recent samples, runs a windowed real FFT over it on demand and
// maps the magnitudes to the 0..255 byte scale the flux detector diffs.
package dsp

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"

	applog "beatline/internal/log"
	"beatline/internal/rhythm"
	"beatline/pkg/bitint"
)

const (
	DefaultFFTSize       = 2048
	DefaultSmoothing     = 0.8
	DefaultGateThreshold = 5e-4

	// Byte spectrum dB mapping range. Magnitudes at or below minDecibels
	// render as 0, at or above maxDecibels as 255.
	minDecibels = -100.0
	maxDecibels = -30.0

	dbEpsilon = 1e-12
)

// Analyser is safe for one producer pushing samples and one consumer
// pulling frames. Push is called from the capture callback, so it takes
// the lock briefly and never allocates.
type Analyser struct {
	fftSize    int
	sampleRate float64
	fft        *fourier.FFT
	window     []float64
	windowSum  float64

	mu        sync.Mutex
	gate      float64
	smoothing float64
	ring      []float64
	next      int

	// Scratch buffers reused across frames.
	ordered  []float64
	windowed []float64
	coeffs   []complex128
	smoothed []float64
	spectrum []byte
}

// NewAnalyser builds an analyser for the given FFT size and sample rate.
// The size must be a power of two; zero picks the default.
func NewAnalyser(fftSize int, sampleRate float64, windowType WindowFunc) (*Analyser, error) {
	if fftSize == 0 {
		fftSize = DefaultFFTSize
	}
	if !bitint.IsPowerOfTwo(fftSize) {
		return nil, fmt.Errorf("fft size must be a power of 2, got %d", fftSize)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %f", sampleRate)
	}

	win := make([]float64, fftSize)
	windowType.coefficients(win)
	var winSum float64
	for _, w := range win {
		winSum += w
	}

	bins := fftSize/2 + 1
	applog.Debugf("DSP: analyser ready (size %d, %.0f Hz, window %s)", fftSize, sampleRate, windowType)
	return &Analyser{
		fftSize:    fftSize,
		sampleRate: sampleRate,
		fft:        fourier.NewFFT(fftSize),
		window:     win,
		windowSum:  winSum,
		gate:       DefaultGateThreshold,
		smoothing:  DefaultSmoothing,
		ring:       make([]float64, fftSize),
		ordered:    make([]float64, fftSize),
		windowed:   make([]float64, fftSize),
		coeffs:     make([]complex128, bins),
		smoothed:   make([]float64, bins),
		spectrum:   make([]byte, bins),
	}, nil
}

// Push appends capture samples to the sliding window. Chunks longer
// than the window keep only their tail.
func (a *Analyser) Push(samples []float64) {
	if len(samples) == 0 {
		return
	}
	a.mu.Lock()
	if len(samples) >= a.fftSize {
		copy(a.ring, samples[len(samples)-a.fftSize:])
		a.next = 0
	} else {
		for _, s := range samples {
			a.ring[a.next] = s
			a.next = (a.next + 1) % a.fftSize
		}
	}
	a.mu.Unlock()
}

// Frame analyses the current window and returns a frame stamped with
// now. The returned slices are fresh copies; the caller owns them. When
// the window's peak amplitude sits at or below the gate threshold the
// FFT is skipped entirely and the previous spectrum decays toward zero.
func (a *Analyser) Frame(now time.Time) rhythm.SampleFrame {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Unroll the ring so ordered holds oldest to newest.
	copy(a.ordered, a.ring[a.next:])
	copy(a.ordered[a.fftSize-a.next:], a.ring[:a.next])

	var peak float64
	for _, s := range a.ordered {
		if x := math.Abs(s); x > peak {
			peak = x
		}
	}

	if peak <= a.gate {
		for i := range a.smoothed {
			a.smoothed[i] *= a.smoothing
		}
	} else {
		for i, s := range a.ordered {
			a.windowed[i] = s * a.window[i]
		}
		a.fft.Coefficients(a.coeffs, a.windowed)

		// Amplitude calibration: a full-scale sine lands its peak bin
		// near 1.0, which maps to the top of the dB range. DC and
		// Nyquist carry no mirrored half, so they skip the factor 2.
		scale := 2 / a.windowSum
		for i, c := range a.coeffs {
			mag := cmplx.Abs(c) * scale
			if i == 0 || i == len(a.coeffs)-1 {
				mag /= 2
			}
			if math.IsNaN(mag) || math.IsInf(mag, 0) {
				mag = 0
			}
			a.smoothed[i] = a.smoothed[i]*a.smoothing + mag*(1-a.smoothing)
		}
	}

	for i, m := range a.smoothed {
		a.spectrum[i] = byteLevel(m)
	}

	samples := make([]float64, a.fftSize)
	copy(samples, a.ordered)
	spectrum := make([]byte, len(a.spectrum))
	copy(spectrum, a.spectrum)
	return rhythm.SampleFrame{
		Samples:    samples,
		Spectrum:   spectrum,
		SampleRate: a.sampleRate,
		Timestamp:  now,
	}
}

// Reset clears the sample window, the smoothed magnitudes and the byte
// spectrum.
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.ring {
		a.ring[i] = 0
	}
	for i := range a.smoothed {
		a.smoothed[i] = 0
	}
	for i := range a.spectrum {
		a.spectrum[i] = 0
	}
	a.next = 0
}

// SetGateThreshold changes the peak amplitude below which the FFT is
// skipped. Negative values disable the gate.
func (a *Analyser) SetGateThreshold(v float64) {
	a.mu.Lock()
	if v < 0 {
		v = 0
	}
	a.gate = v
	a.mu.Unlock()
}

// SetSmoothing changes the temporal smoothing constant. Values are
// clamped to [0, 0.99]; higher means slower spectra.
func (a *Analyser) SetSmoothing(v float64) {
	a.mu.Lock()
	if v < 0 {
		v = 0
	}
	if v > 0.99 {
		v = 0.99
	}
	a.smoothing = v
	a.mu.Unlock()
}

// FFTSize returns the configured window size in samples.
func (a *Analyser) FFTSize() int { return a.fftSize }

// SampleRate returns the configured sample rate in hertz.
func (a *Analyser) SampleRate() float64 { return a.sampleRate }

// FrequencyForBin returns the center frequency of a spectrum bin.
// Out-of-range bins return 0.
func (a *Analyser) FrequencyForBin(bin int) float64 {
	if bin < 0 || bin > a.fftSize/2 {
		return 0
	}
	return float64(bin) * a.sampleRate / float64(a.fftSize)
}

func byteLevel(mag float64) byte {
	db := 20 * math.Log10(mag+dbEpsilon)
	t := (db - minDecibels) / (maxDecibels - minDecibels)
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 255
	}
	return byte(t * 255)
}
