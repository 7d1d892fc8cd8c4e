package rhythm

import "time"

// SampleFrame is one tick worth of input handed to the detectors. Samples
// holds normalized time-domain audio in [-1, 1]; Spectrum holds the
// analyser's byte magnitudes (0..255 per bin, DC first). Either slice may
// be empty when the source has nothing new to offer.
type SampleFrame struct {
	Samples    []float64
	Spectrum   []byte
	SampleRate float64
	Timestamp  time.Time
}

// Bins returns the FFT size the spectrum was produced with, or zero when
// the frame carries no spectrum.
func (f SampleFrame) Bins() int {
	if len(f.Spectrum) < 2 {
		return 0
	}
	return (len(f.Spectrum) - 1) * 2
}
