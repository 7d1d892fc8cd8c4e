package analysis

import (
	"math"

	"beatline/internal/rhythm"
)

// Band edges in hertz. The splits match the three level meters the
// renderer draws; everything above midHighHz counts as treble up to
// whatever Nyquist the capture rate allows.
const (
	bassLowHz  = 20.0
	bassHighHz = 250.0
	midHighHz  = 4000.0
)

// BandsFromSpectrum averages byte magnitudes into bass, mid and treble
// levels in [0, 1]. The spectrum layout is DC first with bins spaced
// sampleRate/fftSize hertz apart; the DC bin and anything below audible
// bass are skipped.
func BandsFromSpectrum(spectrum []byte, sampleRate float64) rhythm.Bands {
	bins := len(spectrum)
	if bins < 2 || sampleRate <= 0 {
		return rhythm.Bands{}
	}
	binWidth := sampleRate / float64((bins-1)*2)

	var sums [3]float64
	var counts [3]int
	for i := 1; i < bins; i++ {
		freq := float64(i) * binWidth
		var band int
		switch {
		case freq < bassLowHz:
			continue
		case freq < bassHighHz:
			band = 0
		case freq < midHighHz:
			band = 1
		default:
			band = 2
		}
		sums[band] += float64(spectrum[i]) / math.MaxUint8
		counts[band]++
	}

	var out rhythm.Bands
	if counts[0] > 0 {
		out.Bass = clamp(sums[0]/float64(counts[0]), 0, 1)
	}
	if counts[1] > 0 {
		out.Mid = clamp(sums[1]/float64(counts[1]), 0, 1)
	}
	if counts[2] > 0 {
		out.Treble = clamp(sums[2]/float64(counts[2]), 0, 1)
	}
	return out
}
