// Package utils holds the deterministic signal generators shared by the
// synthetic source and the analysis tests.
package utils

import "math"

// SineWave returns n samples of a pure sine at the given frequency,
// normalized to 90% of full scale.
func SineWave(n int, sampleRate, frequency float64) []float64 {
	buf := make([]float64, n)
	for i := range buf {
		t := float64(i) / sampleRate
		buf[i] = math.Sin(2*math.Pi*frequency*t) * 0.9
	}
	return buf
}

// LayeredWave returns n samples of a 440 Hz fundamental with two
// harmonics, a quick stand-in for tonal program material.
func LayeredWave(n int, sampleRate float64) []float64 {
	buf := make([]float64, n)
	for i := range buf {
		t := float64(i) / sampleRate
		buf[i] = 0.9 * (math.Sin(2*math.Pi*440*t)*0.5 +
			math.Sin(2*math.Pi*880*t)*0.3 +
			math.Sin(2*math.Pi*1320*t)*0.2)
	}
	return buf
}

// BeatTrain returns n samples of a low hum punctuated by short loud
// bursts at the given tempo. The burst level rides well above the hum,
// so an adaptive energy detector locks onto the pulses.
func BeatTrain(n int, sampleRate, bpm, humLevel, burstLevel float64) []float64 {
	if bpm <= 0 {
		bpm = 120
	}
	period := 60.0 / bpm
	burst := period * 0.12
	buf := make([]float64, n)
	for i := range buf {
		t := float64(i) / sampleRate
		level := humLevel
		if math.Mod(t, period) < burst {
			level = burstLevel
		}
		buf[i] = math.Sin(2*math.Pi*220*t) * level
	}
	return buf
}

// PeakBin returns the index of the largest magnitude within
// [startBin, endBin], clamped to the slice bounds.
func PeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}
	if startBin < 0 {
		startBin = 0
	}
	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}
	peak := startBin
	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > magnitudes[peak] {
			peak = bin
		}
	}
	return peak
}

// PeakByteBin is PeakBin for byte spectra.
func PeakByteBin(spectrum []byte, startBin, endBin int) int {
	if len(spectrum) == 0 {
		return 0
	}
	if startBin < 0 {
		startBin = 0
	}
	if endBin >= len(spectrum) {
		endBin = len(spectrum) - 1
	}
	peak := startBin
	for bin := startBin + 1; bin <= endBin; bin++ {
		if spectrum[bin] > spectrum[peak] {
			peak = bin
		}
	}
	return peak
}
