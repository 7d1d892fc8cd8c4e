// Package analysis implements the detection stages of the rhythm core:
// adaptive energy beat detection, spectral flux onset detection, band
// level extraction and fused signal quality estimation.
//
// Every stage is single threaded and allocation free on the hot path.
// The engine owns one instance of each stage and drives them once per
// tick with the latest sample frame.
package analysis

import (
	"math"
	"time"
)

// Tuning defaults. Callers may override any of them through the
// constructors; zero values fall back to these.
const (
	DefaultHistorySize     = 43
	DefaultSensitivity     = 1.35
	DefaultMinBeatInterval = 280 * time.Millisecond

	DefaultFluxHistorySize = 32
	DefaultFluxMultiplier  = 1.55
	DefaultFluxMinInterval = 180 * time.Millisecond

	DefaultQualitySmoothing = 0.82
	DefaultSilenceThreshold = 0.012
)

const (
	// Tempo estimates blend slowly so a single odd interval cannot yank
	// the published BPM around.
	bpmBlend = 0.82
	bpmDecay = 0.999
	bpmFloor = 20.0

	fluxSmoothing = 0.6

	onsetConfidenceBase = 0.5
	onsetConfidenceGain = 0.65
	fluxConfidenceGain  = 0.45
)

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// sanitizeFloat maps NaN and infinities to zero so corrupt input cannot
// poison the running statistics.
func sanitizeFloat(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// rms computes the root mean square of a sample block.
func rms(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return sanitizeFloat(math.Sqrt(sum / float64(len(samples))))
}
