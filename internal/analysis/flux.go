// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"time"

	"beatline/internal/rhythm"
)

// FluxDetector finds note onsets from frame-to-frame growth in the byte
// spectrum. Only positive bin deltas contribute, so decaying notes and
// reverb tails do not register as events. Like the energy stage it
// compares each flux value against an adaptive threshold over a bounded
// history of recent flux.
type FluxDetector struct {
	multiplier  float64
	minInterval time.Duration

	history   *history
	prev      []float64
	smoothed  float64
	lastOnset time.Time
}

// Flux is the outcome of one spectral stage tick.
type Flux struct {
	Value      float64
	Smoothed   float64
	Threshold  float64
	Confidence float64
	Onset      bool
}

// NewFluxDetector builds a detector. Zero or negative arguments fall
// back to the package defaults.
func NewFluxDetector(historySize int, multiplier float64, minInterval time.Duration) *FluxDetector {
	if historySize <= 0 {
		historySize = DefaultFluxHistorySize
	}
	if multiplier <= 0 {
		multiplier = DefaultFluxMultiplier
	}
	if minInterval <= 0 {
		minInterval = DefaultFluxMinInterval
	}
	return &FluxDetector{
		multiplier:  multiplier,
		minInterval: minInterval,
		history:     newHistory(historySize),
	}
}

// Process diffs the frame's spectrum against the previous one and reports
// whether the positive flux crossed the adaptive threshold. The first
// frame after a reset, and any frame whose bin count differs from the
// last, only primes the reference spectrum and can never fire.
func (d *FluxDetector) Process(frame rhythm.SampleFrame) Flux {
	bins := len(frame.Spectrum)
	if bins == 0 {
		return Flux{Smoothed: d.smoothed}
	}
	if len(d.prev) != bins {
		d.prev = make([]float64, bins)
		for i, b := range frame.Spectrum {
			d.prev[i] = float64(b) / math.MaxUint8
		}
		return Flux{Smoothed: d.smoothed}
	}

	var flux float64
	for i, b := range frame.Spectrum {
		cur := float64(b) / math.MaxUint8
		if diff := cur - d.prev[i]; diff > 0 {
			flux += diff
		}
		d.prev[i] = cur
	}
	flux = sanitizeFloat(flux / float64(bins))

	d.history.Push(flux)
	mean, stddev := d.history.Stats()
	threshold := mean + d.multiplier*stddev
	d.smoothed = d.smoothed*fluxSmoothing + flux*(1-fluxSmoothing)

	out := Flux{Value: flux, Smoothed: d.smoothed, Threshold: threshold}
	var ratio float64
	if threshold > 0 {
		ratio = flux / threshold
	}
	if flux > threshold && flux > 0 && d.gateOpen(frame.Timestamp) {
		d.lastOnset = frame.Timestamp
		out.Onset = true
		out.Confidence = clamp(onsetConfidenceBase+(ratio-1)*onsetConfidenceGain, 0, 1)
	} else if ratio > 1 {
		// Above threshold but interval-gated. Report partial confidence
		// without an onset.
		out.Confidence = clamp((ratio-1)*fluxConfidenceGain, 0, 1)
	}
	return out
}

// Smoothed returns the exponentially smoothed flux level.
func (d *FluxDetector) Smoothed() float64 { return d.smoothed }

// Reset drops the reference spectrum, the flux history and the smoothed
// level. The next frame only primes the detector again.
func (d *FluxDetector) Reset() {
	d.history.Reset()
	d.prev = nil
	d.smoothed = 0
	d.lastOnset = time.Time{}
}

func (d *FluxDetector) gateOpen(now time.Time) bool {
	return d.lastOnset.IsZero() || now.Sub(d.lastOnset) >= d.minInterval
}
