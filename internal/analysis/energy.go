// SPDX-License-Identifier: MIT
package analysis

import (
	"time"

	"beatline/internal/rhythm"
)

// EnergyDetector fires beats when the instantaneous RMS energy of a frame
// rises above an adaptive threshold computed from a sliding window of
// recent energies. The threshold tracks the signal floor, so the same
// detector works for quiet acoustic material and compressed club mixes
// without retuning.
type EnergyDetector struct {
	sensitivity float64
	minInterval time.Duration

	history  *history
	lastBeat time.Time
	bpm      float64
}

// Detection is the outcome of one energy stage tick.
type Detection struct {
	Energy     float64
	Threshold  float64
	BPM        float64
	Confidence float64
	Beat       bool
}

// NewEnergyDetector builds a detector. Zero or negative arguments fall
// back to the package defaults.
func NewEnergyDetector(historySize int, sensitivity float64, minInterval time.Duration) *EnergyDetector {
	if sensitivity <= 0 {
		sensitivity = DefaultSensitivity
	}
	if minInterval <= 0 {
		minInterval = DefaultMinBeatInterval
	}
	return &EnergyDetector{
		sensitivity: sensitivity,
		minInterval: minInterval,
		history:     newHistory(historySize),
	}
}

// Process folds one frame into the adaptive window and reports whether it
// opened a beat. Empty frames contribute zero energy, which drags the
// threshold down during gaps so the detector reacts quickly when the
// signal returns.
func (d *EnergyDetector) Process(frame rhythm.SampleFrame) Detection {
	energy := rms(frame.Samples)
	d.history.Push(energy)
	mean, stddev := d.history.Stats()
	threshold := mean + d.sensitivity*stddev

	det := Detection{Energy: energy, Threshold: threshold}
	now := frame.Timestamp
	if energy > threshold && d.gateOpen(now) {
		if !d.lastBeat.IsZero() {
			if interval := now.Sub(d.lastBeat); interval > 0 {
				instant := 60.0 / interval.Seconds()
				if d.bpm <= 0 {
					d.bpm = instant
				} else {
					d.bpm = d.bpm*bpmBlend + instant*(1-bpmBlend)
				}
			}
		}
		d.lastBeat = now
		det.Beat = true
		if threshold > 0 {
			det.Confidence = clamp(energy/threshold-1, 0, 1)
		}
	} else {
		// No beat this tick. Decay the tempo estimate and collapse it to
		// zero once it drops below the floor, so a dead input does not
		// keep advertising its last tempo forever.
		d.bpm *= bpmDecay
		if d.bpm < bpmFloor {
			d.bpm = 0
		}
	}
	det.BPM = d.bpm
	return det
}

// BPM returns the current smoothed tempo estimate.
func (d *EnergyDetector) BPM() float64 { return d.bpm }

// Reset clears the adaptive window and the tempo estimate. Required on
// every source switch: a threshold learned against one input says
// nothing about the next.
func (d *EnergyDetector) Reset() {
	d.history.Reset()
	d.lastBeat = time.Time{}
	d.bpm = 0
}

func (d *EnergyDetector) gateOpen(now time.Time) bool {
	return d.lastBeat.IsZero() || now.Sub(d.lastBeat) >= d.minInterval
}
