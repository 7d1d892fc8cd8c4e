// SPDX-License-Identifier: MIT
package analysis

// Energy and flux levels treated as full strength when normalizing for
// the quality blend. RMS around 0.35 is a hot signal for typical program
// material; flux around 0.18 is a hard transient.
const (
	energyFullScale = 0.35
	fluxFullScale   = 0.18

	signalEnergyMargin = 1.35
	signalFluxMargin   = 1.1

	qualityFloorBase = 0.65
	qualityFloorGain = 0.35
)

// QualityEstimator fuses the two detector outputs into a single smoothed
// confidence figure, and decides per tick whether the input carries
// usable signal at all. The signal decision feeds the silence failover.
type QualityEstimator struct {
	smoothing        float64
	silenceThreshold float64
	quality          float64
}

// NewQualityEstimator builds an estimator. Zero or negative arguments
// fall back to the package defaults.
func NewQualityEstimator(smoothing, silenceThreshold float64) *QualityEstimator {
	if smoothing <= 0 || smoothing >= 1 {
		smoothing = DefaultQualitySmoothing
	}
	if silenceThreshold <= 0 {
		silenceThreshold = DefaultSilenceThreshold
	}
	return &QualityEstimator{smoothing: smoothing, silenceThreshold: silenceThreshold}
}

// Fuse folds one tick of detector output into the running estimate and
// returns the smoothed quality plus whether the tick carried signal.
// Quality is always within [0, 1], whatever the detectors report.
func (q *QualityEstimator) Fuse(det Detection, fx Flux) (quality float64, hasSignal bool) {
	eNorm := clamp(sanitizeFloat(det.Energy)/energyFullScale, 0, 1)
	fNorm := clamp(sanitizeFloat(fx.Value)/fluxFullScale, 0, 1)

	instant := 0.6*eNorm + 0.4*fNorm
	if c := clamp(sanitizeFloat(det.Confidence), 0, 1); c > instant {
		instant = c
	}
	if c := clamp(sanitizeFloat(fx.Confidence), 0, 1); c > instant {
		instant = c
	}

	q.quality = q.quality*q.smoothing + instant*(1-q.smoothing)
	if det.Beat || fx.Onset {
		conf := clamp(sanitizeFloat(det.Confidence), 0, 1)
		if c := clamp(sanitizeFloat(fx.Confidence), 0, 1); c > conf {
			conf = c
		}
		if floor := qualityFloorBase + qualityFloorGain*conf; q.quality < floor {
			q.quality = floor
		}
	}
	q.quality = clamp(sanitizeFloat(q.quality), 0, 1)

	hasSignal = sanitizeFloat(det.Energy) > q.silenceThreshold*signalEnergyMargin ||
		fx.Onset ||
		sanitizeFloat(fx.Value) > sanitizeFloat(fx.Threshold)*signalFluxMargin
	return q.quality, hasSignal
}

// Quality returns the current smoothed estimate.
func (q *QualityEstimator) Quality() float64 { return q.quality }

// SilenceThreshold returns the configured silence energy threshold.
func (q *QualityEstimator) SilenceThreshold() float64 { return q.silenceThreshold }

// Reset clears the running estimate, as required on a source switch.
func (q *QualityEstimator) Reset() { q.quality = 0 }
