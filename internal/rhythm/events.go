package rhythm

import "time"

// Bands holds per-band spectral levels normalized to [0, 1].
type Bands struct {
	Bass   float64 `json:"bass"`
	Mid    float64 `json:"mid"`
	Treble float64 `json:"treble"`
}

// BeatEvent is published once per detected beat or spectral onset.
type BeatEvent struct {
	Energy         float64   `json:"energy"`
	BPM            float64   `json:"bpm"`
	Confidence     float64   `json:"confidence"`
	Source         Source    `json:"source"`
	Timestamp      time.Time `json:"timestamp"`
	Flux           float64   `json:"spectralFlux"`
	FluxThreshold  float64   `json:"fluxThreshold"`
	FluxOnset      bool      `json:"fluxOnset"`
	FluxConfidence float64   `json:"fluxConfidence"`
	Quality        float64   `json:"analysisQuality"`
}

// EnergyPayload is published every tick regardless of whether a beat
// fired, so consumers always have a fresh frame to render.
type EnergyPayload struct {
	Energy         float64 `json:"energy"`
	Bands          Bands   `json:"bandLevels"`
	BPM            float64 `json:"bpm"`
	State          Source  `json:"state"`
	Quality        float64 `json:"analysisQuality"`
	Flux           float64 `json:"spectralFlux"`
	FallbackReason Reason  `json:"metronomeReason,omitempty"`
}

// StateChange is published when the arbitrator switches sources. Overlay
// hints that the transition was involuntary and worth surfacing to the
// user rather than swapping silently.
type StateChange struct {
	State    Source `json:"state"`
	Reason   Reason `json:"reason,omitempty"`
	Previous Source `json:"previous"`
	Overlay  bool   `json:"overlay"`
}

// ErrorEvent wraps a pipeline failure for listeners that want to observe
// faults without tearing the engine down.
type ErrorEvent struct {
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Snapshot is a point-in-time copy of the engine's published state, safe
// to read from any goroutine.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	State     Source    `json:"state"`
	Reason    Reason    `json:"reason,omitempty"`
	Energy    float64   `json:"energy"`
	Bands     Bands     `json:"bandLevels"`
	BPM       float64   `json:"bpm"`
	Quality   float64   `json:"analysisQuality"`
	Flux      float64   `json:"spectralFlux"`
	HasSignal bool      `json:"hasSignal"`
}
