package engine

import (
	"beatline/internal/metronome"
	"beatline/internal/rhythm"
)

// Snapshot returns a copy of the published state. Safe from any
// goroutine.
func (e *Engine) Snapshot() rhythm.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap
}

// State reports the current arbitration state.
func (e *Engine) State() rhythm.Source {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// FallbackReason reports why the metronome is engaged, or ReasonNone.
func (e *Engine) FallbackReason() rhythm.Reason {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.reason
}

// Energy returns the last published energy level.
func (e *Engine) Energy() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap.Energy
}

// Bands returns the last published band levels.
func (e *Engine) Bands() rhythm.Bands {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap.Bands
}

// BPM returns the last published tempo estimate.
func (e *Engine) BPM() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap.BPM
}

// Quality returns the last published analysis quality.
func (e *Engine) Quality() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap.Quality
}

// LastError returns the most recent acquisition failure, cleared when a
// source is adopted.
func (e *Engine) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// LastPayload returns the most recently published energy payload.
func (e *Engine) LastPayload() rhythm.EnergyPayload {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastPayload
}

// Signature returns the active fallback signature. The second return is
// false while the metronome is disengaged.
func (e *Engine) Signature() (metronome.Signature, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.synth.Active() {
		return metronome.Signature{}, false
	}
	return e.synth.Signature(), true
}
