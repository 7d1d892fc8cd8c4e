// Package metronome synthesizes beat and energy events when no live
// source can serve them, so downstream consumers keep rendering to a
// plausible pulse instead of freezing.
package metronome

import (
	"math"
	"time"

	applog "beatline/internal/log"
	"beatline/internal/rhythm"
)

const (
	// Confidence stamped on every synthetic event. High on purpose:
	// the clock is exact even though the music is fake.
	syntheticConfidence = 0.95

	syntheticFluxRatio = 0.15

	bandWobbleDepth = 0.06
	bandWobbleRate  = 0.9

	// Floor of the inter-beat energy envelope relative to the beat level.
	envelopeFloor = 0.25
)

// Synthesizer walks a signature's energy curve on a beat clock derived
// from its BPM. When a curve is exhausted it hops to the next catalog
// entry. All methods are driven from the engine tick and are not safe
// for concurrent use.
type Synthesizer struct {
	catalog []Signature

	active   bool
	index    int
	step     int
	beats    int
	bpm      float64
	level    float64
	lastBeat time.Time
	nextBeat time.Time
}

// NewSynthesizer builds a synthesizer over the given catalog. Entries
// with no curve or a non-positive BPM are dropped; a nil or fully
// invalid catalog falls back to the built-in one.
func NewSynthesizer(catalog []Signature) *Synthesizer {
	if catalog == nil {
		catalog = Catalog()
	}
	kept := make([]Signature, 0, len(catalog))
	for _, sig := range catalog {
		if len(sig.EnergyCurve) == 0 || sig.BPM <= 0 {
			applog.Warnf("Metronome: dropping invalid signature %q", sig.ID)
			continue
		}
		kept = append(kept, sig)
	}
	if len(kept) == 0 {
		kept = Catalog()
	}
	return &Synthesizer{catalog: kept}
}

// Catalog returns the signatures the synthesizer cycles through.
func (s *Synthesizer) Catalog() []Signature { return s.catalog }

// Signature returns the currently active catalog entry.
func (s *Synthesizer) Signature() Signature { return s.catalog[s.index] }

// Active reports whether the synthesizer is engaged.
func (s *Synthesizer) Active() bool { return s.active }

// BPM returns the current synthetic tempo.
func (s *Synthesizer) BPM() float64 { return s.bpm }

// Activate engages the synthesizer on the given catalog entry. The
// first Tick after activation fires a beat immediately, so consumers
// see the fallback take over without a gap. Out-of-range indexes land
// on the first entry.
func (s *Synthesizer) Activate(index int, now time.Time) {
	if index < 0 || index >= len(s.catalog) {
		index = 0
	}
	sig := s.catalog[index]
	s.active = true
	s.index = index
	s.step = -1
	s.beats = 0
	s.bpm = sig.BPM
	s.level = 0
	s.lastBeat = time.Time{}
	s.nextBeat = now
	applog.Infof("Metronome: engaged %q at %.0f BPM", sig.Label, sig.BPM)
}

// Deactivate disengages the synthesizer. Ticks become no-ops until the
// next Activate.
func (s *Synthesizer) Deactivate() {
	if s.active {
		applog.Debugf("Metronome: disengaged after %d beats", s.beats)
	}
	s.active = false
}

// Tick advances the clock to now and returns the per-tick payload plus
// the beat event when one fired this tick.
func (s *Synthesizer) Tick(now time.Time) (rhythm.EnergyPayload, rhythm.BeatEvent, bool) {
	if !s.active {
		return rhythm.EnergyPayload{State: rhythm.SourceMetronome}, rhythm.BeatEvent{}, false
	}

	fired := false
	if !now.Before(s.nextBeat) {
		s.advance(now)
		fired = true
	}

	energy := s.envelope(now)
	payload := rhythm.EnergyPayload{
		Energy:  energy,
		Bands:   s.wobbledBands(),
		BPM:     s.bpm,
		State:   rhythm.SourceMetronome,
		Quality: syntheticConfidence,
		Flux:    energy * syntheticFluxRatio,
	}
	if !fired {
		return payload, rhythm.BeatEvent{}, false
	}

	ev := rhythm.BeatEvent{
		Energy:         s.level,
		BPM:            s.bpm,
		Confidence:     syntheticConfidence,
		Source:         rhythm.SourceMetronome,
		Timestamp:      now,
		Flux:           s.level * syntheticFluxRatio,
		FluxOnset:      true,
		FluxConfidence: syntheticConfidence,
		Quality:        syntheticConfidence,
	}
	return payload, ev, true
}

func (s *Synthesizer) advance(now time.Time) {
	s.step++
	s.beats++
	if s.step >= len(s.catalog[s.index].EnergyCurve) {
		s.step = 0
		s.index = (s.index + 1) % len(s.catalog)
		s.bpm = s.catalog[s.index].BPM
		applog.Debugf("Metronome: hopped to %q (%.0f BPM)", s.catalog[s.index].ID, s.bpm)
	}
	s.level = s.catalog[s.index].EnergyCurve[s.step]
	s.lastBeat = now
	s.nextBeat = s.nextBeat.Add(s.period())
	if !s.nextBeat.After(now) {
		// The host stalled past a full period. Resync instead of firing
		// a burst of catch-up beats.
		s.nextBeat = now.Add(s.period())
	}
}

func (s *Synthesizer) period() time.Duration {
	return time.Duration(float64(time.Minute) / s.bpm)
}

// envelope shapes per-tick energy as a quadratic falloff from the last
// beat level toward the floor, which reads as a decaying hit on meters.
func (s *Synthesizer) envelope(now time.Time) float64 {
	if s.lastBeat.IsZero() {
		return 0
	}
	progress := clamp(now.Sub(s.lastBeat).Seconds()/s.period().Seconds(), 0, 1)
	fall := 1 - progress
	return s.level * (envelopeFloor + (1-envelopeFloor)*fall*fall)
}

// wobbledBands drifts the signature's base mix with slow sinusoids keyed
// on the beat counter so the fallback does not render as a frozen bar
// graph.
func (s *Synthesizer) wobbledBands() rhythm.Bands {
	base := s.catalog[s.index].Bands
	phase := float64(s.beats) * bandWobbleRate
	return rhythm.Bands{
		Bass:   clamp(base.Bass+bandWobbleDepth*math.Sin(phase), 0, 1),
		Mid:    clamp(base.Mid+bandWobbleDepth*math.Sin(phase+2.1), 0, 1),
		Treble: clamp(base.Treble+bandWobbleDepth*math.Sin(phase+4.2), 0, 1),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
