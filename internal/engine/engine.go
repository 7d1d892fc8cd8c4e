// SPDX-License-Identifier: MIT
/*
Package engine arbitrates between live audio sources and the synthetic
metronome fallback. It owns the per-tick pipeline:

	drain acquisitions -> frame -> detectors -> quality -> arbitrate -> emit

Update drives everything from one goroutine. Public mutators and
accessors are safe to call from other goroutines; events always publish
outside the engine lock so listeners may call back into accessors.
*/
package engine

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"beatline/internal/analysis"
	"beatline/internal/config"
	"beatline/internal/event"
	applog "beatline/internal/log"
	"beatline/internal/metronome"
	"beatline/internal/rhythm"
	"beatline/internal/source"
)

// savedState remembers where the engine was before a silence failover so
// recovery can restore it without touching hardware.
type savedState struct {
	valid bool
	state rhythm.Source
}

// request describes the last source the caller asked for, so Retry can
// re-issue it.
type request struct {
	kind rhythm.Source
	path string
}

// Engine fuses detector output into published events and decides which
// source feeds them.
type Engine struct {
	cfg *config.Config
	bus *event.Bus
	rng *rand.Rand

	energy  *analysis.EnergyDetector
	flux    *analysis.FluxDetector
	quality *analysis.QualityEstimator
	synth   *metronome.Synthesizer

	mu sync.RWMutex

	src    source.Source
	state  rhythm.Source
	reason rhythm.Reason

	silentSince time.Time
	saved       savedState
	lastRequest request
	lastErr     error

	gen     uint64
	pending chan acquisition

	snap        rhythm.Snapshot
	lastPayload rhythm.EnergyPayload
	hasSignal   bool
}

// NewEngine builds an idle engine. A nil config uses the defaults, a nil
// bus gets a fresh one, and a nil rng seeds from the clock. Tests inject
// a seeded rng to make fallback signature selection deterministic.
func NewEngine(cfg *config.Config, bus *event.Bus, rng *rand.Rand) *Engine {
	if cfg == nil {
		cfg = config.Defaults()
	}
	if bus == nil {
		bus = event.NewBus()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Engine{
		cfg: cfg,
		bus: bus,
		rng: rng,
		energy: analysis.NewEnergyDetector(
			cfg.Analysis.HistorySize,
			cfg.Analysis.Sensitivity,
			cfg.Analysis.MinBeatInterval.Std(),
		),
		flux: analysis.NewFluxDetector(
			cfg.Analysis.FluxHistorySize,
			cfg.Analysis.FluxMultiplier,
			cfg.Analysis.FluxMinInterval.Std(),
		),
		quality: analysis.NewQualityEstimator(
			cfg.Analysis.Smoothing,
			cfg.Analysis.SilenceThreshold,
		),
		synth:   metronome.NewSynthesizer(nil),
		state:   rhythm.SourceIdle,
		pending: make(chan acquisition, 4),
	}
}

// Bus returns the event bus the engine publishes on.
func (e *Engine) Bus() *event.Bus { return e.bus }

// Update advances the engine by one tick. Idle publishes nothing; live
// states publish an energy payload every tick and a beat event when one
// fired; the metronome substitutes synthetic events while engaged.
func (e *Engine) Update(now time.Time) {
	e.mu.Lock()

	var (
		states []rhythm.StateChange
		errs   []rhythm.ErrorEvent

		payload     rhythm.EnergyPayload
		havePayload bool
		beat        rhythm.BeatEvent
		haveBeat    bool
	)

	e.drainAcquisitionsLocked(now, &states, &errs)

	switch {
	case e.state == rhythm.SourceIdle:
		e.hasSignal = false

	case e.src == nil:
		// Metronome without hardware (manual engage or failed
		// acquisition).
		e.hasSignal = false
		payload, beat, haveBeat = e.synth.Tick(now)
		payload.FallbackReason = e.reason
		havePayload = true

	default:
		frame := e.src.Frame(now)
		det := e.energy.Process(frame)
		fx := e.flux.Process(frame)
		quality, hasSignal := e.quality.Fuse(det, fx)
		e.hasSignal = hasSignal

		e.observeSignalLocked(now, hasSignal, &states)

		if e.state == rhythm.SourceMetronome {
			// Silence failover active. The live path above keeps
			// running so a returning signal is seen next tick.
			payload, beat, haveBeat = e.synth.Tick(now)
			payload.FallbackReason = e.reason
			havePayload = true
			break
		}

		payload = rhythm.EnergyPayload{
			Energy:  det.Energy,
			Bands:   analysis.BandsFromSpectrum(frame.Spectrum, frame.SampleRate),
			BPM:     det.BPM,
			State:   e.state,
			Quality: quality,
			Flux:    fx.Value,
		}
		havePayload = true

		if det.Beat || fx.Onset {
			beat = rhythm.BeatEvent{
				Energy:         det.Energy,
				BPM:            det.BPM,
				Confidence:     det.Confidence,
				Source:         e.state,
				Timestamp:      now,
				Flux:           fx.Value,
				FluxThreshold:  fx.Threshold,
				FluxOnset:      fx.Onset,
				FluxConfidence: fx.Confidence,
				Quality:        quality,
			}
			haveBeat = true
		}
	}

	if havePayload {
		e.lastPayload = payload
	}
	e.snap = rhythm.Snapshot{
		Timestamp: now,
		State:     e.state,
		Reason:    e.reason,
		Energy:    payload.Energy,
		Bands:     payload.Bands,
		BPM:       payload.BPM,
		Quality:   payload.Quality,
		Flux:      payload.Flux,
		HasSignal: e.hasSignal,
	}

	e.mu.Unlock()

	for _, sc := range states {
		e.bus.PublishState(sc)
	}
	for _, ev := range errs {
		e.bus.PublishError(ev)
	}
	if havePayload {
		e.bus.PublishEnergy(payload)
	}
	if haveBeat {
		e.bus.PublishBeat(beat)
	}
}

// observeSignalLocked runs the silence failover state machine against
// this tick's fused signal flag.
func (e *Engine) observeSignalLocked(now time.Time, hasSignal bool, states *[]rhythm.StateChange) {
	if hasSignal {
		e.silentSince = time.Time{}
		if e.state == rhythm.SourceMetronome && e.reason == rhythm.ReasonSilence && e.saved.valid {
			// Recover the pre-silence state. The source was never
			// released, so there is nothing to re-acquire.
			prev := e.state
			e.state = e.saved.state
			e.reason = rhythm.ReasonNone
			e.saved = savedState{}
			e.synth.Deactivate()
			applog.Infof("Engine: signal returned, restoring %s", e.state)
			*states = append(*states, rhythm.StateChange{State: e.state, Previous: prev})
		}
		return
	}

	if !e.cfg.Fallback.AutoSilence {
		return
	}
	if e.state == rhythm.SourceMetronome {
		// Failover already happened; it fires once per silent stretch.
		return
	}
	if e.silentSince.IsZero() {
		e.silentSince = now
		return
	}
	if now.Sub(e.silentSince) < e.cfg.Fallback.SilenceHold.Std() {
		return
	}

	prev := e.state
	e.saved = savedState{valid: true, state: e.state}
	e.state = rhythm.SourceMetronome
	e.reason = rhythm.ReasonSilence
	e.silentSince = time.Time{}
	e.synth.Activate(e.rng.Intn(len(e.synth.Catalog())), now)
	applog.Infof("Engine: %s silent for %s, engaging metronome", prev, e.cfg.Fallback.SilenceHold)
	*states = append(*states, rhythm.StateChange{State: e.state, Reason: e.reason, Previous: prev, Overlay: true})
}

// StartMetronome engages the synthetic fallback by hand. The signature
// closest to the configured tempo plays first.
func (e *Engine) StartMetronome() {
	e.mu.Lock()
	e.gen++
	e.lastRequest = request{kind: rhythm.SourceMetronome}
	prev := e.state
	e.teardownLiveLocked()
	e.state = rhythm.SourceMetronome
	e.reason = rhythm.ReasonManual
	e.saved = savedState{}
	e.silentSince = time.Time{}
	e.lastErr = nil
	e.resetAnalysisLocked()
	// Zero anchor: the clock belongs to Update, so the first tick after
	// this call plays the first beat.
	e.synth.Activate(e.closestSignatureLocked(e.cfg.Fallback.MetronomeBPM), time.Time{})
	sc := rhythm.StateChange{State: e.state, Reason: e.reason, Previous: prev}
	e.mu.Unlock()

	e.bus.PublishState(sc)
}

// Attach adopts an already-constructed source synchronously. Used by the
// simulate path and tests; the async acquisition flow is StartMicrophone
// and LoadTrack.
func (e *Engine) Attach(src source.Source) error {
	if err := src.Start(); err != nil {
		return err
	}

	e.mu.Lock()
	e.gen++
	e.lastRequest = request{kind: src.Kind()}
	prev := e.state
	e.teardownLiveLocked()
	e.src = src
	e.state = src.Kind()
	e.reason = rhythm.ReasonNone
	e.saved = savedState{}
	e.silentSince = time.Time{}
	e.lastErr = nil
	e.resetAnalysisLocked()
	applog.Infof("Engine: %s active (%s)", e.state, src.Label())
	sc := rhythm.StateChange{State: e.state, Previous: prev}
	e.mu.Unlock()

	e.bus.PublishState(sc)
	return nil
}

// ErrNotRecordable reports that the active source has no recording tap.
var ErrNotRecordable = errors.New("active source cannot record")

// StartRecording taps the live capture into a WAV file at path. Only
// the microphone records; the metronome and tracks return
// ErrNotRecordable.
func (e *Engine) StartRecording(path string) error {
	e.mu.RLock()
	rec, ok := e.src.(source.Recorder)
	e.mu.RUnlock()
	if !ok {
		return ErrNotRecordable
	}
	return rec.StartRecording(path)
}

// StopRecording finalizes an active recording. A no-op when the source
// is gone or was never recording.
func (e *Engine) StopRecording() error {
	e.mu.RLock()
	rec, ok := e.src.(source.Recorder)
	e.mu.RUnlock()
	if !ok {
		return nil
	}
	return rec.StopRecording()
}

// Retry re-issues the last requested source after a failure fallback.
// Reports false when there is nothing to retry.
func (e *Engine) Retry() bool {
	e.mu.RLock()
	req := e.lastRequest
	e.mu.RUnlock()

	switch req.kind {
	case rhythm.SourceMicrophone:
		applog.Infof("Engine: retrying microphone")
		e.StartMicrophone()
		return true
	case rhythm.SourceTrack:
		applog.Infof("Engine: retrying track %s", req.path)
		e.LoadTrack(req.path)
		return true
	default:
		return false
	}
}

// Stop tears the engine down to idle, releasing any live source and
// invalidating in-flight acquisitions.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.gen++
	if e.state == rhythm.SourceIdle {
		e.mu.Unlock()
		return
	}
	prev := e.state
	e.teardownLiveLocked()
	e.state = rhythm.SourceIdle
	e.reason = rhythm.ReasonNone
	e.saved = savedState{}
	e.silentSince = time.Time{}
	e.resetAnalysisLocked()
	sc := rhythm.StateChange{State: rhythm.SourceIdle, Previous: prev}
	e.mu.Unlock()

	e.bus.PublishState(sc)
}

// Close is Stop for defer chains.
func (e *Engine) Close() error {
	e.Stop()
	return nil
}

// engageFallbackLocked switches to the metronome after a failed
// acquisition. Unlike the silence path this releases the source and
// resets analysis: recovery requires an explicit Retry.
func (e *Engine) engageFallbackLocked(now time.Time, reason rhythm.Reason, states *[]rhythm.StateChange) {
	prev := e.state
	e.teardownLiveLocked()
	e.state = rhythm.SourceMetronome
	e.reason = reason
	e.saved = savedState{}
	e.silentSince = time.Time{}
	e.resetAnalysisLocked()
	e.synth.Activate(e.rng.Intn(len(e.synth.Catalog())), now)
	*states = append(*states, rhythm.StateChange{State: e.state, Reason: reason, Previous: prev, Overlay: true})
}

func (e *Engine) teardownLiveLocked() {
	if e.src != nil {
		if err := e.src.Close(); err != nil {
			applog.Errorf("Engine: failed to close %s source: %v", e.src.Kind(), err)
		}
		e.src = nil
	}
	e.synth.Deactivate()
}

func (e *Engine) resetAnalysisLocked() {
	e.energy.Reset()
	e.flux.Reset()
	e.quality.Reset()
}

func (e *Engine) closestSignatureLocked(bpm float64) int {
	best, bestDiff := 0, math.MaxFloat64
	for i, sig := range e.synth.Catalog() {
		if diff := math.Abs(sig.BPM - bpm); diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	return best
}
