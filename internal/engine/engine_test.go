// SPDX-License-Identifier: MIT
package engine

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"beatline/internal/config"
	"beatline/internal/event"
	"beatline/internal/metronome"
	"beatline/internal/rhythm"
	"beatline/internal/source"
)

var testBase = time.Unix(1700000000, 0)

const tickStep = 100 * time.Millisecond

// stubSource feeds constant-level frames. RMS of a constant block equals
// the level, so silence and signal are a single field flip away.
type stubSource struct {
	kind     rhythm.Source
	level    float64
	started  int
	closed   int
	startErr error
}

func newStub(kind rhythm.Source) *stubSource {
	return &stubSource{kind: kind}
}

func (s *stubSource) Kind() rhythm.Source { return s.kind }
func (s *stubSource) Label() string       { return "stub " + string(s.kind) }

func (s *stubSource) Start() error {
	s.started++
	return s.startErr
}

func (s *stubSource) Close() error {
	s.closed++
	return nil
}

func (s *stubSource) Frame(now time.Time) rhythm.SampleFrame {
	samples := make([]float64, 256)
	for i := range samples {
		samples[i] = s.level
	}
	return rhythm.SampleFrame{Samples: samples, SampleRate: 44100, Timestamp: now}
}

func testEngineConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Fallback.SilenceHold = config.Duration(time.Second)
	return cfg
}

// capture subscribes to every bus channel and records what arrives. Bus
// dispatch is synchronous, so no locking is needed as long as Update runs
// on the test goroutine.
type capture struct {
	states   []rhythm.StateChange
	payloads []rhythm.EnergyPayload
	beats    []rhythm.BeatEvent
	errs     []rhythm.ErrorEvent
}

func newCapture(bus *event.Bus) *capture {
	c := &capture{}
	bus.OnStateChange(func(sc rhythm.StateChange) { c.states = append(c.states, sc) })
	bus.OnEnergy(func(p rhythm.EnergyPayload) { c.payloads = append(c.payloads, p) })
	bus.OnBeat(func(ev rhythm.BeatEvent) { c.beats = append(c.beats, ev) })
	bus.OnError(func(ev rhythm.ErrorEvent) { c.errs = append(c.errs, ev) })
	return c
}

func (c *capture) engagements(reason rhythm.Reason) int {
	n := 0
	for _, sc := range c.states {
		if sc.State == rhythm.SourceMetronome && sc.Reason == reason {
			n++
		}
	}
	return n
}

// tickRange pumps n Updates with a stepped clock and returns the next
// tick time.
func tickRange(eng *Engine, now time.Time, n int) time.Time {
	for i := 0; i < n; i++ {
		eng.Update(now)
		now = now.Add(tickStep)
	}
	return now
}

// waitForState pumps Update until the engine reaches want. Acquisition
// completions land asynchronously, so polling is the only way to observe
// them.
func waitForState(t *testing.T, eng *Engine, want rhythm.Source, now time.Time) time.Time {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for eng.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("engine never reached %s, still %s", want, eng.State())
		}
		eng.Update(now)
		now = now.Add(tickStep)
		time.Sleep(time.Millisecond)
	}
	return now
}

func stubOpenMicrophone(t *testing.T, fn func(config.Capture) (source.Source, error)) {
	t.Helper()
	orig := openMicrophone
	openMicrophone = fn
	t.Cleanup(func() { openMicrophone = orig })
}

func stubOpenTrack(t *testing.T, fn func(string, config.Capture) (source.Source, error)) {
	t.Helper()
	orig := openTrack
	openTrack = fn
	t.Cleanup(func() { openTrack = orig })
}

func TestEngineIdlePublishesNothing(t *testing.T) {
	bus := event.NewBus()
	eng := NewEngine(testEngineConfig(), bus, rand.New(rand.NewSource(1)))
	rec := newCapture(bus)

	tickRange(eng, testBase, 5)

	if eng.State() != rhythm.SourceIdle {
		t.Fatalf("state = %s, want idle", eng.State())
	}
	if len(rec.payloads) != 0 || len(rec.beats) != 0 || len(rec.states) != 0 || len(rec.errs) != 0 {
		t.Fatalf("idle engine published events: %d payloads, %d beats, %d states, %d errors",
			len(rec.payloads), len(rec.beats), len(rec.states), len(rec.errs))
	}
	if snap := eng.Snapshot(); snap.State != rhythm.SourceIdle || snap.HasSignal {
		t.Errorf("snapshot = %+v, want idle without signal", snap)
	}
}

func TestEngineAttachAdoptsSource(t *testing.T) {
	bus := event.NewBus()
	eng := NewEngine(testEngineConfig(), bus, rand.New(rand.NewSource(1)))
	rec := newCapture(bus)

	stub := newStub(rhythm.SourceMicrophone)
	stub.level = 0.5
	if err := eng.Attach(stub); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if stub.started != 1 {
		t.Fatalf("source started %d times, want 1", stub.started)
	}
	if len(rec.states) != 1 {
		t.Fatalf("got %d state changes, want 1", len(rec.states))
	}
	if sc := rec.states[0]; sc.State != rhythm.SourceMicrophone || sc.Previous != rhythm.SourceIdle || sc.Overlay {
		t.Errorf("state change = %+v", sc)
	}

	eng.Update(testBase)

	if len(rec.payloads) != 1 {
		t.Fatalf("got %d payloads, want 1", len(rec.payloads))
	}
	p := rec.payloads[0]
	if p.State != rhythm.SourceMicrophone || p.FallbackReason != rhythm.ReasonNone {
		t.Errorf("payload state = %s reason = %q", p.State, p.FallbackReason)
	}
	if diff := p.Energy - 0.5; diff < -1e-9 || diff > 1e-9 {
		t.Errorf("payload energy = %.6f, want 0.5", p.Energy)
	}
	if len(rec.beats) != 0 {
		t.Errorf("constant level fired %d beats", len(rec.beats))
	}

	snap := eng.Snapshot()
	if snap.State != rhythm.SourceMicrophone || !snap.HasSignal || !snap.Timestamp.Equal(testBase) {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestEngineAttachStartFailureLeavesEngineUntouched(t *testing.T) {
	eng := NewEngine(testEngineConfig(), event.NewBus(), rand.New(rand.NewSource(1)))

	stub := newStub(rhythm.SourceMicrophone)
	stub.startErr = errors.New("stream refused")
	if err := eng.Attach(stub); err == nil {
		t.Fatal("Attach swallowed the start error")
	}
	if eng.State() != rhythm.SourceIdle {
		t.Errorf("state = %s after failed attach, want idle", eng.State())
	}
	if stub.closed != 0 {
		t.Errorf("failed attach closed the source %d times; ownership stays with the caller", stub.closed)
	}
}

func TestEngineSilenceFailoverAndRecovery(t *testing.T) {
	bus := event.NewBus()
	eng := NewEngine(testEngineConfig(), bus, rand.New(rand.NewSource(3)))
	rec := newCapture(bus)

	stub := newStub(rhythm.SourceMicrophone)
	stub.level = 0.5
	if err := eng.Attach(stub); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	now := tickRange(eng, testBase, 5)

	// Hold expires one second after the first silent tick.
	stub.level = 0
	now = tickRange(eng, now, 10)
	if eng.State() != rhythm.SourceMicrophone {
		t.Fatalf("engaged before hold expired, state = %s", eng.State())
	}
	now = tickRange(eng, now, 1)

	if eng.State() != rhythm.SourceMetronome {
		t.Fatalf("state = %s after hold, want metronome", eng.State())
	}
	if eng.FallbackReason() != rhythm.ReasonSilence {
		t.Fatalf("reason = %q, want silence", eng.FallbackReason())
	}
	if stub.closed != 0 {
		t.Fatalf("silence failover closed the source; it must stay open for recovery")
	}
	if _, ok := eng.Signature(); !ok {
		t.Fatal("no active signature while engaged")
	}

	var engage rhythm.StateChange
	for _, sc := range rec.states {
		if sc.State == rhythm.SourceMetronome {
			engage = sc
		}
	}
	if engage.Reason != rhythm.ReasonSilence || engage.Previous != rhythm.SourceMicrophone || !engage.Overlay {
		t.Errorf("engage event = %+v", engage)
	}

	last := rec.payloads[len(rec.payloads)-1]
	if last.State != rhythm.SourceMetronome || last.FallbackReason != rhythm.ReasonSilence {
		t.Errorf("fallback payload state = %s reason = %q", last.State, last.FallbackReason)
	}

	// Staying silent must not re-engage.
	now = tickRange(eng, now, 10)
	if n := rec.engagements(rhythm.ReasonSilence); n != 1 {
		t.Fatalf("silence failover fired %d times, want exactly 1", n)
	}
	if snap := eng.Snapshot(); snap.State != rhythm.SourceMetronome || snap.HasSignal {
		t.Errorf("engaged snapshot = %+v", snap)
	}

	// Signal returns: restore without touching the source.
	stub.level = 0.5
	now = tickRange(eng, now, 1)

	if eng.State() != rhythm.SourceMicrophone {
		t.Fatalf("state = %s after signal returned, want microphone", eng.State())
	}
	if eng.FallbackReason() != rhythm.ReasonNone {
		t.Errorf("reason = %q after recovery", eng.FallbackReason())
	}
	if stub.started != 1 || stub.closed != 0 {
		t.Errorf("recovery touched the source: started %d closed %d", stub.started, stub.closed)
	}
	if _, ok := eng.Signature(); ok {
		t.Error("signature still active after recovery")
	}

	recov := rec.states[len(rec.states)-1]
	if recov.State != rhythm.SourceMicrophone || recov.Previous != rhythm.SourceMetronome || recov.Overlay {
		t.Errorf("recovery event = %+v", recov)
	}
	if p := rec.payloads[len(rec.payloads)-1]; p.State != rhythm.SourceMicrophone {
		t.Errorf("recovery tick payload state = %s, want microphone", p.State)
	}

	// A further silence needs a fresh hold.
	stub.level = 0
	now = tickRange(eng, now, 10)
	if eng.State() != rhythm.SourceMicrophone {
		t.Fatal("second silence engaged before its own hold expired")
	}
	tickRange(eng, now, 1)
	if n := rec.engagements(rhythm.ReasonSilence); n != 2 {
		t.Errorf("second silent stretch produced %d engagements, want 2", n)
	}
}

// driveTempo pushes a quiet floor with two spikes 500 ms apart through
// the engine so the energy stage locks a 120 BPM estimate. Returns the
// next tick time; the stub is left at a steady signal level.
func driveTempo(eng *Engine, stub *stubSource, now time.Time) time.Time {
	stub.level = 0.1
	now = tickRange(eng, now, 8)
	stub.level = 0.9
	now = tickRange(eng, now, 1)
	stub.level = 0.1
	now = tickRange(eng, now, 4)
	stub.level = 0.9
	now = tickRange(eng, now, 1)
	stub.level = 0.5
	return now
}

func TestEngineSilenceKeepsAnalysisState(t *testing.T) {
	eng := NewEngine(testEngineConfig(), event.NewBus(), rand.New(rand.NewSource(3)))

	stub := newStub(rhythm.SourceMicrophone)
	if err := eng.Attach(stub); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	now := driveTempo(eng, stub, testBase)
	if bpm := eng.BPM(); bpm < 119 || bpm > 121 {
		t.Fatalf("tempo after two spikes = %.1f, want about 120", bpm)
	}

	stub.level = 0
	now = tickRange(eng, now, 11)
	if eng.State() != rhythm.SourceMetronome {
		t.Fatalf("state = %s, want metronome", eng.State())
	}
	if bpm := eng.energy.BPM(); bpm < 100 {
		t.Errorf("silence failover reset the tempo estimate: %.1f", bpm)
	}

	stub.level = 0.4
	now = tickRange(eng, now, 1)
	if eng.State() != rhythm.SourceMicrophone {
		t.Fatalf("state = %s after recovery, want microphone", eng.State())
	}
	if bpm := eng.energy.BPM(); bpm < 100 {
		t.Errorf("recovery reset the tempo estimate: %.1f", bpm)
	}

	// A true source switch does reset.
	next := newStub(rhythm.SourceTrack)
	next.level = 0.5
	if err := eng.Attach(next); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if bpm := eng.energy.BPM(); bpm != 0 {
		t.Errorf("source switch kept the tempo estimate: %.1f", bpm)
	}
	if stub.closed != 1 {
		t.Errorf("previous source closed %d times, want 1", stub.closed)
	}
}

func TestEngineAutoSilenceDisabled(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Fallback.AutoSilence = false
	bus := event.NewBus()
	eng := NewEngine(cfg, bus, rand.New(rand.NewSource(1)))
	rec := newCapture(bus)

	stub := newStub(rhythm.SourceMicrophone)
	stub.level = 0.5
	if err := eng.Attach(stub); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	now := tickRange(eng, testBase, 2)

	stub.level = 0
	tickRange(eng, now, 30)

	if eng.State() != rhythm.SourceMicrophone {
		t.Fatalf("state = %s with auto failover disabled, want microphone", eng.State())
	}
	if n := rec.engagements(rhythm.ReasonSilence); n != 0 {
		t.Errorf("failover engaged %d times with auto_silence off", n)
	}
}

func TestEngineMicrophoneAcquisition(t *testing.T) {
	stub := newStub(rhythm.SourceMicrophone)
	stub.level = 0.5
	stubOpenMicrophone(t, func(config.Capture) (source.Source, error) {
		return stub, nil
	})

	bus := event.NewBus()
	eng := NewEngine(testEngineConfig(), bus, rand.New(rand.NewSource(1)))
	rec := newCapture(bus)

	eng.StartMicrophone()
	waitForState(t, eng, rhythm.SourceMicrophone, testBase)

	if stub.started != 1 {
		t.Errorf("source started %d times, want 1", stub.started)
	}
	if eng.LastError() != nil {
		t.Errorf("LastError = %v after successful acquisition", eng.LastError())
	}
	if len(rec.states) == 0 || rec.states[0].State != rhythm.SourceMicrophone || rec.states[0].Previous != rhythm.SourceIdle {
		t.Errorf("state changes = %+v", rec.states)
	}
}

func TestEngineAcquisitionFailureEngagesFallback(t *testing.T) {
	stubOpenMicrophone(t, func(config.Capture) (source.Source, error) {
		return nil, fmt.Errorf("open stream: %w", source.ErrDeviceBusy)
	})

	bus := event.NewBus()
	eng := NewEngine(testEngineConfig(), bus, rand.New(rand.NewSource(1)))
	rec := newCapture(bus)

	eng.StartMicrophone()
	now := waitForState(t, eng, rhythm.SourceMetronome, testBase)

	if eng.FallbackReason() != rhythm.ReasonHardwareBusy {
		t.Fatalf("reason = %q, want hardware-busy", eng.FallbackReason())
	}
	if err := eng.LastError(); !errors.Is(err, source.ErrDeviceBusy) {
		t.Errorf("LastError = %v, want wrapped ErrDeviceBusy", err)
	}
	if len(rec.errs) != 1 || rec.errs[0].Err == nil || rec.errs[0].Message == "" {
		t.Errorf("error events = %+v", rec.errs)
	}
	if n := rec.engagements(rhythm.ReasonHardwareBusy); n != 1 {
		t.Errorf("failure fallback engaged %d times, want 1", n)
	}

	tickRange(eng, now, 1)
	if p := eng.LastPayload(); p.State != rhythm.SourceMetronome || p.FallbackReason != rhythm.ReasonHardwareBusy {
		t.Errorf("fallback payload = state %s reason %q", p.State, p.FallbackReason)
	}

	// Device freed up: Retry re-issues the microphone request.
	stub := newStub(rhythm.SourceMicrophone)
	stub.level = 0.5
	stubOpenMicrophone(t, func(config.Capture) (source.Source, error) {
		return stub, nil
	})

	if !eng.Retry() {
		t.Fatal("Retry returned false with a failed request on record")
	}
	waitForState(t, eng, rhythm.SourceMicrophone, now)

	if eng.LastError() != nil {
		t.Errorf("LastError = %v after successful retry", eng.LastError())
	}
	if eng.FallbackReason() != rhythm.ReasonNone {
		t.Errorf("reason = %q after successful retry", eng.FallbackReason())
	}
}

func TestEngineTrackFailureClassifiesTrackFailed(t *testing.T) {
	var gotPath string
	stubOpenTrack(t, func(path string, _ config.Capture) (source.Source, error) {
		gotPath = path
		return nil, errors.New("decode failed")
	})

	eng := NewEngine(testEngineConfig(), event.NewBus(), rand.New(rand.NewSource(1)))

	eng.LoadTrack("/missing/set.mp3")
	waitForState(t, eng, rhythm.SourceMetronome, testBase)

	if eng.FallbackReason() != rhythm.ReasonTrackFailed {
		t.Errorf("reason = %q, want track-failed", eng.FallbackReason())
	}
	if gotPath != "/missing/set.mp3" {
		t.Errorf("opened path %q", gotPath)
	}
}

func TestEngineRetryWithoutRequest(t *testing.T) {
	eng := NewEngine(testEngineConfig(), event.NewBus(), rand.New(rand.NewSource(1)))
	if eng.Retry() {
		t.Fatal("Retry returned true with nothing to retry")
	}
}

func TestEngineStaleAcquisitionDiscarded(t *testing.T) {
	eng := NewEngine(testEngineConfig(), event.NewBus(), rand.New(rand.NewSource(1)))

	live := newStub(rhythm.SourceMicrophone)
	live.level = 0.5
	if err := eng.Attach(live); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	// A completion from before the attach must be closed unprocessed.
	stale := newStub(rhythm.SourceTrack)
	eng.pending <- acquisition{gen: eng.gen - 1, src: stale, req: request{kind: rhythm.SourceTrack}}
	eng.Update(testBase)

	if stale.closed != 1 {
		t.Errorf("stale source closed %d times, want 1", stale.closed)
	}
	if eng.State() != rhythm.SourceMicrophone {
		t.Errorf("stale completion changed state to %s", eng.State())
	}

	// A stale failure must not engage the fallback either.
	eng.pending <- acquisition{gen: eng.gen - 1, err: errors.New("too late"), req: request{kind: rhythm.SourceTrack}}
	eng.Update(testBase.Add(tickStep))
	if eng.State() != rhythm.SourceMicrophone || eng.LastError() != nil {
		t.Errorf("stale failure leaked: state %s err %v", eng.State(), eng.LastError())
	}

	// A current-generation completion applies and replaces the source.
	fresh := newStub(rhythm.SourceTrack)
	fresh.level = 0.3
	eng.pending <- acquisition{gen: eng.gen, src: fresh, req: request{kind: rhythm.SourceTrack}}
	eng.Update(testBase.Add(2 * tickStep))

	if eng.State() != rhythm.SourceTrack {
		t.Errorf("state = %s after fresh completion, want track", eng.State())
	}
	if live.closed != 1 {
		t.Errorf("previous source closed %d times, want 1", live.closed)
	}
}

func TestEngineDeliverDropsWhenSaturated(t *testing.T) {
	eng := NewEngine(testEngineConfig(), event.NewBus(), rand.New(rand.NewSource(1)))
	for i := 0; i < cap(eng.pending); i++ {
		eng.pending <- acquisition{gen: 99}
	}

	dropped := newStub(rhythm.SourceMicrophone)
	eng.deliver(acquisition{gen: 100, src: dropped})
	if dropped.closed != 1 {
		t.Errorf("saturated deliver closed the source %d times, want 1", dropped.closed)
	}
}

func TestEngineFallbackSignatureFollowsSeed(t *testing.T) {
	const seed = 7
	eng := NewEngine(testEngineConfig(), event.NewBus(), rand.New(rand.NewSource(seed)))

	stub := newStub(rhythm.SourceMicrophone)
	stub.level = 0.5
	if err := eng.Attach(stub); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	now := tickRange(eng, testBase, 2)
	stub.level = 0
	tickRange(eng, now, 12)

	if eng.State() != rhythm.SourceMetronome {
		t.Fatalf("state = %s, want metronome", eng.State())
	}
	catalog := metronome.Catalog()
	want := catalog[rand.New(rand.NewSource(seed)).Intn(len(catalog))]
	sig, ok := eng.Signature()
	if !ok {
		t.Fatal("no active signature")
	}
	if sig.ID != want.ID {
		t.Errorf("signature = %q, want %q for seed %d", sig.ID, want.ID, seed)
	}
}

func TestEngineManualMetronome(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Fallback.MetronomeBPM = 128
	bus := event.NewBus()
	eng := NewEngine(cfg, bus, rand.New(rand.NewSource(1)))
	rec := newCapture(bus)

	eng.StartMetronome()

	if eng.State() != rhythm.SourceMetronome || eng.FallbackReason() != rhythm.ReasonManual {
		t.Fatalf("state = %s reason = %q", eng.State(), eng.FallbackReason())
	}
	sig, ok := eng.Signature()
	if !ok {
		t.Fatal("no active signature")
	}
	if sig.ID != "floor-filler" {
		t.Errorf("signature = %q, want floor-filler for 128 BPM", sig.ID)
	}
	if len(rec.states) != 1 || rec.states[0].Reason != rhythm.ReasonManual || rec.states[0].Overlay {
		t.Errorf("state changes = %+v", rec.states)
	}

	tickRange(eng, testBase, 1)

	if len(rec.payloads) != 1 {
		t.Fatalf("got %d payloads, want 1", len(rec.payloads))
	}
	p := rec.payloads[0]
	if p.State != rhythm.SourceMetronome || p.FallbackReason != rhythm.ReasonManual {
		t.Errorf("payload state = %s reason = %q", p.State, p.FallbackReason)
	}
	if p.BPM != sig.BPM {
		t.Errorf("payload BPM = %.0f, want %.0f", p.BPM, sig.BPM)
	}
	if len(rec.beats) != 1 {
		t.Fatalf("first tick fired %d beats, want 1", len(rec.beats))
	}
	if b := rec.beats[0]; b.Source != rhythm.SourceMetronome || !b.FluxOnset {
		t.Errorf("synthetic beat = %+v", b)
	}
}

func TestEngineStop(t *testing.T) {
	bus := event.NewBus()
	eng := NewEngine(testEngineConfig(), bus, rand.New(rand.NewSource(1)))
	rec := newCapture(bus)

	stub := newStub(rhythm.SourceMicrophone)
	stub.level = 0.5
	if err := eng.Attach(stub); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	tickRange(eng, testBase, 2)

	eng.Stop()

	if eng.State() != rhythm.SourceIdle {
		t.Fatalf("state = %s after Stop, want idle", eng.State())
	}
	if stub.closed != 1 {
		t.Errorf("source closed %d times, want 1", stub.closed)
	}
	last := rec.states[len(rec.states)-1]
	if last.State != rhythm.SourceIdle || last.Previous != rhythm.SourceMicrophone {
		t.Errorf("stop event = %+v", last)
	}

	// Stopping again is a no-op.
	before := len(rec.states)
	eng.Stop()
	if len(rec.states) != before {
		t.Error("second Stop published another state change")
	}

	payloads := len(rec.payloads)
	tickRange(eng, testBase.Add(time.Second), 3)
	if len(rec.payloads) != payloads {
		t.Error("idle engine kept publishing after Stop")
	}

	if err := eng.Close(); err != nil {
		t.Errorf("Close returned %v", err)
	}
}
