package source

import (
	"time"

	"beatline/internal/config"
	"beatline/internal/dsp"
	applog "beatline/internal/log"
	"beatline/internal/rhythm"
	"beatline/pkg/utils"
)

// loopSeconds sizes the pre-rendered beat train. Playback wraps around
// it, so it only needs to cover a few beats.
const loopSeconds = 8

// Synthetic streams a rendered beat train as if it were live input.
// It reports itself as a microphone so the whole arbitration path,
// including silence failover during the dropout window, behaves exactly
// as it would with hardware.
type Synthetic struct {
	rate float64
	bpm  float64
	loop []float64

	analyser *dsp.Analyser
	scratch  []float64

	dropFrom  time.Duration
	dropUntil time.Duration

	startAt time.Time
	pos     int
}

// NewSynthetic renders a beat train at the given tempo. A non-zero
// dropDur mutes the stream for that long starting dropFrom into
// playback.
func NewSynthetic(cfg config.Capture, bpm float64, dropFrom, dropDur time.Duration) (*Synthetic, error) {
	windowFn, _ := dsp.ParseWindowFunc(cfg.FFTWindow)
	analyser, err := dsp.NewAnalyser(cfg.WindowSize, cfg.SampleRate, windowFn)
	if err != nil {
		return nil, err
	}
	analyser.SetGateThreshold(cfg.GateThreshold)
	analyser.SetSmoothing(cfg.SpectrumSmoothing)

	s := &Synthetic{
		rate:     cfg.SampleRate,
		bpm:      bpm,
		loop:     utils.BeatTrain(int(cfg.SampleRate)*loopSeconds, cfg.SampleRate, bpm, 0.02, 0.85),
		analyser: analyser,
		scratch:  make([]float64, cfg.WindowSize),
	}
	if dropDur > 0 {
		s.dropFrom = dropFrom
		s.dropUntil = dropFrom + dropDur
	}
	return s, nil
}

func (s *Synthetic) Kind() rhythm.Source { return rhythm.SourceMicrophone }
func (s *Synthetic) Label() string       { return "synthetic" }

func (s *Synthetic) Start() error {
	if s.dropUntil > 0 {
		applog.Infof("Synthetic: %.0f BPM beat train, dropout %s..%s", s.bpm, s.dropFrom, s.dropUntil)
	} else {
		applog.Infof("Synthetic: %.0f BPM beat train", s.bpm)
	}
	return nil
}

// Frame advances playback to now, muting inside the dropout window.
func (s *Synthetic) Frame(now time.Time) rhythm.SampleFrame {
	if s.startAt.IsZero() {
		s.startAt = now
	}

	target := int(now.Sub(s.startAt).Seconds() * s.rate)
	if target < s.pos {
		target = s.pos
	}
	if n := target - s.pos; n > 0 {
		if n > len(s.scratch) {
			s.pos = target - len(s.scratch)
			n = len(s.scratch)
		}
		chunk := s.scratch[:n]
		for i := range chunk {
			idx := s.pos + i
			if s.muted(idx) {
				chunk[i] = 0
			} else {
				chunk[i] = s.loop[idx%len(s.loop)]
			}
		}
		s.analyser.Push(chunk)
		s.pos = target
	}

	return s.analyser.Frame(now)
}

func (s *Synthetic) muted(sampleIdx int) bool {
	if s.dropUntil == 0 {
		return false
	}
	at := time.Duration(float64(sampleIdx) / s.rate * float64(time.Second))
	return at >= s.dropFrom && at < s.dropUntil
}

func (s *Synthetic) Close() error {
	s.loop = nil
	return nil
}
