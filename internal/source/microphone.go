// SPDX-License-Identifier: MIT
package source

import (
	"fmt"
	"runtime"
	"time"

	"github.com/gordonklaus/portaudio"

	"beatline/internal/config"
	"beatline/internal/dsp"
	applog "beatline/internal/log"
	"beatline/internal/rhythm"
)

// Microphone captures live input through PortAudio and feeds the
// analyser from the stream callback. The callback runs on a dedicated
// OS thread and uses pre-allocated buffers only.
type Microphone struct {
	cfg      config.Capture
	device   *portaudio.DeviceInfo
	latency  time.Duration
	stream   *portaudio.Stream
	analyser *dsp.Analyser

	// Mono fold scratch for the callback, FramesPerBuffer long.
	mono []float64

	rec recorder
}

// OpenMicrophone resolves the input device and builds the analyser but
// does not start the stream. The capture settings are assumed valid.
func OpenMicrophone(cfg config.Capture) (*Microphone, error) {
	device, err := InputDevice(cfg.DeviceID)
	if err != nil {
		return nil, err
	}

	windowFn, _ := dsp.ParseWindowFunc(cfg.FFTWindow)
	analyser, err := dsp.NewAnalyser(cfg.WindowSize, cfg.SampleRate, windowFn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	analyser.SetGateThreshold(cfg.GateThreshold)
	analyser.SetSmoothing(cfg.SpectrumSmoothing)

	m := &Microphone{
		cfg:      cfg,
		device:   device,
		analyser: analyser,
		mono:     make([]float64, cfg.FramesPerBuffer),
	}
	if cfg.LowLatency {
		m.latency = device.DefaultLowInputLatency
	} else {
		m.latency = device.DefaultHighInputLatency
	}
	return m, nil
}

func (m *Microphone) Kind() rhythm.Source { return rhythm.SourceMicrophone }
func (m *Microphone) Label() string       { return m.device.Name }

// Start opens and starts the input stream.
func (m *Microphone) Start() error {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: m.cfg.Channels,
			Device:   m.device,
			Latency:  m.latency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0,
			Device:   nil,
		},
		FramesPerBuffer: m.cfg.FramesPerBuffer,
		SampleRate:      m.cfg.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, m.process)
	if err != nil {
		return fmt.Errorf("failed to open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	m.stream = stream

	applog.Infof("Capture: input stream started on %q at %.0f Hz", m.device.Name, m.cfg.SampleRate)
	return nil
}

// Frame returns the analyser's current window.
func (m *Microphone) Frame(now time.Time) rhythm.SampleFrame {
	return m.analyser.Frame(now)
}

// process is the PortAudio stream callback.
// Performance critical: pre-allocated buffers only, no allocations.
func (m *Microphone) process(in []float32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	frames := len(in) / m.cfg.Channels
	if frames > len(m.mono) {
		frames = len(m.mono)
	}
	if m.cfg.Channels == 1 {
		for i := 0; i < frames; i++ {
			m.mono[i] = float64(in[i])
		}
	} else {
		// First channel only. Beat analysis does not need a true
		// stereo downmix.
		for i := 0; i < frames; i++ {
			m.mono[i] = float64(in[i*m.cfg.Channels])
		}
	}

	m.analyser.Push(m.mono[:frames])
	m.rec.write(m.mono[:frames])
}

// Close stops any recording and releases the stream. Safe to call more
// than once.
func (m *Microphone) Close() error {
	if err := m.StopRecording(); err != nil {
		applog.Errorf("Capture: failed to finalize recording: %v", err)
	}

	if m.stream != nil {
		if err := m.stream.Stop(); err != nil {
			return fmt.Errorf("failed to stop input stream: %w", err)
		}
		if err := m.stream.Close(); err != nil {
			return fmt.Errorf("failed to close input stream: %w", err)
		}
		m.stream = nil
	}
	return nil
}
